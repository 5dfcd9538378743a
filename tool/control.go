package tool

import (
	"fmt"

	"github.com/hupe1980/agentflow/core"
)

const (
	// ExitLoopName ends the enclosing loop agent.
	ExitLoopName = "exit_loop"
	// TaskCompletedName ends a live sub-agent turn inside a sequence.
	TaskCompletedName = "task_completed"
	// StopStreamingName cancels a running streaming tool.
	StopStreamingName = "stop_streaming"
)

// TaskCompletedInstruction tells a live sub-agent how to yield to the next
// agent of a sequence.
const TaskCompletedInstruction = "If you finished the user's request according to its description, call the " +
	TaskCompletedName + " function to exit so the next agents can take over. When calling this function, " +
	"do not generate any text other than the function call."

type exitLoopTool struct{}

// NewExitLoopTool returns a tool that escalates out of a LoopAgent.
func NewExitLoopTool() Tool { return exitLoopTool{} }

func (exitLoopTool) Name() string { return ExitLoopName }

func (exitLoopTool) Description() string {
	return "Exits the loop. Call this function only when you are instructed to do so."
}

func (exitLoopTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (exitLoopTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	tc.Escalate()
	tc.SkipSummarization()

	return nil, nil
}

type taskCompletedTool struct{}

// NewTaskCompletedTool returns the tool live sub-agents of a sequence call
// when their part is done.
func NewTaskCompletedTool() Tool { return taskCompletedTool{} }

func (taskCompletedTool) Name() string { return TaskCompletedName }

func (taskCompletedTool) Description() string {
	return "Signals that the agent has successfully completed the user's question or task."
}

func (taskCompletedTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (taskCompletedTool) Call(*core.ToolContext, map[string]any) (any, error) {
	return "Task completion signaled.", nil
}

type stopStreamingTool struct{}

// NewStopStreamingTool returns the tool a live model uses to cancel a
// running streaming tool.
func NewStopStreamingTool() Tool { return stopStreamingTool{} }

func (stopStreamingTool) Name() string { return StopStreamingName }

func (stopStreamingTool) Description() string {
	return "Stop the streaming function with the given name."
}

func (stopStreamingTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"function_name": map[string]any{"type": "string", "description": "name of the streaming function to stop"},
		},
		"required": []string{"function_name"},
	}
}

func (stopStreamingTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	name, _ := args["function_name"].(string)
	ictx := tc.InvocationContext()

	active, ok := ictx.ActiveStreamingTool(name)
	if !ok || active.Cancel == nil {
		return map[string]any{"status": fmt.Sprintf("No active streaming function named %s found", name)}, nil
	}

	active.Cancel()

	if active.Done != nil {
		select {
		case <-active.Done:
		case <-tc.Context().Done():
			return nil, tc.Context().Err()
		}
	}

	ictx.RemoveActiveStreamingTool(name)
	tc.LogInfo("tool.streaming.stopped", "function_name", name)

	return map[string]any{"status": fmt.Sprintf("Successfully stopped streaming function %s", name)}, nil
}
