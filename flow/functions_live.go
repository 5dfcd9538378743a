package flow

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/tool"
)

// pendingStreamingStatus is the immediate response of a streaming tool.
const pendingStreamingStatus = "The function is running asynchronously and the results are pending."

// HandleFunctionCallsLive executes the calls of callEvent one after another
// for a live session. Streaming tools are started in the background and
// answer with a pending status; their results are fed back to the model
// through ictx.LiveRequestQueue.
func HandleFunctionCallsLive(ictx *core.InvocationContext, callEvent *core.Event, tools map[string]tool.Tool) (*core.Event, error) {
	d := newDispatcher(ictx, tools)

	var events []*core.Event

	for _, call := range callEvent.GetFunctionCalls() {
		ev, err := d.execute(ictx, call, invokeLive)
		if err != nil {
			return nil, err
		}

		if ev != nil {
			events = append(events, ev)
		}
	}

	return MergeParallelFunctionResponseEvents(events), nil
}

func invokeLive(ictx *core.InvocationContext, t tool.Tool, tc *core.ToolContext, args map[string]any) (any, error) {
	st, ok := t.(tool.StreamingTool)
	if !ok {
		return callTool(ictx, t, tc, args)
	}

	if ictx.LiveRequestQueue == nil {
		return nil, fmt.Errorf("streaming tool %s requires a live request queue", t.Name())
	}

	startStreamingTool(ictx, st, tc.FunctionCallID(), args)

	return map[string]any{"status": pendingStreamingStatus}, nil
}

// startStreamingTool runs st until it finishes or is stopped. The tool
// outlives the call that started it, so it is bound to the invocation
// context instead of the tool call span.
func startStreamingTool(ictx *core.InvocationContext, st tool.StreamingTool, functionCallID string, args map[string]any) {
	name := st.Name()

	if prev, ok := ictx.ActiveStreamingTool(name); ok && prev.Cancel != nil {
		prev.Cancel()
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ictx.Context))
	stop := context.AfterFunc(ictx.Context, cancel)
	done := make(chan struct{})

	active := &core.ActiveStreamingTool{Cancel: cancel, Done: done}
	if st.AcceptsInputStream() {
		active.Stream = core.NewLiveRequestQueue()
	}

	ictx.SetActiveStreamingTool(name, active)

	tc := core.NewToolContext(ictx.WithContext(ctx), functionCallID, nil)
	queue := ictx.LiveRequestQueue

	go func() {
		defer close(done)
		defer stop()
		defer cancel()

		tc.LogInfo("tool.streaming.start", "function", name, "function_call_id", functionCallID)

		for v, err := range st.Stream(tc, args, active.Stream) {
			if err != nil {
				if ctx.Err() == nil {
					tc.LogError("tool.streaming.failed", "function", name, "error", err.Error())
				}

				break
			}

			queue.SendContent(core.NewTextContent(core.RoleUser, fmt.Sprintf("Function %s returned: %v", name, v)))
		}

		if cur, ok := ictx.ActiveStreamingTool(name); ok && cur == active {
			ictx.RemoveActiveStreamingTool(name)
		}

		tc.LogInfo("tool.streaming.done", "function", name)
	}()
}
