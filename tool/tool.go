// Package tool implements the function calling surface agents expose to
// models: the Tool interface, schema validated Go function tools, and the
// built-in flow control tools (agent transfer, loop exit, live task
// completion and streaming tool cancellation).
package tool

import (
	"fmt"
	"iter"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

// Tool is a capability a model can invoke by name.
//
// Call receives the decoded arguments and a ToolContext through which it can
// read and write state, request a transfer, escalate or ask for credentials.
// A non-map result is wrapped as {"result": value} by the dispatcher.
//
// Errors: a *ToolError is reported back to the model as
// {"error": message}; any other error aborts the invocation.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON schema of the arguments.
	Parameters() map[string]any
	Call(tc *core.ToolContext, args map[string]any) (any, error)
}

// LongRunningTool is implemented by tools whose result arrives later. A nil
// result from a long-running tool produces no function response.
type LongRunningTool interface {
	Tool
	IsLongRunning() bool
}

// RequestProcessor lets a tool customize the model request instead of the
// default declaration.
type RequestProcessor interface {
	ProcessRequest(tc *core.ToolContext, req *model.Request) error
}

// StreamingTool runs in the background of a live session. Each value the
// stream yields is fed back to the model as user content.
type StreamingTool interface {
	Tool
	// Stream yields intermediate results until it finishes or tc's context
	// is cancelled. input is non-nil only when AcceptsInputStream is true
	// and receives a copy of every live request.
	Stream(tc *core.ToolContext, args map[string]any, input *core.LiveRequestQueue) iter.Seq2[any, error]
	AcceptsInputStream() bool
}

// IsLongRunning reports whether t is a long-running tool.
func IsLongRunning(t Tool) bool {
	lr, ok := t.(LongRunningTool)
	return ok && lr.IsLongRunning()
}

// Declaration returns the model facing definition of t.
func Declaration(t Tool) model.ToolDefinition {
	desc := t.Description()
	if IsLongRunning(t) {
		desc += "\n\nNOTE: This is a long-running operation. Do not call this tool again if it has already returned some status."
	}

	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: desc,
			Parameters:  t.Parameters(),
		},
	}
}

// AddToRequest applies t to req: tools implementing RequestProcessor decide
// themselves, all others add their declaration.
func AddToRequest(tc *core.ToolContext, t Tool, req *model.Request) error {
	if rp, ok := t.(RequestProcessor); ok {
		return rp.ProcessRequest(tc, req)
	}

	req.AppendTools(Declaration(t))

	return nil
}

// ToolError is a recoverable tool failure reported back to the model.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}

	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
