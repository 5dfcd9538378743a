// Package flow provides the model-driven execution loop behind agents.
//
// A flow turns an agent's configuration and the session history into model
// requests, streams the model output back as events, executes requested
// tools and hands control to other agents when asked. Requests are built by
// an ordered pipeline of processors so capabilities (instructions, history,
// credential resumption, agent transfer) can be composed per agent.
package flow

import (
	"iter"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/tool"
)

// AgentNameLabel is the request label carrying the name of the calling agent.
const AgentNameLabel = "agentflow_agent_name"

// Flow defines the interface for agent execution flows.
type Flow interface {
	// RunAsync runs turn based steps until the agent produced a final
	// response.
	RunAsync(ictx *core.InvocationContext) iter.Seq2[*core.Event, error]

	// RunLive runs a duplex session fed by ictx.LiveRequestQueue.
	RunLive(ictx *core.InvocationContext) iter.Seq2[*core.Event, error]
}

// BeforeModelCallback runs before a model call. A non-nil response skips the
// call and is used instead.
type BeforeModelCallback func(cc *core.CallbackContext, req *model.Request) (*model.Response, error)

// AfterModelCallback runs on every model response. A non-nil response
// replaces it.
type AfterModelCallback func(cc *core.CallbackContext, resp *model.Response) (*model.Response, error)

// BeforeToolCallback runs before a tool. A non-nil result skips the tool and
// becomes the function response.
type BeforeToolCallback func(t tool.Tool, args map[string]any, tc *core.ToolContext) (map[string]any, error)

// AfterToolCallback runs after a tool. A non-nil result replaces the
// function response.
type AfterToolCallback func(t tool.Tool, args map[string]any, tc *core.ToolContext, result map[string]any) (map[string]any, error)

// ToolCallbacks is implemented by agents that intercept tool execution.
type ToolCallbacks interface {
	BeforeToolCallbacks() []BeforeToolCallback
	AfterToolCallbacks() []AfterToolCallback
}

// FlowAgent defines what a flow needs from the agent it runs.
type FlowAgent interface {
	core.Agent
	ToolCallbacks

	// Model returns the language model serving the agent.
	Model() model.Model

	// Instruction resolves the agent instruction. bypassState reports
	// whether the text must be used verbatim instead of being rendered
	// over session state.
	Instruction(cc *core.CallbackContext) (text string, bypassState bool, err error)

	// GlobalInstruction resolves the instruction the root agent applies to
	// the whole tree.
	GlobalInstruction(cc *core.CallbackContext) (text string, bypassState bool, err error)

	// Tools returns the tools the model may call.
	Tools(cc *core.CallbackContext) ([]tool.Tool, error)

	// GenerateConfig returns the generation settings.
	GenerateConfig() model.GenerateConfig

	// IncludeContents reports whether the whole visible history is sent.
	// When false only the current turn is.
	IncludeContents() bool

	DisallowTransferToParent() bool
	DisallowTransferToPeers() bool

	BeforeModelCallbacks() []BeforeModelCallback
	AfterModelCallbacks() []AfterModelCallback
}

// Request is a model request under construction together with the tools
// that serve the functions it declares.
type Request struct {
	model.Request

	// ToolSet maps declared function names to their implementations.
	ToolSet map[string]tool.Tool
}

// NewRequest creates an empty request.
func NewRequest() *Request {
	return &Request{ToolSet: map[string]tool.Tool{}}
}

// AddTool declares t to the model and registers it for dispatch.
func (r *Request) AddTool(tc *core.ToolContext, t tool.Tool) error {
	if err := tool.AddToRequest(tc, t, &r.Request); err != nil {
		return err
	}

	r.ToolSet[t.Name()] = t

	return nil
}

// RequestProcessor prepares the request before the model call. Returned
// events are yielded, and persisted by the runner, before the next
// processor runs.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies req and may emit bookkeeping events.
	ProcessRequest(ictx *core.InvocationContext, req *Request, agent FlowAgent) ([]*core.Event, error)
}

// ResponseProcessor inspects each model response before it becomes an event.
type ResponseProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessResponse may modify resp and emit additional events.
	ProcessResponse(ictx *core.InvocationContext, resp *model.Response, agent FlowAgent) ([]*core.Event, error)
}
