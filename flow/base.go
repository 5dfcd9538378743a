package flow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/telemetry"
	"github.com/hupe1980/agentflow/tool"
)

// BaseFlowOptions configures a BaseFlow.
type BaseFlowOptions struct {
	// Transcriber turns cached live input into contents on reconnect.
	Transcriber Transcriber
	// Telemetry defaults to telemetry.Default().
	Telemetry *telemetry.Telemetry
}

// BaseFlow is the model-driven flow shared by all agents: a loop of
// request -> model -> tool execution steps with pluggable request and
// response processors.
type BaseFlow struct {
	requestProcessors  []RequestProcessor
	responseProcessors []ResponseProcessor
	transcriber        Transcriber
	telemetry          *telemetry.Telemetry
}

// NewBaseFlow creates a flow without processors.
func NewBaseFlow(optFns ...func(o *BaseFlowOptions)) *BaseFlow {
	opts := BaseFlowOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Transcriber == nil {
		opts.Transcriber = PassThroughTranscriber{}
	}

	return &BaseFlow{
		transcriber: opts.Transcriber,
		telemetry:   opts.Telemetry,
	}
}

// AddRequestProcessor appends a request processor; order of registration
// defines execution order.
func (f *BaseFlow) AddRequestProcessor(processors ...RequestProcessor) {
	f.requestProcessors = append(f.requestProcessors, processors...)
}

// AddResponseProcessor appends a response processor executed for each
// model response.
func (f *BaseFlow) AddResponseProcessor(processors ...ResponseProcessor) {
	f.responseProcessors = append(f.responseProcessors, processors...)
}

// RequestProcessors returns the registered request processors.
func (f *BaseFlow) RequestProcessors() []RequestProcessor {
	return append([]RequestProcessor(nil), f.requestProcessors...)
}

func (f *BaseFlow) tel() *telemetry.Telemetry { return telemetry.Or(f.telemetry) }

// RunAsync implements Flow. Steps repeat until a step produced no event or
// its last event is a final response. A step ending on a partial event is
// an error.
func (f *BaseFlow) RunAsync(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return func(yield func(*core.Event, error) bool) {
		agent, err := flowAgentOf(ictx)
		if err != nil {
			yield(nil, err)
			return
		}

		for step := 1; ; step++ {
			if err := ictx.Err(); err != nil {
				yield(nil, err)
				return
			}

			ictx.LogDebug("flow.step.start", "step", step)

			var last *core.Event

			for ev, err := range f.runOneStep(ictx, agent) {
				if err != nil {
					yield(nil, err)
					return
				}

				last = ev

				if !yield(ev, nil) {
					return
				}
			}

			if last == nil || last.IsFinalResponse() {
				return
			}

			if last.Partial {
				yield(nil, core.ErrPartialLastEvent)
				return
			}
		}
	}
}

func (f *BaseFlow) runOneStep(ictx *core.InvocationContext, agent FlowAgent) iter.Seq2[*core.Event, error] {
	return func(yield func(*core.Event, error) bool) {
		if ictx.RunConfig.SupportCFC {
			if _, ok := agent.Model().(model.LiveModel); ok {
				f.runCFC(ictx, yield)
				return
			}
		}

		req := NewRequest()

		for ev, err := range f.preprocess(ictx, req, agent) {
			if !yield(ev, err) || err != nil {
				return
			}
		}

		if ictx.EndInvocation() {
			return
		}

		shell := newResponseShell(ictx)

		for resp, err := range f.callLLM(ictx, req, agent, shell) {
			if err != nil {
				yield(nil, err)
				return
			}

			for ev, err := range f.postprocess(ictx, req, agent, resp, shell) {
				if err != nil {
					yield(nil, err)
					return
				}

				shell.ID = core.NewID()

				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

// preprocess runs the request processors and declares the agent tools.
func (f *BaseFlow) preprocess(ictx *core.InvocationContext, req *Request, agent FlowAgent) iter.Seq2[*core.Event, error] {
	return func(yield func(*core.Event, error) bool) {
		for _, p := range f.requestProcessors {
			events, err := p.ProcessRequest(ictx, req, agent)
			if err != nil {
				yield(nil, fmt.Errorf("request processor %s: %w", p.Name(), err))
				return
			}

			for _, ev := range events {
				if !yield(ev, nil) {
					return
				}
			}

			if ictx.EndInvocation() {
				return
			}
		}

		tc := core.NewToolContext(ictx, "", nil)

		tools, err := agent.Tools(tc.CallbackContext)
		if err != nil {
			yield(nil, fmt.Errorf("resolve tools: %w", err))
			return
		}

		for _, t := range tools {
			if err := req.AddTool(tc, t); err != nil {
				yield(nil, fmt.Errorf("declare tool %s: %w", t.Name(), err))
				return
			}
		}
	}
}

// newResponseShell creates the event that model responses of one step are
// merged into. Callback state changes accumulate on its actions.
func newResponseShell(ictx *core.InvocationContext) *core.Event {
	shell := core.NewEvent(ictx.InvocationID, ictx.AgentName())
	shell.Branch = ictx.Branch

	return shell
}

// callLLM runs the before-model callbacks, calls the model and runs the
// after-model callbacks on every response.
func (f *BaseFlow) callLLM(ictx *core.InvocationContext, req *Request, agent FlowAgent, shell *core.Event) iter.Seq2[model.Response, error] {
	return func(yield func(model.Response, error) bool) {
		cc := core.NewCallbackContext(ictx, &shell.Actions)

		for _, cb := range agent.BeforeModelCallbacks() {
			resp, err := cb(cc, &req.Request)
			if err != nil {
				yield(model.Response{}, fmt.Errorf("before model callback: %w", err))
				return
			}

			if resp != nil {
				yield(*resp, nil)
				return
			}
		}

		if _, ok := req.Config.Labels[AgentNameLabel]; !ok {
			req.SetLabel(AgentNameLabel, agent.Name())
		}

		if err := ictx.IncrementLLMCallCount(); err != nil {
			yield(model.Response{}, err)
			return
		}

		req.Stream = ictx.RunConfig.StreamingMode == core.StreamingModeSSE

		tel := f.tel()

		ctx, span := tel.StartLLMCall(ictx.Context)
		defer span.End()

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		start := time.Now()

		ictx.LogDebug("flow.llm.call", "model", req.Model, "contents", len(req.Contents), "tools", len(req.Tools), "stream", req.Stream)

		respCh, errCh := agent.Model().Generate(ctx, req.Request)

		emit := func(resp model.Response) bool {
			tel.TraceCallLLM(ctx, span, ictx, shell.ID, req.Request, resp)

			for _, cb := range agent.AfterModelCallbacks() {
				alt, err := cb(cc, &resp)
				if err != nil {
					yield(model.Response{}, fmt.Errorf("after model callback: %w", err))
					return false
				}

				if alt != nil {
					resp = *alt
					break
				}
			}

			return yield(resp, nil)
		}

		agg := &streamAggregator{}

		for resp := range respCh {
			if !req.Stream {
				if !emit(resp) {
					return
				}

				continue
			}

			for _, r := range agg.process(resp) {
				if !emit(r) {
					return
				}
			}
		}

		if err := <-errCh; err != nil {
			telemetry.EndSpan(span, err)
			yield(model.Response{}, fmt.Errorf("model %s: %w", req.Model, err))

			return
		}

		if r, ok := agg.flush(); ok && !emit(r) {
			return
		}

		ictx.LogDebug("flow.llm.done", "model", req.Model, "duration_ms", time.Since(start).Milliseconds())
	}
}

// postprocess turns one model response into events and dispatches the
// function calls it carries.
func (f *BaseFlow) postprocess(ictx *core.InvocationContext, req *Request, agent FlowAgent, resp model.Response, shell *core.Event) iter.Seq2[*core.Event, error] {
	return func(yield func(*core.Event, error) bool) {
		for _, p := range f.responseProcessors {
			events, err := p.ProcessResponse(ictx, &resp, agent)
			if err != nil {
				yield(nil, fmt.Errorf("response processor %s: %w", p.Name(), err))
				return
			}

			for _, ev := range events {
				if !yield(ev, nil) {
					return
				}
			}
		}

		// Empty responses produce no event, which ends the run.
		if resp.IsEmpty() {
			return
		}

		ev := finalizeResponseEvent(resp, shell, req.ToolSet)
		if !yield(ev, nil) {
			return
		}

		if ev.Partial || len(ev.GetFunctionCalls()) == 0 {
			return
		}

		respEv, err := HandleFunctionCalls(ictx, ev, req.ToolSet, nil)
		if err != nil {
			yield(nil, err)
			return
		}

		if respEv == nil {
			return
		}

		if authEv := GenerateAuthEvent(ictx, respEv); authEv != nil {
			if !yield(authEv, nil) {
				return
			}
		}

		if !yield(respEv, nil) {
			return
		}

		if target := respEv.Actions.TransferToAgent; target != nil {
			next, err := transferTarget(ictx, *target)
			if err != nil {
				yield(nil, err)
				return
			}

			ictx.LogInfo("flow.transfer", "to_agent", next.Name())

			for ev, err := range next.RunAsync(ictx) {
				if !yield(ev, err) || err != nil {
					return
				}
			}
		}
	}
}

// finalizeResponseEvent merges resp into a copy of the shell.
func finalizeResponseEvent(resp model.Response, shell *core.Event, tools map[string]tool.Tool) *core.Event {
	ev := shell.Clone()
	ev.Timestamp = time.Now().UTC()
	ev.Content = resp.Content
	ev.Partial = resp.Partial
	ev.TurnComplete = resp.TurnComplete
	ev.Interrupted = resp.Interrupted
	ev.ErrorCode = resp.ErrorCode
	ev.ErrorMessage = resp.ErrorMessage
	ev.CustomMetadata = resp.CustomMetadata

	if len(ev.Actions.StateDelta) == 0 {
		ev.Actions.StateDelta = nil
	}

	if calls := ev.GetFunctionCalls(); len(calls) > 0 {
		ev.Content = resp.Content.Clone()
		PopulateClientFunctionCallIDs(ev)
		ev.LongRunningToolIDs = LongRunningFunctionCallIDs(ev.GetFunctionCalls(), tools)
	}

	return ev
}

// transferTarget resolves the agent a transfer_to_agent call names.
func transferTarget(ictx *core.InvocationContext, name string) (core.Agent, error) {
	root := core.RootAgent(ictx.Agent)
	if root == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrAgentNotFound, name)
	}

	a := root.FindAgent(name)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrAgentNotFound, name)
	}

	return a, nil
}

func flowAgentOf(ictx *core.InvocationContext) (FlowAgent, error) {
	agent, ok := ictx.Agent.(FlowAgent)
	if !ok {
		return nil, fmt.Errorf("agent %q cannot run a model flow", ictx.AgentName())
	}

	if agent.Model() == nil {
		return nil, fmt.Errorf("agent %q has no model", agent.Name())
	}

	return agent, nil
}

// runCFC serves a turn based step over a private live session and closes it
// once the model completes its turn.
func (f *BaseFlow) runCFC(ictx *core.InvocationContext, yield func(*core.Event, error) bool) {
	cictx := ictx.Clone()
	cictx.LiveRequestQueue = core.NewLiveRequestQueue()

	sse := ictx.RunConfig.StreamingMode == core.StreamingModeSSE

	for ev, err := range f.RunLive(cictx) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				yield(nil, err)
			}

			return
		}

		if sse || !ev.Partial {
			if !yield(ev, nil) {
				return
			}
		}

		if ev.TurnComplete {
			cictx.LiveRequestQueue.Close()
		}
	}
}
