// Package telemetry emits OpenTelemetry spans and counters for agent runs,
// model calls and tool executions. Without configuration it reports to the
// global otel providers, which are no-ops until an SDK is installed.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

const scopeName = "github.com/hupe1980/agentflow"

// Attribute keys.
var (
	AttrSystem        = attribute.Key("gen_ai.system")
	AttrOperation     = attribute.Key("gen_ai.operation.name")
	AttrRequestModel  = attribute.Key("gen_ai.request.model")
	AttrInputTokens   = attribute.Key("gen_ai.usage.input_tokens")
	AttrOutputTokens  = attribute.Key("gen_ai.usage.output_tokens")
	AttrToolName      = attribute.Key("gen_ai.tool.name")
	AttrToolDesc      = attribute.Key("gen_ai.tool.description")
	AttrToolCallID    = attribute.Key("gen_ai.tool.call.id")
	AttrAgentName     = attribute.Key("agentflow.agent.name")
	AttrInvocationID  = attribute.Key("agentflow.invocation_id")
	AttrSessionID     = attribute.Key("agentflow.session_id")
	AttrEventID       = attribute.Key("agentflow.event_id")
	AttrLLMRequest    = attribute.Key("agentflow.llm_request")
	AttrLLMResponse   = attribute.Key("agentflow.llm_response")
	AttrToolArgs      = attribute.Key("agentflow.tool_call_args")
	AttrToolResponse  = attribute.Key("agentflow.tool_response")
	AttrSentData      = attribute.Key("agentflow.data")
	AttrFinishReason  = attribute.Key("gen_ai.response.finish_reasons")
	systemName        = "agentflow"
	notSerializable   = "<not serializable>"
)

// Options configures a Telemetry.
type Options struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Telemetry bundles the tracer and instruments used by flows and agents.
type Telemetry struct {
	tracer trace.Tracer

	agentRuns   metric.Int64Counter
	llmCalls    metric.Int64Counter
	toolCalls   metric.Int64Counter
	tokenUsage  metric.Int64Counter
	toolFailure metric.Int64Counter
}

// New creates a Telemetry. Unset providers fall back to the otel globals.
func New(optFns ...func(o *Options)) (*Telemetry, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	mp := opts.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	meter := mp.Meter(scopeName)
	t := &Telemetry{tracer: tp.Tracer(scopeName)}

	var err error

	if t.agentRuns, err = meter.Int64Counter("agentflow.agent.runs",
		metric.WithDescription("Agent run count"),
		metric.WithUnit("{run}")); err != nil {
		return nil, err
	}

	if t.llmCalls, err = meter.Int64Counter("agentflow.llm.calls",
		metric.WithDescription("Model call count"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}

	if t.toolCalls, err = meter.Int64Counter("agentflow.tool.calls",
		metric.WithDescription("Tool execution count"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}

	if t.toolFailure, err = meter.Int64Counter("agentflow.tool.failures",
		metric.WithDescription("Tool executions that returned an error"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}

	if t.tokenUsage, err = meter.Int64Counter("agentflow.llm.token.usage",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}")); err != nil {
		return nil, err
	}

	return t, nil
}

var defaultTelemetry atomic.Pointer[Telemetry]

// Default returns the process wide Telemetry bound to the otel globals.
func Default() *Telemetry {
	if t := defaultTelemetry.Load(); t != nil {
		return t
	}

	t, err := New()
	if err != nil {
		// The global delegating providers never fail instrument creation.
		panic(err)
	}

	defaultTelemetry.CompareAndSwap(nil, t)

	return defaultTelemetry.Load()
}

// SetDefault replaces the process wide Telemetry.
func SetDefault(t *Telemetry) { defaultTelemetry.Store(t) }

// Or returns t, or Default when t is nil.
func Or(t *Telemetry) *Telemetry {
	if t == nil {
		return Default()
	}

	return t
}

// StartAgentRun opens the "agent_run [name]" span.
func (t *Telemetry) StartAgentRun(ctx context.Context, ictx *core.InvocationContext, name string) (context.Context, trace.Span) {
	t.agentRuns.Add(ctx, 1, metric.WithAttributes(AttrAgentName.String(name)))

	return t.tracer.Start(ctx, fmt.Sprintf("agent_run [%s]", name), trace.WithAttributes(
		AttrAgentName.String(name),
		AttrInvocationID.String(ictx.InvocationID),
		AttrSessionID.String(ictx.SessionID()),
	))
}

// StartLLMCall opens the "call_llm" span.
func (t *Telemetry) StartLLMCall(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "call_llm")
}

// TraceCallLLM records a model call on span.
func (t *Telemetry) TraceCallLLM(ctx context.Context, span trace.Span, ictx *core.InvocationContext, eventID string, req model.Request, resp model.Response) {
	attrs := []attribute.KeyValue{
		AttrSystem.String(systemName),
		AttrOperation.String("generate_content"),
		AttrRequestModel.String(req.Model),
		AttrInvocationID.String(ictx.InvocationID),
		AttrSessionID.String(ictx.SessionID()),
		AttrEventID.String(eventID),
		AttrLLMRequest.String(safeJSON(requestForTrace(req))),
		AttrLLMResponse.String(safeJSON(resp)),
	}

	if resp.FinishReason != "" {
		attrs = append(attrs, AttrFinishReason.StringSlice([]string{resp.FinishReason}))
	}

	if resp.Usage != nil {
		attrs = append(attrs,
			AttrInputTokens.Int(resp.Usage.PromptTokens),
			AttrOutputTokens.Int(resp.Usage.CompletionTokens),
		)
		t.tokenUsage.Add(ctx, int64(resp.Usage.TotalTokens), metric.WithAttributes(AttrRequestModel.String(req.Model)))
	}

	span.SetAttributes(attrs...)
	t.llmCalls.Add(ctx, 1, metric.WithAttributes(AttrRequestModel.String(req.Model)))

	if resp.ErrorCode != "" {
		span.SetStatus(codes.Error, resp.ErrorMessage)
	}
}

// StartToolCall opens the "tool_call [name]" span.
func (t *Telemetry) StartToolCall(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("tool_call [%s]", name))
}

// TraceToolCall records the execution of one function call on span.
func (t *Telemetry) TraceToolCall(ctx context.Context, span trace.Span, toolName, toolDesc string, call core.FunctionCall, response *core.Event, err error) {
	attrs := []attribute.KeyValue{
		AttrSystem.String(systemName),
		AttrOperation.String("execute_tool"),
		AttrToolName.String(toolName),
		AttrToolDesc.String(toolDesc),
		AttrToolCallID.String(call.ID),
		AttrToolArgs.String(safeJSON(call.Args)),
	}

	if response != nil {
		attrs = append(attrs, AttrEventID.String(response.ID))

		if rs := response.GetFunctionResponses(); len(rs) > 0 {
			attrs = append(attrs, AttrToolResponse.String(safeJSON(rs[0].Response)))
		}
	}

	span.SetAttributes(attrs...)
	t.toolCalls.Add(ctx, 1, metric.WithAttributes(AttrToolName.String(toolName)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.toolFailure.Add(ctx, 1, metric.WithAttributes(AttrToolName.String(toolName)))
	}
}

// TraceMergedToolCalls records the merged response of a parallel batch.
func (t *Telemetry) TraceMergedToolCalls(ctx context.Context, merged *core.Event) {
	_, span := t.tracer.Start(ctx, "tool_response")
	defer span.End()

	span.SetAttributes(
		AttrToolName.String("(merged tools)"),
		AttrEventID.String(merged.ID),
		AttrToolResponse.String(safeJSON(merged.Content)),
	)
}

// TraceSendData records contents sent on a live connection.
func (t *Telemetry) TraceSendData(ctx context.Context, ictx *core.InvocationContext, eventID string, contents []*core.Content) {
	_, span := t.tracer.Start(ctx, "send_data")
	defer span.End()

	span.SetAttributes(
		AttrInvocationID.String(ictx.InvocationID),
		AttrEventID.String(eventID),
		AttrSentData.String(safeJSON(contents)),
	)
}

// EndSpan ends span, marking it failed when err is non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

// requestForTrace drops inline blob bytes from the traced request.
func requestForTrace(req model.Request) model.Request {
	out := req
	out.Contents = make([]*core.Content, 0, len(req.Contents))

	for _, c := range req.Contents {
		cc := &core.Content{Role: c.Role}

		for _, p := range c.Parts {
			if _, ok := p.(core.BlobPart); ok {
				continue
			}

			cc.Parts = append(cc.Parts, p)
		}

		out.Contents = append(out.Contents, cc)
	}

	return out
}

func safeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return notSerializable
	}

	return string(b)
}
