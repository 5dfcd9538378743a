package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

func newRecorded(t *testing.T) (*Telemetry, *tracetest.SpanRecorder) {
	t.Helper()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	tel, err := New(func(o *Options) { o.TracerProvider = tp })
	require.NoError(t, err)

	return tel, rec
}

func attrValue(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range attrs {
		if kv.Key == key {
			return kv.Value, true
		}
	}

	return attribute.Value{}, false
}

func TestTraceCallLLM(t *testing.T) {
	tel, rec := newRecorded(t)
	ictx := core.NewInvocationContext(context.Background(), core.NewSession("app", "u", "s1"), nil)

	req := model.Request{
		Model: "mock",
		Contents: []*core.Content{{Role: core.RoleUser, Parts: []core.Part{
			core.TextPart{Text: "hi"},
			core.BlobPart{Blob: core.Blob{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
		}}},
	}

	ctx, span := tel.StartLLMCall(context.Background())
	tel.TraceCallLLM(ctx, span, ictx, "ev-1", req, model.Response{
		Content: core.NewTextContent(core.RoleModel, "hello"),
		Usage:   &model.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	})
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "call_llm", spans[0].Name())

	v, ok := attrValue(spans[0].Attributes(), AttrEventID)
	require.True(t, ok)
	assert.Equal(t, "ev-1", v.AsString())

	v, _ = attrValue(spans[0].Attributes(), AttrLLMRequest)
	assert.NotContains(t, v.AsString(), "image/png", "blob parts are not traced")

	v, _ = attrValue(spans[0].Attributes(), AttrInputTokens)
	assert.Equal(t, int64(3), v.AsInt64())
}

func TestTraceToolCall_Error(t *testing.T) {
	tel, rec := newRecorded(t)

	ctx, span := tel.StartToolCall(context.Background(), "lookup")
	tel.TraceToolCall(ctx, span, "lookup", "finds things", core.FunctionCall{ID: "c1", Name: "lookup", Args: map[string]any{"q": "x"}}, nil, errors.New("down"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tool_call [lookup]", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	v, _ := attrValue(spans[0].Attributes(), AttrToolCallID)
	assert.Equal(t, "c1", v.AsString())
}

func TestStartAgentRunNesting(t *testing.T) {
	tel, rec := newRecorded(t)
	ictx := core.NewInvocationContext(context.Background(), core.NewSession("app", "u", "s1"), nil)

	ctx, parent := tel.StartAgentRun(context.Background(), ictx, "root")
	_, child := tel.StartToolCall(ctx, "t")
	child.End()
	EndSpan(parent, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, "agent_run [root]", spans[1].Name())
}

func TestDefaultIsStable(t *testing.T) {
	assert.Same(t, Default(), Default())
	assert.Same(t, Default(), Or(nil))
}
