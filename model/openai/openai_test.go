package openai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

type stubClient struct {
	lastParams openai.ChatCompletionNewParams
	resp       *openai.ChatCompletion
	err        error
	events     []ssestream.Event
}

func (s *stubClient) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubClient) NewStreaming(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	s.lastParams = body
	return ssestream.NewStream[openai.ChatCompletionChunk](&testDecoder{events: s.events}, nil)
}

// testDecoder feeds a fixed sequence of events to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++

	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return nil }

func completion(t *testing.T, raw string) *openai.ChatCompletion {
	t.Helper()

	var c openai.ChatCompletion
	require.NoError(t, json.Unmarshal([]byte(raw), &c))

	return &c
}

func collect(t *testing.T, m *Model, req model.Request) []model.Response {
	t.Helper()

	respCh, errCh := m.Generate(context.Background(), req)

	var out []model.Response
	for r := range respCh {
		out = append(out, r)
	}

	require.NoError(t, <-errCh)

	return out
}

func conversation() model.Request {
	return model.Request{
		Instructions: "Be brief.",
		Contents: []*core.Content{
			core.NewTextContent(core.RoleUser, "weather in Berlin?"),
			{Role: core.RoleModel, Parts: []core.Part{
				core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "weather", Args: map[string]any{"city": "Berlin"}}},
			}},
			{Role: core.RoleUser, Parts: []core.Part{
				core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "c1", Name: "weather", Response: map[string]any{"temp": 21}}},
			}},
		},
		Tools: []model.ToolDefinition{{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        "weather",
				Description: "Looks up the weather",
				Parameters:  map[string]any{"type": "object"},
			},
		}},
	}
}

func TestModel_GenerateEncodesConversation(t *testing.T) {
	stub := &stubClient{resp: completion(t, `{
		"id": "x",
		"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "21 degrees."}}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
	}`)}

	m := NewModelFromClient(stub, func(o *Options) { o.Model = "gpt-test" })

	out := collect(t, m, conversation())
	require.Len(t, out, 1)
	assert.Equal(t, "21 degrees.", out[0].Content.Text())
	assert.Equal(t, core.RoleModel, out[0].Content.Role)
	assert.Equal(t, "stop", out[0].FinishReason)
	assert.Equal(t, &model.TokenUsage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}, out[0].Usage)

	params := stub.lastParams
	assert.Equal(t, "gpt-test", params.Model)
	require.Len(t, params.Messages, 4)
	require.NotNil(t, params.Messages[0].OfSystem)
	require.NotNil(t, params.Messages[1].OfUser)

	assistant := params.Messages[2].OfAssistant
	require.NotNil(t, assistant)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "c1", assistant.ToolCalls[0].ID)
	assert.JSONEq(t, `{"city":"Berlin"}`, assistant.ToolCalls[0].Function.Arguments)

	toolMsg := params.Messages[3].OfTool
	require.NotNil(t, toolMsg)
	assert.Equal(t, "c1", toolMsg.ToolCallID)

	require.Len(t, params.Tools, 1)
	assert.Equal(t, "weather", params.Tools[0].Function.Name)
}

func TestModel_GenerateToolCalls(t *testing.T) {
	stub := &stubClient{resp: completion(t, `{
		"id": "x",
		"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {"role": "assistant", "content": "",
			"tool_calls": [{"id": "c9", "type": "function", "function": {"name": "weather", "arguments": "{\"city\":\"Paris\"}"}}]}}]
	}`)}

	out := collect(t, NewModelFromClient(stub), model.Request{Contents: []*core.Content{core.NewTextContent(core.RoleUser, "hi")}})
	require.Len(t, out, 1)

	calls := (&core.Event{Content: out[0].Content}).GetFunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, core.FunctionCall{ID: "c9", Name: "weather", Args: map[string]any{"city": "Paris"}}, calls[0])
}

func TestModel_GenerateErrors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		boom := errors.New("boom")
		m := NewModelFromClient(&stubClient{err: boom})

		respCh, errCh := m.Generate(context.Background(), model.Request{Contents: []*core.Content{core.NewTextContent(core.RoleUser, "hi")}})
		for range respCh {
		}

		require.ErrorIs(t, <-errCh, boom)
	})

	t.Run("empty request", func(t *testing.T) {
		m := NewModelFromClient(&stubClient{})

		respCh, errCh := m.Generate(context.Background(), model.Request{})
		for range respCh {
		}

		require.Error(t, <-errCh)
	})
}

func TestModel_GenerateStreaming(t *testing.T) {
	chunk := func(raw string) ssestream.Event { return ssestream.Event{Data: []byte(raw)} }

	stub := &stubClient{events: []ssestream.Event{
		chunk(`{"id":"s","choices":[{"index":0,"delta":{"content":"Let me "}}]}`),
		chunk(`{"id":"s","choices":[{"index":0,"delta":{"content":"check."}}]}`),
		chunk(`{"id":"s","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"weather","arguments":"{\"city\":"}}]}}]}`),
		chunk(`{"id":"s","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Rome\"}"}}]}}]}`),
		chunk(`{"id":"s","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`),
	}}

	req := conversation()
	req.Stream = true

	out := collect(t, NewModelFromClient(stub), req)
	require.Len(t, out, 3)

	assert.True(t, out[0].Partial)
	assert.Equal(t, "Let me ", out[0].Content.Text())
	assert.True(t, out[1].Partial)

	final := out[2]
	assert.False(t, final.Partial)
	assert.Equal(t, "tool_calls", final.FinishReason)

	calls := (&core.Event{Content: final.Content}).GetFunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"city": "Rome"}, calls[0].Args)
}
