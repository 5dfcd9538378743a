package agentflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/tool"
)

func TestAgentFlow_InvokeSync(t *testing.T) {
	ctx := context.Background()

	m := model.NewMockModel("mock").
		Enqueue(model.Response{Content: &core.Content{Role: core.RoleModel, Parts: []core.Part{
			core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "c1", Name: "add", Args: map[string]any{"a": 2.0, "b": 3.0}}},
		}}}).
		Enqueue(model.Response{Content: core.NewTextContent(core.RoleModel, "2 + 3 = 5")})

	type addArgs struct {
		A float64 `json:"a"`
		B float64 `json:"b"`
	}

	calc := agent.NewModelAgent("calc", m, func(o *agent.ModelAgentOptions) {
		o.Tools = []tool.Tool{tool.NewTypedTool("add", "Adds two numbers", func(_ *core.ToolContext, args addArgs) (any, error) {
			return args.A + args.B, nil
		})}
		o.OutputKey = "answer"
	})

	f := New(calc)

	sess, err := f.CreateSession(ctx, "u1", "", map[string]any{"user:name": "Ada"})
	require.NoError(t, err)

	_, events, err := f.InvokeSync(ctx, "u1", sess.ID, core.NewTextContent(core.RoleUser, "add 2 and 3"))
	require.NoError(t, err)
	require.Len(t, events, 3)

	responses := events[1].GetFunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, map[string]any{"result": float64(5)}, responses[0].Response)
	assert.Equal(t, "2 + 3 = 5", events[2].Content.Text())

	stored, err := f.GetSession(ctx, "u1", sess.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Events(), 4)

	answer, ok := stored.GetState("answer")
	require.True(t, ok)
	assert.Equal(t, "2 + 3 = 5", answer)

	name, ok := stored.GetState("user:name")
	require.True(t, ok)
	assert.Equal(t, "Ada", name)
}

func TestAgentFlow_InvokeSyncUnknownSession(t *testing.T) {
	f := New(agent.NewModelAgent("a", model.NewMockModel("mock")))

	_, _, err := f.InvokeSync(context.Background(), "u1", "missing", core.NewTextContent(core.RoleUser, "hi"))
	require.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestAgentFlow_InvokeLive(t *testing.T) {
	ctx := context.Background()

	m := model.NewMockModel("live")
	m.OnLiveSend = func(c *core.Content, _ *core.Blob) []model.Response {
		if c == nil {
			return nil
		}

		return []model.Response{{Content: core.NewTextContent(core.RoleModel, "pong")}, {TurnComplete: true}}
	}

	f := New(agent.NewModelAgent("pinger", m))

	sess, err := f.CreateSession(ctx, "u1", "s1", nil)
	require.NoError(t, err)

	queue := core.NewLiveRequestQueue()
	queue.SendContent(core.NewTextContent(core.RoleUser, "ping"))

	_, events, errs, err := f.InvokeLive(ctx, "u1", sess.ID, queue)
	require.NoError(t, err)

	var texts []string

	for ev := range events {
		if ev.Content != nil && ev.Content.Text() != "" {
			texts = append(texts, ev.Content.Text())
		}

		if ev.TurnComplete {
			queue.Close()
		}
	}

	require.NoError(t, <-errs)
	assert.Equal(t, []string{"pong"}, texts)
}
