package flow

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/tool"
)

// testAgent is a minimal FlowAgent driven by a MultiAgentFlow.
type testAgent struct {
	name        string
	description string
	parent      core.Agent
	subAgents   []core.Agent
	model       model.Model
	instruction string
	tools       []tool.Tool

	disallowParent  bool
	disallowPeers   bool
	excludeContents bool

	beforeModel []BeforeModelCallback
	afterModel  []AfterModelCallback
	beforeTool  []BeforeToolCallback
	afterTool   []AfterToolCallback

	flow Flow
}

func newTestAgent(name string, m model.Model, tools ...tool.Tool) *testAgent {
	return &testAgent{name: name, model: m, tools: tools, flow: NewMultiAgentFlow()}
}

func (a *testAgent) withSubAgents(subs ...*testAgent) *testAgent {
	for _, s := range subs {
		s.parent = a
		a.subAgents = append(a.subAgents, s)
	}

	return a
}

func (a *testAgent) Name() string            { return a.name }
func (a *testAgent) Description() string     { return a.description }
func (a *testAgent) Parent() core.Agent      { return a.parent }
func (a *testAgent) SubAgents() []core.Agent { return a.subAgents }

func (a *testAgent) FindAgent(name string) core.Agent {
	if a.name == name {
		return a
	}

	for _, s := range a.subAgents {
		if found := s.FindAgent(name); found != nil {
			return found
		}
	}

	return nil
}

func (a *testAgent) RunAsync(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.flow.RunAsync(ictx.WithAgent(a))
}

func (a *testAgent) RunLive(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.flow.RunLive(ictx.WithAgent(a))
}

func (a *testAgent) Model() model.Model { return a.model }

func (a *testAgent) Instruction(*core.CallbackContext) (string, bool, error) {
	return a.instruction, false, nil
}

func (a *testAgent) GlobalInstruction(*core.CallbackContext) (string, bool, error) {
	return "", false, nil
}

func (a *testAgent) Tools(*core.CallbackContext) ([]tool.Tool, error) { return a.tools, nil }
func (a *testAgent) GenerateConfig() model.GenerateConfig              { return model.GenerateConfig{} }
func (a *testAgent) IncludeContents() bool                            { return !a.excludeContents }
func (a *testAgent) DisallowTransferToParent() bool                   { return a.disallowParent }
func (a *testAgent) DisallowTransferToPeers() bool                    { return a.disallowPeers }
func (a *testAgent) BeforeModelCallbacks() []BeforeModelCallback      { return a.beforeModel }
func (a *testAgent) AfterModelCallbacks() []AfterModelCallback        { return a.afterModel }
func (a *testAgent) BeforeToolCallbacks() []BeforeToolCallback        { return a.beforeTool }
func (a *testAgent) AfterToolCallbacks() []AfterToolCallback          { return a.afterTool }

// unaryModel hides the live capability of a MockModel.
type unaryModel struct{ m *model.MockModel }

func (u unaryModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	return u.m.Generate(ctx, req)
}

func (u unaryModel) Info() model.Info { return u.m.Info() }

func newInvocation(t *testing.T, agent core.Agent, optFns ...func(o *core.InvocationContextOptions)) *core.InvocationContext {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return core.NewInvocationContext(ctx, testutil.NewSession(), agent, optFns...)
}

func withRunConfig(cfg core.RunConfig) func(o *core.InvocationContextOptions) {
	return func(o *core.InvocationContextOptions) { o.RunConfig = &cfg }
}

// collect drains seq, appending non-partial events to the session like the
// runner does. The error ending the stream, if any, is returned.
func collect(ictx *core.InvocationContext, seq iter.Seq2[*core.Event, error]) ([]*core.Event, error) {
	var events []*core.Event

	for ev, err := range seq {
		if err != nil {
			return events, err
		}

		if !ev.Partial {
			ictx.Session.Append(ev)
		}

		events = append(events, ev)
	}

	return events, nil
}

func mustCollect(t *testing.T, ictx *core.InvocationContext, seq iter.Seq2[*core.Event, error]) []*core.Event {
	t.Helper()

	events, err := collect(ictx, seq)
	require.NoError(t, err)

	return events
}

func callResponse(id, name string, args map[string]any) model.Response {
	return model.Response{Content: &core.Content{
		Role:  core.RoleModel,
		Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Args: args}}},
	}}
}

func textResponse(text string) model.Response {
	return model.Response{Content: core.NewTextContent(core.RoleModel, text)}
}

func newRollDieTool(result int) *tool.FunctionTool {
	return tool.NewFunctionTool("roll_die", "Roll a die", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sides": map[string]any{"type": "integer"},
		},
	}, func(*core.ToolContext, map[string]any) (any, error) {
		return result, nil
	})
}
