package agent

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/testutil"
	"github.com/hupe1980/agentflow/model"
)

// scriptAgent emits a fixed number of text events, optionally escalating on
// the last one.
type scriptAgent struct {
	BaseAgent
	steps    int
	escalate bool

	runs     atomic.Int32
	produced atomic.Int32
}

func newScriptAgent(name string, steps int, optFns ...func(o *BaseAgentOptions)) *scriptAgent {
	opts := BaseAgentOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &scriptAgent{BaseAgent: newBaseAgent(name, opts), steps: steps}
	a.bind(a)

	return a
}

func (a *scriptAgent) script(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return func(yield func(*core.Event, error) bool) {
		a.runs.Add(1)

		for i := range a.steps {
			ev := core.NewEvent(ictx.InvocationID, a.Name())
			ev.Branch = ictx.Branch
			ev.Content = core.NewTextContent(core.RoleModel, fmt.Sprintf("%s-%d", a.Name(), i))

			if a.escalate && i == a.steps-1 {
				ev.Actions.Escalate = core.Ptr(true)
			}

			a.produced.Add(1)

			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (a *scriptAgent) RunAsync(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runAsync(ictx, a.script)
}

func (a *scriptAgent) RunLive(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runLive(ictx, a.script)
}

// failingAgent ends its stream with err.
type failingAgent struct {
	BaseAgent
	err error
}

func newFailingAgent(name string, err error) *failingAgent {
	a := &failingAgent{BaseAgent: newBaseAgent(name, BaseAgentOptions{}), err: err}
	a.bind(a)

	return a
}

func (a *failingAgent) RunAsync(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runAsync(ictx, func(*core.InvocationContext) iter.Seq2[*core.Event, error] {
		return core.ErrorSeq(a.err)
	})
}

func (a *failingAgent) RunLive(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.RunAsync(ictx)
}

func newInvocation(t *testing.T, agent core.Agent, optFns ...func(o *core.InvocationContextOptions)) *core.InvocationContext {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return core.NewInvocationContext(ctx, testutil.NewSession(), agent, optFns...)
}

func userSays(ictx *core.InvocationContext, text string) {
	ictx.Session.Append(testutil.NewEventBuilder().Invocation(ictx.InvocationID).UserText(text).Build())
}

// collect drains seq, appending non-partial events to the session like the
// runner does.
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

func texts(events []*core.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Content != nil {
			out = append(out, ev.Content.Text())
		}
	}

	return out
}

func textResponse(text string) model.Response {
	return model.Response{Content: core.NewTextContent(core.RoleModel, text)}
}

func callResponse(id, name string, args map[string]any) model.Response {
	return model.Response{Content: &core.Content{
		Role:  core.RoleModel,
		Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Args: args}}},
	}}
}
