package agent

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

func TestParallelAgent_Branches(t *testing.T) {
	a := newScriptAgent("a", 2)
	b := newScriptAgent("b", 2)

	par, err := NewParallelAgent("fanout", []core.Agent{a, b})
	require.NoError(t, err)

	ictx := newInvocation(t, par, func(o *core.InvocationContextOptions) { o.Branch = "root" })
	events := mustCollect(t, ictx, par.RunAsync(ictx))
	require.Len(t, events, 4)

	for _, ev := range events {
		assert.Equal(t, "root.fanout."+ev.Author, ev.Branch)
	}
}

func TestParallelAgent_ChildrenDoNotSeeEachOther(t *testing.T) {
	newModel := func(reply string) *model.MockModel {
		return model.NewMockModel("mock").Enqueue(textResponse(reply))
	}

	leftModel := newModel("left answer")
	rightModel := newModel("right answer")

	left := NewModelAgent("left", leftModel, func(o *ModelAgentOptions) {
		o.DisallowTransferToParent = true
		o.DisallowTransferToPeers = true
	})
	right := NewModelAgent("right", rightModel, func(o *ModelAgentOptions) {
		o.DisallowTransferToParent = true
		o.DisallowTransferToPeers = true
	})

	par, err := NewParallelAgent("fanout", []core.Agent{left, right})
	require.NoError(t, err)

	ictx := newInvocation(t, par)
	userSays(ictx, "question")

	events := mustCollect(t, ictx, par.RunAsync(ictx))
	assert.ElementsMatch(t, []string{"left answer", "right answer"}, texts(events))

	for _, m := range []*model.MockModel{leftModel, rightModel} {
		reqs := m.Requests()
		require.Len(t, reqs, 1)
		require.Len(t, reqs[0].Contents, 1)
		assert.Equal(t, "question", reqs[0].Contents[0].Text())
	}
}

func TestParallelAgent_Error(t *testing.T) {
	boom := errors.New("boom")

	par, err := NewParallelAgent("fanout", []core.Agent{newScriptAgent("ok", 3), newFailingAgent("bad", boom)})
	require.NoError(t, err)

	ictx := newInvocation(t, par)
	_, err = collect(ictx, par.RunAsync(ictx))
	require.ErrorIs(t, err, boom)
}

func TestParallelAgent_ConsumerBreak(t *testing.T) {
	a := newScriptAgent("a", 10)
	b := newScriptAgent("b", 10)

	par, err := NewParallelAgent("fanout", []core.Agent{a, b})
	require.NoError(t, err)

	ictx := newInvocation(t, par)

	for range par.RunAsync(ictx) {
		break
	}

	// Each child produced at most the event it was blocked on.
	assert.LessOrEqual(t, a.produced.Load(), int32(2))
	assert.LessOrEqual(t, b.produced.Load(), int32(2))
}

func TestParallelAgent_Live(t *testing.T) {
	par, err := NewParallelAgent("fanout", []core.Agent{newScriptAgent("a", 1)})
	require.NoError(t, err)

	ictx := newInvocation(t, par)
	_, err = collect(ictx, par.RunLive(ictx))
	require.ErrorIs(t, err, core.ErrLiveNotSupported)
}

func TestParallelAgent_FanInProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("all events arrive in per child order with one outstanding pull", prop.ForAll(
		func(steps []int) bool {
			children := make([]*scriptAgent, len(steps))
			subs := make([]core.Agent, len(steps))

			for i, n := range steps {
				children[i] = newScriptAgent(fmt.Sprintf("c%d", i), n)
				subs[i] = children[i]
			}

			par, err := NewParallelAgent("fanout", subs)
			if err != nil {
				return false
			}

			ictx := core.NewInvocationContext(t.Context(), core.NewSession("app", "user", "s"), par)

			byName := map[string]*scriptAgent{}
			for _, c := range children {
				byName[c.Name()] = c
			}

			consumed := map[string]int{}

			for ev, err := range par.RunAsync(ictx) {
				if err != nil {
					return false
				}

				if ev.Content.Text() != fmt.Sprintf("%s-%d", ev.Author, consumed[ev.Author]) {
					return false
				}

				consumed[ev.Author]++

				if int(byName[ev.Author].produced.Load()) != consumed[ev.Author] {
					return false
				}
			}

			for i, n := range steps {
				if consumed[children[i].Name()] != n {
					return false
				}
			}

			return true
		},
		gen.SliceOfN(4, gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}
