package agent

import (
	"iter"

	"github.com/hupe1980/agentflow/core"
)

// SequentialAgent runs its sub-agents one after another on the same branch.
// Each agent sees the events of the ones before it, so outputs build upon
// each other through the shared session.
//
// In live mode every ModelAgent child gets the task_completed tool so it can
// hand the conversation to the next agent of the sequence.
type SequentialAgent struct {
	BaseAgent
}

// NewSequentialAgent creates a sequence over subAgents.
func NewSequentialAgent(name string, subAgents []core.Agent, optFns ...func(o *BaseAgentOptions)) (*SequentialAgent, error) {
	opts := BaseAgentOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &SequentialAgent{BaseAgent: newBaseAgent(name, opts)}
	a.bind(a)

	if err := a.SetSubAgents(subAgents...); err != nil {
		return nil, err
	}

	return a, nil
}

// RunAsync implements core.Agent.
func (a *SequentialAgent) RunAsync(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runAsync(ictx, func(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
		return a.sequence(ictx, func(sub core.Agent) iter.Seq2[*core.Event, error] {
			return sub.RunAsync(ictx)
		})
	})
}

// RunLive implements core.Agent.
func (a *SequentialAgent) RunLive(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runLive(ictx, func(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
		for _, sub := range a.SubAgents() {
			if ma, ok := sub.(*ModelAgent); ok {
				ma.enableTaskCompletion()
			}
		}

		return a.sequence(ictx, func(sub core.Agent) iter.Seq2[*core.Event, error] {
			return sub.RunLive(ictx)
		})
	})
}

func (a *SequentialAgent) sequence(ictx *core.InvocationContext, run func(sub core.Agent) iter.Seq2[*core.Event, error]) iter.Seq2[*core.Event, error] {
	return func(yield func(*core.Event, error) bool) {
		for _, sub := range a.SubAgents() {
			if ictx.EndInvocation() {
				return
			}

			ictx.LogDebug("agent.sequential.step", "sub_agent", sub.Name())

			for ev, err := range run(sub) {
				if !yield(ev, err) || err != nil {
					return
				}
			}
		}
	}
}
