package agent

import (
	"fmt"
	"iter"

	"github.com/hupe1980/agentflow/core"
)

// LoopAgentOptions configures a LoopAgent.
type LoopAgentOptions struct {
	BaseAgentOptions

	// MaxIterations bounds the number of passes over the sub-agents. Zero
	// loops until a sub-agent escalates.
	MaxIterations int
}

// LoopAgent runs its sub-agents in order, over and over, until one of them
// escalates (for example through the exit_loop tool), the invocation ends or
// MaxIterations passes were made. The escalating event is still forwarded.
//
// LoopAgent has no live mode.
type LoopAgent struct {
	BaseAgent
	maxIterations int
}

// NewLoopAgent creates a loop over subAgents.
func NewLoopAgent(name string, subAgents []core.Agent, optFns ...func(o *LoopAgentOptions)) (*LoopAgent, error) {
	opts := LoopAgentOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxIterations < 0 {
		return nil, fmt.Errorf("loop agent %s: max iterations must not be negative", name)
	}

	a := &LoopAgent{
		BaseAgent:     newBaseAgent(name, opts.BaseAgentOptions),
		maxIterations: opts.MaxIterations,
	}
	a.bind(a)

	if err := a.SetSubAgents(subAgents...); err != nil {
		return nil, err
	}

	return a, nil
}

// MaxIterations returns the iteration bound, zero meaning unbounded.
func (a *LoopAgent) MaxIterations() int { return a.maxIterations }

// RunAsync implements core.Agent.
func (a *LoopAgent) RunAsync(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runAsync(ictx, func(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
		return func(yield func(*core.Event, error) bool) {
			subs := a.SubAgents()
			if len(subs) == 0 {
				return
			}

			for i := 0; a.maxIterations == 0 || i < a.maxIterations; i++ {
				ictx.LogDebug("agent.loop.iteration", "iteration", i+1)

				for _, sub := range subs {
					if ictx.EndInvocation() {
						return
					}

					for ev, err := range sub.RunAsync(ictx) {
						if !yield(ev, err) || err != nil {
							return
						}

						if ev.IsEscalation() {
							ictx.LogDebug("agent.loop.escalated", "sub_agent", sub.Name(), "iteration", i+1)
							return
						}
					}
				}

				if err := ictx.Err(); err != nil {
					yield(nil, err)
					return
				}
			}
		}
	})
}

// RunLive implements core.Agent. It always fails with
// core.ErrLiveNotSupported.
func (a *LoopAgent) RunLive(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runLive(ictx, func(*core.InvocationContext) iter.Seq2[*core.Event, error] {
		return core.ErrorSeq(fmt.Errorf("loop agent %s: %w", a.Name(), core.ErrLiveNotSupported))
	})
}
