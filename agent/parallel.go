package agent

import (
	"context"
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentflow/core"
)

// ParallelAgent runs its sub-agents concurrently, each on an isolated
// branch "<branch>.<parallel>.<sub>" so siblings do not see each other's
// history. Events are forwarded in the order they are produced. A child
// is paused after each event until the consumer has processed it, so at
// most one event per child is outstanding and the runner persists every
// event before its producer continues.
//
// ParallelAgent has no live mode.
type ParallelAgent struct {
	BaseAgent
}

// NewParallelAgent creates a parallel coordinator over subAgents.
func NewParallelAgent(name string, subAgents []core.Agent, optFns ...func(o *BaseAgentOptions)) (*ParallelAgent, error) {
	opts := BaseAgentOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	a := &ParallelAgent{BaseAgent: newBaseAgent(name, opts)}
	a.bind(a)

	if err := a.SetSubAgents(subAgents...); err != nil {
		return nil, err
	}

	return a, nil
}

// branchContext clones ictx onto the isolated branch of sub.
func (a *ParallelAgent) branchContext(ictx *core.InvocationContext, sub core.Agent) *core.InvocationContext {
	return ictx.WithBranch(buildBranchPath(ictx.Branch, a.Name()+"."+sub.Name()))
}

// fanInItem is one event (or the error ending a child stream) together with
// the channel that releases its producer.
type fanInItem struct {
	event  *core.Event
	err    error
	resume chan<- struct{}
}

// RunAsync implements core.Agent.
func (a *ParallelAgent) RunAsync(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runAsync(ictx, func(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
		return func(yield func(*core.Event, error) bool) {
			ctx, cancel := context.WithCancel(ictx.Context)

			g, gctx := errgroup.WithContext(ctx)
			out := make(chan fanInItem)

			for _, sub := range a.SubAgents() {
				branchCtx := a.branchContext(ictx, sub).WithContext(gctx)

				g.Go(func() error {
					return forward(gctx, sub.RunAsync(branchCtx), out)
				})
			}

			go func() {
				_ = g.Wait()
				close(out)
			}()

			defer func() {
				cancel()
				// Release producers blocked on send and wait for all of them.
				for range out {
				}
			}()

			for item := range out {
				if item.err != nil {
					yield(nil, fmt.Errorf("parallel agent %s: %w", a.Name(), item.err))
					return
				}

				if !yield(item.event, nil) {
					return
				}

				item.resume <- struct{}{}
			}
		}
	})
}

// forward pushes the events of seq to out one at a time.
func forward(ctx context.Context, seq iter.Seq2[*core.Event, error], out chan<- fanInItem) error {
	resume := make(chan struct{})

	for ev, err := range seq {
		select {
		case out <- fanInItem{event: ev, err: err, resume: resume}:
		case <-ctx.Done():
			return ctx.Err()
		}

		if err != nil {
			return err
		}

		select {
		case <-resume:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// RunLive implements core.Agent. It always fails with
// core.ErrLiveNotSupported.
func (a *ParallelAgent) RunLive(ictx *core.InvocationContext) iter.Seq2[*core.Event, error] {
	return a.runLive(ictx, func(*core.InvocationContext) iter.Seq2[*core.Event, error] {
		return core.ErrorSeq(fmt.Errorf("parallel agent %s: %w", a.Name(), core.ErrLiveNotSupported))
	})
}
