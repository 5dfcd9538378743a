package agent

import (
	"fmt"
	"iter"
	"sync"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/telemetry"
)

// BeforeAgentCallback runs before the agent body. A non-nil content is
// emitted as the agent's event and the body is skipped.
type BeforeAgentCallback func(cc *core.CallbackContext) (*core.Content, error)

// AfterAgentCallback runs after the agent body. A non-nil content is
// emitted as a final event of the agent.
type AfterAgentCallback func(cc *core.CallbackContext) (*core.Content, error)

// BaseAgentOptions configures the behavior shared by all agents.
type BaseAgentOptions struct {
	Description          string
	BeforeAgentCallbacks []BeforeAgentCallback
	AfterAgentCallbacks  []AfterAgentCallback
	// Telemetry defaults to telemetry.Default().
	Telemetry *telemetry.Telemetry
}

// BaseAgent bundles hierarchy management, identity helpers, agent callbacks
// and run tracing. Embed it in concrete agent implementations, bind the
// outer agent with bind and route RunAsync/RunLive through runAsync and
// runLive. All exported methods are goroutine-safe.
type BaseAgent struct {
	name        string
	description string

	beforeAgent []BeforeAgentCallback
	afterAgent  []AfterAgentCallback
	telemetry   *telemetry.Telemetry

	mu        sync.RWMutex
	self      core.Agent
	parent    core.Agent
	subAgents []core.Agent
}

func newBaseAgent(name string, opts BaseAgentOptions) BaseAgent {
	description := opts.Description
	if description == "" {
		description = fmt.Sprintf("Agent %s", name)
	}

	return BaseAgent{
		name:        name,
		description: description,
		beforeAgent: opts.BeforeAgentCallbacks,
		afterAgent:  opts.AfterAgentCallbacks,
		telemetry:   opts.Telemetry,
	}
}

// bind records the concrete agent embedding b. It must be called by every
// constructor before the agent is used.
func (b *BaseAgent) bind(self core.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.self = self
}

// Name returns the human-readable name for this agent.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a detailed description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetSubAgents attaches children to this agent. Every child must be
// detached; attaching an agent that already has another parent fails with
// core.ErrAgentHasParent and leaves the tree unchanged.
func (b *BaseAgent) SetSubAgents(children ...core.Agent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, child := range children {
		if p := child.Parent(); p != nil && p != b.self {
			return fmt.Errorf("attach %s to %s: %w", child.Name(), b.name, core.ErrAgentHasParent)
		}
	}

	for _, child := range b.subAgents {
		if setter, ok := child.(interface{ setParent(core.Agent) }); ok {
			setter.setParent(nil)
		}
	}

	b.subAgents = nil

	for _, child := range children {
		if setter, ok := child.(interface{ setParent(core.Agent) }); ok {
			setter.setParent(b.self)
		}

		b.subAgents = append(b.subAgents, child)
	}

	return nil
}

// setParent sets the parent back reference.
func (b *BaseAgent) setParent(p core.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parent = p
}

// Parent returns the parent agent or nil if this agent is the root.
func (b *BaseAgent) Parent() core.Agent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.parent
}

// SubAgents returns a copy of the child agents.
func (b *BaseAgent) SubAgents() []core.Agent {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]core.Agent, len(b.subAgents))
	copy(result, b.subAgents)

	return result
}

// FindAgent performs a depth-first search over the subtree rooted at this
// agent, itself included, returning the first agent whose name matches.
func (b *BaseAgent) FindAgent(name string) core.Agent {
	b.mu.RLock()
	self := b.self
	b.mu.RUnlock()

	if b.name == name {
		return self
	}

	return b.FindSubAgent(name)
}

// FindSubAgent searches the descendants of this agent.
func (b *BaseAgent) FindSubAgent(name string) core.Agent {
	for _, child := range b.SubAgents() {
		if found := child.FindAgent(name); found != nil {
			return found
		}
	}

	return nil
}

// runAsync wraps a turn based agent body with tracing and the agent
// callbacks.
func (b *BaseAgent) runAsync(ictx *core.InvocationContext, body func(ictx *core.InvocationContext) iter.Seq2[*core.Event, error]) iter.Seq2[*core.Event, error] {
	return b.run(ictx, body, true)
}

// runLive wraps a live agent body with tracing. Agent callbacks only apply
// to turn based runs.
func (b *BaseAgent) runLive(ictx *core.InvocationContext, body func(ictx *core.InvocationContext) iter.Seq2[*core.Event, error]) iter.Seq2[*core.Event, error] {
	return b.run(ictx, body, false)
}

func (b *BaseAgent) run(parent *core.InvocationContext, body func(ictx *core.InvocationContext) iter.Seq2[*core.Event, error], callbacks bool) iter.Seq2[*core.Event, error] {
	return func(yield func(*core.Event, error) bool) {
		ictx := parent.WithAgent(b.self)

		ctx, span := telemetry.Or(b.telemetry).StartAgentRun(ictx.Context, ictx, b.name)
		ictx = ictx.WithContext(ctx)

		var runErr error
		defer func() { telemetry.EndSpan(span, runErr) }()

		ictx.LogDebug("agent.run.start", "branch", ictx.Branch)

		if callbacks {
			ev, err := b.handleBeforeAgent(ictx)
			if err != nil {
				runErr = err
				yield(nil, err)

				return
			}

			if ev != nil {
				if !yield(ev, nil) {
					return
				}

				if ev.Content != nil {
					ictx.LogDebug("agent.run.skipped", "reason", "before_agent_callback")
					return
				}
			}
		}

		if ictx.EndInvocation() {
			return
		}

		for ev, err := range body(ictx) {
			if err != nil {
				runErr = err
				yield(nil, err)

				return
			}

			if !yield(ev, nil) {
				return
			}
		}

		if !callbacks || ictx.EndInvocation() {
			return
		}

		ev, err := b.handleAfterAgent(ictx)
		if err != nil {
			runErr = err
			yield(nil, err)

			return
		}

		if ev != nil {
			yield(ev, nil)
		}
	}
}

// handleBeforeAgent runs the before-agent callbacks. The first non-nil
// content wins. Without content, a state change made by the callbacks is
// still reported through an event carrying only actions.
func (b *BaseAgent) handleBeforeAgent(ictx *core.InvocationContext) (*core.Event, error) {
	if len(b.beforeAgent) == 0 {
		return nil, nil
	}

	cc := core.NewCallbackContext(ictx, nil)

	for _, cb := range b.beforeAgent {
		content, err := cb(cc)
		if err != nil {
			return nil, fmt.Errorf("before agent callback of %s: %w", b.name, err)
		}

		if content != nil {
			return b.callbackEvent(ictx, cc, content), nil
		}
	}

	if cc.State().HasDelta() {
		return b.callbackEvent(ictx, cc, nil), nil
	}

	return nil, nil
}

func (b *BaseAgent) handleAfterAgent(ictx *core.InvocationContext) (*core.Event, error) {
	if len(b.afterAgent) == 0 {
		return nil, nil
	}

	cc := core.NewCallbackContext(ictx, nil)

	for _, cb := range b.afterAgent {
		content, err := cb(cc)
		if err != nil {
			return nil, fmt.Errorf("after agent callback of %s: %w", b.name, err)
		}

		if content != nil {
			return b.callbackEvent(ictx, cc, content), nil
		}
	}

	if cc.State().HasDelta() {
		return b.callbackEvent(ictx, cc, nil), nil
	}

	return nil, nil
}

func (b *BaseAgent) callbackEvent(ictx *core.InvocationContext, cc *core.CallbackContext, content *core.Content) *core.Event {
	ev := core.NewEvent(ictx.InvocationID, b.name)
	ev.Branch = ictx.Branch
	ev.Content = content
	ev.Actions = cc.Actions().Clone()

	return ev
}
