// Package agentflow provides a high-level façade over the runner and store
// abstractions (sessions, artifacts, memory & logging) enabling rapid
// construction of multi‑agent reasoning systems. Most applications interact
// with this package by:
//  1. Building an agent tree (model, sequential, parallel, loop, custom)
//  2. Creating an AgentFlow for its root via New() (optionally overriding
//     the default in‑memory stores)
//  3. Creating a session and invoking the tree asynchronously (Invoke),
//     synchronously (InvokeSync) or as a live duplex session (InvokeLive)
//
// All defaults are safe for local development and testing; production
// deployments typically supply durable store implementations and a
// structured logger.
package agentflow

import (
	"context"

	"github.com/hupe1980/agentflow/artifact"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/memory"
	"github.com/hupe1980/agentflow/runner"
	"github.com/hupe1980/agentflow/session"
)

// Options configures the AgentFlow instance.
type Options struct {
	// AppName scopes sessions, artifacts and memories. Defaults to the
	// root agent's name.
	AppName string

	// EventBufferSize sets the channel buffer size for delivered events.
	// Larger buffers reduce blocking but increase memory usage.
	EventBufferSize int

	// RunConfig is the default configuration of every invocation.
	RunConfig core.RunConfig

	// Stores (defaults to in-memory implementations if not provided)
	SessionStore  core.SessionStore
	ArtifactStore core.ArtifactStore
	MemoryStore   core.MemoryStore

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentFlow is the high-level façade aggregating the runner and stores.
type AgentFlow struct {
	opts   Options
	runner *runner.Runner
}

// New creates a new AgentFlow for the agent tree rooted at root. Any unset
// store is initialized with an in-memory implementation.
func New(root core.Agent, optFns ...func(o *Options)) *AgentFlow {
	opts := Options{
		AppName:         root.Name(),
		EventBufferSize: 100,
		RunConfig:       core.DefaultRunConfig(),
		SessionStore:    session.NewInMemoryStore(),
		ArtifactStore:   artifact.NewInMemoryStore(),
		MemoryStore:     memory.NewInMemoryStore(),
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	r := runner.New(root, func(o *runner.Options) {
		o.AppName = opts.AppName
		o.EventBufferSize = opts.EventBufferSize
		o.RunConfig = opts.RunConfig
		o.SessionStore = opts.SessionStore
		o.ArtifactStore = opts.ArtifactStore
		o.MemoryStore = opts.MemoryStore
		o.Logger = opts.Logger
	})

	return &AgentFlow{opts: opts, runner: r}
}

// Runner exposes the underlying runner.
func (f *AgentFlow) Runner() *runner.Runner { return f.runner }

// CreateSession creates a session for userID. An empty sessionID lets the
// store generate one.
func (f *AgentFlow) CreateSession(ctx context.Context, userID, sessionID string, state map[string]any) (*core.Session, error) {
	return f.opts.SessionStore.Create(ctx, f.opts.AppName, userID, sessionID, state)
}

// GetSession returns the stored session.
func (f *AgentFlow) GetSession(ctx context.Context, userID, sessionID string) (*core.Session, error) {
	return f.opts.SessionStore.Get(ctx, f.opts.AppName, userID, sessionID)
}

// Invoke starts an asynchronous invocation returning event & error channels.
func (f *AgentFlow) Invoke(
	ctx context.Context,
	userID, sessionID string,
	userContent *core.Content,
	optFns ...func(o *runner.RunOptions),
) (string, <-chan *core.Event, <-chan error, error) {
	return f.runner.Run(ctx, userID, sessionID, userContent, optFns...)
}

// InvokeLive starts a live invocation fed by queue. Close the queue to end
// the session.
func (f *AgentFlow) InvokeLive(
	ctx context.Context,
	userID, sessionID string,
	queue *core.LiveRequestQueue,
	optFns ...func(o *runner.RunOptions),
) (string, <-chan *core.Event, <-chan error, error) {
	return f.runner.RunLive(ctx, userID, sessionID, queue, optFns...)
}

// Cancel stops a running invocation.
func (f *AgentFlow) Cancel(invocationID string) error { return f.runner.Cancel(invocationID) }

// InvokeSync is a synchronous helper that drains the async channels, accumulates
// events and returns the invocationID.
func (f *AgentFlow) InvokeSync(
	ctx context.Context,
	userID, sessionID string,
	userContent *core.Content,
	optFns ...func(o *runner.RunOptions),
) (string, []*core.Event, error) {
	invocationID, eventsCh, errorsCh, err := f.runner.Run(ctx, userID, sessionID, userContent, optFns...)
	if err != nil {
		return "", nil, err
	}

	var events []*core.Event

	for {
		select {
		case <-ctx.Done():
			// Context cancelled - return events collected so far
			return invocationID, events, ctx.Err()

		case event, ok := <-eventsCh:
			if !ok {
				// Events channel closed - the terminal error, if any, is
				// already buffered.
				return invocationID, events, <-errorsCh
			}

			events = append(events, event)
		}
	}
}
