package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/hupe1980/agentflow/artifact"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/flow"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/memory"
	"github.com/hupe1980/agentflow/session"
)

// ErrRunNotFound is returned by Cancel for unknown or finished invocations.
var ErrRunNotFound = errors.New("run not found")

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// AppName scopes sessions, artifacts and memories.
	AppName string
	// EventBufferSize sets channel buffering for events.
	EventBufferSize int
	// RunConfig is the default configuration of every invocation.
	RunConfig core.RunConfig
	// Session management services.
	SessionStore core.SessionStore
	// Artifact management services.
	ArtifactStore core.ArtifactStore
	// Memory management services.
	MemoryStore core.MemoryStore
	// Logging services.
	Logger logging.Logger
}

// RunOptions overrides settings of a single invocation.
type RunOptions struct {
	// RunConfig replaces the runner's default RunConfig.
	RunConfig *core.RunConfig
}

// Runner coordinates agent execution: resolves the agent to run, creates
// invocation contexts, streams events and persists them through the session
// store. Public methods are safe for concurrent use.
type Runner struct {
	agent core.Agent

	appName         string
	eventBufferSize int
	runConfig       core.RunConfig

	sessionStore  core.SessionStore
	artifactStore core.ArtifactStore
	memoryStore   core.MemoryStore
	logger        logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs a Runner for the agent tree rooted at agent.
func New(agent core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		AppName:         agent.Name(),
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

	return &Runner{
		agent:           agent,
		appName:         opts.AppName,
		eventBufferSize: opts.EventBufferSize,
		runConfig:       opts.RunConfig,
		sessionStore:    opts.SessionStore,
		artifactStore:   opts.ArtifactStore,
		memoryStore:     opts.MemoryStore,
		logger:          logging.With(opts.Logger, "app", opts.AppName),
		activeRuns:      make(map[string]context.CancelFunc),
	}
}

// AppName returns the application name sessions are scoped to.
func (r *Runner) AppName() string { return r.appName }

// SessionStore returns the store the runner persists events with.
func (r *Runner) SessionStore() core.SessionStore { return r.sessionStore }

// Run starts a turn-based invocation answering msg. Events are delivered on
// the returned channel after they were persisted; the error channel carries
// at most one error. Both channels are closed when the invocation ends.
func (r *Runner) Run(
	ctx context.Context,
	userID, sessionID string,
	msg *core.Content,
	optFns ...func(o *RunOptions),
) (string, <-chan *core.Event, <-chan error, error) {
	cfg, err := r.resolveRunConfig(optFns)
	if err != nil {
		return "", nil, nil, err
	}

	sess, err := r.sessionStore.Get(ctx, r.appName, userID, sessionID)
	if err != nil {
		return "", nil, nil, fmt.Errorf("get session: %w", err)
	}

	invocationID := core.NewInvocationID()

	if msg != nil {
		msg, err = r.prepareUserContent(ctx, sess, invocationID, msg, cfg)
		if err != nil {
			return "", nil, nil, err
		}

		if err := r.sessionStore.AppendEvent(ctx, sess, core.NewUserContentEvent(invocationID, msg)); err != nil {
			return "", nil, nil, fmt.Errorf("append user event: %w", err)
		}
	}

	agent := r.findAgentToRun(sess)

	ictx, cancel := r.newInvocation(ctx, sess, agent, invocationID, msg, cfg, nil)

	events, errs := r.stream(ictx, cancel, agent.RunAsync(ictx))

	return invocationID, events, errs, nil
}

// RunLive starts a live invocation fed by queue. The caller closes the queue
// to end the session.
func (r *Runner) RunLive(
	ctx context.Context,
	userID, sessionID string,
	queue *core.LiveRequestQueue,
	optFns ...func(o *RunOptions),
) (string, <-chan *core.Event, <-chan error, error) {
	cfg, err := r.resolveRunConfig(optFns)
	if err != nil {
		return "", nil, nil, err
	}

	if cfg.StreamingMode == "" || cfg.StreamingMode == core.StreamingModeNone {
		cfg.StreamingMode = core.StreamingModeBidi
	}

	sess, err := r.sessionStore.Get(ctx, r.appName, userID, sessionID)
	if err != nil {
		return "", nil, nil, fmt.Errorf("get session: %w", err)
	}

	invocationID := core.NewInvocationID()
	agent := r.findAgentToRun(sess)

	ictx, cancel := r.newInvocation(ctx, sess, agent, invocationID, nil, cfg, queue)

	events, errs := r.stream(ictx, cancel, agent.RunLive(ictx))

	return invocationID, events, errs, nil
}

// Cancel cancels a running invocation by ID.
func (r *Runner) Cancel(invocationID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[invocationID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%s: %w", invocationID, ErrRunNotFound)
	}

	cancel()

	return nil
}

// AddSessionToMemory ingests the stored session into the memory store.
func (r *Runner) AddSessionToMemory(ctx context.Context, userID, sessionID string) error {
	if r.memoryStore == nil {
		return errors.New("add session to memory: no memory store configured")
	}

	sess, err := r.sessionStore.Get(ctx, r.appName, userID, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	return r.memoryStore.AddSession(ctx, sess)
}

func (r *Runner) resolveRunConfig(optFns []func(o *RunOptions)) (core.RunConfig, error) {
	opts := RunOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := r.runConfig
	if opts.RunConfig != nil {
		cfg = *opts.RunConfig
	}

	if err := cfg.Validate(); err != nil {
		return core.RunConfig{}, err
	}

	return cfg, nil
}

func (r *Runner) newInvocation(
	ctx context.Context,
	sess *core.Session,
	agent core.Agent,
	invocationID string,
	msg *core.Content,
	cfg core.RunConfig,
	queue *core.LiveRequestQueue,
) (*core.InvocationContext, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.activeRuns[invocationID] = cancel
	r.mu.Unlock()

	ictx := core.NewInvocationContext(ctx, sess, agent, func(o *core.InvocationContextOptions) {
		o.InvocationID = invocationID
		o.UserContent = msg
		o.SessionStore = r.sessionStore
		o.ArtifactStore = r.artifactStore
		o.MemoryStore = r.memoryStore
		o.RunConfig = &cfg
		o.LiveRequestQueue = queue
		o.Logger = r.logger
	})

	return ictx, cancel
}

// stream drains seq on a goroutine. Each non-partial event is appended to
// the session before the producer resumes, so the agent always observes its
// own history.
func (r *Runner) stream(
	ictx *core.InvocationContext,
	cancel context.CancelFunc,
	seq iter.Seq2[*core.Event, error],
) (<-chan *core.Event, <-chan error) {
	eventsCh := make(chan *core.Event, r.eventBufferSize)
	errorsCh := make(chan error, 1)

	go func() {
		defer func() {
			cancel()

			r.mu.Lock()
			delete(r.activeRuns, ictx.InvocationID)
			r.mu.Unlock()

			close(eventsCh)
			close(errorsCh)
		}()

		for ev, err := range seq {
			if err != nil {
				errorsCh <- fmt.Errorf("agent execution failed: %w", err)
				return
			}

			if !ev.IsPartial() {
				if err := r.sessionStore.AppendEvent(ictx.Context, ictx.Session, ev); err != nil {
					errorsCh <- fmt.Errorf("append event to session: %w", err)
					return
				}

				ictx.LogDebug("runner.event.appended", "event_id", ev.ID, "author", ev.Author)
			}

			select {
			case <-ictx.Done():
				return
			case eventsCh <- ev:
			}
		}
	}()

	return eventsCh, errorsCh
}

// prepareUserContent optionally moves inline blobs of msg into the artifact
// store, replacing each with a text reference.
func (r *Runner) prepareUserContent(
	ctx context.Context,
	sess *core.Session,
	invocationID string,
	msg *core.Content,
	cfg core.RunConfig,
) (*core.Content, error) {
	if !cfg.SaveInputBlobsAsArtifacts {
		return msg, nil
	}

	out := msg.Clone()

	for i, p := range out.Parts {
		bp, ok := p.(core.BlobPart)
		if !ok {
			continue
		}

		if r.artifactStore == nil {
			return nil, errors.New("save input blobs: no artifact store configured")
		}

		filename := fmt.Sprintf("artifact_%s_%d", invocationID, i)

		if _, err := r.artifactStore.Save(ctx, sess.AppName, sess.UserID, sess.ID, filename, bp); err != nil {
			return nil, fmt.Errorf("save input blob %s: %w", filename, err)
		}

		out.Parts[i] = core.TextPart{Text: fmt.Sprintf("Uploaded file: %s. It is saved into artifacts", filename)}
	}

	return out, nil
}

// findAgentToRun picks the agent that answers the next user turn: the
// author of the call a trailing function response answers, else the last
// agent that spoke if it can transfer back up the tree, else the root.
func (r *Runner) findAgentToRun(sess *core.Session) core.Agent {
	events := sess.Events()

	if ev := findMatchingFunctionCall(events); ev != nil {
		if a := r.agent.FindAgent(ev.Author); a != nil {
			return a
		}
	}

	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Author == core.RoleUser {
			continue
		}

		if ev.Author == r.agent.Name() {
			return r.agent
		}

		a := r.agent.FindAgent(ev.Author)
		if a == nil {
			r.logger.Warn("runner.agent.unknown", "author", ev.Author, "event_id", ev.ID)
			continue
		}

		if isTransferableAcrossAgentTree(a) {
			return a
		}
	}

	return r.agent
}

// findMatchingFunctionCall returns the event holding the call answered by
// the function response of the last event, if any.
func findMatchingFunctionCall(events []*core.Event) *core.Event {
	if len(events) == 0 {
		return nil
	}

	responses := events[len(events)-1].GetFunctionResponses()
	if len(responses) == 0 {
		return nil
	}

	id := responses[0].ID

	for i := len(events) - 2; i >= 0; i-- {
		for _, fc := range events[i].GetFunctionCalls() {
			if fc.ID == id {
				return events[i]
			}
		}
	}

	return nil
}

// isTransferableAcrossAgentTree reports whether a and all its ancestors are
// model agents allowed to transfer to their parent.
func isTransferableAcrossAgentTree(a core.Agent) bool {
	for a != nil {
		fa, ok := a.(flow.FlowAgent)
		if !ok || fa.DisallowTransferToParent() {
			return false
		}

		a = a.Parent()
	}

	return true
}
