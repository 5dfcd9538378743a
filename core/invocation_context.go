package core

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentflow/logging"
)

// ActiveStreamingTool tracks a tool running in the background of a live
// session. Stream, when set, receives a copy of every live request.
type ActiveStreamingTool struct {
	Cancel context.CancelFunc
	Done   <-chan struct{}
	Stream *LiveRequestQueue
}

// TranscriptionEntry is cached live input waiting to be transcribed on the
// next connect.
type TranscriptionEntry struct {
	Role    string
	Blob    *Blob
	Content *Content
}

// invocationState is shared by every context derived from one invocation.
type invocationState struct {
	endInvocation atomic.Bool
	budget        *LLMCallBudget

	mu                 sync.Mutex
	streamingTools     map[string]*ActiveStreamingTool
	transcriptionCache []TranscriptionEntry
	authResponses      map[string]map[string]any
}

// InvocationContext carries the execution scope of one invocation: the
// ambient cancellation Context, identifiers, the agent being run, its branch,
// the session snapshot and backing stores, the run config and live plumbing.
//
// WithAgent, WithBranch and Clone derive contexts that share the
// invocation wide state: the end flag, the LLM call budget, active streaming
// tools, the transcription cache and auth responses.
type InvocationContext struct {
	Context          context.Context
	InvocationID     string
	Branch           string
	Agent            Agent
	UserContent      *Content
	Session          *Session
	SessionStore     SessionStore
	ArtifactStore    ArtifactStore
	MemoryStore      MemoryStore
	RunConfig        RunConfig
	LiveRequestQueue *LiveRequestQueue

	shared *invocationState

	base *loggerAdapter
	*loggerAdapter
}

// InvocationContextOptions configures NewInvocationContext.
type InvocationContextOptions struct {
	InvocationID     string
	Branch           string
	UserContent      *Content
	SessionStore     SessionStore
	ArtifactStore    ArtifactStore
	MemoryStore      MemoryStore
	RunConfig        *RunConfig
	LiveRequestQueue *LiveRequestQueue
	Logger           logging.Logger
}

// NewInvocationContext creates the root context of an invocation.
func NewInvocationContext(ctx context.Context, sess *Session, agent Agent, optFns ...func(o *InvocationContextOptions)) *InvocationContext {
	opts := InvocationContextOptions{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.InvocationID == "" {
		opts.InvocationID = NewInvocationID()
	}

	cfg := DefaultRunConfig()
	if opts.RunConfig != nil {
		cfg = *opts.RunConfig
	}

	ic := &InvocationContext{
		Context:          ctx,
		InvocationID:     opts.InvocationID,
		Branch:           opts.Branch,
		Agent:            agent,
		UserContent:      opts.UserContent,
		Session:          sess,
		SessionStore:     opts.SessionStore,
		ArtifactStore:    opts.ArtifactStore,
		MemoryStore:      opts.MemoryStore,
		RunConfig:        cfg,
		LiveRequestQueue: opts.LiveRequestQueue,
		shared: &invocationState{
			budget:         NewLLMCallBudget(cfg),
			streamingTools: map[string]*ActiveStreamingTool{},
			authResponses:  map[string]map[string]any{},
		},
	}

	ic.base = newLoggerAdapter(opts.Logger).with("invocation_id", opts.InvocationID)
	ic.loggerAdapter = ic.base

	if agent != nil {
		ic.loggerAdapter = ic.base.with("agent", agent.Name())
	}

	if cfg.Unbounded() {
		ic.LogWarn("invocation.max_llm_calls.unbounded", "max_llm_calls", cfg.MaxLLMCalls)
	}

	return ic
}

// Done mirrors context.Context's Done.
func (ic *InvocationContext) Done() <-chan struct{} { return ic.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (ic *InvocationContext) Err() error { return ic.Context.Err() }

// AppName returns the app the session belongs to.
func (ic *InvocationContext) AppName() string {
	if ic.Session == nil {
		return ""
	}

	return ic.Session.AppName
}

// UserID returns the session's user.
func (ic *InvocationContext) UserID() string {
	if ic.Session == nil {
		return ""
	}

	return ic.Session.UserID
}

// SessionID returns the session identifier.
func (ic *InvocationContext) SessionID() string {
	if ic.Session == nil {
		return ""
	}

	return ic.Session.ID
}

// AgentName returns the name of the agent currently running.
func (ic *InvocationContext) AgentName() string {
	if ic.Agent == nil {
		return ""
	}

	return ic.Agent.Name()
}

// EndInvocation reports whether any participant asked to stop the invocation.
func (ic *InvocationContext) EndInvocation() bool { return ic.shared.endInvocation.Load() }

// SetEndInvocation stops the invocation at the next check point of every
// running flow and agent.
func (ic *InvocationContext) SetEndInvocation() { ic.shared.endInvocation.Store(true) }

// IncrementLLMCallCount counts a model call against the RunConfig ceiling.
func (ic *InvocationContext) IncrementLLMCallCount() error {
	return ic.shared.budget.Increment(ic.Context)
}

// LLMCallCount returns the number of model calls made so far.
func (ic *InvocationContext) LLMCallCount() int { return ic.shared.budget.Count() }

// Clone returns a shallow copy sharing invocation wide state.
func (ic *InvocationContext) Clone() *InvocationContext {
	c := *ic
	return &c
}

// WithAgent returns a copy bound to agent a.
func (ic *InvocationContext) WithAgent(a Agent) *InvocationContext {
	c := ic.Clone()
	c.Agent = a

	if a != nil {
		c.loggerAdapter = ic.base.with("agent", a.Name())
	}

	return c
}

// WithBranch returns a copy on branch b.
func (ic *InvocationContext) WithBranch(b string) *InvocationContext {
	c := ic.Clone()
	c.Branch = b

	return c
}

// WithContext returns a copy using ctx for cancellation.
func (ic *InvocationContext) WithContext(ctx context.Context) *InvocationContext {
	c := ic.Clone()
	c.Context = ctx

	return c
}

// ActiveStreamingTool returns the running streaming tool registered under name.
func (ic *InvocationContext) ActiveStreamingTool(name string) (*ActiveStreamingTool, bool) {
	ic.shared.mu.Lock()
	defer ic.shared.mu.Unlock()

	t, ok := ic.shared.streamingTools[name]

	return t, ok
}

// SetActiveStreamingTool registers (or replaces) a streaming tool.
func (ic *InvocationContext) SetActiveStreamingTool(name string, t *ActiveStreamingTool) {
	ic.shared.mu.Lock()
	defer ic.shared.mu.Unlock()

	ic.shared.streamingTools[name] = t
}

// RemoveActiveStreamingTool unregisters a streaming tool.
func (ic *InvocationContext) RemoveActiveStreamingTool(name string) {
	ic.shared.mu.Lock()
	defer ic.shared.mu.Unlock()

	delete(ic.shared.streamingTools, name)
}

// ActiveStreamingTools returns a snapshot of the registered streaming tools.
func (ic *InvocationContext) ActiveStreamingTools() map[string]*ActiveStreamingTool {
	ic.shared.mu.Lock()
	defer ic.shared.mu.Unlock()

	return maps.Clone(ic.shared.streamingTools)
}

// AppendTranscription caches live input for later transcription.
func (ic *InvocationContext) AppendTranscription(e TranscriptionEntry) {
	ic.shared.mu.Lock()
	defer ic.shared.mu.Unlock()

	ic.shared.transcriptionCache = append(ic.shared.transcriptionCache, e)
}

// TakeTranscriptionCache returns and clears the cache.
func (ic *InvocationContext) TakeTranscriptionCache() []TranscriptionEntry {
	ic.shared.mu.Lock()
	defer ic.shared.mu.Unlock()

	out := ic.shared.transcriptionCache
	ic.shared.transcriptionCache = nil

	return out
}

// HasTranscriptionCache reports whether cached input is waiting.
func (ic *InvocationContext) HasTranscriptionCache() bool {
	ic.shared.mu.Lock()
	defer ic.shared.mu.Unlock()

	return len(ic.shared.transcriptionCache) > 0
}

// SetAuthResponse stores the end-user supplied auth config for the given
// original function call.
func (ic *InvocationContext) SetAuthResponse(functionCallID string, resp map[string]any) {
	ic.shared.mu.Lock()
	defer ic.shared.mu.Unlock()

	ic.shared.authResponses[functionCallID] = resp
}

// AuthResponse returns the auth config stored for a function call.
func (ic *InvocationContext) AuthResponse(functionCallID string) (map[string]any, bool) {
	ic.shared.mu.Lock()
	defer ic.shared.mu.Unlock()

	v, ok := ic.shared.authResponses[functionCallID]

	return v, ok
}
