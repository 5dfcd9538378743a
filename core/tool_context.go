package core

import (
	"context"
	"errors"
	"strings"
)

var (
	errNoArtifactStore = errors.New("artifact service not configured")
	errNoMemoryStore   = errors.New("memory service not configured")
)

// CallbackContext is handed to agent and model callbacks. It exposes a
// delta-aware state view and accumulates EventActions that travel on the
// next event emitted by the caller; the session itself is never mutated here.
type CallbackContext struct {
	ictx    *InvocationContext
	actions *EventActions
	state   *State

	*loggerAdapter
}

// NewCallbackContext binds a callback context to ictx. A nil actions starts
// an empty accumulator.
func NewCallbackContext(ictx *InvocationContext, actions *EventActions) *CallbackContext {
	if actions == nil {
		actions = &EventActions{}
	}

	if actions.StateDelta == nil {
		actions.StateDelta = map[string]any{}
	}

	return &CallbackContext{
		ictx:          ictx,
		actions:       actions,
		state:         NewState(ictx.Session, actions.StateDelta),
		loggerAdapter: ictx.loggerAdapter,
	}
}

// Context returns the cancellation context of the invocation.
func (cc *CallbackContext) Context() context.Context { return cc.ictx.Context }

// InvocationID returns the invocation identifier.
func (cc *CallbackContext) InvocationID() string { return cc.ictx.InvocationID }

// AgentName returns the name of the running agent.
func (cc *CallbackContext) AgentName() string { return cc.ictx.AgentName() }

// Branch returns the branch of the running agent.
func (cc *CallbackContext) Branch() string { return cc.ictx.Branch }

// UserContent returns the content that started the invocation.
func (cc *CallbackContext) UserContent() *Content { return cc.ictx.UserContent }

// SessionID returns the session identifier.
func (cc *CallbackContext) SessionID() string { return cc.ictx.SessionID() }

// State returns the delta-aware state view.
func (cc *CallbackContext) State() *State { return cc.state }

// Actions returns the accumulated event actions.
func (cc *CallbackContext) Actions() *EventActions { return cc.actions }

// EndInvocation stops the whole invocation after the current step.
func (cc *CallbackContext) EndInvocation() { cc.ictx.SetEndInvocation() }

// InvocationContext exposes the underlying invocation context.
func (cc *CallbackContext) InvocationContext() *InvocationContext { return cc.ictx }

// SaveArtifact stores a new artifact version and records it in the
// artifact delta.
func (cc *CallbackContext) SaveArtifact(filename string, part Part) (int, error) {
	if cc.ictx.ArtifactStore == nil {
		return 0, errNoArtifactStore
	}

	version, err := cc.ictx.ArtifactStore.Save(cc.Context(), cc.ictx.AppName(), cc.ictx.UserID(), cc.ictx.SessionID(), filename, part)
	if err != nil {
		return 0, err
	}

	if cc.actions.ArtifactDelta == nil {
		cc.actions.ArtifactDelta = map[string]int{}
	}

	cc.actions.ArtifactDelta[filename] = version

	return version, nil
}

// LoadArtifact loads an artifact version (latest when version < 0).
func (cc *CallbackContext) LoadArtifact(filename string, version int) (Part, error) {
	if cc.ictx.ArtifactStore == nil {
		return nil, errNoArtifactStore
	}

	return cc.ictx.ArtifactStore.Load(cc.Context(), cc.ictx.AppName(), cc.ictx.UserID(), cc.ictx.SessionID(), filename, version)
}

// ListArtifacts returns the artifact filenames visible to the session.
func (cc *CallbackContext) ListArtifacts() ([]string, error) {
	if cc.ictx.ArtifactStore == nil {
		return nil, errNoArtifactStore
	}

	return cc.ictx.ArtifactStore.ListKeys(cc.Context(), cc.ictx.AppName(), cc.ictx.UserID(), cc.ictx.SessionID())
}

// ToolContext is the CallbackContext of a single function call. Flow
// control requests (transfer, escalate, credentials) are recorded as
// actions on the function response event.
type ToolContext struct {
	*CallbackContext

	functionCallID string
}

// NewToolContext constructs a tool context bound to ictx and the given
// function call id.
func NewToolContext(ictx *InvocationContext, functionCallID string, actions *EventActions) *ToolContext {
	return &ToolContext{
		CallbackContext: NewCallbackContext(ictx, actions),
		functionCallID:  functionCallID,
	}
}

// FunctionCallID returns the id of the call being served.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// TransferToAgent signals orchestration to hand off control to another agent.
func (tc *ToolContext) TransferToAgent(name string) {
	tc.actions.TransferToAgent = &name
	tc.LogInfo("tool.transfer.request", "from_agent", tc.AgentName(), "to_agent", name, "function_call_id", tc.functionCallID)
}

// Escalate asks the enclosing loop to stop.
func (tc *ToolContext) Escalate() {
	tc.actions.Escalate = Ptr(true)
	tc.LogInfo("tool.escalate.request", "agent", tc.AgentName(), "function_call_id", tc.functionCallID)
}

// SkipSummarization makes the function response the final event of the turn.
func (tc *ToolContext) SkipSummarization() {
	tc.actions.SkipSummarization = Ptr(true)
}

// RequestCredential pauses the call until the end user supplies auth for
// authConfig. The flow emits a credential request event on its behalf.
func (tc *ToolContext) RequestCredential(authConfig map[string]any) {
	if tc.actions.RequestedAuthConfigs == nil {
		tc.actions.RequestedAuthConfigs = map[string]any{}
	}

	tc.actions.RequestedAuthConfigs[tc.functionCallID] = authConfig
	tc.LogInfo("tool.auth.request", "agent", tc.AgentName(), "function_call_id", tc.functionCallID)
}

// AuthResponse returns the auth config the end user supplied for this call.
func (tc *ToolContext) AuthResponse() (map[string]any, bool) {
	return tc.ictx.AuthResponse(tc.functionCallID)
}

// SearchMemory recalls remembered content of the current user.
func (tc *ToolContext) SearchMemory(query string, limit int) ([]SearchResult, error) {
	if tc.ictx.MemoryStore == nil {
		return nil, errNoMemoryStore
	}

	return tc.ictx.MemoryStore.Search(tc.Context(), tc.ictx.AppName(), tc.ictx.UserID(), query, limit)
}

// IsUserScoped reports whether a state key or artifact filename lives in the
// user namespace.
func IsUserScoped(key string) bool { return strings.HasPrefix(key, UserPrefix) }
