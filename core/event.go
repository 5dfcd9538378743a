package core

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentflow/internal/util"
)

// EventActions encodes side‑effects or orchestration signals attached to an Event.
// All fields are optional pointers / maps so absence can be distinguished from zero values.
// Only SessionStore.AppendEvent folds StateDelta into session state.
type EventActions struct {
	SkipSummarization    *bool          `json:"skip_summarization,omitempty"`
	StateDelta           map[string]any `json:"state_delta,omitempty"`
	ArtifactDelta        map[string]int `json:"artifact_delta,omitempty"` // filename -> version
	TransferToAgent      *string        `json:"transfer_to_agent,omitempty"`
	Escalate             *bool          `json:"escalate,omitempty"`
	RequestedAuthConfigs map[string]any `json:"requested_auth_configs,omitempty"` // function call id -> auth config
}

// Clone returns a copy that shares no maps with a.
func (a EventActions) Clone() EventActions {
	out := a
	out.StateDelta = util.DeepCopyMap(a.StateDelta)
	out.ArtifactDelta = maps.Clone(a.ArtifactDelta)
	out.RequestedAuthConfigs = util.DeepCopyMap(a.RequestedAuthConfigs)

	return out
}

// IsEmpty reports whether no action is set.
func (a EventActions) IsEmpty() bool {
	return a.SkipSummarization == nil && len(a.StateDelta) == 0 && len(a.ArtifactDelta) == 0 &&
		a.TransferToAgent == nil && a.Escalate == nil && len(a.RequestedAuthConfigs) == 0
}

// Event is the primary unit of communication between agents, the runner and
// external clients. After emission it must be treated as immutable: partial
// events are superseded by a consolidated event, never rewritten.
//
// Content may be nil for control or error-only events.
type Event struct {
	ID                 string         `json:"id"`
	InvocationID       string         `json:"invocation_id"`
	Author             string         `json:"author"`
	Branch             string         `json:"branch,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	Content            *Content       `json:"content,omitempty"`
	Actions            EventActions   `json:"actions"`
	Partial            bool           `json:"partial,omitempty"`
	TurnComplete       bool           `json:"turn_complete,omitempty"`
	Interrupted        bool           `json:"interrupted,omitempty"`
	LongRunningToolIDs []string       `json:"long_running_tool_ids,omitempty"`
	ErrorCode          string         `json:"error_code,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	CustomMetadata     map[string]any `json:"custom_metadata,omitempty"`
}

// NewEvent creates a bare event authored by 'author' bound to an invocation.
func NewEvent(invocationID, author string) *Event {
	return &Event{
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
}

// NewUserContentEvent creates a user-authored event with arbitrary Content.
func NewUserContentEvent(invocationID string, content *Content) *Event {
	e := NewEvent(invocationID, RoleUser)
	e.Content = content

	return e
}

// NewID generates a new unique identifier for events.
func NewID() string { return uuid.NewString() }

// NewInvocationID generates an invocation identifier ("e-" + uuid).
func NewInvocationID() string { return "e-" + uuid.NewString() }

// Ptr returns a pointer to v. Handy for the optional EventActions fields.
func Ptr[T any](v T) *T { return &v }

// IsPartial reports whether this event is a streaming fragment.
func (e *Event) IsPartial() bool { return e.Partial }

// HasText reports whether the event carries non-thought text.
func (e *Event) HasText() bool { return e.Content != nil && e.Content.Text() != "" }

// GetFunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e *Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}

	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}

	return calls
}

// GetFunctionResponses returns any FunctionResponse parts contained within the
// event content preserving their original order.
func (e *Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}

	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}

	return responses
}

// IsFinalResponse reports whether the event ends an agent's turn: either the
// model asked to skip summarization or is waiting on long-running tools, or
// the event carries no calls, no responses and is not partial.
func (e *Event) IsFinalResponse() bool {
	if (e.Actions.SkipSummarization != nil && *e.Actions.SkipSummarization) || len(e.LongRunningToolIDs) > 0 {
		return true
	}

	return len(e.GetFunctionCalls()) == 0 &&
		len(e.GetFunctionResponses()) == 0 &&
		!e.Partial
}

// IsEscalation reports whether the event requests escalation.
func (e *Event) IsEscalation() bool {
	return e.Actions.Escalate != nil && *e.Actions.Escalate
}

// HasError reports whether the model reported an error.
func (e *Event) HasError() bool { return e.ErrorCode != "" || e.ErrorMessage != "" }

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}

	out := *e
	out.Content = e.Content.Clone()
	out.Actions = e.Actions.Clone()
	out.LongRunningToolIDs = append([]string(nil), e.LongRunningToolIDs...)
	out.CustomMetadata = util.DeepCopyMap(e.CustomMetadata)

	return &out
}

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
func (e *Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }
