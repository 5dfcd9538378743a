package testutil

import (
	"github.com/hupe1980/agentflow/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
//
//	ev := testutil.NewEventBuilder().Author("agent").ModelText("hello").Build()
type EventBuilder struct {
	ev *core.Event
}

// NewEventBuilder creates a builder with author "agent" and invocation "inv".
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{ev: core.NewEvent("inv", "agent")}
}

// Author sets the author.
func (b *EventBuilder) Author(a string) *EventBuilder { b.ev.Author = a; return b }

// Invocation sets the invocation ID.
func (b *EventBuilder) Invocation(id string) *EventBuilder { b.ev.InvocationID = id; return b }

// ID overrides the generated event ID.
func (b *EventBuilder) ID(id string) *EventBuilder { b.ev.ID = id; return b }

// Branch sets the branch.
func (b *EventBuilder) Branch(br string) *EventBuilder { b.ev.Branch = br; return b }

// Partial marks the event as a streaming chunk.
func (b *EventBuilder) Partial() *EventBuilder { b.ev.Partial = true; return b }

// TurnComplete marks the end of a live model turn.
func (b *EventBuilder) TurnComplete() *EventBuilder { b.ev.TurnComplete = true; return b }

func (b *EventBuilder) add(role string, p core.Part) *EventBuilder {
	if b.ev.Content == nil {
		b.ev.Content = &core.Content{Role: role}
	}

	b.ev.Content.Parts = append(b.ev.Content.Parts, p)

	return b
}

// UserText appends a user text part. The author becomes "user".
func (b *EventBuilder) UserText(t string) *EventBuilder {
	b.ev.Author = core.RoleUser
	return b.add(core.RoleUser, core.TextPart{Text: t})
}

// ModelText appends a model text part.
func (b *EventBuilder) ModelText(t string) *EventBuilder {
	return b.add(core.RoleModel, core.TextPart{Text: t})
}

// FunctionCall appends a function call part.
func (b *EventBuilder) FunctionCall(id, name string, args map[string]any) *EventBuilder {
	return b.add(core.RoleModel, core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: id, Name: name, Args: args}})
}

// FunctionResponse appends a function response part.
func (b *EventBuilder) FunctionResponse(id, name string, resp map[string]any) *EventBuilder {
	return b.add(core.RoleUser, core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: id, Name: name, Response: resp}})
}

// StateDelta records a pending state write.
func (b *EventBuilder) StateDelta(k string, v any) *EventBuilder {
	if b.ev.Actions.StateDelta == nil {
		b.ev.Actions.StateDelta = map[string]any{}
	}

	b.ev.Actions.StateDelta[k] = v

	return b
}

// Escalate sets the escalate action.
func (b *EventBuilder) Escalate() *EventBuilder { b.ev.Actions.Escalate = core.Ptr(true); return b }

// Transfer sets the transfer target.
func (b *EventBuilder) Transfer(to string) *EventBuilder {
	b.ev.Actions.TransferToAgent = &to
	return b
}

// LongRunning registers long-running tool call IDs.
func (b *EventBuilder) LongRunning(ids ...string) *EventBuilder {
	b.ev.LongRunningToolIDs = append(b.ev.LongRunningToolIDs, ids...)
	return b
}

// Build returns the event.
func (b *EventBuilder) Build() *core.Event { return b.ev }

// NewSession returns a session preloaded with events.
func NewSession(events ...*core.Event) *core.Session {
	s := core.NewSession("app", "user", "session")
	for _, ev := range events {
		s.Append(ev)
	}

	return s
}
