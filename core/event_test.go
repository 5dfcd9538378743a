package core

import (
	"strings"
	"testing"
)

func callEvent(id, name string) *Event {
	e := NewEvent("inv", "agent")
	e.Content = &Content{Role: RoleModel, Parts: []Part{FunctionCallPart{FunctionCall: FunctionCall{ID: id, Name: name, Args: map[string]any{"n": 1.0}}}}}

	return e
}

func TestEvent_Constructors(t *testing.T) {
	e := NewEvent("inv-123", "authorA")
	if e.Author != "authorA" || e.InvocationID != "inv-123" || e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("NewEvent did not initialize fields correctly: %+v", e)
	}

	user := NewUserContentEvent("inv", NewTextContent(RoleUser, "hi"))
	if user.Author != RoleUser || user.Content.Text() != "hi" {
		t.Fatalf("NewUserContentEvent malformed: %+v", user)
	}

	if !strings.HasPrefix(NewInvocationID(), "e-") {
		t.Error("invocation ids start with e-")
	}

	if NewID() == NewID() {
		t.Error("Expected unique IDs")
	}
}

func TestEvent_IsFinalResponse(t *testing.T) {
	if !NewEvent("inv", "a").IsFinalResponse() {
		t.Error("Expected basic event to be final")
	}

	partial := NewEvent("inv", "a")
	partial.Partial = true
	if partial.IsFinalResponse() {
		t.Error("Partial event should not be final")
	}

	if callEvent("c1", "f").IsFinalResponse() {
		t.Error("Event with function call should not be final")
	}

	resp := NewEvent("inv", "a")
	resp.Content = &Content{Role: RoleUser, Parts: []Part{FunctionResponsePart{FunctionResponse: FunctionResponse{ID: "c1", Name: "f"}}}}
	if resp.IsFinalResponse() {
		t.Error("Event with function response should not be final")
	}

	skip := callEvent("c1", "f")
	skip.Actions.SkipSummarization = Ptr(true)
	if !skip.IsFinalResponse() {
		t.Error("SkipSummarization should force final")
	}

	lr := callEvent("c1", "f")
	lr.LongRunningToolIDs = []string{"c1"}
	if !lr.IsFinalResponse() {
		t.Error("Long running tool should mark final")
	}
}

func TestEvent_CloneIsDeep(t *testing.T) {
	e := callEvent("c1", "f")
	e.Actions.StateDelta = map[string]any{"k": map[string]any{"x": 1}}
	e.LongRunningToolIDs = []string{"c1"}

	c := e.Clone()
	c.Content.Parts[0].(FunctionCallPart).FunctionCall.Args["n"] = 2.0
	c.Actions.StateDelta["k"].(map[string]any)["x"] = 2
	c.LongRunningToolIDs[0] = "other"

	if e.GetFunctionCalls()[0].Args["n"] != 1.0 {
		t.Error("clone shares call args")
	}

	if e.Actions.StateDelta["k"].(map[string]any)["x"] != 1 {
		t.Error("clone shares state delta")
	}

	if e.LongRunningToolIDs[0] != "c1" {
		t.Error("clone shares long running ids")
	}
}

func TestEventActions_IsEmpty(t *testing.T) {
	if !(EventActions{}).IsEmpty() {
		t.Error("zero actions should be empty")
	}

	if (EventActions{Escalate: Ptr(false)}).IsEmpty() {
		t.Error("explicit escalate=false is still an action")
	}
}

func TestContent_TextSkipsThoughts(t *testing.T) {
	c := &Content{Role: RoleModel, Parts: []Part{
		TextPart{Text: "thinking", Thought: true},
		TextPart{Text: "hello "},
		FunctionCallPart{FunctionCall: FunctionCall{Name: "f"}},
		TextPart{Text: "world"},
	}}

	if got := c.Text(); got != "hello world" {
		t.Fatalf("Text() = %q", got)
	}
}

func TestEvent_HasText(t *testing.T) {
	thought := &Event{Content: &Content{Role: RoleModel, Parts: []Part{TextPart{Text: "hmm", Thought: true}}}}
	if thought.HasText() {
		t.Fatal("thought-only event reports text")
	}

	if (&Event{}).HasText() {
		t.Fatal("content-less event reports text")
	}

	if !(&Event{Content: NewTextContent(RoleModel, "hi")}).HasText() {
		t.Fatal("text event reports no text")
	}
}
