package core

import "testing"

func TestSession_AppendFoldsDelta(t *testing.T) {
	s := NewSession("app", "u1", "s1")

	ev := NewEvent("inv", "agent")
	ev.Actions.StateDelta = map[string]any{"a": 1, "temp:scratch": "x", "user:lang": "de"}
	s.Append(ev)

	if v, ok := s.GetState("a"); !ok || v.(int) != 1 {
		t.Fatalf("State not applied: %+v", s.State())
	}

	if _, ok := s.GetState("temp:scratch"); ok {
		t.Error("temp keys must not be folded into state")
	}

	if v, _ := s.GetState("user:lang"); v != "de" {
		t.Error("user keys are visible in the merged view")
	}

	if len(s.Events()) != 1 || s.LastEvent() != ev {
		t.Fatal("event not appended")
	}
}

func TestSession_CloneIsIndependent(t *testing.T) {
	s := NewSession("app", "u1", "s1")
	s.Append(NewEvent("inv", "agent"))

	clone := s.Clone()
	ev := NewEvent("inv", "agent")
	ev.Actions.StateDelta = map[string]any{"c": 2}
	clone.Append(ev)

	if _, exists := s.GetState("c"); exists {
		t.Error("Original should not have clone's new key")
	}

	if len(s.Events()) != 1 {
		t.Error("Original should not see clone's events")
	}
}

func TestSession_EventsSnapshot(t *testing.T) {
	s := NewSession("app", "u1", "s1")
	s.Append(NewEvent("inv", "a"))

	evs := s.Events()
	evs[0] = nil

	if s.Events()[0] == nil {
		t.Error("events slice should be copied on read")
	}
}

func TestSplitStateDelta(t *testing.T) {
	app, user, sess := SplitStateDelta(map[string]any{
		"app:theme":  "dark",
		"user:name":  "ada",
		"temp:cache": 1,
		"step":       3,
	})

	if app["theme"] != "dark" || user["name"] != "ada" || sess["step"] != 3 {
		t.Fatalf("unexpected split: %v %v %v", app, user, sess)
	}

	if len(app)+len(user)+len(sess) != 3 {
		t.Error("temp keys must be dropped")
	}
}

func TestState_DeltaShadowsSession(t *testing.T) {
	s := NewSession("app", "u1", "s1")
	ev := NewEvent("inv", "a")
	ev.Actions.StateDelta = map[string]any{"k": "old"}
	s.Append(ev)

	st := NewState(s, nil)
	if v, _ := st.Get("k"); v != "old" {
		t.Fatal("expected session value")
	}

	st.Set("k", "new")
	if v, _ := st.Get("k"); v != "new" {
		t.Fatal("expected pending value")
	}

	if v, _ := s.GetState("k"); v != "old" {
		t.Error("State.Set must not touch the session")
	}

	if !st.HasDelta() || st.ToMap()["k"] != "new" {
		t.Error("merged view should include the delta")
	}
}
