package core

import "maps"

// State is the delta-aware view of session state handed to callbacks and
// tools. Reads see pending writes first; writes only touch the delta, which
// travels on the next emitted event and is applied by the session store.
type State struct {
	session *Session
	delta   map[string]any
}

// NewState binds a view over sess that records writes into delta.
func NewState(sess *Session, delta map[string]any) *State {
	if delta == nil {
		delta = map[string]any{}
	}

	return &State{session: sess, delta: delta}
}

// Get returns the pending value for key, falling back to the session.
func (s *State) Get(key string) (any, bool) {
	if v, ok := s.delta[key]; ok {
		return v, true
	}

	if s.session == nil {
		return nil, false
	}

	return s.session.GetState(key)
}

// Set records a pending write.
func (s *State) Set(key string, value any) { s.delta[key] = value }

// HasDelta reports whether any write is pending.
func (s *State) HasDelta() bool { return len(s.delta) > 0 }

// Delta returns the live delta map.
func (s *State) Delta() map[string]any { return s.delta }

// ToMap merges session state with pending writes.
func (s *State) ToMap() map[string]any {
	var out map[string]any
	if s.session != nil {
		out = s.session.State()
	}

	if out == nil {
		out = map[string]any{}
	}

	maps.Copy(out, s.delta)

	return out
}
