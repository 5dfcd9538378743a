package core

import (
	"context"
	"maps"
	"strings"
	"sync"
	"time"
)

// State key prefixes select the scope a value lives in. Unprefixed keys are
// session scoped.
const (
	AppPrefix  = "app:"  // shared by every session of the app
	UserPrefix = "user:" // shared by every session of one user
	TempPrefix = "temp:" // visible to the current invocation only, never persisted
)

// Session represents a conversational container tracking layered key/value
// state plus an ordered, append-only event history. It is safe for
// concurrent access; readers receive copies.
type Session struct {
	ID             string
	AppName        string
	UserID         string
	LastUpdateTime time.Time

	mu     sync.RWMutex
	state  map[string]any
	events []*Event
}

// NewSession creates an empty session.
func NewSession(appName, userID, id string) *Session {
	return &Session{
		ID:             id,
		AppName:        appName,
		UserID:         userID,
		LastUpdateTime: time.Now().UTC(),
		state:          map[string]any{},
	}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.state[key]

	return v, ok
}

// State returns a snapshot of the merged state.
func (s *Session) State() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return maps.Clone(s.state)
}

// Events returns a snapshot of the event log. Events themselves are shared
// and must not be mutated.
func (s *Session) Events() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Event, len(s.events))
	copy(out, s.events)

	return out
}

// LastEvent returns the most recent event or nil.
func (s *Session) LastEvent() *Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) == 0 {
		return nil
	}

	return s.events[len(s.events)-1]
}

// ReplaceState overwrites the merged state view. Stores use it to refresh
// app and user scoped keys.
func (s *Session) ReplaceState(state map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = maps.Clone(state)
	if s.state == nil {
		s.state = map[string]any{}
	}
}

// Append folds the event's state delta (minus temp: keys) into state and
// appends the event. Only SessionStore implementations should call it.
func (s *Session) Append(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range ev.Actions.StateDelta {
		if strings.HasPrefix(k, TempPrefix) {
			continue
		}
		s.state[k] = v
	}

	s.events = append(s.events, ev)
	s.LastUpdateTime = ev.Timestamp
}

// Clone returns a copy safe for independent mutation. Events are shared.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := &Session{
		ID:             s.ID,
		AppName:        s.AppName,
		UserID:         s.UserID,
		LastUpdateTime: s.LastUpdateTime,
		state:          maps.Clone(s.state),
		events:         make([]*Event, len(s.events)),
	}
	copy(out.events, s.events)

	if out.state == nil {
		out.state = map[string]any{}
	}

	return out
}

// SplitStateDelta partitions a delta into app, user and session scoped maps.
// Prefixes are stripped from app and user keys; temp: keys are dropped.
func SplitStateDelta(delta map[string]any) (app, user, session map[string]any) {
	app, user, session = map[string]any{}, map[string]any{}, map[string]any{}

	for k, v := range delta {
		switch {
		case strings.HasPrefix(k, AppPrefix):
			app[strings.TrimPrefix(k, AppPrefix)] = v
		case strings.HasPrefix(k, UserPrefix):
			user[strings.TrimPrefix(k, UserPrefix)] = v
		case strings.HasPrefix(k, TempPrefix):
		default:
			session[k] = v
		}
	}

	return app, user, session
}

// SessionStore persists sessions and their evolving state / event history.
//
// AppendEvent is the single writer for state: it must atomically fold the
// event's state delta and append the event, updating both the stored
// session and the passed in sess. Partial events are not persisted.
type SessionStore interface {
	Create(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error)
	Get(ctx context.Context, appName, userID, sessionID string) (*Session, error)
	List(ctx context.Context, appName, userID string) ([]*Session, error)
	Delete(ctx context.Context, appName, userID, sessionID string) error
	AppendEvent(ctx context.Context, sess *Session, ev *Event) error
}
