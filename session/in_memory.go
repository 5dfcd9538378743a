package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/agentflow/core"
)

// ErrSessionExists is returned by Create for a taken session id.
var ErrSessionExists = errors.New("session already exists")

// storedSession is the persisted form of a session: only session scoped
// state lives here; app and user scoped state is kept by the store.
type storedSession struct {
	id         string
	appName    string
	userID     string
	state      map[string]any
	events     []*core.Event
	lastUpdate time.Time
}

// InMemoryStore is a volatile SessionStore implementation storing sessions
// in process local maps. It is safe for concurrent access and best suited
// for tests or ephemeral demo servers. Every returned session is a fresh
// copy with app: and user: scoped state merged in.
type InMemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]map[string]map[string]*storedSession // app -> user -> id
	appState  map[string]map[string]any                       // app -> key
	userState map[string]map[string]map[string]any            // app -> user -> key
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions:  map[string]map[string]map[string]*storedSession{},
		appState:  map[string]map[string]any{},
		userState: map[string]map[string]map[string]any{},
	}
}

// Create implements core.SessionStore. An empty sessionID is replaced by a
// generated one. Scoped keys of state go to the app and user scopes.
func (s *InMemoryStore) Create(_ context.Context, appName, userID, sessionID string, state map[string]any) (*core.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookupLocked(appName, userID, sessionID); ok {
		return nil, fmt.Errorf("%s: %w", sessionID, ErrSessionExists)
	}

	app, user, sess := core.SplitStateDelta(state)
	s.applyScopedLocked(appName, userID, app, user)

	stored := &storedSession{
		id:         sessionID,
		appName:    appName,
		userID:     userID,
		state:      sess,
		lastUpdate: time.Now().UTC(),
	}

	if s.sessions[appName] == nil {
		s.sessions[appName] = map[string]map[string]*storedSession{}
	}

	if s.sessions[appName][userID] == nil {
		s.sessions[appName][userID] = map[string]*storedSession{}
	}

	s.sessions[appName][userID][sessionID] = stored

	return s.materializeLocked(stored), nil
}

// Get implements core.SessionStore.
func (s *InMemoryStore) Get(_ context.Context, appName, userID, sessionID string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.lookupLocked(appName, userID, sessionID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", sessionID, core.ErrSessionNotFound)
	}

	return s.materializeLocked(stored), nil
}

// List implements core.SessionStore. Listed sessions carry state but no
// events, ordered by id.
func (s *InMemoryStore) List(_ context.Context, appName, userID string) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(s.sessions[appName][userID]))
	out := make([]*core.Session, 0, len(ids))

	for _, id := range ids {
		stored := s.sessions[appName][userID][id]

		sess := core.NewSession(appName, userID, id)
		sess.ReplaceState(s.mergedStateLocked(stored))
		sess.LastUpdateTime = stored.lastUpdate

		out = append(out, sess)
	}

	return out, nil
}

// Delete implements core.SessionStore. Deleting an unknown session is not
// an error.
func (s *InMemoryStore) Delete(_ context.Context, appName, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions[appName][userID], sessionID)

	return nil
}

// AppendEvent implements core.SessionStore. Partial events are ignored.
// The state delta is folded into the app, user and session scopes, temp:
// keys are dropped, and the event is appended to both the stored session
// and sess.
func (s *InMemoryStore) AppendEvent(_ context.Context, sess *core.Session, ev *core.Event) error {
	if ev.Partial {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.lookupLocked(sess.AppName, sess.UserID, sess.ID)
	if !ok {
		return fmt.Errorf("%s: %w", sess.ID, core.ErrSessionNotFound)
	}

	app, user, sessionDelta := core.SplitStateDelta(ev.Actions.StateDelta)
	s.applyScopedLocked(sess.AppName, sess.UserID, app, user)
	maps.Copy(stored.state, sessionDelta)

	stored.events = append(stored.events, ev)
	stored.lastUpdate = ev.Timestamp

	sess.Append(ev)

	return nil
}

func (s *InMemoryStore) lookupLocked(appName, userID, sessionID string) (*storedSession, bool) {
	stored, ok := s.sessions[appName][userID][sessionID]
	return stored, ok
}

func (s *InMemoryStore) applyScopedLocked(appName, userID string, app, user map[string]any) {
	if len(app) > 0 {
		if s.appState[appName] == nil {
			s.appState[appName] = map[string]any{}
		}

		maps.Copy(s.appState[appName], app)
	}

	if len(user) > 0 {
		if s.userState[appName] == nil {
			s.userState[appName] = map[string]map[string]any{}
		}

		if s.userState[appName][userID] == nil {
			s.userState[appName][userID] = map[string]any{}
		}

		maps.Copy(s.userState[appName][userID], user)
	}
}

// mergedStateLocked builds the state view of a session: session keys plus
// prefixed app and user keys.
func (s *InMemoryStore) mergedStateLocked(stored *storedSession) map[string]any {
	out := maps.Clone(stored.state)
	if out == nil {
		out = map[string]any{}
	}

	for k, v := range s.appState[stored.appName] {
		out[core.AppPrefix+k] = v
	}

	for k, v := range s.userState[stored.appName][stored.userID] {
		out[core.UserPrefix+k] = v
	}

	return out
}

func (s *InMemoryStore) materializeLocked(stored *storedSession) *core.Session {
	sess := core.NewSession(stored.appName, stored.userID, stored.id)

	for _, ev := range stored.events {
		sess.Append(ev)
	}

	sess.ReplaceState(s.mergedStateLocked(stored))
	sess.LastUpdateTime = stored.lastUpdate

	return sess
}

var _ core.SessionStore = (*InMemoryStore)(nil)
