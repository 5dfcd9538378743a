package artifact

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/agentflow/core"
)

// InMemoryStore is a trivial in-process ArtifactStore implementation useful
// for tests, examples and single-process prototypes. It keeps all versions
// in a map guarded by an RWMutex. Parts are copied on save and retrieval to
// avoid accidental external mutation of internal buffers.
//
// Layout: "app/user/session/filename" (or "app/user/user/filename" for user
// scoped names) -> versions
//
// It does not enforce retention limits, size quotas, or eviction.
type InMemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string][]core.Part
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{artifacts: map[string][]core.Part{}}
}

func artifactPath(appName, userID, sessionID, filename string) string {
	if core.IsUserScoped(filename) {
		return fmt.Sprintf("%s/%s/user/%s", appName, userID, filename)
	}

	return fmt.Sprintf("%s/%s/%s/%s", appName, userID, sessionID, filename)
}

// Save implements core.ArtifactStore.
func (a *InMemoryStore) Save(_ context.Context, appName, userID, sessionID, filename string, part core.Part) (int, error) {
	if filename == "" {
		return 0, fmt.Errorf("save artifact: empty filename")
	}

	path := artifactPath(appName, userID, sessionID, filename)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.artifacts[path] = append(a.artifacts[path], core.ClonePart(part))

	return len(a.artifacts[path]) - 1, nil
}

// Load implements core.ArtifactStore. A negative version loads the latest.
func (a *InMemoryStore) Load(_ context.Context, appName, userID, sessionID, filename string, version int) (core.Part, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	versions := a.artifacts[artifactPath(appName, userID, sessionID, filename)]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s: %w", filename, ErrNotFound)
	}

	if version < 0 {
		version = len(versions) - 1
	}

	if version >= len(versions) {
		return nil, fmt.Errorf("%s version %d: %w", filename, version, ErrNotFound)
	}

	return core.ClonePart(versions[version]), nil
}

// ListKeys implements core.ArtifactStore. Session and user scoped names are
// returned together, sorted.
func (a *InMemoryStore) ListKeys(_ context.Context, appName, userID, sessionID string) ([]string, error) {
	sessionPrefix := fmt.Sprintf("%s/%s/%s/", appName, userID, sessionID)
	userPrefix := fmt.Sprintf("%s/%s/user/", appName, userID)

	a.mu.RLock()
	defer a.mu.RUnlock()

	var keys []string

	for path := range maps.Keys(a.artifacts) {
		switch {
		case strings.HasPrefix(path, sessionPrefix):
			keys = append(keys, strings.TrimPrefix(path, sessionPrefix))
		case strings.HasPrefix(path, userPrefix):
			keys = append(keys, strings.TrimPrefix(path, userPrefix))
		}
	}

	slices.Sort(keys)

	return slices.Compact(keys), nil
}

// ListVersions implements core.ArtifactStore.
func (a *InMemoryStore) ListVersions(_ context.Context, appName, userID, sessionID, filename string) ([]int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.artifacts[artifactPath(appName, userID, sessionID, filename)])
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", filename, ErrNotFound)
	}

	versions := make([]int, n)
	for i := range versions {
		versions[i] = i
	}

	return versions, nil
}

// Delete implements core.ArtifactStore. It removes every version.
func (a *InMemoryStore) Delete(_ context.Context, appName, userID, sessionID, filename string) error {
	path := artifactPath(appName, userID, sessionID, filename)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.artifacts[path]; !ok {
		return fmt.Errorf("%s: %w", filename, ErrNotFound)
	}

	delete(a.artifacts, path)

	return nil
}

var _ core.ArtifactStore = (*InMemoryStore)(nil)
