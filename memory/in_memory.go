package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/hupe1980/agentflow/core"
)

// storedMemory is one remembered event with its indexed words.
type storedMemory struct {
	result core.SearchResult
	words  map[string]struct{}
}

// InMemoryStore is a naive process-local MemoryStore. Sessions are indexed
// per app and user; every event with text becomes one memory.
//
// Concurrency: protected by RWMutex.
// Search: keyword matching. A memory scores the fraction of distinct query
// words it contains, case-insensitively; memories without any match are
// skipped. Suitable only for tests / demos; swap for a semantic index for
// production retrieval.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]storedMemory // "app/user" -> session id -> memories
}

// NewInMemoryStore creates a new in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: map[string]map[string][]storedMemory{}}
}

func scopeKey(appName, userID string) string { return appName + "/" + userID }

// AddSession implements core.MemoryStore. Adding a session again replaces
// its earlier memories.
func (m *InMemoryStore) AddSession(_ context.Context, sess *core.Session) error {
	var memories []storedMemory

	for _, ev := range sess.Events() {
		if ev.Content == nil {
			continue
		}

		text := ev.Content.Text()

		words := tokenize(text)
		if len(words) == 0 {
			continue
		}

		memories = append(memories, storedMemory{
			result: core.SearchResult{
				SessionID: sess.ID,
				Author:    ev.Author,
				Content:   ev.Content.Clone(),
				Timestamp: ev.Timestamp,
			},
			words: words,
		})
	}

	key := scopeKey(sess.AppName, sess.UserID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[key] == nil {
		m.sessions[key] = map[string][]storedMemory{}
	}

	m.sessions[key][sess.ID] = memories

	return nil
}

// Search implements core.MemoryStore. Results are ordered by score, most
// recent first on ties. A limit <= 0 returns every match.
func (m *InMemoryStore) Search(_ context.Context, appName, userID, query string, limit int) ([]core.SearchResult, error) {
	queryWords := tokenize(query)
	if len(queryWords) == 0 {
		return []core.SearchResult{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := []core.SearchResult{}

	for _, memories := range m.sessions[scopeKey(appName, userID)] {
		for _, mem := range memories {
			hits := 0

			for w := range queryWords {
				if _, ok := mem.words[w]; ok {
					hits++
				}
			}

			if hits == 0 {
				continue
			}

			r := mem.result
			r.Content = r.Content.Clone()
			r.Score = float64(hits) / float64(len(queryWords))
			results = append(results, r)
		}
	}

	slices.SortFunc(results, func(a, b core.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}

		return b.Timestamp.Compare(a.Timestamp)
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// tokenize returns the distinct lower-cased words of text.
func tokenize(text string) map[string]struct{} {
	words := map[string]struct{}{}

	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = struct{}{}
	}

	return words
}

var _ core.MemoryStore = (*InMemoryStore)(nil)
