package core

import (
	"context"
	"time"
)

// SearchResult is one remembered event returned by a MemoryStore.
type SearchResult struct {
	SessionID string
	Author    string
	Content   *Content
	Timestamp time.Time
	Score     float64
}

// MemoryStore ingests finished sessions and recalls their content by query.
// Retrieval strategy (keywords, embeddings) is up to the implementation.
type MemoryStore interface {
	AddSession(ctx context.Context, sess *Session) error
	Search(ctx context.Context, appName, userID, query string, limit int) ([]SearchResult, error)
}
