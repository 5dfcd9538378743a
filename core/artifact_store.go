package core

import "context"

// ArtifactStore persists versioned artifacts scoped by app, user and session.
// Filenames starting with UserPrefix are shared across the user's sessions.
// Implementations must be safe for concurrent use.
type ArtifactStore interface {
	// Save stores a new version and returns its number (starting at 0).
	Save(ctx context.Context, appName, userID, sessionID, filename string, part Part) (int, error)
	// Load returns the given version, or the latest one when version < 0.
	Load(ctx context.Context, appName, userID, sessionID, filename string, version int) (Part, error)
	ListKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error)
	ListVersions(ctx context.Context, appName, userID, sessionID, filename string) ([]int, error)
	Delete(ctx context.Context, appName, userID, sessionID, filename string) error
}
