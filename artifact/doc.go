// Package artifact contains concrete implementations of core.ArtifactStore.
//
// The canonical interface lives in the core package to avoid dependency
// cycles and keep domain contracts central. Implementation packages like
// this one provide storage backends that can be swapped without touching
// calling code.
//
// Artifacts are versioned: every Save appends a new version numbered from
// zero. Filenames starting with "user:" are shared by all sessions of a user.
package artifact
