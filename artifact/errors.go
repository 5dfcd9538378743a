package artifact

import "errors"

var (
	// ErrNotFound is returned when an artifact, or the requested version of
	// it, does not exist in the underlying store.
	ErrNotFound = errors.New("artifact not found")
)
