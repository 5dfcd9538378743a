// Package model defines the provider agnostic abstractions for talking to
// language models.
//
// Model unifies streaming and unary generation behind a channel based
// Generate call. LiveModel adds duplex sessions (Connection) used by
// bidirectional streaming. Provider adapters live in the openai and
// anthropic subpackages; MockModel is a scripted implementation for tests
// and examples.
package model
