// Package session houses concrete implementations of core.SessionStore.
// The interface itself (and the Session struct) live in the core package so
// higher level packages (agents, flows, runner) never depend on a concrete
// storage.
//
// Additional backends belong in sub-packages; only the wiring layer decides
// which implementation to instantiate.
package session
