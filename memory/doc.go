// Package memory contains concrete MemoryStore implementations. The store
// interface and SearchResult type reside in the core package; depend on
// core.MemoryStore in your code and select an implementation (like the
// in-memory store below) at wiring time.
//
// Other backends (vector databases, embedding indexes, etc.) can be added
// without introducing dependency cycles.
package memory
