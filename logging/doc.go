// Package logging provides a minimal logging interface and adapters for agentflow.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that flows, agents and the runner use for observability. Messages are short
// dotted keys ("flow.step.start", "tool.call.success") followed by key/value
// attributes. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NewLogger / ParseLoggerConfig for YAML driven construction
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	r := runner.New(root, func(o *runner.Options) { o.Logger = logger })
package logging
