package core

import "errors"

var (
	// ErrToolNotFound is returned when a model calls a function that no tool
	// of the current agent declares.
	ErrToolNotFound = errors.New("tool not found")

	// ErrOrphanFunctionResponse is returned when history contains a function
	// response without a matching earlier function call.
	ErrOrphanFunctionResponse = errors.New("function response without matching call")

	// ErrLLMCallsLimitExceeded is returned once an invocation exceeds
	// RunConfig.MaxLLMCalls.
	ErrLLMCallsLimitExceeded = errors.New("max number of llm calls exceeded")

	// ErrAgentNotFound is returned when a transfer targets an unknown agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrPartialLastEvent is returned when a flow step ends on a partial event.
	ErrPartialLastEvent = errors.New("last event shouldn't be partial")

	// ErrLiveNotSupported is returned by agents without a live mode.
	ErrLiveNotSupported = errors.New("live mode not supported")

	// ErrAgentHasParent is returned when an agent is attached to a second parent.
	ErrAgentHasParent = errors.New("agent already has a parent")

	// ErrSessionNotFound is returned by session stores for unknown sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRunConfig is returned by RunConfig validation.
	ErrInvalidRunConfig = errors.New("invalid run config")
)
