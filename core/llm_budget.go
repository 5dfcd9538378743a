package core

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// LLMCallBudget enforces the maximum number of model calls of one
// invocation and optionally paces them with a token bucket. It is shared by
// every context derived from the same invocation.
type LLMCallBudget struct {
	max     int
	count   int
	limiter *rate.Limiter
	mu      sync.Mutex
}

// NewLLMCallBudget creates a budget from cfg. A non positive MaxLLMCalls
// allows unlimited calls.
func NewLLMCallBudget(cfg RunConfig) *LLMCallBudget {
	b := &LLMCallBudget{max: cfg.MaxLLMCalls}

	if cfg.LLMCallsPerSecond > 0 {
		burst := cfg.LLMCallsBurst
		if burst < 1 {
			burst = 1
		}

		b.limiter = rate.NewLimiter(rate.Limit(cfg.LLMCallsPerSecond), burst)
	}

	return b
}

// Increment counts one call. It fails with ErrLLMCallsLimitExceeded once the
// ceiling is passed and otherwise waits for the pacing limiter.
func (b *LLMCallBudget) Increment(ctx context.Context) error {
	b.mu.Lock()
	b.count++
	count := b.count
	b.mu.Unlock()

	if b.max > 0 && count > b.max {
		return fmt.Errorf("%w: %d", ErrLLMCallsLimitExceeded, b.max)
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("llm call pacing: %w", err)
		}
	}

	return nil
}

// Count returns the current number of calls made.
func (b *LLMCallBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many calls are left before hitting the limit, or -1
// when unlimited.
func (b *LLMCallBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max <= 0 {
		return -1
	}

	return max(b.max-b.count, 0)
}
