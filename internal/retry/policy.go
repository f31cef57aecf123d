package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes a bounded exponential-backoff retry schedule. A zero
// Policy retries nothing; use Default() for the standard collaborator policy.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64 // 0..1, portion of the delay randomized
}

// Default returns the policy applied to outbound collaborator calls.
func Default() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		JitterFraction: 0.5,
	}
}

// Delay computes the backoff before the given attempt (1-based). Attempt 1
// has no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay * time.Duration(1<<(attempt-2))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterFraction > 0 {
		span := int64(float64(delay) * p.JitterFraction)
		jitter := time.Duration(rand.Int63n(span + 1))
		delay = delay - time.Duration(span/2) + jitter
	}
	return delay
}

// Do runs fn until it succeeds, the attempts are exhausted, or ctx is
// cancelled. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
