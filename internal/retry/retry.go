// Package retry implements bounded retry with exponential backoff for
// transient failures at the capture and publish boundaries.
package retry

import (
	"context"
	"fmt"
	"time"

	"settlecam/internal/services"
)

// Policy describes a bounded retry schedule. Delay grows exponentially per
// attempt and is capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
}

// Default returns the schedule used when a caller has no configured override.
func Default() Policy {
	return Policy{MaxAttempts: 3, Delay: time.Second, MaxDelay: 30 * time.Second}
}

// Do invokes fn until it succeeds, the attempts are exhausted, the failure is
// classified as non-retryable, or the context ends. The last error is returned
// with the attempt count.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !services.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-time.After(p.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (p Policy) backoff(attempt int) time.Duration {
	delay := p.Delay
	if delay <= 0 {
		delay = time.Second
	}
	delay *= time.Duration(1 << uint(attempt-1))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
