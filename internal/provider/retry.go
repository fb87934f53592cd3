package provider

import (
	"context"
	"time"
)

// retryPolicy bounds retries of a single operation. Only transient
// failures are retried; the delay before attempt n is base × 2^n.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

// do runs fn up to maxAttempts times, sleeping with exponential backoff
// between attempts. It returns nil on the first success, the last error
// after exhaustion, or the context error if cancelled while waiting.
// Non-transient errors short-circuit immediately.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	attempts := p.maxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.baseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}

	return lastErr
}
