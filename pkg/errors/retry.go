package errors

import (
	"context"
	"time"
)

// RetryDelay is the wait before the first retry; it doubles after each attempt.
var RetryDelay = time.Second

// RetryWithBackoff calls fn up to attempts times with exponential backoff.
// Only errors wrapped with Retryable trigger another attempt. Callers that
// retry an export must reuse the same idempotency key on every attempt.
func RetryWithBackoff(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := RetryDelay
	var lastErr error

	for i := 0; i < attempts; i++ {
		if err := fn(); err == nil {
			return nil
		} else if lastErr = err; !IsRetryable(err) {
			return err
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return lastErr
}
