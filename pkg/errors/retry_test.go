package errors

import (
	"context"
	stderrors "errors"
	"testing"
	"time"
)

func TestRetryWithBackoff(t *testing.T) {
	old := RetryDelay
	RetryDelay = time.Millisecond
	t.Cleanup(func() { RetryDelay = old })

	ctx := context.Background()
	errStore := stderrors.New("connection reset")

	// Success on first try
	calls := 0
	err := RetryWithBackoff(ctx, 3, func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("got err=%v calls=%d, want nil and 1", err, calls)
	}

	// Non-retryable error stops immediately
	calls = 0
	denied := QuotaDenied("no_credits")
	err = RetryWithBackoff(ctx, 3, func() error {
		calls++
		return denied
	})
	if err != denied || calls != 1 {
		t.Errorf("got err=%v calls=%d, want denial after one call", err, calls)
	}

	// Retryable error triggers retries
	calls = 0
	err = RetryWithBackoff(ctx, 3, func() error {
		calls++
		if calls < 2 {
			return Transaction(errStore, "consume")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("got err=%v calls=%d, want success on second call", err, calls)
	}

	// Attempts are bounded
	calls = 0
	err = RetryWithBackoff(ctx, 3, func() error {
		calls++
		return Transaction(errStore, "consume")
	})
	if !Is(err, ErrCodeTransaction) || calls != 3 {
		t.Errorf("got err=%v calls=%d, want transaction error after 3 calls", err, calls)
	}
}

func TestRetryWithBackoffContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, 3, func() error {
		return Transaction(stderrors.New("timeout"), "consume")
	})
	if err != context.Canceled {
		t.Errorf("Should return context error: %v", err)
	}
}
