package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

// TestRetryIfWithResult_SucceedsAfterTransientErrors verifies retry until success
func TestRetryIfWithResult_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	got, err := RetryIfWithResult(context.Background(), fastRetry(3), IsRetryable, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errBackend
		}
		return 42, nil
	})

	if err != nil || got != 42 {
		t.Fatalf("Expected 42, got %d, %v", got, err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	t.Log("✓ Transient errors are retried")
}

// TestRetryIfWithResult_StopsOnPermanent verifies permanent errors are not retried
func TestRetryIfWithResult_StopsOnPermanent(t *testing.T) {
	errMissing := errors.New("missing")
	calls := 0
	_, err := RetryIfWithResult(context.Background(), fastRetry(5), IsRetryable, func(ctx context.Context) (string, error) {
		calls++
		return "", Permanent(errMissing)
	})

	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
	if !errors.Is(err, errMissing) || !errors.Is(err, ErrPermanent) {
		t.Errorf("Expected wrapped permanent error, got %v", err)
	}

	t.Log("✓ Permanent errors stop retries")
}

// TestRetry_ExhaustsAttempts verifies the last error is returned
func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry(4), func(ctx context.Context) error {
		calls++
		return errBackend
	})

	if calls != 4 {
		t.Errorf("Expected 4 calls, got %d", calls)
	}
	if !errors.Is(err, errBackend) {
		t.Errorf("Expected errBackend, got %v", err)
	}
}

// TestRetry_CancelledDuringBackoff verifies cancellation interrupts the wait
func TestRetry_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Hour}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Retry(ctx, cfg, func(ctx context.Context) error { return errBackend })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Backoff was not interrupted")
	}
}

// TestIsRetryable verifies error classification
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errBackend, true},
		{context.DeadlineExceeded, true},
		{context.Canceled, false},
		{ErrCircuitOpen, false},
		{Permanent(errBackend), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}

	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
}

// TestCalculateBackoff verifies exponential growth and capping
func TestCalculateBackoff(t *testing.T) {
	if d := calculateBackoff(0, 10*time.Millisecond, time.Second, 0); d != 10*time.Millisecond {
		t.Errorf("attempt 0: got %v", d)
	}
	if d := calculateBackoff(3, 10*time.Millisecond, time.Second, 0); d != 80*time.Millisecond {
		t.Errorf("attempt 3: got %v", d)
	}
	if d := calculateBackoff(20, 10*time.Millisecond, time.Second, 0); d != time.Second {
		t.Errorf("capped: got %v", d)
	}

	for i := 0; i < 100; i++ {
		d := calculateBackoff(0, 100*time.Millisecond, time.Second, 0.1)
		if d < 90*time.Millisecond || d > 110*time.Millisecond {
			t.Fatalf("jitter out of range: %v", d)
		}
	}
}
