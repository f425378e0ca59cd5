package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(clock *manualClock, cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.Now = clock.Now
	return NewCircuitBreaker(cfg)
}

var errBackend = errors.New("backend failure")

func fail(ctx context.Context) error    { return errBackend }
func succeed(ctx context.Context) error { return nil }

// TestStateTransitions_ClosedToOpen verifies circuit opens after failure threshold
func TestStateTransitions_ClosedToOpen(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, CircuitBreakerConfig{Name: "redis", FailureThreshold: 3})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), fail)
		if cb.State() != StateClosed {
			t.Fatalf("Expected Closed after %d failures, got %s", i+1, cb.State())
		}
	}

	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected Open after 3 failures, got %s", cb.State())
	}

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Open circuit must not call the function")
	}

	t.Log("✓ State transition Closed → Open works correctly")
}

// TestStateTransitions_HalfOpenToClosed verifies recovery after the open timeout
func TestStateTransitions_HalfOpenToClosed(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
	})

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(9 * time.Second)
	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen before timeout, got %v", err)
	}

	clock.Advance(time.Second)
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("Expected trial request to pass, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected HalfOpen after one success, got %s", cb.State())
	}

	_ = cb.Execute(context.Background(), succeed)
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed after 2 successes, got %s", cb.State())
	}

	t.Log("✓ State transition Open → HalfOpen → Closed works correctly")
}

// TestHalfOpenToOpenOnFailure verifies a failed trial reopens the circuit
func TestHalfOpenToOpenOnFailure(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Second})

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Second)

	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected Open after failed trial, got %s", cb.State())
	}

	// the open window restarts from the failed trial
	clock.Advance(500 * time.Millisecond)
	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}

	t.Log("✓ HalfOpen failure reopens circuit")
}

// TestIgnoresContextCancellation verifies caller cancellations do not trip the breaker
func TestIgnoresContextCancellation(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, CircuitBreakerConfig{FailureThreshold: 1})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return context.Canceled })
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return context.DeadlineExceeded })

	if cb.State() != StateClosed {
		t.Errorf("Expected Closed, got %s", cb.State())
	}

	t.Log("✓ Context errors are ignored")
}

// TestCustomIsFailure verifies expected errors can be excluded
func TestCustomIsFailure(t *testing.T) {
	errMiss := errors.New("miss")
	clock := &manualClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errMiss) },
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errMiss })
	}
	if cb.State() != StateClosed {
		t.Fatalf("Expected Closed after excluded errors, got %s", cb.State())
	}

	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Errorf("Expected Open after real failure, got %s", cb.State())
	}

	t.Log("✓ IsFailure filters breaker failures")
}

// TestOnStateChangeCallback verifies transitions are reported in order
func TestOnStateChangeCallback(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}

	var mu sync.Mutex
	var transitions []string
	cb := newTestBreaker(clock, CircuitBreakerConfig{
		Name:             "loader",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Second,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Second)
	_ = cb.Execute(context.Background(), succeed)

	want := []string{"loader:closed->open", "loader:open->half-open", "loader:half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("Expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}

	t.Log("✓ State change callback works correctly")
}

// TestSuccessResetsFailureCount verifies failures must be consecutive
func TestSuccessResetsFailureCount(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, CircuitBreakerConfig{FailureThreshold: 3})

	for i := 0; i < 10; i++ {
		_ = cb.Execute(context.Background(), fail)
		_ = cb.Execute(context.Background(), fail)
		_ = cb.Execute(context.Background(), succeed)
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected Closed, got %s", cb.State())
	}

	t.Log("✓ Success resets failure count")
}

// TestReset verifies manual reset closes the circuit
func TestReset(t *testing.T) {
	clock := &manualClock{now: time.Unix(0, 0)}
	cb := newTestBreaker(clock, CircuitBreakerConfig{FailureThreshold: 1})

	_ = cb.Execute(context.Background(), fail)
	cb.Reset()

	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Expected request to pass after reset, got %v", err)
	}

	t.Log("✓ Reset works correctly")
}

// TestCircuitBreakerConcurrentAccess exercises the breaker under the race detector
func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (i+j)%2 == 0 {
					_ = cb.Execute(context.Background(), fail)
				} else {
					_ = cb.Execute(context.Background(), succeed)
				}
				_ = cb.State()
			}
		}(i)
	}
	wg.Wait()

	t.Log("✓ Concurrent access is safe")
}

// TestExecuteWithResult verifies results pass through
func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	got, err := ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (string, error) {
		return "value", nil
	})
	if err != nil || got != "value" {
		t.Fatalf("Expected value, got %q, %v", got, err)
	}

	cb.transition(StateOpen)
	cb.openedAt = time.Now()
	got, err = ExecuteWithResult(cb, context.Background(), func(ctx context.Context) (string, error) {
		return "unreachable", nil
	})
	if !errors.Is(err, ErrCircuitOpen) || got != "" {
		t.Errorf("Expected zero value and ErrCircuitOpen, got %q, %v", got, err)
	}

	t.Log("✓ ExecuteWithResult works correctly")
}

// TestStateString verifies state names
func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("Expected %s, got %s", want, state.String())
		}
	}
}
