package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket. A zero-rate limiter is unlimited.
type RateLimiter struct {
	mu         sync.Mutex
	rate       float64 // tokens per second
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second with
// bursts of up to burst. burst defaults to max(1, rate).
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = max(1, int(rate))
	}
	rl := &RateLimiter{
		rate:  rate,
		burst: float64(burst),
		now:   time.Now,
	}
	rl.tokens = rl.burst
	rl.lastRefill = rl.now()
	return rl
}

// NewRateLimiterFromRPM creates a rate limiter from requests per minute
func NewRateLimiterFromRPM(requestsPerMinute int, burst int) *RateLimiter {
	return NewRateLimiter(float64(requestsPerMinute)/60.0, burst)
}

// Allow takes a token if one is available
func (rl *RateLimiter) Allow() bool {
	return rl.reserve() == 0
}

// Wait blocks until a token is available or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := rl.reserve()
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// reserve takes a token and returns 0, or returns how long until one is due
func (rl *RateLimiter) reserve() time.Duration {
	if rl == nil || rl.rate <= 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = min(rl.burst, rl.tokens+now.Sub(rl.lastRefill).Seconds()*rl.rate)
	rl.lastRefill = now

	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}

	wait := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
	return max(wait, time.Millisecond)
}

// Tokens returns the tokens currently available
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = min(rl.burst, rl.tokens+now.Sub(rl.lastRefill).Seconds()*rl.rate)
	rl.lastRefill = now
	return rl.tokens
}
