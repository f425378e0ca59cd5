// Package cache implements a policy-driven in-process cache with a memory
// budget, TTL expiry, pluggable eviction strategies and background
// maintenance.
package cache

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key is absent or expired
	ErrNotFound = errors.New("cache: key not found")

	// ErrInvalidKey is returned for empty keys
	ErrInvalidKey = errors.New("cache: key must not be empty")

	// ErrInvalidTTL is returned for negative TTLs
	ErrInvalidTTL = errors.New("cache: ttl must not be negative")

	// ErrEntryTooLarge is returned when a single value exceeds the memory budget
	ErrEntryTooLarge = errors.New("cache: entry exceeds memory budget")

	// ErrOutOfCapacity is returned when eviction cannot free enough room
	ErrOutOfCapacity = errors.New("cache: cannot free enough capacity")

	// ErrSerializationFailed is returned when the codec rejects a value or payload
	ErrSerializationFailed = errors.New("cache: serialization failed")

	// ErrLoaderFailed marks per-key warmup failures raised by a loader
	ErrLoaderFailed = errors.New("cache: loader failed")

	// ErrInvalidPolicy is returned by New for unusable configuration
	ErrInvalidPolicy = errors.New("cache: invalid policy")
)

// Loader fetches the value for a key that is being warmed.
type Loader interface {
	Load(ctx context.Context, key string) (any, error)
}

// LoaderFunc adapts a function to the Loader interface
type LoaderFunc func(ctx context.Context, key string) (any, error)

// Load calls f(ctx, key)
func (f LoaderFunc) Load(ctx context.Context, key string) (any, error) {
	return f(ctx, key)
}

// Warmup stages reported by LoadError
const (
	StageLoad  = "load"
	StageStore = "store"
)

// LoadError reports why a single key could not be warmed.
// Failures in the loader itself match ErrLoaderFailed with errors.Is.
type LoadError struct {
	Key   string
	Stage string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cache: warmup %s %q: %v", e.Stage, e.Key, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is matches ErrLoaderFailed for loader-stage failures
func (e *LoadError) Is(target error) bool {
	return target == ErrLoaderFailed && e.Stage == StageLoad
}
