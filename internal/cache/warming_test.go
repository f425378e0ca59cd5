package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWarmStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Policy: DefaultPolicy(), MaxMemory: 1 << 20})
	require.NoError(t, err)
	return s
}

var errBackend = errors.New("backend unavailable")

func TestWarmup_CollectsPerKeyFailures(t *testing.T) {
	ctx := context.Background()
	s := newWarmStore(t)

	loader := LoaderFunc(func(ctx context.Context, key string) (any, error) {
		if key == "b" {
			return nil, errBackend
		}
		return "value-" + key, nil
	})

	results := s.Warmup(ctx, []string{"a", "b"}, loader, DefaultWarmupConfig())

	require.NotNil(t, results)
	assert.NotEmpty(t, results.BatchID)
	assert.Equal(t, 1, results.Loaded)
	assert.Equal(t, 1, results.Errors)
	assert.True(t, results.HasErrors())
	assert.Equal(t, []string{"b"}, results.Failed())

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "value-a", got)

	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)

	err = results.Err()
	assert.ErrorIs(t, err, ErrLoaderFailed)
	assert.ErrorIs(t, err, errBackend)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "b", loadErr.Key)
	assert.Equal(t, StageLoad, loadErr.Stage)

	meta, _ := s.Inspect("a")
	assert.Equal(t, PriorityHigh, meta.Priority)
}

func TestWarmup_SkipsCachedAndDuplicateKeys(t *testing.T) {
	ctx := context.Background()
	s := newWarmStore(t)
	require.NoError(t, s.Set(ctx, "a", "existing", SetOptions{}))

	var calls atomic.Int32
	loader := LoaderFunc(func(ctx context.Context, key string) (any, error) {
		calls.Add(1)
		return key, nil
	})

	results := s.Warmup(ctx, []string{"a", "b", "b", "c"}, loader, WarmupConfig{})

	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, results.Results, 3)
	assert.Equal(t, 1, results.Skipped)
	assert.Equal(t, 2, results.Loaded)

	got, _ := s.Get(ctx, "a")
	assert.Equal(t, "existing", got)
}

func TestWarmup_AppliesTTLAndTags(t *testing.T) {
	ctx := context.Background()
	s := newWarmStore(t)

	loader := LoaderFunc(func(ctx context.Context, key string) (any, error) { return 1, nil })
	s.Warmup(ctx, []string{"a"}, loader, WarmupConfig{TTL: time.Minute, Tags: []string{"warm"}})

	meta, ok := s.Inspect("a")
	require.True(t, ok)
	assert.Equal(t, time.Minute, meta.TTL)
	assert.Equal(t, []string{"warm"}, meta.Tags)
	assert.Equal(t, 1, s.InvalidateByTags(ctx, "warm"))
}

func TestWarmup_LoadTimeoutFailsOnlyThatKey(t *testing.T) {
	ctx := context.Background()
	s := newWarmStore(t)

	release := make(chan struct{})
	defer close(release)

	loader := LoaderFunc(func(ctx context.Context, key string) (any, error) {
		if key == "slow" {
			// ignores ctx on purpose
			<-release
		}
		return key, nil
	})

	start := time.Now()
	results := s.Warmup(ctx, []string{"fast", "slow"}, loader, WarmupConfig{LoadTimeout: 20 * time.Millisecond})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, results.Loaded)
	assert.Equal(t, []string{"slow"}, results.Failed())
	assert.ErrorIs(t, results.Err(), context.DeadlineExceeded)

	_, err := s.Get(ctx, "fast")
	assert.NoError(t, err)
}

func TestWarmup_BoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	s := newWarmStore(t)

	var inFlight, peak atomic.Int32
	loader := LoaderFunc(func(ctx context.Context, key string) (any, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return key, nil
	})

	keys := make([]string, 12)
	for i := range keys {
		keys[i] = fmt.Sprintf("k%d", i)
	}

	results := s.Warmup(ctx, keys, loader, WarmupConfig{Concurrency: 3})
	assert.Equal(t, 12, results.Loaded)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 12, s.Len())
}

func TestWarmup_CancelledBatchLoadsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newWarmStore(t)

	var calls atomic.Int32
	loader := LoaderFunc(func(ctx context.Context, key string) (any, error) {
		calls.Add(1)
		return key, nil
	})

	results := s.Warmup(ctx, []string{"a", "b", "c"}, loader, WarmupConfig{})
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 3, results.Errors)
	assert.ErrorIs(t, results.Err(), context.Canceled)
	assert.Equal(t, 0, s.Len())
}

func TestWarmup_KeepsEntriesCommittedBeforeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newWarmStore(t)

	loader := LoaderFunc(func(ctx context.Context, key string) (any, error) {
		if key == "first" {
			return key, nil
		}
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})

	results := s.Warmup(ctx, []string{"first", "second", "third"}, loader, WarmupConfig{Concurrency: 1})

	assert.Equal(t, 1, results.Loaded)
	assert.Equal(t, 2, results.Errors)
	_, err := s.Get(context.Background(), "first")
	assert.NoError(t, err)
}

func TestWarmup_PanickingLoader(t *testing.T) {
	ctx := context.Background()
	s := newWarmStore(t)

	loader := LoaderFunc(func(ctx context.Context, key string) (any, error) {
		if key == "bad" {
			panic("boom")
		}
		return key, nil
	})

	results := s.Warmup(ctx, []string{"bad", "good"}, loader, WarmupConfig{})
	assert.Equal(t, []string{"bad"}, results.Failed())
	assert.ErrorIs(t, results.Err(), ErrLoaderFailed)
	assert.Equal(t, 1, results.Loaded)
}

func TestWarmup_StoreFailureIsNotLoaderFailure(t *testing.T) {
	ctx := context.Background()
	s := newWarmStore(t)

	loader := LoaderFunc(func(ctx context.Context, key string) (any, error) {
		return make(chan int), nil
	})

	results := s.Warmup(ctx, []string{"a"}, loader, WarmupConfig{})
	err := results.Err()
	require.Error(t, err)

	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, StageStore, loadErr.Stage)
	assert.ErrorIs(t, err, ErrSerializationFailed)
	assert.NotErrorIs(t, err, ErrLoaderFailed)
}

func TestPreload(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{Policy: DefaultPolicy(), MaxMemory: 64})
	require.NoError(t, err)

	err = s.Preload(ctx, []PreloadEntry{
		{Key: "a", Value: "one", Tags: []string{"boot"}},
		{Key: "huge", Value: string(make([]byte, 200))},
		{Key: "b", Value: 2, TTL: time.Minute},
	})
	assert.ErrorIs(t, err, ErrEntryTooLarge)
	assert.Equal(t, []string{"a", "b"}, s.Keys())

	meta, _ := s.Inspect("b")
	assert.Equal(t, PriorityHigh, meta.Priority)
	assert.Equal(t, time.Minute, meta.TTL)
}

func TestPreload_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newWarmStore(t)

	err := s.Preload(ctx, []PreloadEntry{{Key: "a", Value: 1}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len())
}
