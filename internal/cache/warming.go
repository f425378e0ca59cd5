package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/agatticelli/policy-cache/internal/platform/observability"
)

const tracerName = "github.com/agatticelli/policy-cache/internal/cache"

// WarmupConfig configures a warmup batch
type WarmupConfig struct {
	// Concurrency bounds the number of loader calls in flight
	Concurrency int

	// LoadTimeout bounds a single loader call
	LoadTimeout time.Duration

	// Timeout bounds the whole batch; zero means no batch deadline
	Timeout time.Duration

	// TTL and Tags apply to every warmed entry
	TTL  time.Duration
	Tags []string
}

// DefaultWarmupConfig returns sensible defaults for cache warming.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Concurrency: 8,
		LoadTimeout: 5 * time.Second,
	}
}

// WarmupResult is the outcome for one key
type WarmupResult struct {
	Key      string
	Duration time.Duration

	// Skipped is set when the key was already cached
	Skipped bool

	// Err is a *LoadError when the key could not be warmed
	Err error
}

// WarmupResults contains the aggregate results of a warmup batch.
type WarmupResults struct {
	BatchID   string
	Results   []WarmupResult
	Loaded    int
	Skipped   int
	Errors    int
	TotalTime time.Duration
}

// HasErrors returns true if any key failed during warmup.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Err joins every per-key failure, or returns nil
func (wr *WarmupResults) Err() error {
	var errs []error
	for _, r := range wr.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Failed returns the keys that could not be warmed
func (wr *WarmupResults) Failed() []string {
	var keys []string
	for _, r := range wr.Results {
		if r.Err != nil {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

// Warmup loads keys through loader and inserts them with PriorityHigh.
// Loads run concurrently; each is bounded by LoadTimeout and a failure
// affects only its own key. Failures are collected in the result, never
// returned. Keys already cached are skipped. When ctx is cancelled no new
// loads start, and entries inserted so far stay in the cache.
func (s *Store) Warmup(ctx context.Context, keys []string, loader Loader, cfg WarmupConfig) *WarmupResults {
	defaults := DefaultWarmupConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaults.LoadTimeout
	}

	start := time.Now()
	results := &WarmupResults{BatchID: uuid.NewString()}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "cache.Warmup",
		trace.WithAttributes(
			attribute.String("cache.warmup.batch_id", results.BatchID),
			attribute.Int("cache.warmup.keys", len(keys)),
		),
	)

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	unique := dedupe(keys)
	results.Results = make([]WarmupResult, len(unique))

	sem := semaphore.NewWeighted(int64(cfg.Concurrency))
	var g errgroup.Group

	for i, key := range unique {
		if key == "" {
			results.Results[i] = WarmupResult{Key: key, Err: &LoadError{Key: key, Stage: StageStore, Err: ErrInvalidKey}}
			continue
		}
		if s.present(key) {
			results.Results[i] = WarmupResult{Key: key, Skipped: true}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// batch abandoned: everything not yet scheduled fails
			for j := i; j < len(unique); j++ {
				results.Results[j] = WarmupResult{
					Key: unique[j],
					Err: &LoadError{Key: unique[j], Stage: StageLoad, Err: err},
				}
			}
			break
		}

		g.Go(func() error {
			defer sem.Release(1)
			results.Results[i] = s.warmOne(ctx, key, loader, cfg)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results.Results {
		switch {
		case r.Err != nil:
			results.Errors++
			s.metrics.RecordWarmupLoad(ctx, "failed")
		case r.Skipped:
			results.Skipped++
			s.metrics.RecordWarmupLoad(ctx, "skipped")
		default:
			results.Loaded++
			s.metrics.RecordWarmupLoad(ctx, "loaded")
		}
	}
	results.TotalTime = time.Since(start)

	span.SetAttributes(
		attribute.Int("cache.warmup.loaded", results.Loaded),
		attribute.Int("cache.warmup.skipped", results.Skipped),
		attribute.Int("cache.warmup.errors", results.Errors),
	)
	observability.EndSpanWithError(span, results.Err())

	fields := []any{
		"batch_id", results.BatchID,
		"loaded", results.Loaded,
		"skipped", results.Skipped,
		"errors", results.Errors,
		"duration", results.TotalTime,
	}
	if results.HasErrors() {
		s.logger.LogWarn(ctx, "cache warmup completed with errors", append(fields, "failed", results.Failed())...)
	} else {
		s.logger.LogInfo(ctx, "cache warmup completed", fields...)
	}

	return results
}

// warmOne loads and stores a single key
func (s *Store) warmOne(ctx context.Context, key string, loader Loader, cfg WarmupConfig) WarmupResult {
	start := time.Now()

	loadCtx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
	defer cancel()

	value, err := callLoader(loadCtx, loader, key)
	if err != nil {
		s.logger.LogDebug(ctx, "warmup load failed", "key", key, "error", err)
		observability.AddSpanEvent(ctx, "cache.warmup.load_failed",
			attribute.String("cache.key", key),
			attribute.String("error", err.Error()),
		)
		return WarmupResult{
			Key:      key,
			Duration: time.Since(start),
			Err:      &LoadError{Key: key, Stage: StageLoad, Err: err},
		}
	}

	if err := s.Set(ctx, key, value, SetOptions{TTL: cfg.TTL, Tags: cfg.Tags, Priority: PriorityHigh}); err != nil {
		return WarmupResult{
			Key:      key,
			Duration: time.Since(start),
			Err:      &LoadError{Key: key, Stage: StageStore, Err: err},
		}
	}

	return WarmupResult{Key: key, Duration: time.Since(start)}
}

type loadResult struct {
	value any
	err   error
}

// callLoader runs loader.Load so that a loader ignoring ctx cannot hold the
// batch past its deadline. A panicking loader fails only its own key.
func callLoader(ctx context.Context, loader Loader, key string) (any, error) {
	done := make(chan loadResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- loadResult{err: fmt.Errorf("loader panic: %v", r)}
			}
		}()
		v, err := loader.Load(ctx, key)
		done <- loadResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// PreloadEntry is a value to insert without a loader
type PreloadEntry struct {
	Key   string
	Value any
	TTL   time.Duration
	Tags  []string
}

// Preload inserts entries with PriorityHigh, in order. Failures are joined
// into the returned error and do not stop the batch; cancellation does,
// and leaves already inserted entries in place.
func (s *Store) Preload(ctx context.Context, entries []PreloadEntry) error {
	var errs []error
	loaded := 0

	for _, pe := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("preload stopped after %d entries: %w", loaded, err))
			break
		}
		if err := s.Set(ctx, pe.Key, pe.Value, SetOptions{TTL: pe.TTL, Tags: pe.Tags, Priority: PriorityHigh}); err != nil {
			errs = append(errs, fmt.Errorf("preload %q: %w", pe.Key, err))
			continue
		}
		loaded++
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.LogWarn(ctx, "cache preload completed with errors", "loaded", loaded, "total", len(entries), "error", err)
	} else {
		s.logger.LogInfo(ctx, "cache preload completed", "loaded", loaded)
	}
	return err
}
