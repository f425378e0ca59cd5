package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agatticelli/policy-cache/internal/platform/observability"
)

// Retune thresholds
const (
	// retuneMinAccesses is the history length a key needs before it is retuned
	retuneMinAccesses = 10

	// retuneWindow is how far back accesses count toward the rate
	retuneWindow = time.Hour

	promoteRatePerMinute = 5.0
	demoteRatePerMinute  = 0.1
)

// SchedulerConfig configures background maintenance
type SchedulerConfig struct {
	// ExpiryInterval between expiry sweeps
	ExpiryInterval time.Duration

	// RetuneInterval between priority retunes
	RetuneInterval time.Duration

	// SweepBatchSize bounds how many keys are inspected per lock hold
	SweepBatchSize int

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// DefaultSchedulerConfig returns the default intervals
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ExpiryInterval: 60 * time.Second,
		RetuneInterval: 300 * time.Second,
		SweepBatchSize: 256,
	}
}

// RetuneReport summarizes one priority retune run
type RetuneReport struct {
	Promoted int
	Demoted  int
	Reaped   int
}

// Changed returns the number of entries whose priority changed
func (r RetuneReport) Changed() int {
	return r.Promoted + r.Demoted
}

// Scheduler runs the expiry sweep and priority retune on their own tickers
type Scheduler struct {
	store   *Store
	config  SchedulerConfig
	logger  *observability.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a scheduler for store. Zero config fields take defaults.
func NewScheduler(store *Store, config SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.ExpiryInterval <= 0 {
		config.ExpiryInterval = defaults.ExpiryInterval
	}
	if config.RetuneInterval <= 0 {
		config.RetuneInterval = defaults.RetuneInterval
	}
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = defaults.SweepBatchSize
	}

	logger := config.Logger
	if logger == nil {
		logger = store.logger
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = store.metrics
	}

	return &Scheduler{
		store:   store,
		config:  config,
		logger:  logger.Component("maintenance"),
		metrics: metrics,
	}
}

// Start launches both maintenance loops. They stop when ctx is done or
// Stop is called. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(2)
	go s.loop(ctx, s.stopCh, s.config.ExpiryInterval, func(ctx context.Context) { s.SweepExpired(ctx) })
	go s.loop(ctx, s.stopCh, s.config.RetuneInterval, func(ctx context.Context) { s.RetunePriorities(ctx) })

	s.logger.LogInfo(ctx, "maintenance scheduler started",
		"expiry_interval", s.config.ExpiryInterval,
		"retune_interval", s.config.RetuneInterval,
	)
}

// Stop halts both loops and waits for an in-progress run to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			run(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepExpired removes every expired entry and returns how many were
// removed. Keys are snapshotted up front and inspected in batches, with
// the store lock released between batches.
func (s *Scheduler) SweepExpired(ctx context.Context) int {
	runID := uuid.NewString()
	start := time.Now()

	keys := s.store.Keys()
	removed := 0
	for off := 0; off < len(keys); off += s.config.SweepBatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(off+s.config.SweepBatchSize, len(keys))
		removed += s.store.sweepBatch(keys[off:end])
	}

	if removed > 0 {
		s.metrics.RecordExpirations(ctx, removed, "sweep")
	}
	s.metrics.RecordOperation(ctx, "sweep", time.Since(start))
	s.logger.LogDebug(ctx, "expiry sweep finished",
		"run_id", runID,
		"scanned", len(keys),
		"removed", removed,
		"duration", time.Since(start),
	)
	return removed
}

// RetunePriorities adjusts entry priorities from their recent access rate.
// Keys with at least ten recorded accesses are considered; a rate above
// five per minute over the last hour promotes to high, below 0.1 demotes
// to low. Critical is never assigned here. History of keys that are no
// longer cached is dropped.
func (s *Scheduler) RetunePriorities(ctx context.Context) RetuneReport {
	runID := uuid.NewString()
	start := time.Now()

	var report RetuneReport
	keys := s.store.Keys()
	for off := 0; off < len(keys); off += s.config.SweepBatchSize {
		if ctx.Err() != nil {
			break
		}
		end := min(off+s.config.SweepBatchSize, len(keys))
		promoted, demoted := s.store.retuneBatch(keys[off:end])
		report.Promoted += promoted
		report.Demoted += demoted
	}
	report.Reaped = s.store.reapHistory()

	for range report.Promoted {
		s.metrics.RecordPriorityChange(ctx, PriorityHigh.String())
	}
	for range report.Demoted {
		s.metrics.RecordPriorityChange(ctx, PriorityLow.String())
	}
	s.metrics.RecordOperation(ctx, "retune", time.Since(start))

	if report.Changed() > 0 {
		s.logger.LogInfo(ctx, "priority retune finished",
			"run_id", runID,
			"promoted", report.Promoted,
			"demoted", report.Demoted,
			"history_reaped", report.Reaped,
		)
	} else {
		s.logger.LogDebug(ctx, "priority retune finished",
			"run_id", runID,
			"history_reaped", report.Reaped,
		)
	}
	return report
}

// sweepBatch removes the expired entries among keys
func (s *Store) sweepBatch(keys []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, k := range keys {
		e, ok := s.entries[k]
		if !ok || !e.expired(now) {
			continue
		}
		s.removeLocked(e)
		removed++
	}

	if removed > 0 {
		s.stats.recordExpirations(removed)
		s.stats.setCapacity(s.memoryUsage, len(s.entries))
	}
	return removed
}

// retuneBatch applies the access-rate rule to keys
func (s *Store) retuneBatch(keys []string) (promoted, demoted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	since := now.Add(-retuneWindow)
	for _, k := range keys {
		e, ok := s.entries[k]
		if !ok || s.history.Count(k) < retuneMinAccesses {
			continue
		}

		rate := float64(s.history.CountSince(k, since)) / retuneWindow.Minutes()
		switch {
		case rate > promoteRatePerMinute:
			if e.priority != PriorityCritical && e.priority != PriorityHigh {
				e.priority = PriorityHigh
				promoted++
			}
		case rate < demoteRatePerMinute:
			if e.priority != PriorityLow {
				e.priority = PriorityLow
				demoted++
			}
		}
	}
	return promoted, demoted
}

// reapHistory forgets access history for keys that are no longer cached
func (s *Store) reapHistory() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.history.Reap(func(key string) bool {
		_, ok := s.entries[key]
		return ok
	})
}

// AccessHistory returns the recorded access times for key, oldest first
func (s *Store) AccessHistory(key string) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Timestamps(key)
}
