package cache

import (
	"sync"
	"time"
)

// Stats is a point-in-time copy of cache statistics
type Stats struct {
	TotalRequests int64   `json:"total_requests" yaml:"total_requests"`
	TotalHits     int64   `json:"total_hits" yaml:"total_hits"`
	TotalMisses   int64   `json:"total_misses" yaml:"total_misses"`
	HitRate       float64 `json:"hit_rate" yaml:"hit_rate"`
	MissRate      float64 `json:"miss_rate" yaml:"miss_rate"`
	Evictions     int64   `json:"evictions" yaml:"evictions"`
	Expirations   int64   `json:"expirations" yaml:"expirations"`
	Invalidations int64   `json:"invalidations" yaml:"invalidations"`
	MemoryUsage   int64   `json:"memory_usage" yaml:"memory_usage"`
	MaxMemory     int64   `json:"max_memory" yaml:"max_memory"`
	Entries       int     `json:"entries" yaml:"entries"`

	// AvgResponseTime is in milliseconds
	AvgResponseTime float64 `json:"avg_response_time_ms" yaml:"avg_response_time_ms"`
}

// statsTracker aggregates counters. It has its own lock; callers holding
// the store lock may call into it, never the reverse.
type statsTracker struct {
	mu    sync.Mutex
	stats Stats
}

func newStatsTracker(maxMemory int64) *statsTracker {
	return &statsTracker{stats: Stats{MaxMemory: maxMemory}}
}

func (t *statsTracker) recordHit() {
	t.mu.Lock()
	t.stats.TotalRequests++
	t.stats.TotalHits++
	t.mu.Unlock()
}

func (t *statsTracker) recordMiss() {
	t.mu.Lock()
	t.stats.TotalRequests++
	t.stats.TotalMisses++
	t.mu.Unlock()
}

func (t *statsTracker) recordEvictions(n int) {
	t.mu.Lock()
	t.stats.Evictions += int64(n)
	t.mu.Unlock()
}

func (t *statsTracker) recordExpirations(n int) {
	t.mu.Lock()
	t.stats.Expirations += int64(n)
	t.mu.Unlock()
}

func (t *statsTracker) recordInvalidations(n int) {
	t.mu.Lock()
	t.stats.Invalidations += int64(n)
	t.mu.Unlock()
}

// recordResponse folds d into AvgResponseTime as (old + new) / 2.
// This is a moving average weighted toward recent calls, not a true mean.
func (t *statsTracker) recordResponse(d time.Duration) {
	ms := float64(d.Nanoseconds()) / float64(time.Millisecond)
	t.mu.Lock()
	t.stats.AvgResponseTime = (t.stats.AvgResponseTime + ms) / 2
	t.mu.Unlock()
}

func (t *statsTracker) setCapacity(memoryUsage int64, entries int) {
	t.mu.Lock()
	t.stats.MemoryUsage = memoryUsage
	t.stats.Entries = entries
	t.mu.Unlock()
}

func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	s := t.stats
	t.mu.Unlock()

	if s.TotalRequests > 0 {
		s.HitRate = float64(s.TotalHits) / float64(s.TotalRequests)
		s.MissRate = 1 - s.HitRate
	}
	return s
}
