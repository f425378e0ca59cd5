package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agatticelli/policy-cache/internal/codec"
)

func newHistoryStore(t *testing.T, clock *fakeClock, historySize int) *Store {
	t.Helper()

	s, err := New(Config{
		Policy:      DefaultPolicy(),
		MaxMemory:   1 << 20,
		Codec:       codec.NewPipeline(codec.PipelineConfig{Serializer: codec.Raw{}}),
		HistorySize: historySize,
		Now:         clock.Now,
	})
	require.NoError(t, err)
	return s
}

func hit(t *testing.T, s *Store, key string, n int) {
	t.Helper()
	for range n {
		_, err := s.Get(context.Background(), key)
		require.NoError(t, err)
	}
}

func TestScheduler_SweepExpiredInBatches(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newHistoryStore(t, clock, 0)

	for i := range 600 {
		ttl := time.Hour
		if i%2 == 0 {
			ttl = time.Second
		}
		require.NoError(t, s.Set(ctx, fmt.Sprintf("k%03d", i), "v", SetOptions{TTL: ttl}))
	}
	clock.Advance(2 * time.Second)

	sched := NewScheduler(s, SchedulerConfig{SweepBatchSize: 256})
	assert.Equal(t, 300, sched.SweepExpired(ctx))
	assert.Equal(t, 300, s.Len())
	assert.Equal(t, int64(600), s.MemoryUsage())

	stats := s.Stats()
	assert.Equal(t, int64(300), stats.Expirations)
	assert.Equal(t, 300, stats.Entries)

	assert.Equal(t, 0, sched.SweepExpired(ctx))
}

func TestScheduler_RetunePromotesHotKeys(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newHistoryStore(t, clock, 400)

	require.NoError(t, s.Set(ctx, "hot", "v", SetOptions{Priority: PriorityLow}))
	require.NoError(t, s.Set(ctx, "pinned", "v", SetOptions{Priority: PriorityCritical}))
	require.NoError(t, s.Set(ctx, "steady", "v", SetOptions{}))
	hit(t, s, "hot", 350)
	hit(t, s, "pinned", 350)
	hit(t, s, "steady", 30)

	report := NewScheduler(s, SchedulerConfig{}).RetunePriorities(ctx)
	assert.Equal(t, 1, report.Promoted)
	assert.Equal(t, 0, report.Demoted)

	meta, _ := s.Inspect("hot")
	assert.Equal(t, PriorityHigh, meta.Priority)
	meta, _ = s.Inspect("pinned")
	assert.Equal(t, PriorityCritical, meta.Priority, "critical is never lowered to high")
	meta, _ = s.Inspect("steady")
	assert.Equal(t, PriorityMedium, meta.Priority)
}

func TestScheduler_RetuneDemotesIdleKeys(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newHistoryStore(t, clock, 0)

	for _, k := range []string{"idle", "crit", "few"} {
		require.NoError(t, s.Set(ctx, k, "v", SetOptions{TTL: 24 * time.Hour}))
	}
	require.NoError(t, s.Set(ctx, "crit", "v", SetOptions{TTL: 24 * time.Hour, Priority: PriorityCritical}))
	hit(t, s, "idle", 10)
	hit(t, s, "crit", 10)
	hit(t, s, "few", 9)

	clock.Advance(2 * time.Hour)

	sched := NewScheduler(s, SchedulerConfig{})
	report := sched.RetunePriorities(ctx)
	assert.Equal(t, 2, report.Demoted)

	meta, _ := s.Inspect("idle")
	assert.Equal(t, PriorityLow, meta.Priority)
	meta, _ = s.Inspect("crit")
	assert.Equal(t, PriorityLow, meta.Priority)
	meta, _ = s.Inspect("few")
	assert.Equal(t, PriorityMedium, meta.Priority, "fewer than ten accesses is left alone")

	// already low: nothing to do
	assert.Equal(t, 0, sched.RetunePriorities(ctx).Changed())
}

func TestScheduler_RetuneReapsHistoryOfRemovedKeys(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newHistoryStore(t, clock, 0)

	require.NoError(t, s.Set(ctx, "gone", "v", SetOptions{}))
	require.NoError(t, s.Set(ctx, "kept", "v", SetOptions{}))
	hit(t, s, "gone", 3)
	hit(t, s, "kept", 3)
	s.Delete(ctx, "gone")

	report := NewScheduler(s, SchedulerConfig{}).RetunePriorities(ctx)
	assert.Equal(t, 1, report.Reaped)
	assert.Nil(t, s.AccessHistory("gone"))
	assert.Len(t, s.AccessHistory("kept"), 3)
}

func TestScheduler_StartRunsSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newHistoryStore(t, clock, 0)

	require.NoError(t, s.Set(ctx, "k", "v", SetOptions{TTL: time.Second}))
	clock.Advance(2 * time.Second)

	sched := NewScheduler(s, SchedulerConfig{
		ExpiryInterval: 5 * time.Millisecond,
		RetuneInterval: 5 * time.Millisecond,
	})
	sched.Start(ctx)
	sched.Start(ctx)
	defer sched.Stop()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)

	sched.Stop()
	sched.Stop()
}

func TestScheduler_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newHistoryStore(t, newFakeClock(), 0)

	sched := NewScheduler(s, SchedulerConfig{ExpiryInterval: time.Millisecond})
	sched.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
