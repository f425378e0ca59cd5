package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsTracker_ResponseTimeAveragesWithPrevious(t *testing.T) {
	st := newStatsTracker(0)

	st.recordResponse(10 * time.Millisecond)
	assert.InDelta(t, 5.0, st.snapshot().AvgResponseTime, 1e-9)

	st.recordResponse(20 * time.Millisecond)
	assert.InDelta(t, 12.5, st.snapshot().AvgResponseTime, 1e-9)
}

func TestStatsTracker_Rates(t *testing.T) {
	st := newStatsTracker(512)
	st.recordHit()
	st.recordMiss()
	st.recordMiss()
	st.recordMiss()
	st.recordEvictions(2)
	st.recordExpirations(3)
	st.recordInvalidations(4)
	st.setCapacity(128, 7)

	s := st.snapshot()
	assert.Equal(t, int64(4), s.TotalRequests)
	assert.InDelta(t, 0.25, s.HitRate, 1e-9)
	assert.InDelta(t, 0.75, s.MissRate, 1e-9)
	assert.Equal(t, int64(2), s.Evictions)
	assert.Equal(t, int64(3), s.Expirations)
	assert.Equal(t, int64(4), s.Invalidations)
	assert.Equal(t, int64(128), s.MemoryUsage)
	assert.Equal(t, int64(512), s.MaxMemory)
	assert.Equal(t, 7, s.Entries)
}
