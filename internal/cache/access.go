package cache

import "time"

// DefaultHistorySize is the number of access timestamps kept per key
const DefaultHistorySize = 100

// accessRecorder keeps a bounded history of access times per key.
// It is not synchronized; the Store serializes access under its lock.
type accessRecorder struct {
	capacity int
	history  map[string]*accessRing
}

// accessRing grows up to capacity, then overwrites its oldest slot
type accessRing struct {
	times []time.Time
	start int
}

func newAccessRecorder(capacity int) *accessRecorder {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &accessRecorder{
		capacity: capacity,
		history:  make(map[string]*accessRing),
	}
}

// Record appends an access time for key
func (r *accessRecorder) Record(key string, t time.Time) {
	ring, ok := r.history[key]
	if !ok {
		ring = &accessRing{times: make([]time.Time, 0, 4)}
		r.history[key] = ring
	}

	if len(ring.times) < r.capacity {
		ring.times = append(ring.times, t)
		return
	}
	ring.times[ring.start] = t
	ring.start = (ring.start + 1) % r.capacity
}

// Count returns the number of recorded accesses for key
func (r *accessRecorder) Count(key string) int {
	if ring, ok := r.history[key]; ok {
		return len(ring.times)
	}
	return 0
}

// CountSince returns the number of recorded accesses at or after since
func (r *accessRecorder) CountSince(key string, since time.Time) int {
	ring, ok := r.history[key]
	if !ok {
		return 0
	}
	n := 0
	for _, t := range ring.times {
		if !t.Before(since) {
			n++
		}
	}
	return n
}

// Timestamps returns a copy of the history for key, oldest first
func (r *accessRecorder) Timestamps(key string) []time.Time {
	ring, ok := r.history[key]
	if !ok {
		return nil
	}
	n := len(ring.times)
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = ring.times[(ring.start+i)%n]
	}
	return out
}

// Forget drops the history for key
func (r *accessRecorder) Forget(key string) {
	delete(r.history, key)
}

// Reap drops history for every key where keep returns false
func (r *accessRecorder) Reap(keep func(key string) bool) int {
	removed := 0
	for key := range r.history {
		if !keep(key) {
			delete(r.history, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of keys with history
func (r *accessRecorder) Len() int {
	return len(r.history)
}
