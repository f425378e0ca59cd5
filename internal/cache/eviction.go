package cache

import (
	"cmp"
	"math"
	"time"
)

// Candidate is the view of an entry the eviction engine works on
type Candidate struct {
	Key          string
	CreatedAt    time.Time
	LastAccessed time.Time
	TTL          time.Duration
	AccessCount  int64
	Size         int64
	Priority     Priority
}

// remaining returns ttl - (now - createdAt)
func (c Candidate) remaining(now time.Time) time.Duration {
	return c.TTL - now.Sub(c.CreatedAt)
}

// SelectVictim returns the key the strategy would evict next.
// Ties go to the lexicographically smallest key, so the result depends only
// on the candidate set, the strategy and now.
func SelectVictim(candidates []Candidate, strategy Strategy, now time.Time) (string, bool) {
	i := victimIndex(candidates, strategy, now)
	if i < 0 {
		return "", false
	}
	return candidates[i].Key, true
}

func victimIndex(candidates []Candidate, strategy Strategy, now time.Time) int {
	if len(candidates) == 0 {
		return -1
	}

	compare := comparatorFor(strategy, now)
	best := 0
	for i := 1; i < len(candidates); i++ {
		c := compare(candidates[i], candidates[best])
		if c < 0 || (c == 0 && candidates[i].Key < candidates[best].Key) {
			best = i
		}
	}
	return best
}

// comparatorFor returns a function that is negative when a should be
// evicted before b, zero when the strategy cannot tell them apart
func comparatorFor(strategy Strategy, now time.Time) func(a, b Candidate) int {
	switch strategy {
	case StrategyLFU:
		return func(a, b Candidate) int {
			return cmp.Compare(a.AccessCount, b.AccessCount)
		}
	case StrategyTTL:
		return func(a, b Candidate) int {
			return cmp.Compare(a.remaining(now), b.remaining(now))
		}
	case StrategyPriority:
		return func(a, b Candidate) int {
			return cmp.Compare(a.Priority, b.Priority)
		}
	case StrategyAIOptimized:
		return func(a, b Candidate) int {
			return cmp.Compare(Score(a, now), Score(b, now))
		}
	default:
		return func(a, b Candidate) int {
			return a.LastAccessed.Compare(b.LastAccessed)
		}
	}
}

// Score is the ai_optimized value of keeping c; the lowest score is evicted.
//
//	priorityWeight*100 + accessesPerHour*50 + recency + ttlRemaining + sizePenalty
//
// recency is 100 minus minutes since last access (floored at 0), ttlRemaining
// is minutes left capped at 100, and sizePenalty is 50 minus size in KB
// (floored at 0) so small entries are cheaper to keep.
func Score(c Candidate, now time.Time) float64 {
	ageHours := now.Sub(c.CreatedAt).Hours()
	frequency := float64(c.AccessCount) / math.Max(1, ageHours)

	recency := math.Max(0, 100-now.Sub(c.LastAccessed).Minutes())
	ttlScore := math.Min(100, c.remaining(now).Minutes())
	sizePenalty := math.Max(0, 50-float64(c.Size)/1024)

	return c.Priority.weight()*100 + frequency*50 + recency + ttlScore + sizePenalty
}
