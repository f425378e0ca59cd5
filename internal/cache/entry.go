package cache

import (
	"sort"
	"time"
)

// entry is one stored item. payload is immutable once inserted, so it can
// be decoded after the store lock is released.
type entry struct {
	key          string
	payload      []byte
	ttl          time.Duration
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  int64
	size         int64
	tags         map[string]struct{}
	priority     Priority
}

// expired reports whether now >= createdAt + ttl
func (e *entry) expired(now time.Time) bool {
	return !now.Before(e.createdAt.Add(e.ttl))
}

func (e *entry) hasAnyTag(tags map[string]struct{}) bool {
	// iterate over the smaller set
	small, large := e.tags, tags
	if len(small) > len(large) {
		small, large = large, small
	}
	for t := range small {
		if _, ok := large[t]; ok {
			return true
		}
	}
	return false
}

func (e *entry) candidate() Candidate {
	return Candidate{
		Key:          e.key,
		CreatedAt:    e.createdAt,
		LastAccessed: e.lastAccessed,
		TTL:          e.ttl,
		AccessCount:  e.accessCount,
		Size:         e.size,
		Priority:     e.priority,
	}
}

func (e *entry) metadata() EntryMetadata {
	tags := make([]string, 0, len(e.tags))
	for t := range e.tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	return EntryMetadata{
		Key:          e.key,
		TTL:          e.ttl,
		CreatedAt:    e.createdAt,
		LastAccessed: e.lastAccessed,
		ExpiresAt:    e.createdAt.Add(e.ttl),
		AccessCount:  e.accessCount,
		Size:         e.size,
		Tags:         tags,
		Priority:     e.priority,
	}
}

func tagSet(tags []string) map[string]struct{} {
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// SetOptions controls a single Set call. Zero values fall back to the policy.
type SetOptions struct {
	// TTL of zero uses Policy.DefaultTTL
	TTL time.Duration

	Tags []string

	// Priority of zero means PriorityMedium
	Priority Priority

	// Compress overrides Policy.CompressionEnabled when non-nil
	Compress *bool
}

// EntryMetadata describes an entry without its value
type EntryMetadata struct {
	Key          string        `json:"key" yaml:"key"`
	TTL          time.Duration `json:"ttl" yaml:"ttl"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
	LastAccessed time.Time     `json:"last_accessed" yaml:"last_accessed"`
	ExpiresAt    time.Time     `json:"expires_at" yaml:"expires_at"`
	AccessCount  int64         `json:"access_count" yaml:"access_count"`
	Size         int64         `json:"size" yaml:"size"`
	Tags         []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
	Priority     Priority      `json:"priority" yaml:"priority"`
}

// ExportedEntry is one row of a diagnostic export
type ExportedEntry struct {
	Key      string        `json:"key" yaml:"key"`
	Value    any           `json:"value" yaml:"value"`
	Metadata EntryMetadata `json:"metadata" yaml:"metadata"`
}
