package cache

import (
	"fmt"
	"strings"
	"time"
)

// Priority influences eviction order. The zero value means "not specified".
type Priority int

const (
	priorityUnset Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unset"
	}
}

// weight is the ai_optimized priority multiplier
func (p Priority) weight() float64 {
	switch p {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 4
	case PriorityCritical:
		return 8
	default:
		return 2
	}
}

// MarshalText encodes the priority by name
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority parses low, medium, high or critical
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return priorityUnset, fmt.Errorf("unknown priority %q", s)
	}
}

// Strategy names an eviction strategy
type Strategy string

const (
	StrategyLRU         Strategy = "lru"
	StrategyLFU         Strategy = "lfu"
	StrategyTTL         Strategy = "ttl"
	StrategyPriority    Strategy = "priority"
	StrategyAIOptimized Strategy = "ai_optimized"
)

// ParseStrategy validates a strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyLRU, StrategyLFU, StrategyTTL, StrategyPriority, StrategyAIOptimized:
		return st, nil
	default:
		return "", fmt.Errorf("unknown eviction strategy %q", s)
	}
}

// Policy is the immutable cache configuration
type Policy struct {
	// MaxSize caps the number of entries; 0 means no count limit
	MaxSize int

	// DefaultTTL applies when a set does not specify one
	DefaultTTL time.Duration

	EvictionStrategy Strategy

	CompressionEnabled bool
	EncryptionEnabled  bool

	// ReplicationFactor is accepted for compatibility and ignored by the local store
	ReplicationFactor int

	// PinCritical keeps critical entries out of eviction
	PinCritical bool
}

// DefaultPolicy returns sensible defaults
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL:        time.Hour,
		EvictionStrategy:  StrategyLRU,
		ReplicationFactor: 1,
	}
}

// Validate checks the policy for unusable values
func (p Policy) Validate() error {
	if p.MaxSize < 0 {
		return fmt.Errorf("%w: max size must be >= 0", ErrInvalidPolicy)
	}
	if p.DefaultTTL <= 0 {
		return fmt.Errorf("%w: default ttl must be > 0", ErrInvalidPolicy)
	}
	if _, err := ParseStrategy(string(p.EvictionStrategy)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return nil
}
