package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agatticelli/policy-cache/internal/codec"
	"github.com/agatticelli/policy-cache/internal/platform/observability"
)

// DefaultMaxMemory is the memory budget used when Config.MaxMemory is unset
const DefaultMaxMemory int64 = 100 * 1024 * 1024

// Config configures a Store
type Config struct {
	Policy Policy

	// MaxMemory is the byte budget for encoded payloads
	MaxMemory int64

	// Codec defaults to a JSON pipeline built from the policy flags
	Codec *codec.Pipeline

	// EncryptionKey is required when the policy enables encryption and no
	// Codec is supplied
	EncryptionKey []byte

	// HistorySize is the number of access timestamps kept per key
	HistorySize int

	Logger  *observability.Logger
	Metrics *observability.Metrics

	// Now is the clock used for TTL and access bookkeeping
	Now func() time.Time
}

// Store is the cache facade. All table mutations happen under mu, so every
// operation observes a consistent entry table and capacity accounting.
type Store struct {
	mu          sync.Mutex
	entries     map[string]*entry
	memoryUsage int64
	history     *accessRecorder

	policy    Policy
	maxMemory int64
	codec     *codec.Pipeline
	stats     *statsTracker

	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a Store
func New(cfg Config) (*Store, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxMemory <= 0 {
		cfg.MaxMemory = DefaultMaxMemory
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewDiscardLogger()
	}
	if cfg.Codec == nil {
		pipeline, err := BuildCodec(cfg.Policy, cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		cfg.Codec = pipeline
	}

	return &Store{
		entries:   make(map[string]*entry),
		history:   newAccessRecorder(cfg.HistorySize),
		policy:    cfg.Policy,
		maxMemory: cfg.MaxMemory,
		codec:     cfg.Codec,
		stats:     newStatsTracker(cfg.MaxMemory),
		logger:    cfg.Logger.Component("cache"),
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}, nil
}

// BuildCodec assembles the JSON pipeline implied by the policy flags
func BuildCodec(policy Policy, encryptionKey []byte) (*codec.Pipeline, error) {
	cfg := codec.PipelineConfig{
		Serializer:        codec.JSON{},
		CompressByDefault: policy.CompressionEnabled,
	}

	// the compressor is always available so individual sets can opt in
	z, err := codec.NewZstd(0)
	if err != nil {
		return nil, err
	}
	cfg.Compressor = z

	if policy.EncryptionEnabled {
		c, err := codec.NewXChaCha(encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
		}
		cfg.Cipher = c
	}

	return codec.NewPipeline(cfg), nil
}

// Policy returns the store's policy
func (s *Store) Policy() Policy {
	return s.policy
}

// Get returns the decoded value for key, or ErrNotFound when it is absent
// or its TTL has elapsed. Expired entries are removed on the spot.
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	var out any
	if err := s.GetInto(ctx, key, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInto decodes the value for key into dst
func (s *Store) GetInto(ctx context.Context, key string, dst any) error {
	if key == "" {
		return ErrInvalidKey
	}
	start := time.Now()
	defer func() {
		d := time.Since(start)
		s.stats.recordResponse(d)
		s.metrics.RecordOperation(ctx, "get", d)
	}()

	payload, err := s.lookup(ctx, key)
	if err != nil {
		return err
	}

	if err := s.codec.Decode(payload, dst); err != nil {
		s.logger.LogError(ctx, "failed to decode cache entry", err, "key", key)
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return nil
}

// lookup performs the locked part of a read: expiry check and access bookkeeping
func (s *Store) lookup(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok {
		s.stats.recordMiss()
		s.metrics.RecordRequest(ctx, false)
		return nil, ErrNotFound
	}

	if e.expired(now) {
		s.removeLocked(e)
		s.stats.recordMiss()
		s.stats.recordExpirations(1)
		s.publishCapacityLocked(ctx)
		s.metrics.RecordRequest(ctx, false)
		s.metrics.RecordExpirations(ctx, 1, "lazy")
		return nil, ErrNotFound
	}

	e.lastAccessed = now
	e.accessCount++
	s.history.Record(key, now)
	s.stats.recordHit()
	s.metrics.RecordRequest(ctx, true)

	return e.payload, nil
}

// Set encodes value and stores it under key, evicting other entries when
// the memory budget or entry count would be exceeded. A failed Set leaves
// the table exactly as it was.
func (s *Store) Set(ctx context.Context, key string, value any, opts SetOptions) error {
	if key == "" {
		return ErrInvalidKey
	}
	if opts.TTL < 0 {
		return ErrInvalidTTL
	}

	start := time.Now()
	defer func() {
		d := time.Since(start)
		s.stats.recordResponse(d)
		s.metrics.RecordOperation(ctx, "set", d)
	}()

	compress := s.policy.CompressionEnabled
	if opts.Compress != nil {
		compress = *opts.Compress
	}

	payload, err := s.codec.EncodeWith(value, compress)
	if err != nil {
		s.metrics.RecordSet(ctx, "serialization_failed")
		s.logger.LogWarn(ctx, "rejected cache entry", "key", key, "error", err)
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	size := int64(len(payload))
	if size > s.maxMemory {
		s.metrics.RecordSet(ctx, "too_large")
		s.logger.LogWarn(ctx, "rejected cache entry", "key", key, "size", size, "max_memory", s.maxMemory)
		return fmt.Errorf("%w: %d bytes > %d", ErrEntryTooLarge, size, s.maxMemory)
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = s.policy.DefaultTTL
	}
	priority := opts.Priority
	if priority == priorityUnset {
		priority = PriorityMedium
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	plan, err := s.planCapacityLocked(key, size, now)
	if err != nil {
		s.metrics.RecordSet(ctx, "out_of_capacity")
		s.logger.LogWarn(ctx, "rejected cache entry", "key", key, "size", size,
			"memory_usage", s.memoryUsage, "strategy", string(s.policy.EvictionStrategy))
		return err
	}
	s.applyPlanLocked(ctx, plan)

	if old, ok := s.entries[key]; ok {
		s.removeLocked(old)
	}

	s.entries[key] = &entry{
		key:          key,
		payload:      payload,
		ttl:          ttl,
		createdAt:    now,
		lastAccessed: now,
		size:         size,
		tags:         tagSet(opts.Tags),
		priority:     priority,
	}
	s.memoryUsage += size
	s.publishCapacityLocked(ctx)
	s.metrics.RecordSet(ctx, "ok")

	return nil
}

// capacityPlan lists the keys that must go before an insert fits
type capacityPlan struct {
	expired []string
	evicted []string
}

// planCapacityLocked decides which entries to remove so that an entry of
// size bytes under key fits. Nothing is mutated; if no plan exists the
// caller gets ErrOutOfCapacity and the table stays intact.
//
// Expired entries are reclaimed first, then the eviction strategy picks
// victims one at a time until both the byte budget and MaxSize are met.
func (s *Store) planCapacityLocked(key string, size int64, now time.Time) (capacityPlan, error) {
	var plan capacityPlan

	usage := s.memoryUsage
	count := len(s.entries)
	if old, ok := s.entries[key]; ok {
		usage -= old.size
		count--
	}

	overBudget := func() bool {
		if usage+size > s.maxMemory {
			return true
		}
		return s.policy.MaxSize > 0 && count+1 > s.policy.MaxSize
	}
	if !overBudget() {
		return plan, nil
	}

	candidates := make([]Candidate, 0, len(s.entries))
	for k, e := range s.entries {
		if k == key {
			continue
		}
		if e.expired(now) {
			plan.expired = append(plan.expired, k)
			usage -= e.size
			count--
			continue
		}
		if s.policy.PinCritical && e.priority == PriorityCritical {
			continue
		}
		candidates = append(candidates, e.candidate())
	}

	for overBudget() {
		i := victimIndex(candidates, s.policy.EvictionStrategy, now)
		if i < 0 {
			return capacityPlan{}, fmt.Errorf("%w: need %d bytes, %d in use of %d",
				ErrOutOfCapacity, size, usage, s.maxMemory)
		}
		victim := candidates[i]
		plan.evicted = append(plan.evicted, victim.Key)
		usage -= victim.Size
		count--

		last := len(candidates) - 1
		candidates[i] = candidates[last]
		candidates = candidates[:last]
	}

	return plan, nil
}

func (s *Store) applyPlanLocked(ctx context.Context, plan capacityPlan) {
	for _, k := range plan.expired {
		s.removeLocked(s.entries[k])
	}
	if n := len(plan.expired); n > 0 {
		s.stats.recordExpirations(n)
		s.metrics.RecordExpirations(ctx, n, "reclaim")
	}

	strategy := string(s.policy.EvictionStrategy)
	for _, k := range plan.evicted {
		e := s.entries[k]
		s.removeLocked(e)
		s.metrics.RecordEviction(ctx, strategy)
		s.logger.LogDebug(ctx, "evicted cache entry", "key", k, "size", e.size, "strategy", strategy)
	}
	if n := len(plan.evicted); n > 0 {
		s.stats.recordEvictions(n)
	}
}

// removeLocked drops e from the table and its bytes from the accounting
func (s *Store) removeLocked(e *entry) {
	delete(s.entries, e.key)
	s.memoryUsage -= e.size
}

func (s *Store) publishCapacityLocked(ctx context.Context) {
	s.stats.setCapacity(s.memoryUsage, len(s.entries))
	s.metrics.RecordCapacity(ctx, s.memoryUsage, len(s.entries))
}

// Delete removes key and reports whether it was present
func (s *Store) Delete(ctx context.Context, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeLocked(e)
	s.publishCapacityLocked(ctx)
	return true
}

// InvalidateByTags removes every entry carrying at least one of tags and
// returns how many were removed. The whole sweep runs under one lock hold.
func (s *Store) InvalidateByTags(ctx context.Context, tags ...string) int {
	want := tagSet(tags)
	if len(want) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, e := range s.entries {
		if e.hasAnyTag(want) {
			s.removeLocked(e)
			removed++
		}
	}

	if removed > 0 {
		s.stats.recordInvalidations(removed)
		s.metrics.RecordInvalidations(ctx, removed)
		s.publishCapacityLocked(ctx)
		s.logger.LogInfo(ctx, "invalidated cache entries by tag", "tags", tags, "removed", removed)
	}
	return removed
}

// Clear removes every entry and returns how many were removed
func (s *Store) Clear(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.entries)
	s.entries = make(map[string]*entry)
	s.memoryUsage = 0
	s.publishCapacityLocked(ctx)
	return n
}

// Stats returns a snapshot of the store statistics
func (s *Store) Stats() Stats {
	return s.stats.snapshot()
}

// Inspect returns metadata for a live entry without touching access
// bookkeeping or stats
func (s *Store) Inspect(key string) (EntryMetadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return EntryMetadata{}, false
	}
	return e.metadata(), true
}

// Len returns the number of entries in the table, including expired ones
// that have not been reaped yet
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the keys in the table, sorted
func (s *Store) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// MemoryUsage returns the bytes accounted to entries in the table
func (s *Store) MemoryUsage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memoryUsage
}

// Export returns every live entry with its decoded value, sorted by key.
// It is read-only: stats and access bookkeeping are left untouched.
// Entries that fail to decode are skipped and reported in the error.
func (s *Store) Export(ctx context.Context) ([]ExportedEntry, error) {
	type row struct {
		payload []byte
		meta    EntryMetadata
	}

	s.mu.Lock()
	now := s.now()
	rows := make([]row, 0, len(s.entries))
	for _, e := range s.entries {
		if e.expired(now) {
			continue
		}
		rows = append(rows, row{payload: e.payload, meta: e.metadata()})
	}
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].meta.Key < rows[j].meta.Key })

	out := make([]ExportedEntry, 0, len(rows))
	var errs []error
	for _, r := range rows {
		var value any
		if err := s.codec.Decode(r.payload, &value); err != nil {
			errs = append(errs, fmt.Errorf("%w: export %q: %v", ErrSerializationFailed, r.meta.Key, err))
			continue
		}
		out = append(out, ExportedEntry{Key: r.meta.Key, Value: value, Metadata: r.meta})
	}

	return out, errors.Join(errs...)
}

// present reports whether key holds a live entry, without side effects
func (s *Store) present(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return ok && !e.expired(s.now())
}

// Close drops all entries and releases codec resources. The store must not
// be used afterwards.
func (s *Store) Close() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.memoryUsage = 0
	s.history = newAccessRecorder(s.history.capacity)
	s.mu.Unlock()

	s.codec.Close()
}
