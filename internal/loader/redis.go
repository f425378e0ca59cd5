// Package loader provides cache.Loader implementations backed by external stores.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agatticelli/policy-cache/internal/cache"
	"github.com/agatticelli/policy-cache/internal/platform/observability"
	"github.com/agatticelli/policy-cache/internal/platform/resilience"
)

var (
	// ErrKeyNotFound is returned when the backing store has no value for a key
	ErrKeyNotFound = errors.New("loader: key not found")

	// ErrDecode is returned when a stored value is not valid JSON
	ErrDecode = errors.New("loader: decode failed")
)

// Getter is the subset of the go-redis client the loader needs
type Getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisConfig configures a Redis loader
type RedisConfig struct {
	// KeyPrefix is prepended to every cache key before lookup
	KeyPrefix string

	// DecodeJSON unmarshals stored strings into generic values
	DecodeJSON bool

	Retry resilience.RetryConfig

	// RequestsPerMinute limits calls to Redis; zero means unlimited
	RequestsPerMinute int
	Burst             int

	BreakerFailureThreshold int
	BreakerTimeout          time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Redis loads warmup values from Redis through a rate limiter, a circuit
// breaker and retries.
type Redis struct {
	client     Getter
	keyPrefix  string
	decodeJSON bool
	retry      resilience.RetryConfig
	limiter    *resilience.RateLimiter
	breaker    *resilience.CircuitBreaker
	logger     *observability.Logger
	metrics    *observability.Metrics
}

var _ cache.Loader = (*Redis)(nil)

// NewRedis creates a loader reading through client
func NewRedis(client Getter, cfg RedisConfig) *Redis {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewDiscardLogger()
	}

	r := &Redis{
		client:     client,
		keyPrefix:  cfg.KeyPrefix,
		decodeJSON: cfg.DecodeJSON,
		retry:      cfg.Retry,
		logger:     cfg.Logger.Component("redis-loader"),
		metrics:    cfg.Metrics,
	}

	if cfg.RequestsPerMinute > 0 {
		r.limiter = resilience.NewRateLimiterFromRPM(cfg.RequestsPerMinute, cfg.Burst)
	}

	r.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "redis-loader",
		FailureThreshold: cfg.BreakerFailureThreshold,
		Timeout:          cfg.BreakerTimeout,
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrKeyNotFound) &&
				!errors.Is(err, context.Canceled) &&
				!errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			r.metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
			r.logger.LogWarn(context.Background(), "circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return r
}

// Load fetches key from Redis
func (r *Redis) Load(ctx context.Context, key string) (any, error) {
	start := time.Now()

	value, err := r.load(ctx, key)

	status := "ok"
	switch {
	case errors.Is(err, ErrKeyNotFound):
		status = "not_found"
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "circuit_open"
	case err != nil:
		status = "error"
	}
	r.metrics.RecordLoaderCall(ctx, "redis", status, time.Since(start))

	if err != nil {
		r.logger.LogDebug(ctx, "redis load failed", "key", key, "status", status, "error", err)
		return nil, err
	}
	return value, nil
}

func (r *Redis) load(ctx context.Context, key string) (any, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	raw, err := resilience.RetryIfWithResult(ctx, r.retry, resilience.IsRetryable, func(ctx context.Context) (string, error) {
		return resilience.ExecuteWithResult(r.breaker, ctx, func(ctx context.Context) (string, error) {
			return r.get(ctx, key)
		})
	})
	if err != nil {
		return nil, err
	}

	if !r.decodeJSON {
		return raw, nil
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("%w: key %q: %v", ErrDecode, key, err)
	}
	return value, nil
}

func (r *Redis) get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", resilience.Permanent(ErrKeyNotFound)
		}
		return "", fmt.Errorf("redis get error: %w", err)
	}
	return val, nil
}

// BreakerState returns the state of the loader's circuit breaker
func (r *Redis) BreakerState() resilience.State {
	return r.breaker.State()
}

// ClientOptions configures NewClient
type ClientOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewClient creates a go-redis client and verifies the connection
func NewClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// Scanner is the subset of the go-redis client ScanKeys needs
type Scanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// ScanKeys lists up to limit keys under prefix, with the prefix stripped.
// A limit of zero means no limit.
func ScanKeys(ctx context.Context, client Scanner, prefix string, limit int) ([]string, error) {
	var keys []string

	iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return keys, fmt.Errorf("redis scan error: %w", err)
	}

	return keys, nil
}
