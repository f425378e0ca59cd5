package main

import (
	"fmt"

	"github.com/agatticelli/policy-cache/internal/cache"
	"github.com/agatticelli/policy-cache/internal/loader"
	"github.com/agatticelli/policy-cache/internal/platform/config"
	"github.com/agatticelli/policy-cache/internal/platform/observability"
	"github.com/agatticelli/policy-cache/internal/platform/resilience"
)

func policyFromConfig(c config.CacheConfig) (cache.Policy, error) {
	strategy, err := cache.ParseStrategy(c.EvictionStrategy)
	if err != nil {
		return cache.Policy{}, err
	}

	return cache.Policy{
		MaxSize:            c.MaxSize,
		DefaultTTL:         c.DefaultTTL,
		EvictionStrategy:   strategy,
		CompressionEnabled: c.CompressionEnabled,
		EncryptionEnabled:  c.EncryptionEnabled,
		ReplicationFactor:  c.ReplicationFactor,
		PinCritical:        c.PinCritical,
	}, nil
}

func storeConfig(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (cache.Config, error) {
	policy, err := policyFromConfig(cfg.Cache)
	if err != nil {
		return cache.Config{}, fmt.Errorf("cache policy: %w", err)
	}

	key, err := cfg.Cache.EncryptionKeyBytes()
	if err != nil {
		return cache.Config{}, err
	}

	return cache.Config{
		Policy:        policy,
		MaxMemory:     cfg.Cache.MaxMemory,
		EncryptionKey: key,
		HistorySize:   cfg.Cache.HistorySize,
		Logger:        logger,
		Metrics:       metrics,
	}, nil
}

func schedulerConfig(c config.MaintenanceConfig) cache.SchedulerConfig {
	return cache.SchedulerConfig{
		ExpiryInterval: c.ExpiryInterval,
		RetuneInterval: c.RetuneInterval,
		SweepBatchSize: c.SweepBatchSize,
	}
}

func warmupConfig(c config.WarmupConfig) cache.WarmupConfig {
	return cache.WarmupConfig{
		Concurrency: c.Concurrency,
		LoadTimeout: c.LoadTimeout,
		Timeout:     c.Timeout,
		TTL:         c.TTL,
		Tags:        c.Tags,
	}
}

func loaderConfig(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) loader.RedisConfig {
	return loader.RedisConfig{
		KeyPrefix:  cfg.Warmup.KeyPrefix,
		DecodeJSON: cfg.Loader.DecodeJSON,
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Loader.Retry.MaxAttempts,
			BaseDelay:   cfg.Loader.Retry.BaseDelay,
			MaxDelay:    cfg.Loader.Retry.MaxDelay,
			Jitter:      cfg.Loader.Retry.Jitter,
		},
		RequestsPerMinute:       cfg.Loader.RateLimit.RequestsPerMinute,
		Burst:                   cfg.Loader.RateLimit.Burst,
		BreakerFailureThreshold: cfg.Loader.CircuitBreaker.FailureThreshold,
		BreakerTimeout:          cfg.Loader.CircuitBreaker.Timeout,
		Logger:                  logger,
		Metrics:                 metrics,
	}
}
