package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. CACHE_CACHE_MAX_MEMORY
const EnvPrefix = "CACHE"

// Config holds all configuration for the cache service
type Config struct {
	Cache         CacheConfig         `mapstructure:"cache"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	Warmup        WarmupConfig        `mapstructure:"warmup"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Loader        LoaderConfig        `mapstructure:"loader"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// CacheConfig holds the store policy and budget
type CacheConfig struct {
	MaxMemory          int64         `mapstructure:"max_memory"` // bytes
	MaxSize            int           `mapstructure:"max_size"`   // entries, 0 = unlimited
	DefaultTTL         time.Duration `mapstructure:"default_ttl"`
	EvictionStrategy   string        `mapstructure:"eviction_strategy"`
	CompressionEnabled bool          `mapstructure:"compression_enabled"`
	EncryptionEnabled  bool          `mapstructure:"encryption_enabled"`
	EncryptionKey      string        `mapstructure:"encryption_key"` // hex, 32 bytes
	PinCritical        bool          `mapstructure:"pin_critical"`
	HistorySize        int           `mapstructure:"history_size"`
	ReplicationFactor  int           `mapstructure:"replication_factor"`
}

// EncryptionKeyBytes decodes the hex encryption key
func (c CacheConfig) EncryptionKeyBytes() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	return key, nil
}

// MaintenanceConfig holds background maintenance settings
type MaintenanceConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
	RetuneInterval time.Duration `mapstructure:"retune_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
}

// WarmupConfig holds startup warmup settings
type WarmupConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	MaxKeys     int           `mapstructure:"max_keys"`
	Concurrency int           `mapstructure:"concurrency"`
	LoadTimeout time.Duration `mapstructure:"load_timeout"`
	Timeout     time.Duration `mapstructure:"timeout"`
	TTL         time.Duration `mapstructure:"ttl"`
	Tags        []string      `mapstructure:"tags"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LoaderConfig holds resilience settings for the warmup loader
type LoaderConfig struct {
	DecodeJSON     bool                 `mapstructure:"decode_json"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Retry          RetryConfig          `mapstructure:"retry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      float64       `mapstructure:"jitter"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	Endpoint string  `mapstructure:"endpoint"`
	Sampler  string  `mapstructure:"sampler"` // always, never, ratio
	Ratio    float64 `mapstructure:"ratio"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal; defaults and env still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Cache defaults
	v.SetDefault("cache.max_memory", 100*1024*1024)
	v.SetDefault("cache.max_size", 0)
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.eviction_strategy", "lru")
	v.SetDefault("cache.compression_enabled", false)
	v.SetDefault("cache.encryption_enabled", false)
	v.SetDefault("cache.encryption_key", "")
	v.SetDefault("cache.pin_critical", false)
	v.SetDefault("cache.history_size", 100)
	v.SetDefault("cache.replication_factor", 1)

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.expiry_interval", "60s")
	v.SetDefault("maintenance.retune_interval", "5m")
	v.SetDefault("maintenance.sweep_batch_size", 256)

	// Warmup defaults
	v.SetDefault("warmup.enabled", false)
	v.SetDefault("warmup.key_prefix", "")
	v.SetDefault("warmup.max_keys", 10000)
	v.SetDefault("warmup.concurrency", 8)
	v.SetDefault("warmup.load_timeout", "5s")
	v.SetDefault("warmup.timeout", "30s")
	v.SetDefault("warmup.ttl", "0s")
	v.SetDefault("warmup.tags", []string{})

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	// Loader defaults
	v.SetDefault("loader.decode_json", true)
	v.SetDefault("loader.rate_limit.requests_per_minute", 0)
	v.SetDefault("loader.rate_limit.burst", 50)
	v.SetDefault("loader.retry.max_attempts", 3)
	v.SetDefault("loader.retry.base_delay", "100ms")
	v.SetDefault("loader.retry.max_delay", "2s")
	v.SetDefault("loader.retry.jitter", 0.1)
	v.SetDefault("loader.circuit_breaker.failure_threshold", 5)
	v.SetDefault("loader.circuit_breaker.timeout", "30s")

	// Observability defaults
	v.SetDefault("observability.service_name", "policy-cache")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sampler", "always")
	v.SetDefault("observability.tracing.ratio", 1.0)

	// HTTP defaults
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "15s")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Cache validation
	if c.Cache.MaxMemory <= 0 {
		return fmt.Errorf("cache max memory must be > 0")
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache max size must be >= 0")
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache default ttl must be > 0")
	}

	validStrategies := map[string]bool{
		"lru":          true,
		"lfu":          true,
		"ttl":          true,
		"priority":     true,
		"ai_optimized": true,
	}
	if !validStrategies[c.Cache.EvictionStrategy] {
		return fmt.Errorf("invalid eviction strategy: %s", c.Cache.EvictionStrategy)
	}

	if c.Cache.EncryptionEnabled {
		key, err := c.Cache.EncryptionKeyBytes()
		if err != nil {
			return err
		}
		if len(key) != 32 {
			return fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
		}
	}

	// Maintenance validation
	if c.Maintenance.Enabled {
		if c.Maintenance.ExpiryInterval <= 0 || c.Maintenance.RetuneInterval <= 0 {
			return fmt.Errorf("maintenance intervals must be > 0")
		}
	}

	// Warmup validation
	if c.Warmup.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required when warmup is enabled")
		}
		if c.Warmup.Concurrency <= 0 {
			return fmt.Errorf("warmup concurrency must be > 0")
		}
		if c.Warmup.LoadTimeout <= 0 {
			return fmt.Errorf("warmup load timeout must be > 0")
		}
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	validSamplers := map[string]bool{
		"always": true,
		"never":  true,
		"ratio":  true,
	}
	if c.Observability.Tracing.Enabled && !validSamplers[c.Observability.Tracing.Sampler] {
		return fmt.Errorf("invalid tracing sampler: %s", c.Observability.Tracing.Sampler)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}

	return nil
}
