package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Metrics holds all cache metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	// Read path
	Requests metric.Int64Counter

	// Write path
	Sets      metric.Int64Counter
	Evictions metric.Int64Counter

	// Removal outside of eviction
	Expirations   metric.Int64Counter
	Invalidations metric.Int64Counter

	// Capacity
	MemoryUsage metric.Int64Gauge
	Entries     metric.Int64Gauge

	// Latency per operation
	OperationDuration metric.Float64Histogram

	// Warmup and maintenance
	WarmupLoads     metric.Int64Counter
	PriorityChanges metric.Int64Counter

	// Loader metrics
	LoaderCalls         metric.Int64Counter
	LoaderDuration      metric.Float64Histogram
	CircuitBreakerState metric.Int64Gauge

	enabled bool
}

// NewMetrics creates a new Metrics instance backed by a Prometheus exporter.
// When disabled, instruments come from the otel noop meter.
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		m := &Metrics{meter: noop.NewMeterProvider().Meter(serviceName)}
		if err := m.initMetrics(); err != nil {
			return nil, fmt.Errorf("failed to initialize noop metrics: %w", err)
		}
		return m, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:   provider.Meter(serviceName),
		enabled: true,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.Requests, err = m.meter.Int64Counter(
		"cache.requests",
		metric.WithDescription("Cache get requests by result (hit/miss)"),
	)
	if err != nil {
		return err
	}

	m.Sets, err = m.meter.Int64Counter(
		"cache.sets",
		metric.WithDescription("Cache set calls by status"),
	)
	if err != nil {
		return err
	}

	m.Evictions, err = m.meter.Int64Counter(
		"cache.evictions",
		metric.WithDescription("Entries evicted to free capacity"),
	)
	if err != nil {
		return err
	}

	m.Expirations, err = m.meter.Int64Counter(
		"cache.expirations",
		metric.WithDescription("Entries removed after their TTL elapsed"),
	)
	if err != nil {
		return err
	}

	m.Invalidations, err = m.meter.Int64Counter(
		"cache.invalidations",
		metric.WithDescription("Entries removed by tag invalidation"),
	)
	if err != nil {
		return err
	}

	m.MemoryUsage, err = m.meter.Int64Gauge(
		"cache.memory.usage",
		metric.WithDescription("Bytes accounted to live entries"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	m.Entries, err = m.meter.Int64Gauge(
		"cache.entries",
		metric.WithDescription("Number of live entries"),
	)
	if err != nil {
		return err
	}

	m.OperationDuration, err = m.meter.Float64Histogram(
		"cache.operation.duration",
		metric.WithDescription("Cache operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.WarmupLoads, err = m.meter.Int64Counter(
		"cache.warmup.loads",
		metric.WithDescription("Warmup loader invocations by status"),
	)
	if err != nil {
		return err
	}

	m.PriorityChanges, err = m.meter.Int64Counter(
		"cache.priority.changes",
		metric.WithDescription("Automatic priority adjustments by target priority"),
	)
	if err != nil {
		return err
	}

	m.LoaderCalls, err = m.meter.Int64Counter(
		"loader.calls",
		metric.WithDescription("Backing store calls made by loaders"),
	)
	if err != nil {
		return err
	}

	m.LoaderDuration, err = m.meter.Float64Histogram(
		"loader.duration",
		metric.WithDescription("Backing store call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"loader.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordRequest records a get result
func (m *Metrics) RecordRequest(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.Requests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSet records a set outcome
func (m *Metrics) RecordSet(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Sets.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordEviction records an eviction under the given strategy
func (m *Metrics) RecordEviction(ctx context.Context, strategy string) {
	if m == nil {
		return
	}
	m.Evictions.Add(ctx, 1, metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordExpirations records n expired entries removed by source (lazy or sweep)
func (m *Metrics) RecordExpirations(ctx context.Context, n int, source string) {
	if m == nil || n == 0 {
		return
	}
	m.Expirations.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}

// RecordInvalidations records n entries removed by tag invalidation
func (m *Metrics) RecordInvalidations(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Invalidations.Add(ctx, int64(n))
}

// RecordCapacity records current memory usage and entry count
func (m *Metrics) RecordCapacity(ctx context.Context, memoryUsage int64, entries int) {
	if m == nil {
		return
	}
	m.MemoryUsage.Record(ctx, memoryUsage)
	m.Entries.Record(ctx, int64(entries))
}

// RecordOperation records the duration of a cache operation
func (m *Metrics) RecordOperation(ctx context.Context, op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OperationDuration.Record(ctx, float64(duration.Microseconds())/1000.0,
		metric.WithAttributes(attribute.String("op", op)))
}

// RecordWarmupLoad records one warmup load outcome (loaded, skipped, failed)
func (m *Metrics) RecordWarmupLoad(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.WarmupLoads.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordPriorityChange records an automatic priority adjustment
func (m *Metrics) RecordPriorityChange(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.PriorityChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("to", to)))
}

// RecordLoaderCall records a backing store call made by a loader
func (m *Metrics) RecordLoaderCall(ctx context.Context, source, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.String("status", status),
	}
	m.LoaderCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.LoaderDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, name string, state int64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("breaker", name)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil || !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("metrics not available"))
		})
	}
	// The otel Prometheus exporter registers with the default registry
	return promhttp.Handler()
}
