package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig configures the metric pipeline.
type MetricsConfig struct {
	ServiceName string
	Version     string
	Enabled     bool
	// OTLPEndpoint, when set, adds a periodic OTLP/gRPC reader next to Prometheus.
	OTLPEndpoint string
	OTLPInsecure bool
	OTLPInterval time.Duration
}

// Metrics holds all application metrics
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	// Cache
	CacheRequests metric.Int64Counter

	// Outbound backend calls
	BackendCalls    metric.Int64Counter
	BackendDuration metric.Float64Histogram
	BackendRetries  metric.Int64Counter

	// Orchestration
	Fallbacks           metric.Int64Counter
	ChainFailures       metric.Int64Counter
	LimiterDenials      metric.Int64Counter
	GateWait            metric.Float64Histogram
	CircuitBreakerState metric.Int64Gauge

	// Inbound API
	Requests        metric.Int64Counter
	RequestDuration metric.Float64Histogram

	Errors metric.Int64Counter
}

// NewMetrics creates a new Metrics instance. Disabled metrics record into a
// no-op meter so callers never need nil checks.
func NewMetrics(ctx context.Context, cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		m := &Metrics{meter: noop.NewMeterProvider().Meter(cfg.ServiceName)}
		if err := m.initMetrics(); err != nil {
			return nil, err
		}
		return m, nil
	}

	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	registry := promclient.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}

	if cfg.OTLPEndpoint != "" {
		otlpOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			otlpOpts = append(otlpOpts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, otlpOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		interval := cfg.OTLPInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	}

	provider := sdkmetric.NewMeterProvider(opts...)

	m := &Metrics{
		meter:    provider.Meter(cfg.ServiceName),
		provider: provider,
		registry: registry,
	}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	if m.CacheRequests, err = m.meter.Int64Counter(
		"answers.cache.requests",
		metric.WithDescription("Result cache lookups by operation and status (hit/miss)"),
	); err != nil {
		return err
	}

	if m.BackendCalls, err = m.meter.Int64Counter(
		"answers.backend.calls",
		metric.WithDescription("Outbound backend attempts"),
	); err != nil {
		return err
	}

	if m.BackendDuration, err = m.meter.Float64Histogram(
		"answers.backend.duration",
		metric.WithDescription("Outbound backend attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if m.BackendRetries, err = m.meter.Int64Counter(
		"answers.backend.retries",
		metric.WithDescription("Retries scheduled after a failed attempt, by failure kind"),
	); err != nil {
		return err
	}

	if m.Fallbacks, err = m.meter.Int64Counter(
		"answers.fallbacks",
		metric.WithDescription("Backends abandoned in favour of the next one in the chain"),
	); err != nil {
		return err
	}

	if m.ChainFailures, err = m.meter.Int64Counter(
		"answers.chain.failures",
		metric.WithDescription("Operations where every backend failed"),
	); err != nil {
		return err
	}

	if m.LimiterDenials, err = m.meter.Int64Counter(
		"answers.limiter.denials",
		metric.WithDescription("Token bucket denials"),
	); err != nil {
		return err
	}

	if m.GateWait, err = m.meter.Float64Histogram(
		"answers.gate.wait",
		metric.WithDescription("Time spent waiting on the serializing gate in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"answers.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	); err != nil {
		return err
	}

	if m.Requests, err = m.meter.Int64Counter(
		"answers.http.requests",
		metric.WithDescription("Inbound API requests"),
	); err != nil {
		return err
	}

	if m.RequestDuration, err = m.meter.Float64Histogram(
		"answers.http.duration",
		metric.WithDescription("Inbound API request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if m.Errors, err = m.meter.Int64Counter(
		"answers.errors",
		metric.WithDescription("Total errors encountered"),
	); err != nil {
		return err
	}

	return nil
}

// RecordCacheRequest records a cache lookup
func (m *Metrics) RecordCacheRequest(ctx context.Context, operation string, hit bool) {
	status := "miss"
	if hit {
		status = "hit"
	}
	m.CacheRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

// RecordBackendCall records one outbound attempt
func (m *Metrics) RecordBackendCall(ctx context.Context, operation, backend, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", backend),
		attribute.String("status", status),
	)
	m.BackendCalls.Add(ctx, 1, attrs)
	m.BackendDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordRetry records a scheduled retry
func (m *Metrics) RecordRetry(ctx context.Context, operation, backend, kind string) {
	m.BackendRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", backend),
		attribute.String("kind", kind),
	))
}

// RecordFallback records moving past a failed backend
func (m *Metrics) RecordFallback(ctx context.Context, operation, backend, reason string) {
	m.Fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", backend),
		attribute.String("reason", reason),
	))
}

// RecordChainFailure records an exhausted fallback chain
func (m *Metrics) RecordChainFailure(ctx context.Context, operation string) {
	m.ChainFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordLimiterDenial records a token bucket denial
func (m *Metrics) RecordLimiterDenial(ctx context.Context, operation, backend string) {
	m.LimiterDenials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("backend", backend),
	))
}

// RecordGateWait records time spent queued on the gate
func (m *Metrics) RecordGateWait(ctx context.Context, wait time.Duration) {
	m.GateWait.Record(ctx, float64(wait.Milliseconds()))
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, backend string, state int64) {
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordRequest records an inbound API request
func (m *Metrics) RecordRequest(ctx context.Context, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.Requests.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes pending exports
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
