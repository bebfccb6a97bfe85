package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/agatticelli/grounded-answers/internal/platform/cache"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

// Limiter hands out call permits. Both resilience.RateLimiter and
// resilience.AdaptiveLimiter satisfy it.
type Limiter interface {
	Acquire(ctx context.Context, timeout time.Duration) bool
}

// attemptObserver is implemented by limiters that adapt to call outcomes.
type attemptObserver interface {
	Observe(resilience.Attempt)
}

// Backend is a configured backend plus the guards that protect it.
type Backend struct {
	Config  BackendConfig
	Limiter Limiter
	Breaker *resilience.CircuitBreaker

	inFlight *semaphore.Weighted
}

// NewBackend wires the guards for one backend. limiter and breaker are optional.
func NewBackend(cfg BackendConfig, limiter Limiter, breaker *resilience.CircuitBreaker) *Backend {
	b := &Backend{Config: cfg, Limiter: limiter, Breaker: breaker}
	if cfg.MaxInFlight > 0 {
		b.inFlight = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	return b
}

// Name returns the backend name
func (b *Backend) Name() string {
	return b.Config.Name
}

// CallFunc performs a single attempt against one backend.
type CallFunc[Req, T any] func(ctx context.Context, backend BackendConfig, req Req) (T, error)

// ChainConfig configures a Chain.
type ChainConfig[Req, T any] struct {
	// Operation labels logs, metrics and cache keys ("generate", "search").
	Operation string
	Backends  []*Backend
	Call      CallFunc[Req, T]
	Retry     resilience.RetryConfig
	// Cache is shared by every backend; keys are scoped per backend. Optional.
	Cache *cache.Typed[T]
	// Cacheable filters which successful values are stored. nil stores all.
	Cacheable func(T) bool
	// AcquireTimeout bounds how long a run waits on a backend's limiter.
	AcquireTimeout time.Duration
	// OverallTimeout bounds a full sweep over the chain. 0 = unbounded.
	OverallTimeout time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// Chain tries backends strictly in ascending priority until one succeeds.
type Chain[Req, T any] struct {
	operation      string
	backends       []*Backend
	byName         map[string]*Backend
	call           CallFunc[Req, T]
	retry          resilience.RetryConfig
	cache          *cache.Typed[T]
	cacheable      func(T) bool
	acquireTimeout time.Duration
	overallTimeout time.Duration

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
}

// NewChain creates a chain. Backends are ordered by priority once, here.
func NewChain[Req, T any](cfg ChainConfig[Req, T]) *Chain[Req, T] {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = disabledMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	configs := make([]BackendConfig, len(cfg.Backends))
	for i, b := range cfg.Backends {
		configs[i] = b.Config
	}
	byName := make(map[string]*Backend, len(cfg.Backends))
	for _, b := range cfg.Backends {
		byName[b.Name()] = b
	}
	ordered := make([]*Backend, 0, len(cfg.Backends))
	for _, c := range SortByPriority(configs) {
		ordered = append(ordered, byName[c.Name])
	}

	return &Chain[Req, T]{
		operation:      cfg.Operation,
		backends:       ordered,
		byName:         byName,
		call:           cfg.Call,
		retry:          cfg.Retry,
		cache:          cfg.Cache,
		cacheable:      cfg.Cacheable,
		acquireTimeout: cfg.AcquireTimeout,
		overallTimeout: cfg.OverallTimeout,
		logger:         cfg.Logger.Component(cfg.Operation + "-chain"),
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
	}
}

// Backends returns the backends in the order they are tried.
func (c *Chain[Req, T]) Backends() []*Backend {
	out := make([]*Backend, len(c.backends))
	copy(out, c.backends)
	return out
}

// Backend looks a backend up by name.
func (c *Chain[Req, T]) Backend(name string) (*Backend, bool) {
	b, ok := c.byName[name]
	return b, ok
}

// Run tries every backend in priority order.
func (c *Chain[Req, T]) Run(ctx context.Context, fingerprint string, req Req) (Result[T], error) {
	return c.run(ctx, c.backends, fingerprint, req)
}

// RunOn tries only the named backends, in the given order. Unknown names are skipped.
func (c *Chain[Req, T]) RunOn(ctx context.Context, names []string, fingerprint string, req Req) (Result[T], error) {
	return c.run(ctx, c.pick(names), fingerprint, req)
}

// Cached returns the fresh cached value of the first named backend (the
// first backend in priority order when names is nil), without calling out.
// Entries of later backends are only served by Run, after every backend
// ahead of them has been tried.
func (c *Chain[Req, T]) Cached(ctx context.Context, names []string, fingerprint string) (Result[T], bool) {
	backends := c.backends
	if names != nil {
		backends = c.pick(names)
	}
	if len(backends) == 0 {
		return Result[T]{}, false
	}
	return c.lookup(ctx, backends[0], fingerprint, false)
}

// Lookup returns the cached value stored for one backend.
func (c *Chain[Req, T]) Lookup(ctx context.Context, backend, fingerprint string) (T, bool) {
	var zero T
	if c.cache == nil {
		return zero, false
	}
	return c.cache.Lookup(ctx, CacheKey(c.operation, fingerprint, backend))
}

// CacheStats reports the shared cache.
func (c *Chain[Req, T]) CacheStats() cache.Stats {
	if c.cache == nil {
		return cache.Stats{}
	}
	return c.cache.Stats()
}

// ClearCache drops every cached value of this chain.
func (c *Chain[Req, T]) ClearCache(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Clear(ctx)
}

func (c *Chain[Req, T]) pick(names []string) []*Backend {
	picked := make([]*Backend, 0, len(names))
	for _, name := range names {
		if b, ok := c.byName[name]; ok {
			picked = append(picked, b)
		}
	}
	return picked
}

// lookup checks one backend's cache entry. Misses are only counted when
// countMiss is set so a pre-check followed by a run counts each miss once.
func (c *Chain[Req, T]) lookup(ctx context.Context, b *Backend, fingerprint string, countMiss bool) (Result[T], bool) {
	if c.cache == nil {
		return Result[T]{}, false
	}
	value, ok := c.cache.Lookup(ctx, CacheKey(c.operation, fingerprint, b.Name()))
	if ok || countMiss {
		c.metrics.RecordCacheRequest(ctx, c.operation, ok)
	}
	if !ok {
		return Result[T]{}, false
	}
	c.logger.LogDebug(ctx, "cache hit", "operation", c.operation, "backend", b.Name())
	return Result[T]{Value: value, Backend: b.Name(), FromCache: true}, true
}

func (c *Chain[Req, T]) run(ctx context.Context, backends []*Backend, fingerprint string, req Req) (Result[T], error) {
	ctx, span := c.tracer.StartSpan(ctx, "FallbackChain.Run",
		observability.WithAttributes(
			attribute.String("operation", c.operation),
			attribute.Int("backends", len(backends)),
		),
	)
	defer span.End()

	if c.overallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.overallTimeout)
		defer cancel()
	}

	failures := make([]BackendFailure, 0, len(backends))
	for _, b := range backends {
		if err := ctx.Err(); err != nil {
			failures = append(failures, newBackendFailure(b.Name(), err))
			break
		}

		if res, ok := c.lookup(ctx, b, fingerprint, true); ok {
			span.SetAttribute("backend", b.Name())
			span.SetAttribute("cache_hit", true)
			return res, nil
		}

		value, err := c.callBackend(ctx, b, req)
		if err == nil {
			if c.cache != nil && (c.cacheable == nil || c.cacheable(value)) {
				if cerr := c.cache.Set(ctx, CacheKey(c.operation, fingerprint, b.Name()), value); cerr != nil {
					c.logger.LogWarn(ctx, "cache store failed", "backend", b.Name(), "error", cerr)
				}
			}
			span.SetAttribute("backend", b.Name())
			span.SetStatus(observability.SpanStatusOK, "")
			return Result[T]{Value: value, Backend: b.Name()}, nil
		}

		failure := newBackendFailure(b.Name(), err)
		failures = append(failures, failure)
		c.metrics.RecordFallback(ctx, c.operation, b.Name(), failure.Reason)
		c.logger.LogWarn(ctx, "backend failed, falling back",
			"operation", c.operation,
			"backend", b.Name(),
			"reason", failure.Reason,
			"attempts", failure.Attempts,
			"error", err,
		)
	}

	chainErr := &AllBackendsFailedError{Operation: c.operation, Failures: failures}
	c.metrics.RecordChainFailure(ctx, c.operation)
	c.logger.LogError(ctx, "all backends failed", chainErr, "operation", c.operation, "backends", len(backends))
	span.NoticeError(chainErr)
	return Result[T]{}, chainErr
}

// callBackend runs breaker -> limiter -> in-flight cap -> retry loop for one backend.
func (c *Chain[Req, T]) callBackend(ctx context.Context, b *Backend, req Req) (T, error) {
	var zero T

	if b.Breaker != nil {
		if err := b.Breaker.Allow(); err != nil {
			return zero, err
		}
	}

	if b.Limiter != nil && !b.Limiter.Acquire(ctx, c.acquireTimeout) {
		c.metrics.RecordLimiterDenial(ctx, c.operation, b.Name())
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, resilience.ErrLimiterDenied
	}

	if b.inFlight != nil {
		if err := b.inFlight.Acquire(ctx, 1); err != nil {
			return zero, err
		}
		defer b.inFlight.Release(1)
	}

	ctx, span := c.tracer.StartSpan(ctx, "Backend.Call",
		observability.WithAttributes(
			attribute.String("operation", c.operation),
			attribute.String("backend", b.Name()),
		),
	)
	defer span.End()

	start := time.Now()
	value, err := resilience.RetryWithResult(ctx, c.retryConfigFor(ctx, b), b.Name(), func(ctx context.Context) (T, error) {
		return c.call(ctx, b.Config, req)
	})
	duration := time.Since(start)

	if b.Breaker != nil {
		b.Breaker.Record(err)
	}

	status := "success"
	if err != nil {
		status = newBackendFailure(b.Name(), err).Reason
		span.NoticeError(err)
	}
	c.metrics.RecordBackendCall(ctx, c.operation, b.Name(), status, duration)

	return value, err
}

func (c *Chain[Req, T]) retryConfigFor(ctx context.Context, b *Backend) resilience.RetryConfig {
	cfg := c.retry
	if b.Config.Timeout > 0 {
		cfg.AttemptTimeout = b.Config.Timeout
	}

	observer, _ := b.Limiter.(attemptObserver)
	next := cfg.OnAttempt
	cfg.OnAttempt = func(a resilience.Attempt) {
		if observer != nil {
			observer.Observe(a)
		}
		if a.Kind != resilience.KindNone && a.Delay > 0 {
			c.metrics.RecordRetry(ctx, c.operation, b.Name(), a.Kind.String())
			c.logger.LogWarn(ctx, "backend attempt failed, retrying",
				"operation", c.operation,
				"backend", b.Name(),
				"attempt", a.Number,
				"kind", a.Kind.String(),
				"delay_ms", a.Delay.Milliseconds(),
				"error", a.Err,
			)
		}
		if next != nil {
			next(a)
		}
	}
	return cfg
}

func disabledMetrics() *observability.Metrics {
	m, err := observability.NewMetrics(context.Background(), observability.MetricsConfig{ServiceName: "orchestrator"})
	if err != nil {
		// instrument creation on the no-op meter cannot fail
		panic(err)
	}
	return m
}
