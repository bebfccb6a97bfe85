package orchestrator

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/agatticelli/grounded-answers/internal/platform/cache"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

const (
	opGenerate = "generate"
	opSearch   = "search"
)

// LimitConfig configures the per-backend token buckets of one operation.
type LimitConfig struct {
	RequestsPerMinute int // 0 disables limiting
	Burst             int
	AcquireTimeout    time.Duration
	// Adaptive halves a backend's refill rate on explicit throttling.
	Adaptive bool
}

// OperationConfig configures the chain behind one logical operation.
type OperationConfig struct {
	Backends []BackendConfig
	Retry    resilience.RetryConfig
	Limit    LimitConfig
	// Breaker is the template for per-backend circuit breakers. nil disables them.
	Breaker *resilience.CircuitBreakerConfig
	// Cache stores results; nil builds an in-memory cache from CacheTTL/CacheCapacity.
	Cache         cache.Cache
	CacheTTL      time.Duration
	CacheCapacity int
	// OverallTimeout bounds a full fallback sweep. 0 = unbounded.
	OverallTimeout time.Duration
}

// Config configures an Orchestrator.
type Config struct {
	Generation OperationConfig
	// GateInterval is the minimum spacing between generation calls process-wide.
	GateInterval time.Duration

	Search            OperationConfig
	DefaultProvider   string
	DefaultMaxResults int
	// Failover tries the remaining credentialed providers after the selected one fails.
	Failover bool

	Generator Generator
	Searcher  Searcher

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// Orchestrator is the entry point for answer generation and web search.
type Orchestrator struct {
	generation *Chain[GenerationRequest, string]
	search     *Chain[SearchRequest, []SearchResult]
	gate       *resilience.Gate

	defaultProvider   string
	defaultMaxResults int
	failover          bool

	inflight singleflight.Group

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
}

// New builds an orchestrator and every guard it owns.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if len(cfg.Generation.Backends) == 0 {
		return nil, errors.New("at least one generation backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = disabledMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = 5
	}

	o := &Orchestrator{
		defaultProvider:   strings.ToLower(cfg.DefaultProvider),
		defaultMaxResults: cfg.DefaultMaxResults,
		failover:          cfg.Failover,
		logger:            cfg.Logger.Component("orchestrator"),
		metrics:           cfg.Metrics,
		tracer:            cfg.Tracer,
	}

	o.gate = resilience.NewGate(resilience.GateConfig{MinInterval: cfg.GateInterval})

	o.generation = NewChain(ChainConfig[GenerationRequest, string]{
		Operation:      opGenerate,
		Backends:       o.buildBackends(opGenerate, cfg.Generation),
		Call:           cfg.Generator.Generate,
		Retry:          cfg.Generation.Retry,
		Cache:          cache.NewTyped[string](buildCache(cfg.Generation), cfg.Generation.CacheTTL),
		AcquireTimeout: cfg.Generation.Limit.AcquireTimeout,
		OverallTimeout: cfg.Generation.OverallTimeout,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		Tracer:         cfg.Tracer,
	})

	o.search = NewChain(ChainConfig[SearchRequest, []SearchResult]{
		Operation:      opSearch,
		Backends:       o.buildBackends(opSearch, cfg.Search),
		Call:           cfg.Searcher.Search,
		Retry:          cfg.Search.Retry,
		Cache:          cache.NewTyped[[]SearchResult](buildCache(cfg.Search), cfg.Search.CacheTTL),
		Cacheable:      func(results []SearchResult) bool { return len(results) > 0 },
		AcquireTimeout: cfg.Search.Limit.AcquireTimeout,
		OverallTimeout: cfg.Search.OverallTimeout,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		Tracer:         cfg.Tracer,
	})

	return o, nil
}

func buildCache(cfg OperationConfig) cache.Cache {
	if cfg.Cache != nil {
		return cfg.Cache
	}
	return cache.NewMemoryCache(cache.MemoryConfig{
		Capacity: cfg.CacheCapacity,
		TTL:      cfg.CacheTTL,
	})
}

func (o *Orchestrator) buildBackends(operation string, cfg OperationConfig) []*Backend {
	backends := make([]*Backend, 0, len(cfg.Backends))
	for _, bc := range SortByPriority(cfg.Backends) {
		var limiter Limiter
		if cfg.Limit.RequestsPerMinute > 0 {
			if cfg.Limit.Adaptive {
				limiter = resilience.NewAdaptiveLimiterFromRPM(cfg.Limit.RequestsPerMinute, cfg.Limit.Burst)
			} else {
				limiter = resilience.NewRateLimiterFromRPM(cfg.Limit.RequestsPerMinute, cfg.Limit.Burst)
			}
		}

		var breaker *resilience.CircuitBreaker
		if cfg.Breaker != nil {
			bcfg := *cfg.Breaker
			bcfg.Name = bc.Name
			bcfg.OnStateChange = func(name string, from, to resilience.State) {
				o.logger.LogWarn(context.Background(), "circuit breaker state changed",
					"operation", operation,
					"backend", name,
					"from", from.String(),
					"to", to.String(),
				)
				o.metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
			}
			breaker = resilience.NewCircuitBreaker(bcfg)
		}

		backends = append(backends, NewBackend(bc, limiter, breaker))
	}
	return backends
}

// GenerateAnswer returns generated text for req from the first generation
// backend, in priority order, that produces one. Concurrent identical
// requests share a single execution.
func (o *Orchestrator) GenerateAnswer(ctx context.Context, req GenerationRequest) (Result[string], error) {
	start := time.Now()
	fp := req.Fingerprint()

	ctx, span := o.tracer.StartSpan(ctx, "Orchestrator.GenerateAnswer",
		observability.WithAttributes(attribute.Int("prompt_length", len(req.Prompt))),
	)
	defer span.End()

	if res, ok := o.generation.Cached(ctx, nil, fp); ok {
		span.SetAttribute("cache_hit", true)
		return res, nil
	}

	res, err := coalesce(ctx, &o.inflight, opGenerate, opGenerate+":"+fp, func(ctx context.Context) (Result[string], error) {
		wait := time.Now()
		if err := o.gate.Acquire(ctx); err != nil {
			return Result[string]{}, &AllBackendsFailedError{
				Operation: opGenerate,
				Failures:  []BackendFailure{newBackendFailure("gate", err)},
			}
		}
		o.metrics.RecordGateWait(ctx, time.Since(wait))
		return o.generation.Run(ctx, fp, req)
	})
	if err != nil {
		span.NoticeError(err)
		return Result[string]{}, err
	}

	span.SetAttribute("backend", res.Backend)
	o.logger.LogInfo(ctx, "answer generated",
		"backend", res.Backend,
		"from_cache", res.FromCache,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Search returns web results for req from the requested provider, the
// default provider, or any credentialed provider, in that order of preference.
// With failover enabled the remaining credentialed providers are tried next.
func (o *Orchestrator) Search(ctx context.Context, req SearchRequest) (Result[[]SearchResult], error) {
	start := time.Now()
	if req.MaxResults <= 0 {
		req.MaxResults = o.defaultMaxResults
	}

	ctx, span := o.tracer.StartSpan(ctx, "Orchestrator.Search",
		observability.WithAttributes(
			attribute.String("provider", req.Provider),
			attribute.Int("max_results", req.MaxResults),
		),
	)
	defer span.End()

	order := o.providerOrder(req.Provider)
	if len(order) == 0 {
		err := &AllBackendsFailedError{
			Operation: opSearch,
			Failures:  []BackendFailure{{Backend: "none", Reason: ReasonNoProvider, Err: ErrNoProvider}},
		}
		span.NoticeError(err)
		return Result[[]SearchResult]{}, err
	}

	fp := req.Fingerprint()
	if res, ok := o.search.Cached(ctx, order, fp); ok {
		span.SetAttribute("cache_hit", true)
		return cloneResults(res), nil
	}

	key := opSearch + ":" + strings.Join(order, ",") + ":" + fp
	res, err := coalesce(ctx, &o.inflight, opSearch, key, func(ctx context.Context) (Result[[]SearchResult], error) {
		return o.search.RunOn(ctx, order, fp, req)
	})
	if err != nil {
		span.NoticeError(err)
		return Result[[]SearchResult]{}, err
	}

	span.SetAttribute("provider", res.Backend)
	o.logger.LogInfo(ctx, "search completed",
		"provider", res.Backend,
		"results", len(res.Value),
		"from_cache", res.FromCache,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return cloneResults(res), nil
}

// providerOrder picks the provider to use first and, with failover, the rest.
// Providers without a credential are never selected.
func (o *Orchestrator) providerOrder(requested string) []string {
	available := o.AvailableProviders()
	if len(available) == 0 {
		return nil
	}

	first := available[0]
	for _, candidate := range []string{strings.ToLower(requested), o.defaultProvider} {
		if candidate != "" && slices.Contains(available, candidate) {
			first = candidate
			break
		}
	}

	order := []string{first}
	if o.failover {
		for _, name := range available {
			if name != first {
				order = append(order, name)
			}
		}
	}
	return order
}

// AvailableProviders lists credentialed search providers in priority order.
func (o *Orchestrator) AvailableProviders() []string {
	var names []string
	for _, b := range o.search.Backends() {
		if b.Config.HasCredential() {
			names = append(names, b.Name())
		}
	}
	return names
}

// DefaultProvider returns the provider used when a search names none.
func (o *Orchestrator) DefaultProvider() string {
	order := o.providerOrder("")
	if len(order) == 0 {
		return o.defaultProvider
	}
	return order[0]
}

// CachedAnswer returns the answer cached for req under one backend.
func (o *Orchestrator) CachedAnswer(ctx context.Context, req GenerationRequest, backend string) (string, bool) {
	return o.generation.Lookup(ctx, backend, req.Fingerprint())
}

// ClearCaches drops every cached answer and search result.
func (o *Orchestrator) ClearCaches(ctx context.Context) error {
	return errors.Join(o.generation.ClearCache(ctx), o.search.ClearCache(ctx))
}

// coalesce runs fn once per key among concurrent callers. The shared
// execution is detached from any single caller's cancellation; each caller
// still stops waiting when its own context ends.
func coalesce[T any](ctx context.Context, group *singleflight.Group, operation, key string, fn func(context.Context) (T, error)) (T, error) {
	shared := context.WithoutCancel(ctx)
	ch := group.DoChan(key, func() (any, error) {
		return fn(shared)
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, &AllBackendsFailedError{
			Operation: operation,
			Failures:  []BackendFailure{newBackendFailure("caller", ctx.Err())},
		}
	case r := <-ch:
		if r.Err != nil {
			var zero T
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}

func cloneResults(res Result[[]SearchResult]) Result[[]SearchResult] {
	res.Value = slices.Clone(res.Value)
	return res
}
