// Package app wires configuration into a running answer service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/agatticelli/grounded-answers/internal/answer"
	"github.com/agatticelli/grounded-answers/internal/llm"
	"github.com/agatticelli/grounded-answers/internal/notification"
	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/platform/aws"
	"github.com/agatticelli/grounded-answers/internal/platform/cache"
	"github.com/agatticelli/grounded-answers/internal/platform/config"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
	"github.com/agatticelli/grounded-answers/internal/retrieval"
	"github.com/agatticelli/grounded-answers/internal/server"
	"github.com/agatticelli/grounded-answers/internal/websearch"
)

// Options overrides collaborators. Zero values use the production ones.
type Options struct {
	Version string
	Logger  *observability.Logger
	// Generator and Searcher replace the HTTP callers.
	Generator orchestrator.Generator
	Searcher  orchestrator.Searcher
	// DocumentIndex enables the pdf, hybrid and restricted document paths.
	DocumentIndex retrieval.DocumentIndex
	// SNSAPI replaces the SDK client used for query events.
	SNSAPI aws.PublishAPI
	// Metrics replaces the instruments built from config.
	Metrics *observability.Metrics
}

// App holds every long-lived component.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Orchestrator *orchestrator.Orchestrator
	Retriever    *retrieval.Retriever
	Answers      *answer.Service
	Publisher    notification.EventPublisher

	tracer  *observability.TracerProvider
	closers []func(context.Context) error
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}

	a.Logger = opts.Logger
	if a.Logger == nil {
		a.Logger = observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	}

	a.Metrics = opts.Metrics
	if a.Metrics == nil {
		metrics, err := observability.NewMetrics(ctx, observability.MetricsConfig{
			ServiceName:  cfg.Observability.ServiceName,
			Version:      opts.Version,
			Enabled:      cfg.Observability.Metrics.Enabled,
			OTLPEndpoint: cfg.Observability.Metrics.OTLPEndpoint,
			OTLPInsecure: true,
			OTLPInterval: cfg.Observability.Metrics.OTLPInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		a.Metrics = metrics
		a.closers = append(a.closers, metrics.Shutdown)
	}

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		ServiceName: cfg.Observability.ServiceName,
		Version:     opts.Version,
		Environment: cfg.Observability.Environment,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		SampleRatio: cfg.Observability.Tracing.SampleRatio,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	a.tracer = tp
	a.closers = append(a.closers, tp.Shutdown)
	tracer := tp.Tracer()

	redisCache := a.connectRedis(ctx)

	generator := opts.Generator
	if generator == nil {
		generator = llm.NewChatClient(llm.ChatClientConfig{Logger: a.Logger})
	}
	searcher := opts.Searcher
	if searcher == nil {
		searcher = websearch.NewRegistry(websearch.RegistryConfig{
			HTTPClient: &http.Client{Timeout: 30 * time.Second},
			Logger:     a.Logger,
		})
	}

	a.Orchestrator, err = orchestrator.New(orchestrator.Config{
		Generation: orchestrator.OperationConfig{
			Backends:       toBackends(cfg.Generation.Backends),
			Retry:          toRetry(cfg.Generation.Retry),
			Limit:          toLimit(cfg.Generation.RateLimit),
			Breaker:        toBreaker(cfg.Generation.CircuitBreaker),
			Cache:          a.buildCache("generate", cfg.Generation.Cache, redisCache),
			CacheTTL:       cfg.Generation.Cache.TTL,
			OverallTimeout: cfg.Generation.OverallTimeout,
		},
		GateInterval: cfg.Generation.MinInterval,
		Search: orchestrator.OperationConfig{
			Backends: toBackends(cfg.Search.Providers),
			Retry:    toRetry(cfg.Search.Retry),
			Limit:    toLimit(cfg.Search.RateLimit),
			Breaker:  toBreaker(cfg.Search.CircuitBreaker),
			Cache:    a.buildCache("search", cfg.Search.Cache, redisCache),
			CacheTTL: cfg.Search.Cache.TTL,
		},
		DefaultProvider:   cfg.Search.DefaultProvider,
		DefaultMaxResults: cfg.Search.MaxResults,
		Failover:          cfg.Search.Failover,
		Generator:         generator,
		Searcher:          searcher,
		Logger:            a.Logger,
		Metrics:           a.Metrics,
		Tracer:            tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	a.Publisher, err = a.buildPublisher(ctx, opts.SNSAPI, tracer)
	if err != nil {
		return nil, err
	}

	a.Retriever = retrieval.New(a.Orchestrator, opts.DocumentIndex, a.Logger)

	a.Answers, err = answer.NewService(answer.Config{
		Generator:      a.Orchestrator,
		Retriever:      a.Retriever,
		Publisher:      a.Publisher,
		DefaultTopK:    cfg.Answer.DefaultTopK,
		MaxTopK:        cfg.Answer.MaxTopK,
		MaxQueryLength: cfg.Answer.MaxQueryLength,
		DefaultMode:    retrieval.Mode(cfg.Answer.DefaultMode),
		Logger:         a.Logger,
		Metrics:        a.Metrics,
		Tracer:         tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create answer service: %w", err)
	}

	a.Logger.Info("application initialized",
		"generation_backends", len(cfg.Generation.Backends),
		"search_providers", a.Orchestrator.AvailableProviders(),
		"default_provider", a.Orchestrator.DefaultProvider(),
		"redis", redisCache != nil,
	)
	return a, nil
}

// connectRedis returns nil when Redis is not configured or unreachable;
// caches then run L1-only.
func (a *App) connectRedis(ctx context.Context) *cache.RedisCache {
	cfg := a.Config
	if !cfg.Generation.Cache.UseRedis && !cfg.Search.Cache.UseRedis {
		return nil
	}
	if cfg.Redis.Address == "" {
		a.Logger.Warn("redis cache requested without an address, using memory only")
		return nil
	}

	rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
		Addr:      cfg.Redis.Address,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	if err != nil {
		a.Logger.LogWarn(ctx, "redis unavailable, using memory cache only", "address", cfg.Redis.Address, "error", err.Error())
		return nil
	}
	a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
	return rc
}

// buildCache gives each operation its own Redis namespace so purging one
// operation's cache never touches the other's L2 entries.
func (a *App) buildCache(operation string, cc config.CacheConfig, redisCache *cache.RedisCache) cache.Cache {
	mem := cache.NewMemoryCache(cache.MemoryConfig{
		Capacity:        cc.Capacity,
		TTL:             cc.TTL,
		EvictionBatch:   cc.EvictionBatch,
		CleanupInterval: time.Minute,
	})
	a.closers = append(a.closers, func(context.Context) error { return mem.Close() })

	if !cc.UseRedis || redisCache == nil {
		return mem
	}
	return cache.NewLayeredCacheWithConfig(cache.LayeredCacheConfig{
		L1:       mem,
		L2:       redisCache.WithPrefix(operation + ":"),
		L1MaxTTL: cc.L1MaxTTL,
	})
}

func (a *App) buildPublisher(ctx context.Context, api aws.PublishAPI, tracer observability.Tracer) (notification.EventPublisher, error) {
	cfg := a.Config
	if !cfg.Answer.PublishEvents || cfg.AWS.SNSTopicARN == "" {
		return notification.NewNoOpPublisher(a.Logger), nil
	}

	snsCfg := aws.SNSClientConfig{API: api, Logger: a.Logger, Metrics: a.Metrics}
	if api == nil {
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region, Endpoint: cfg.AWS.Endpoint})
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		snsCfg.AWSConfig = awsCfg
	}

	pub, err := notification.NewPublisher(notification.PublisherConfig{
		SNSClient: aws.NewSNSClient(snsCfg),
		TopicARN:  cfg.AWS.SNSTopicARN,
		Logger:    a.Logger,
		Tracer:    tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}
	return pub, nil
}

// NewServer builds the HTTP API for this application.
func (a *App) NewServer() (*server.Server, error) {
	return server.New(server.Config{
		Port:            a.Config.Server.Port,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
		MaxInFlight:     a.Config.Server.MaxInFlight,
		MaxQueryLength:  a.Config.Answer.MaxQueryLength,
		MaxResults:      a.Config.Answer.MaxTopK,
		Answerer:        a.Answers,
		Orchestrator:    a.Orchestrator,
		Logger:          a.Logger,
		Metrics:         a.Metrics,
	})
}

// Close releases caches, flushes telemetry and closes connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func toBackends(in []config.BackendConfig) []orchestrator.BackendConfig {
	out := make([]orchestrator.BackendConfig, 0, len(in))
	for _, b := range in {
		out = append(out, orchestrator.BackendConfig{
			Name:            b.Name,
			Kind:            b.Kind,
			Endpoint:        b.Endpoint,
			Credential:      b.Credential,
			Model:           b.Model,
			Priority:        b.Priority,
			MaxOutputTokens: b.MaxTokens,
			Temperature:     b.Temperature,
			Timeout:         b.Timeout,
			MaxInFlight:     b.MaxInFlight,
		})
	}
	return out
}

func toRetry(r config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:        r.MaxAttempts,
		BaseDelay:          r.BaseDelay,
		RateLimitBaseDelay: r.RateLimitBaseDelay,
		MaxDelay:           r.MaxDelay,
		Jitter:             r.Jitter,
	}
}

func toLimit(r config.RateLimitConfig) orchestrator.LimitConfig {
	return orchestrator.LimitConfig{
		RequestsPerMinute: r.RequestsPerMinute,
		Burst:             r.Burst,
		AcquireTimeout:    r.AcquireTimeout,
		Adaptive:          r.Adaptive,
	}
}

func toBreaker(c config.CircuitBreakerConfig) *resilience.CircuitBreakerConfig {
	if !c.Enabled {
		return nil
	}
	return &resilience.CircuitBreakerConfig{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		Timeout:          c.Timeout,
	}
}
