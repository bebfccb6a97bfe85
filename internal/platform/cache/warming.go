package cache

import (
	"context"
	"time"

	"github.com/agatticelli/grounded-answers/internal/platform/observability"
	"github.com/agatticelli/grounded-answers/internal/platform/worker"
)

// WarmupProvider pre-populates a cache, typically by issuing the requests
// that are expected to be popular right after startup.
type WarmupProvider interface {
	Name() string
	// Warmup must be idempotent.
	Warmup(ctx context.Context) error
}

// WarmupConfig configures the cache warming behavior.
type WarmupConfig struct {
	// Timeout bounds the whole warmup
	Timeout time.Duration
	// Workers bounds how many providers warm at once. 1 means sequential.
	Workers int
	// ContinueOnError keeps going after a failure when sequential
	ContinueOnError bool
}

// DefaultWarmupConfig returns sensible defaults for cache warming.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		Workers:         4,
		ContinueOnError: true,
	}
}

// WarmupResult contains the result of warming a single provider.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// WarmupResults contains the aggregate results of cache warming.
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors returns true if any provider failed during warmup.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer handles cache warming operations.
type Warmer struct {
	providers []WarmupProvider
	logger    *observability.Logger
	config    WarmupConfig
}

// NewWarmer creates a new cache warmer.
func NewWarmer(logger *observability.Logger, config WarmupConfig) *Warmer {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Warmer{logger: logger, config: config}
}

// RegisterProvider adds a warmup provider to the warmer.
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup runs every registered provider and reports per-provider outcomes.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	results := &WarmupResults{}

	if len(w.providers) == 0 {
		return results
	}

	warmupCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Workers > 1 {
		results.Results = w.warmupParallel(warmupCtx)
	} else {
		results.Results = w.warmupSequential(warmupCtx)
	}

	for _, r := range results.Results {
		if r.Err != nil {
			results.Errors++
		}
	}
	results.TotalTime = time.Since(start)

	if results.Errors > 0 {
		w.logger.LogWarn(ctx, "cache warmup completed with errors",
			"errors", results.Errors,
			"providers", len(w.providers),
			"duration_ms", results.TotalTime.Milliseconds(),
		)
	} else {
		w.logger.LogInfo(ctx, "cache warmup completed",
			"providers", len(w.providers),
			"duration_ms", results.TotalTime.Milliseconds(),
		)
	}

	return results
}

func (w *Warmer) warmupParallel(ctx context.Context) []WarmupResult {
	pool := worker.NewPool(ctx, w.config.Workers, len(w.providers))
	defer pool.Close()

	jobs := make([]worker.Job, len(w.providers))
	for i, provider := range w.providers {
		provider := provider
		jobs[i] = worker.Job{
			ID: provider.Name(),
			Execute: func(ctx context.Context) (any, error) {
				r := w.warmupProvider(ctx, provider)
				return r, r.Err
			},
		}
	}

	results := make([]WarmupResult, 0, len(jobs))
	for _, r := range pool.SubmitAndWait(jobs) {
		if wr, ok := r.Value.(WarmupResult); ok {
			results = append(results, wr)
			continue
		}
		results = append(results, WarmupResult{Provider: r.JobID, Err: r.Err})
	}
	return results
}

func (w *Warmer) warmupSequential(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, 0, len(w.providers))

	for _, provider := range w.providers {
		result := w.warmupProvider(ctx, provider)
		results = append(results, result)

		if result.Err != nil && !w.config.ContinueOnError {
			break
		}
	}

	return results
}

func (w *Warmer) warmupProvider(ctx context.Context, provider WarmupProvider) WarmupResult {
	start := time.Now()
	name := provider.Name()

	err := provider.Warmup(ctx)
	duration := time.Since(start)

	if err != nil {
		w.logger.LogWarn(ctx, "cache warmup failed", "provider", name, "error", err, "duration_ms", duration.Milliseconds())
	} else {
		w.logger.LogDebug(ctx, "cache warmed", "provider", name, "duration_ms", duration.Milliseconds())
	}

	return WarmupResult{Provider: name, Duration: duration, Err: err}
}
