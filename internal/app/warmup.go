package app

import (
	"context"

	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/platform/cache"
)

// searchWarmup pre-populates the search cache for one configured query.
type searchWarmup struct {
	orch  *orchestrator.Orchestrator
	query string
}

func (w searchWarmup) Name() string { return "search:" + w.query }

func (w searchWarmup) Warmup(ctx context.Context) error {
	_, err := w.orch.Search(ctx, orchestrator.SearchRequest{Query: w.query})
	return err
}

// Warmup runs the configured warm queries. It returns nil when there are none.
func (a *App) Warmup(ctx context.Context) *cache.WarmupResults {
	queries := a.Config.Search.WarmQueries
	if len(queries) == 0 || len(a.Orchestrator.AvailableProviders()) == 0 {
		return nil
	}

	warmer := cache.NewWarmer(a.Logger, cache.WarmupConfig{
		Timeout:         a.Config.Search.WarmupTimeout,
		Workers:         a.Config.Search.WarmupWorkers,
		ContinueOnError: true,
	})
	for _, q := range queries {
		warmer.RegisterProvider(searchWarmup{orch: a.Orchestrator, query: q})
	}
	return warmer.Warmup(ctx)
}
