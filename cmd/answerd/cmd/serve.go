package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var skipWarmup bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Start the HTTP API with query, search, backend introspection and
cache management endpoints, plus /health, /ready and /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), skipWarmup)
		},
	}

	cmd.Flags().BoolVar(&skipWarmup, "skip-warmup", false, "Do not pre-populate the search cache on startup")
	return cmd
}

func runServe(ctx context.Context, skipWarmup bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a, err := loadApp(ctx, false)
	if err != nil {
		return err
	}
	logger := a.Logger

	if !skipWarmup {
		if results := a.Warmup(ctx); results != nil {
			logger.Info("cache warmup complete",
				"queries", len(results.Results),
				"errors", results.Errors,
				"duration_ms", results.TotalTime.Milliseconds(),
			)
		}
	}

	srv, err := a.NewServer()
	if err != nil {
		_ = a.Close(ctx)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received, gracefully stopping...", "signal", sig.String())
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.LogError(ctx, "HTTP server error", serveErr)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "server shutdown failed", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "cleanup failed", err)
	}
	logger.Info("application stopped")
	return serveErr
}
