// Package cmd provides the CLI commands for answerd.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agatticelli/grounded-answers/internal/app"
	"github.com/agatticelli/grounded-answers/internal/platform/config"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
)

// Set at build time with -ldflags "-X .../cmd.Version=..."
var (
	Version = "dev"
	Commit  = "none"
)

var (
	configPath string
	logLevel   string
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "answerd",
		Short: "Grounded question answering over web search and language models",
		Long: `answerd answers questions from retrieved evidence.

It searches the web (Tavily, Serper, Brave, You.com), builds a cited prompt
and asks a prioritized chain of language models, retrying throttled backends
and falling back to the next one when a backend fails.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("answerd version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default ./config.yaml or ./config/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override observability.logging.level")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// loadApp loads configuration and builds the application. CLI commands log
// to stderr so stdout stays clean for results.
func loadApp(ctx context.Context, cliMode bool) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Observability.Logging.Level = logLevel
	}

	opts := app.Options{Version: Version}
	if cliMode {
		level := cfg.Observability.Logging.Level
		if logLevel == "" {
			level = "warn"
		}
		opts.Logger = observability.NewLoggerWithWriter(os.Stderr, level, "text")
	}

	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return a, nil
}
