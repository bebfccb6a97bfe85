package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agatticelli/grounded-answers/internal/orchestrator"
)

type searchOptions struct {
	provider   string
	maxResults int
	json       bool
}

func newSearchCmd() *cobra.Command {
	opts := searchOptions{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a web search through the provider chain",
		Long: `Search the web with the configured providers. The preferred provider is
tried first; on failure the next credentialed provider is used.

Examples:
  answerd search "go generics tutorial"
  answerd search --provider brave --max-results 10 "kubernetes operators"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "Search provider to prefer")
	cmd.Flags().IntVarP(&opts.maxResults, "max-results", "n", 0, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output results as JSON")

	return cmd
}

func runSearch(ctx context.Context, out io.Writer, query string, opts searchOptions) error {
	a, err := loadApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	res, err := a.Orchestrator.Search(ctx, orchestrator.SearchRequest{
		Query:      query,
		MaxResults: opts.maxResults,
		Provider:   opts.provider,
	})
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Value)
	}

	if len(res.Value) == 0 {
		_, err := fmt.Fprintf(out, "No results for %q\n", query)
		return err
	}
	for i, r := range res.Value {
		if _, err := fmt.Fprintf(out, "%d. %s (%.2f)\n   %s\n   %s\n\n", i+1, r.Title, r.Score, r.URL, r.Snippet); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(out, "provider=%s cached=%v\n", res.Backend, res.FromCache)
	return err
}
