package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agatticelli/grounded-answers/internal/answer"
	"github.com/agatticelli/grounded-answers/internal/retrieval"
)

type askOptions struct {
	mode     string
	topK     int
	provider string
	json     bool
}

func newAskCmd() *cobra.Command {
	opts := askOptions{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from retrieved sources",
		Long: `Retrieve evidence for the question, generate a cited answer and print it.

Examples:
  answerd ask "What is the capital of France?"
  answerd ask --mode web --top-k 3 --provider serper "latest Go release"
  answerd ask --json "how do goroutines work"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Retrieval mode: web, pdf, hybrid, restricted")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Number of sources to retrieve")
	cmd.Flags().StringVarP(&opts.provider, "provider", "p", "", "Search provider to prefer")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output the full response as JSON")

	return cmd
}

func runAsk(ctx context.Context, out io.Writer, question string, opts askOptions) error {
	a, err := loadApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	req := answer.Request{
		Query:    question,
		Mode:     retrieval.Mode(opts.mode),
		Provider: opts.provider,
	}
	if opts.topK > 0 {
		req.TopK = &opts.topK
	}

	resp, err := a.Answers.Answer(ctx, req)
	if err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	return printAnswer(out, resp)
}

func printAnswer(out io.Writer, resp *answer.Response) error {
	var b strings.Builder
	b.WriteString(resp.Answer)
	b.WriteString("\n")

	if len(resp.Sources) > 0 {
		b.WriteString("\nSources:\n")
		for i, src := range resp.Sources {
			fmt.Fprintf(&b, "  [%d] %s\n      %s\n", i+1, src.Title, src.Reference)
		}
	}

	meta := []string{"mode=" + string(resp.ModeUsed)}
	if resp.Backend != "" {
		meta = append(meta, "backend="+resp.Backend)
	}
	if resp.FromCache {
		meta = append(meta, "cached")
	}
	if resp.Degraded {
		meta = append(meta, "degraded")
	}
	fmt.Fprintf(&b, "\n(%s, %dms)\n", strings.Join(meta, ", "), resp.ProcessingTimeMS)

	_, err := io.WriteString(out, b.String())
	return err
}
