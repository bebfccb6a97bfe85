package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily calls the Tavily search API (POST, credential in the body).
type Tavily struct {
	client *http.Client
}

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	SearchDepth       string `json:"search_depth"`
	MaxResults        int    `json:"max_results"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
	IncludeImages     bool   `json:"include_images"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string   `json:"title"`
		URL     string   `json:"url"`
		Content string   `json:"content"`
		Score   *float64 `json:"score"`
	} `json:"results"`
}

func (t *Tavily) Kind() string { return KindTavily }

func (t *Tavily) Search(ctx context.Context, backend orchestrator.BackendConfig, req orchestrator.SearchRequest) ([]orchestrator.SearchResult, error) {
	payload, err := json.Marshal(tavilyRequest{
		APIKey:        backend.Credential,
		Query:         req.Query,
		SearchDepth:   "advanced",
		MaxResults:    req.MaxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %w", resilience.ErrBackendRejected, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointOr(backend, tavilyEndpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", resilience.ErrBackendRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp tavilyResponse
	if err := doJSON(t.client, httpReq, &resp); err != nil {
		return nil, err
	}

	n := limit(len(resp.Results), req.MaxResults)
	results := make([]orchestrator.SearchResult, 0, n)
	for i, r := range resp.Results[:n] {
		score := positionalScore(0.9, i)
		if r.Score != nil {
			score = *r.Score
		}
		results = append(results, orchestrator.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Score:   score,
		})
	}
	return results, nil
}
