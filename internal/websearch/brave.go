package websearch

import (
	"context"
	"net/http"
	"strconv"

	"github.com/agatticelli/grounded-answers/internal/orchestrator"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave calls the Brave Search API.
type Brave struct {
	client *http.Client
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *Brave) Kind() string { return KindBrave }

func (b *Brave) Search(ctx context.Context, backend orchestrator.BackendConfig, req orchestrator.SearchRequest) ([]orchestrator.SearchResult, error) {
	httpReq, err := newGet(ctx, endpointOr(backend, braveEndpoint), map[string]string{
		"q":     req.Query,
		"count": strconv.Itoa(req.MaxResults),
	})
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Subscription-Token", backend.Credential)

	var resp braveResponse
	if err := doJSON(b.client, httpReq, &resp); err != nil {
		return nil, err
	}

	hits := resp.Web.Results
	n := limit(len(hits), req.MaxResults)
	results := make([]orchestrator.SearchResult, 0, n)
	for i, r := range hits[:n] {
		results = append(results, orchestrator.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Description,
			Score:   positionalScore(0.85, i),
		})
	}
	return results, nil
}
