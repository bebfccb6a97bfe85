package websearch

import (
	"context"
	"net/http"
	"strconv"

	"github.com/agatticelli/grounded-answers/internal/orchestrator"
)

const serperEndpoint = "https://serpapi.com/search"

// Serper calls a Google-backed SERP API.
type Serper struct {
	client *http.Client
}

type serperResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

func (s *Serper) Kind() string { return KindSerper }

func (s *Serper) Search(ctx context.Context, backend orchestrator.BackendConfig, req orchestrator.SearchRequest) ([]orchestrator.SearchResult, error) {
	httpReq, err := newGet(ctx, endpointOr(backend, serperEndpoint), map[string]string{
		"engine":  "google",
		"q":       req.Query,
		"api_key": backend.Credential,
		"num":     strconv.Itoa(req.MaxResults),
	})
	if err != nil {
		return nil, err
	}

	var resp serperResponse
	if err := doJSON(s.client, httpReq, &resp); err != nil {
		return nil, err
	}

	n := limit(len(resp.OrganicResults), req.MaxResults)
	results := make([]orchestrator.SearchResult, 0, n)
	for i, r := range resp.OrganicResults[:n] {
		results = append(results, orchestrator.SearchResult{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
			Score:   positionalScore(0.8, i),
		})
	}
	return results, nil
}
