package websearch

import (
	"context"
	"net/http"
	"strconv"

	"github.com/agatticelli/grounded-answers/internal/orchestrator"
)

const youcomEndpoint = "https://api.you.com/search"

// YouCom calls the You.com search API.
type YouCom struct {
	client *http.Client
}

type youcomResponse struct {
	Results []struct {
		Title   string   `json:"title"`
		URL     string   `json:"url"`
		Snippet string   `json:"snippet"`
		Score   *float64 `json:"score"`
	} `json:"results"`
}

func (y *YouCom) Kind() string { return KindYouCom }

func (y *YouCom) Search(ctx context.Context, backend orchestrator.BackendConfig, req orchestrator.SearchRequest) ([]orchestrator.SearchResult, error) {
	httpReq, err := newGet(ctx, endpointOr(backend, youcomEndpoint), map[string]string{
		"query": req.Query,
		"num":   strconv.Itoa(req.MaxResults),
	})
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+backend.Credential)

	var resp youcomResponse
	if err := doJSON(y.client, httpReq, &resp); err != nil {
		return nil, err
	}

	n := limit(len(resp.Results), req.MaxResults)
	results := make([]orchestrator.SearchResult, 0, n)
	for i, r := range resp.Results[:n] {
		score := positionalScore(0.85, i)
		if r.Score != nil {
			score = *r.Score
		}
		results = append(results, orchestrator.SearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Snippet,
			Score:   score,
		})
	}
	return results, nil
}
