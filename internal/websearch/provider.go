// Package websearch implements the web search provider callers and a
// registry that dispatches on the configured provider kind.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

// Provider kinds.
const (
	KindTavily = "tavily"
	KindSerper = "serper"
	KindBrave  = "brave"
	KindYouCom = "youcom"
)

// ErrUnknownProvider is returned for a backend whose kind has no caller.
var ErrUnknownProvider = errors.New("unknown search provider")

// Provider performs a single search call against one remote API.
type Provider interface {
	Kind() string
	Search(ctx context.Context, backend orchestrator.BackendConfig, req orchestrator.SearchRequest) ([]orchestrator.SearchResult, error)
}

// Registry maps provider kinds to callers. It implements orchestrator.Searcher.
type Registry struct {
	providers map[string]Provider
	logger    *observability.Logger
}

// RegistryConfig holds registry configuration
type RegistryConfig struct {
	HTTPClient *http.Client
	Logger     *observability.Logger
}

// NewRegistry creates a registry with the four built-in providers.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	r := &Registry{
		providers: make(map[string]Provider),
		logger:    cfg.Logger.Component("websearch"),
	}
	r.Register(&Tavily{client: cfg.HTTPClient})
	r.Register(&Serper{client: cfg.HTTPClient})
	r.Register(&Brave{client: cfg.HTTPClient})
	r.Register(&YouCom{client: cfg.HTTPClient})
	return r
}

// Register adds or replaces the caller for p.Kind().
func (r *Registry) Register(p Provider) {
	r.providers[p.Kind()] = p
}

// Kinds lists registered provider kinds.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.providers))
	for k := range r.providers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Search dispatches to the provider named by backend.Kind (or backend.Name).
func (r *Registry) Search(ctx context.Context, backend orchestrator.BackendConfig, req orchestrator.SearchRequest) ([]orchestrator.SearchResult, error) {
	kind := strings.ToLower(backend.Kind)
	if kind == "" {
		kind = strings.ToLower(backend.Name)
	}
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %w", resilience.ErrBackendRejected, kind, ErrUnknownProvider)
	}

	results, err := p.Search(ctx, backend, req)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Provider = backend.Name
	}

	r.logger.LogDebug(ctx, "provider returned results",
		"provider", backend.Name,
		"results", len(results),
	)
	return results, nil
}

// positionalScore is the default relevance for the i-th hit of a provider
// that does not score its results.
func positionalScore(base float64, i int) float64 {
	return base - float64(i)*0.05
}

func limit(n, maxResults int) int {
	if maxResults > 0 && n > maxResults {
		return maxResults
	}
	return n
}

// doJSON executes req and decodes a 200 response into out.
func doJSON(client *http.Client, req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", resilience.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &resilience.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %w", resilience.ErrTransport, err)
	}
	return nil
}

func endpointOr(backend orchestrator.BackendConfig, fallback string) string {
	if backend.Endpoint != "" {
		return backend.Endpoint
	}
	return fallback
}

func newGet(ctx context.Context, endpoint string, query map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", resilience.ErrBackendRejected, err)
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	return req, nil
}
