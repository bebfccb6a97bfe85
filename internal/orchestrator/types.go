// Package orchestrator turns logical requests (generate an answer, search the
// web) into reliable calls against a prioritized set of remote backends.
package orchestrator

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/agatticelli/grounded-answers/internal/platform/cache"
)

// BackendConfig describes one remote backend. It is read-only once the
// orchestrator is built.
type BackendConfig struct {
	Name string
	// Kind selects the caller implementation (groq, tavily, serper...).
	Kind       string
	Endpoint   string
	Credential string
	Model      string
	// Priority ascending = tried first. Ties keep declaration order.
	Priority        int
	MaxOutputTokens int
	Temperature     float64
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxInFlight caps concurrent calls to this backend. 0 = unbounded.
	MaxInFlight int
}

// HasCredential reports whether the backend can authenticate.
func (b BackendConfig) HasCredential() bool {
	return b.Credential != ""
}

// SortByPriority returns a copy of backends in ascending priority.
func SortByPriority(backends []BackendConfig) []BackendConfig {
	sorted := make([]BackendConfig, len(backends))
	copy(sorted, backends)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return sorted
}

// GenerationRequest is pre-formatted evidence plus instructions for a language backend.
type GenerationRequest struct {
	System string
	Prompt string
}

// Fingerprint identifies interchangeable generation requests.
func (r GenerationRequest) Fingerprint() string {
	return cache.Fingerprint("generate", r.System, r.Prompt)
}

// SearchRequest asks for web results. Provider is optional.
type SearchRequest struct {
	Query      string
	MaxResults int
	Provider   string
}

// Fingerprint identifies interchangeable search requests. The provider is
// not part of it: cache keys carry the backend name separately.
func (r SearchRequest) Fingerprint() string {
	return cache.Fingerprint("search", r.Query, strconv.Itoa(r.MaxResults))
}

// SearchResult is one ranked web hit.
type SearchResult struct {
	Title    string  `json:"title"`
	URL      string  `json:"url"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
	Provider string  `json:"provider,omitempty"`
}

// Result is a successful outcome of a chain run.
type Result[T any] struct {
	Value     T
	Backend   string
	FromCache bool
}

// Generator performs one call against a language backend.
type Generator interface {
	Generate(ctx context.Context, backend BackendConfig, req GenerationRequest) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, backend BackendConfig, req GenerationRequest) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, backend BackendConfig, req GenerationRequest) (string, error) {
	return f(ctx, backend, req)
}

// Searcher performs one call against a web search provider.
type Searcher interface {
	Search(ctx context.Context, provider BackendConfig, req SearchRequest) ([]SearchResult, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, provider BackendConfig, req SearchRequest) ([]SearchResult, error)

func (f SearcherFunc) Search(ctx context.Context, provider BackendConfig, req SearchRequest) ([]SearchResult, error) {
	return f(ctx, provider, req)
}

// CacheKey scopes a request fingerprint to one operation and backend.
func CacheKey(operation, fingerprint, backend string) string {
	return operation + ":" + backend + ":" + fingerprint
}
