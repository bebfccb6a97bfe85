// Package retrieval gathers evidence for a question from the web, from an
// uploaded-document index, or from both.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
)

// Mode selects where evidence comes from.
type Mode string

const (
	ModeWeb        Mode = "web"
	ModePDF        Mode = "pdf"
	ModeHybrid     Mode = "hybrid"
	ModeRestricted Mode = "restricted"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeWeb, ModePDF, ModeHybrid, ModeRestricted:
		return true
	}
	return false
}

// SourceType distinguishes document evidence from web evidence.
type SourceType string

const (
	SourcePDF SourceType = "pdf"
	SourceWeb SourceType = "web"
)

// Source is one piece of evidence handed to answer assembly.
type Source struct {
	Type           SourceType `json:"type"`
	Content        string     `json:"content"`
	Reference      string     `json:"reference"`
	Title          string     `json:"title"`
	RelevanceScore float64    `json:"relevance_score"`
}

// DocumentHit is a chunk returned by a document index.
type DocumentHit struct {
	DocumentID string
	Page       int
	Text       string
	Similarity float64
}

// DocumentIndex searches uploaded documents. Embedding and indexing live
// behind this interface.
type DocumentIndex interface {
	Search(ctx context.Context, query string, topK int, documentIDs []string) ([]DocumentHit, error)
}

// WebSearcher is satisfied by *orchestrator.Orchestrator.
type WebSearcher interface {
	Search(ctx context.Context, req orchestrator.SearchRequest) (orchestrator.Result[[]orchestrator.SearchResult], error)
}

var (
	// ErrNoDocumentIndex is returned for document modes when no index is configured.
	ErrNoDocumentIndex = errors.New("no document index configured")
	// ErrInvalidMode is returned for an unknown mode.
	ErrInvalidMode = errors.New("invalid retrieval mode")
)

// Request describes one retrieval.
type Request struct {
	Query       string
	Mode        Mode
	TopK        int
	DocumentIDs []string
	Provider    string
}

// Retriever fans retrieval out to its collaborators.
type Retriever struct {
	web    WebSearcher
	docs   DocumentIndex
	logger *observability.Logger
}

// New creates a retriever. docs may be nil.
func New(web WebSearcher, docs DocumentIndex, logger *observability.Logger) *Retriever {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Retriever{web: web, docs: docs, logger: logger.Component("retrieval")}
}

// HasDocumentIndex reports whether document modes are available.
func (r *Retriever) HasDocumentIndex() bool {
	return r.docs != nil
}

// Retrieve returns at most req.TopK sources for req.Mode.
func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]Source, error) {
	if req.TopK <= 0 {
		req.TopK = 5
	}

	switch req.Mode {
	case ModeWeb:
		return r.fromWeb(ctx, req.Query, req.TopK, req.Provider)
	case ModePDF, ModeRestricted:
		return r.fromDocuments(ctx, req.Query, req.TopK, req.DocumentIDs)
	case ModeHybrid:
		return r.hybrid(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
}

// hybrid takes half the budget from each side concurrently, then keeps the
// TopK most relevant.
func (r *Retriever) hybrid(ctx context.Context, req Request) ([]Source, error) {
	half := max(1, req.TopK/2)

	var docSources, webSources []Source
	g, gctx := errgroup.WithContext(ctx)

	if r.docs != nil {
		g.Go(func() error {
			var err error
			docSources, err = r.fromDocuments(gctx, req.Query, half, req.DocumentIDs)
			return err
		})
	} else {
		r.logger.LogDebug(ctx, "hybrid retrieval without document index, using web only")
	}
	g.Go(func() error {
		var err error
		webSources, err = r.fromWeb(gctx, req.Query, half, req.Provider)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeAndRank(append(docSources, webSources...), req.TopK), nil
}

func (r *Retriever) fromWeb(ctx context.Context, query string, topK int, provider string) ([]Source, error) {
	res, err := r.web.Search(ctx, orchestrator.SearchRequest{
		Query:      query,
		MaxResults: topK,
		Provider:   provider,
	})
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	sources := make([]Source, 0, len(res.Value))
	for _, hit := range res.Value {
		sources = append(sources, Source{
			Type:           SourceWeb,
			Content:        hit.Snippet,
			Reference:      hit.URL,
			Title:          hit.Title,
			RelevanceScore: hit.Score,
		})
	}
	return sources, nil
}

func (r *Retriever) fromDocuments(ctx context.Context, query string, topK int, documentIDs []string) ([]Source, error) {
	if r.docs == nil {
		return nil, ErrNoDocumentIndex
	}
	hits, err := r.docs.Search(ctx, query, topK, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}

	sources := make([]Source, 0, len(hits))
	for _, hit := range hits {
		sources = append(sources, Source{
			Type:           SourcePDF,
			Content:        hit.Text,
			Reference:      fmt.Sprintf("Page %d", hit.Page),
			Title:          "Document " + hit.DocumentID,
			RelevanceScore: hit.Similarity,
		})
	}
	return sources, nil
}

func mergeAndRank(sources []Source, topK int) []Source {
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].RelevanceScore > sources[j].RelevanceScore
	})
	if len(sources) > topK {
		sources = sources[:topK]
	}
	return sources
}
