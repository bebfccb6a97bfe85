// Package answer turns a user question into a grounded answer: retrieve
// evidence, assemble the prompt, generate, and record the outcome.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/grounded-answers/internal/notification"
	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
	"github.com/agatticelli/grounded-answers/internal/retrieval"
)

const (
	// NoSourcesAnswer is returned when retrieval finds nothing.
	NoSourcesAnswer = "No relevant sources found for your query."
	// DegradedAnswer is returned when every generation backend failed.
	DegradedAnswer = "Unable to generate answer at this time due to high demand. Please try again in a few moments."

	degradedConfidence = 50.0
)

var (
	// ErrInvalidRequest wraps every validation failure.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRetrieval wraps evidence retrieval failures.
	ErrRetrieval = errors.New("retrieval failed")
)

// Generator is satisfied by *orchestrator.Orchestrator.
type Generator interface {
	GenerateAnswer(ctx context.Context, req orchestrator.GenerationRequest) (orchestrator.Result[string], error)
}

// Retriever is satisfied by *retrieval.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]retrieval.Source, error)
}

// Guard screens queries and cleans generated text. Optional.
type Guard interface {
	ValidateInput(query string, restrictions []string) error
	SanitizeOutput(answer string) string
}

// Scorer estimates answer confidence in [0, 100]. Optional.
type Scorer interface {
	Score(query, answer string, sources []retrieval.Source) float64
}

// Request is one question.
type Request struct {
	Query        string         `json:"query"`
	Mode         retrieval.Mode `json:"mode"`
	TopK         *int           `json:"top_k,omitempty"`
	DocumentIDs  []string       `json:"document_ids,omitempty"`
	Restrictions []string       `json:"restrictions,omitempty"`
	Provider     string         `json:"provider,omitempty"`
}

// Response is the answer plus the evidence it was built from.
type Response struct {
	QueryID          string             `json:"query_id"`
	Answer           string             `json:"answer"`
	Sources          []retrieval.Source `json:"sources"`
	Confidence       *float64           `json:"confidence,omitempty"`
	ModeUsed         retrieval.Mode     `json:"mode_used"`
	Query            string             `json:"query"`
	Backend          string             `json:"backend,omitempty"`
	FromCache        bool               `json:"from_cache"`
	Degraded         bool               `json:"degraded"`
	Timestamp        time.Time          `json:"timestamp"`
	ProcessingTimeMS int64              `json:"processing_time_ms"`
}

// Config holds service configuration
type Config struct {
	Generator Generator
	Retriever Retriever
	Guard     Guard
	Scorer    Scorer
	Publisher notification.EventPublisher

	DefaultTopK    int
	MaxTopK        int
	MaxQueryLength int
	DefaultMode    retrieval.Mode

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// Service answers questions.
type Service struct {
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
	now     func() time.Time
}

// NewService creates an answer service
func NewService(cfg Config) (*Service, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = 20
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 1000
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = retrieval.ModeHybrid
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = notification.NewNoOpPublisher(cfg.Logger)
	}

	return &Service{
		cfg:     cfg,
		logger:  cfg.Logger.Component("answer"),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		now:     time.Now,
	}, nil
}

// Validate checks req and fills defaults in place.
func (s *Service) Validate(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if n := utf8.RuneCountInString(req.Query); n > s.cfg.MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrInvalidRequest, s.cfg.MaxQueryLength)
	}

	if req.Mode == "" {
		req.Mode = s.cfg.DefaultMode
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	if req.TopK == nil {
		k := s.cfg.DefaultTopK
		req.TopK = &k
	}
	if *req.TopK < 1 || *req.TopK > s.cfg.MaxTopK {
		return fmt.Errorf("%w: top_k must be between 1 and %d", ErrInvalidRequest, s.cfg.MaxTopK)
	}

	if req.Mode == retrieval.ModeRestricted {
		lower := strings.ToLower(req.Query)
		for _, r := range req.Restrictions {
			if r = strings.TrimSpace(r); r != "" && strings.Contains(lower, strings.ToLower(r)) {
				return fmt.Errorf("%w: query violates restriction %q", ErrInvalidRequest, r)
			}
		}
		if s.cfg.Guard != nil {
			if err := s.cfg.Guard.ValidateInput(req.Query, req.Restrictions); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
			}
		}
	}
	return nil
}

// Answer validates req, retrieves evidence and generates an answer. When
// every generation backend fails the degraded answer is returned, not an error.
func (s *Service) Answer(ctx context.Context, req Request) (*Response, error) {
	start := s.now()

	if err := s.Validate(&req); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.StartSpan(ctx, "Answer.Answer",
		observability.WithAttributes(
			attribute.String("mode", string(req.Mode)),
			attribute.Int("top_k", *req.TopK),
		),
	)
	defer span.End()

	resp := &Response{
		QueryID:  uuid.NewString(),
		ModeUsed: req.Mode,
		Query:    req.Query,
	}

	sources, err := s.cfg.Retriever.Retrieve(ctx, retrieval.Request{
		Query:       req.Query,
		Mode:        req.Mode,
		TopK:        *req.TopK,
		DocumentIDs: req.DocumentIDs,
		Provider:    req.Provider,
	})
	if err != nil {
		span.NoticeError(err)
		s.logger.LogError(ctx, "retrieval failed", err, "query_id", resp.QueryID, "mode", req.Mode)
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	resp.Sources = sources
	if resp.Sources == nil {
		resp.Sources = []retrieval.Source{}
	}

	switch {
	case len(sources) == 0:
		resp.Answer = NoSourcesAnswer
		resp.Confidence = ptr(0.0)

	default:
		result, err := s.cfg.Generator.GenerateAnswer(ctx, orchestrator.GenerationRequest{
			System: SystemPrompt(),
			Prompt: BuildPrompt(req.Query, sources),
		})
		if err != nil {
			if !errors.Is(err, orchestrator.ErrAllBackendsFailed) {
				span.NoticeError(err)
				return nil, err
			}
			s.logger.LogWarn(ctx, "serving degraded answer", "query_id", resp.QueryID, "error", err.Error())
			if s.metrics != nil {
				s.metrics.RecordError(ctx, "degraded_answer")
			}
			resp.Answer = DegradedAnswer
			resp.Degraded = true
			resp.Confidence = ptr(degradedConfidence)
			break
		}

		resp.Answer = result.Value
		resp.Backend = result.Backend
		resp.FromCache = result.FromCache
		if s.cfg.Guard != nil {
			resp.Answer = s.cfg.Guard.SanitizeOutput(resp.Answer)
		}
		if s.cfg.Scorer != nil {
			resp.Confidence = ptr(s.cfg.Scorer.Score(req.Query, resp.Answer, sources))
		}
	}

	resp.Timestamp = s.now().UTC()
	resp.ProcessingTimeMS = s.now().Sub(start).Milliseconds()

	s.publish(ctx, req, resp)
	return resp, nil
}

// publish is best effort: a failed publish never fails the query.
func (s *Service) publish(ctx context.Context, req Request, resp *Response) {
	event := &notification.QueryEvent{
		QueryID:          resp.QueryID,
		Query:            resp.Query,
		Mode:             string(resp.ModeUsed),
		TopK:             *req.TopK,
		Provider:         req.Provider,
		Backend:          resp.Backend,
		FromCache:        resp.FromCache,
		Degraded:         resp.Degraded,
		SourceCount:      len(resp.Sources),
		ProcessingTimeMS: resp.ProcessingTimeMS,
		Timestamp:        resp.Timestamp,
	}
	if err := s.cfg.Publisher.PublishQuery(ctx, event); err != nil {
		s.logger.LogWarn(ctx, "query event not published", "query_id", resp.QueryID, "error", err.Error())
	}
}

func ptr[T any](v T) *T { return &v }
