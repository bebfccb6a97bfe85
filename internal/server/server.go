// Package server exposes the answer service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/agatticelli/grounded-answers/internal/answer"
	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
)

// Answerer is satisfied by *answer.Service.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (*answer.Response, error)
}

// Orchestrator is the slice of *orchestrator.Orchestrator the API needs.
type Orchestrator interface {
	Search(ctx context.Context, req orchestrator.SearchRequest) (orchestrator.Result[[]orchestrator.SearchResult], error)
	Stats() orchestrator.Stats
	ClearCaches(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MaxInFlight caps concurrently served API requests. 0 disables the cap.
	MaxInFlight int

	// MaxQueryLength bounds the search endpoint's q parameter.
	MaxQueryLength int
	MaxResults     int

	Answerer     Answerer
	Orchestrator Orchestrator

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server serves the HTTP API, health checks and metrics.
type Server struct {
	cfg      Config
	http     *http.Server
	inFlight *semaphore.Weighted
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// New creates a server. It does not start listening.
func New(cfg Config) (*Server, error) {
	if cfg.Answerer == nil || cfg.Orchestrator == nil {
		return nil, fmt.Errorf("answerer and orchestrator are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Metrics == nil {
		m, err := observability.NewMetrics(context.Background(), observability.MetricsConfig{ServiceName: "server"})
		if err != nil {
			return nil, err
		}
		cfg.Metrics = m
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 1000
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 20
	}

	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.Component("server"),
		metrics: cfg.Metrics,
	}
	if cfg.MaxInFlight > 0 {
		s.inFlight = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /api/v1/query", true, s.handleQuery)
	s.route(mux, "GET /api/v1/search", true, s.handleSearch)
	s.route(mux, "GET /api/v1/backends", false, s.handleBackends)
	s.route(mux, "GET /api/v1/stats", false, s.handleStats)
	s.route(mux, "DELETE /api/v1/cache", false, s.handleClearCache)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	s.route(mux, "GET /ready", false, s.handleReady)
	mux.Handle("/metrics", s.metrics.Handler())

	return mux
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "address", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// route wraps h with request metrics and, for expensive routes, the in-flight cap.
func (s *Server) route(mux *http.ServeMux, pattern string, capped bool, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if capped && s.inFlight != nil {
			if !s.inFlight.TryAcquire(1) {
				rec.Header().Set("Retry-After", "1")
				writeError(rec, http.StatusServiceUnavailable, "server busy, retry shortly")
				s.metrics.RecordRequest(r.Context(), pattern, rec.status, time.Since(start))
				return
			}
			defer s.inFlight.Release(1)
		}

		h(rec, r)
		s.metrics.RecordRequest(r.Context(), pattern, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
