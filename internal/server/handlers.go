package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/agatticelli/grounded-answers/internal/answer"
	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/retrieval"
)

const maxBodyBytes = 64 << 10

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req answer.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	resp, err := s.cfg.Answerer.Answer(r.Context(), req)
	if err != nil {
		status := queryErrorStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.LogError(r.Context(), "query failed", err, "mode", req.Mode)
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryErrorStatus(err error) int {
	switch {
	case errors.Is(err, answer.ErrInvalidRequest), errors.Is(err, retrieval.ErrNoDocumentIndex):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNoProvider), errors.Is(err, orchestrator.ErrAllBackendsFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type searchResponse struct {
	Query     string                      `json:"query"`
	Provider  string                      `json:"provider"`
	FromCache bool                        `json:"from_cache"`
	Results   []orchestrator.SearchResult `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" || utf8.RuneCountInString(q) > s.cfg.MaxQueryLength {
		writeError(w, http.StatusBadRequest, "q must be between 1 and "+strconv.Itoa(s.cfg.MaxQueryLength)+" characters")
		return
	}

	maxResults := 0
	if raw := r.URL.Query().Get("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > s.cfg.MaxResults {
			writeError(w, http.StatusBadRequest, "max_results must be between 1 and "+strconv.Itoa(s.cfg.MaxResults))
			return
		}
		maxResults = n
	}

	res, err := s.cfg.Orchestrator.Search(r.Context(), orchestrator.SearchRequest{
		Query:      q,
		MaxResults: maxResults,
		Provider:   r.URL.Query().Get("provider"),
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, orchestrator.ErrNoProvider) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}

	results := res.Value
	if results == nil {
		results = []orchestrator.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Query:     q,
		Provider:  res.Backend,
		FromCache: res.FromCache,
		Results:   results,
	})
}

type backendsResponse struct {
	Generation         []orchestrator.BackendStats `json:"generation"`
	Search             []orchestrator.BackendStats `json:"search"`
	DefaultProvider    string                      `json:"default_provider"`
	AvailableProviders []string                    `json:"available_providers"`
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	stats := s.cfg.Orchestrator.Stats()
	providers := stats.AvailableProviders
	if providers == nil {
		providers = []string{}
	}
	writeJSON(w, http.StatusOK, backendsResponse{
		Generation:         stats.Generation.Backends,
		Search:             stats.Search.Backends,
		DefaultProvider:    stats.DefaultProvider,
		AvailableProviders: providers,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Orchestrator.Stats())
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Orchestrator.ClearCaches(r.Context()); err != nil {
		s.logger.LogError(r.Context(), "cache purge failed", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("caches cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleReady reports ready once at least one generation backend can be called.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	for _, b := range s.cfg.Orchestrator.Stats().Generation.Backends {
		if b.Available {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no generation backend available"})
}
