package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agatticelli/grounded-answers/internal/answer"
	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/retrieval"
)

type fakeAnswerer struct {
	resp    *answer.Response
	err     error
	lastReq answer.Request
}

func (f *fakeAnswerer) Answer(ctx context.Context, req answer.Request) (*answer.Response, error) {
	f.lastReq = req
	return f.resp, f.err
}

// blockingAnswerer holds every call until release is closed.
type blockingAnswerer struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingAnswerer) Answer(ctx context.Context, req answer.Request) (*answer.Response, error) {
	b.started <- struct{}{}
	<-b.release
	return &answer.Response{Answer: "ok"}, nil
}

type fakeOrchestrator struct {
	mu       sync.Mutex
	results  []orchestrator.SearchResult
	err      error
	lastReq  orchestrator.SearchRequest
	stats    orchestrator.Stats
	clearing int
}

func (f *fakeOrchestrator) Search(ctx context.Context, req orchestrator.SearchRequest) (orchestrator.Result[[]orchestrator.SearchResult], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReq = req
	if f.err != nil {
		return orchestrator.Result[[]orchestrator.SearchResult]{}, f.err
	}
	return orchestrator.Result[[]orchestrator.SearchResult]{Value: f.results, Backend: "tavily"}, nil
}

func (f *fakeOrchestrator) Stats() orchestrator.Stats { return f.stats }

func (f *fakeOrchestrator) ClearCaches(ctx context.Context) error {
	f.clearing++
	return nil
}

func newTestServer(t *testing.T, a Answerer, o Orchestrator, maxInFlight int) http.Handler {
	t.Helper()
	s, err := New(Config{Answerer: a, Orchestrator: o, MaxInFlight: maxInFlight})
	if err != nil {
		t.Fatal(err)
	}
	return s.Handler()
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestQuery_ReturnsAnswer(t *testing.T) {
	a := &fakeAnswerer{resp: &answer.Response{Answer: "Paris", ModeUsed: retrieval.ModeWeb, Sources: []retrieval.Source{}}}
	h := newTestServer(t, a, &fakeOrchestrator{}, 0)

	rec := do(h, http.MethodPost, "/api/v1/query", `{"query":"What is the capital of France?","mode":"web","top_k":3}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var body answer.Response
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Answer != "Paris" {
		t.Errorf("unexpected answer %q", body.Answer)
	}
	if a.lastReq.TopK == nil || *a.lastReq.TopK != 3 || a.lastReq.Mode != retrieval.ModeWeb {
		t.Errorf("request not forwarded: %+v", a.lastReq)
	}

	t.Log("✓ POST /api/v1/query returns the answer")
}

func TestQuery_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", answer.ErrInvalidRequest, http.StatusBadRequest},
		{"no providers", orchestrator.ErrNoProvider, http.StatusServiceUnavailable},
		{"no document index", retrieval.ErrNoDocumentIndex, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakeAnswerer{err: tt.err}, &fakeOrchestrator{}, 0)
			rec := do(h, http.MethodPost, "/api/v1/query", `{"query":"q"}`)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}

	h := newTestServer(t, &fakeAnswerer{}, &fakeOrchestrator{}, 0)
	if rec := do(h, http.MethodPost, "/api/v1/query", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}

	t.Log("✓ Query errors map to HTTP statuses")
}

func TestSearch_Endpoint(t *testing.T) {
	o := &fakeOrchestrator{results: []orchestrator.SearchResult{{Title: "Paris", URL: "https://p", Score: 0.9}}}
	h := newTestServer(t, &fakeAnswerer{}, o, 0)

	rec := do(h, http.MethodGet, "/api/v1/search?q=capital+of+France&max_results=3&provider=serper", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var body searchResponse
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Provider != "tavily" || len(body.Results) != 1 {
		t.Errorf("unexpected body: %+v", body)
	}
	if o.lastReq.MaxResults != 3 || o.lastReq.Provider != "serper" || o.lastReq.Query != "capital of France" {
		t.Errorf("request not forwarded: %+v", o.lastReq)
	}

	if rec := do(h, http.MethodGet, "/api/v1/search", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: expected 400, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/api/v1/search?q=x&max_results=50", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("max_results too large: expected 400, got %d", rec.Code)
	}

	o.err = orchestrator.ErrNoProvider
	if rec := do(h, http.MethodGet, "/api/v1/search?q=x", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no provider: expected 503, got %d", rec.Code)
	}

	t.Log("✓ GET /api/v1/search validates and forwards")
}

func TestIntrospectionAndCache(t *testing.T) {
	o := &fakeOrchestrator{stats: orchestrator.Stats{
		Generation: orchestrator.OperationStats{Backends: []orchestrator.BackendStats{
			{Name: "llama-3.1-8b-instant", Priority: 1, Available: true},
		}},
		DefaultProvider: "tavily",
	}}
	h := newTestServer(t, &fakeAnswerer{}, o, 0)

	rec := do(h, http.MethodGet, "/api/v1/backends", "")
	var backends backendsResponse
	_ = json.NewDecoder(rec.Body).Decode(&backends)
	if rec.Code != http.StatusOK || len(backends.Generation) != 1 || backends.DefaultProvider != "tavily" {
		t.Errorf("unexpected backends response %d: %+v", rec.Code, backends)
	}

	if rec := do(h, http.MethodGet, "/api/v1/stats", ""); rec.Code != http.StatusOK {
		t.Errorf("stats: expected 200, got %d", rec.Code)
	}

	if rec := do(h, http.MethodDelete, "/api/v1/cache", ""); rec.Code != http.StatusOK || o.clearing != 1 {
		t.Errorf("cache purge failed: %d, %d calls", rec.Code, o.clearing)
	}

	if rec := do(h, http.MethodGet, "/ready", ""); rec.Code != http.StatusOK {
		t.Errorf("ready: expected 200, got %d", rec.Code)
	}
	o.stats.Generation.Backends[0].Available = false
	if rec := do(h, http.MethodGet, "/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready: expected 503, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}

	t.Log("✓ Introspection, cache purge and probes")
}

func TestInFlightCap(t *testing.T) {
	a := &blockingAnswerer{started: make(chan struct{}, 1), release: make(chan struct{})}
	h := newTestServer(t, a, &fakeOrchestrator{}, 1)

	done := make(chan int)
	go func() {
		done <- do(h, http.MethodPost, "/api/v1/query", `{"query":"slow"}`).Code
	}()

	select {
	case <-a.started:
	case <-time.After(time.Second):
		t.Fatal("first request never reached the answerer")
	}

	rec := do(h, http.MethodPost, "/api/v1/query", `{"query":"second"}`)
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") == "" {
		t.Errorf("expected 503 with Retry-After, got %d", rec.Code)
	}

	close(a.release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first request: expected 200, got %d", code)
	}

	t.Log("✓ In-flight cap sheds excess requests")
}
