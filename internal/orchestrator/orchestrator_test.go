package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

// countingSearcher returns canned results per provider and counts outbound calls.
type countingSearcher struct {
	mu      sync.Mutex
	results map[string][]SearchResult
	errs    map[string]error
	calls   map[string]int
}

func newCountingSearcher() *countingSearcher {
	return &countingSearcher{
		results: map[string][]SearchResult{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (s *countingSearcher) Search(ctx context.Context, provider BackendConfig, req SearchRequest) ([]SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[provider.Name]++
	if err := s.errs[provider.Name]; err != nil {
		return nil, err
	}
	return s.results[provider.Name], nil
}

func (s *countingSearcher) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func newTestOrchestrator(t *testing.T, gen Generator, search Searcher, sleeper *recordingSleeper) *Orchestrator {
	t.Helper()

	sleep := noSleep
	if sleeper != nil {
		sleep = sleeper.Sleep
	}

	o, err := New(Config{
		Generation: OperationConfig{
			Backends: []BackendConfig{
				{Name: "A", Model: "fast", Priority: 1, Credential: "k"},
				{Name: "B", Model: "balanced", Priority: 2, Credential: "k"},
				{Name: "C", Model: "quality", Priority: 3, Credential: "k"},
			},
			Retry:         resilience.RetryConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second, Sleep: sleep},
			CacheTTL:      time.Minute,
			CacheCapacity: 100,
		},
		Search: OperationConfig{
			Backends: []BackendConfig{
				{Name: "tavily", Priority: 1, Credential: "t"},
				{Name: "serper", Priority: 2, Credential: "s"},
				{Name: "brave", Priority: 3},
			},
			Retry:         resilience.RetryConfig{MaxAttempts: 2, BaseDelay: time.Second, Sleep: noSleep},
			Limit:         LimitConfig{RequestsPerMinute: 600, Burst: 10},
			CacheTTL:      time.Minute,
			CacheCapacity: 100,
		},
		DefaultProvider: "tavily",
		Failover:        true,
		Generator:       gen,
		Searcher:        search,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func TestGenerateAnswer_RateLimitedTwiceThenSucceeds(t *testing.T) {
	gen := newScripted().on("A",
		status(http.StatusTooManyRequests),
		status(http.StatusTooManyRequests),
		succeed("The capital of France is Paris."),
	)
	sleeper := &recordingSleeper{}
	o := newTestOrchestrator(t, gen, newCountingSearcher(), sleeper)

	req := GenerationRequest{Prompt: "What is the capital of France?"}
	res, err := o.GenerateAnswer(context.Background(), req)
	if err != nil {
		t.Fatalf("GenerateAnswer failed: %v", err)
	}

	if res.Value != "The capital of France is Paris." || res.Backend != "A" {
		t.Errorf("expected A's third-attempt answer, got %+v", res)
	}
	if gen.callsTo("A") != 3 || gen.callsTo("B") != 0 {
		t.Errorf("expected 3 calls to A and none to B, got %d/%d", gen.callsTo("A"), gen.callsTo("B"))
	}
	if len(sleeper.delays) != 2 || sleeper.delays[0] != 2*time.Second || sleeper.delays[1] != 4*time.Second {
		t.Errorf("expected backoff [2s 4s], got %v", sleeper.delays)
	}

	cached, ok := o.CachedAnswer(context.Background(), req, "A")
	if !ok || cached != res.Value {
		t.Errorf("answer should be cached for backend A, got %q %v", cached, ok)
	}

	t.Log("✓ Throttled backend recovers and its answer is cached")
}

func TestGenerateAnswer_SecondCallServedFromCache(t *testing.T) {
	gen := newScripted().on("A", succeed("42"))
	o := newTestOrchestrator(t, gen, newCountingSearcher(), nil)

	req := GenerationRequest{System: "sys", Prompt: "meaning of life"}
	if _, err := o.GenerateAnswer(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	res, err := o.GenerateAnswer(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.FromCache || gen.callsTo("A") != 1 {
		t.Errorf("expected cached answer with one call, got %+v after %d calls", res, gen.callsTo("A"))
	}

	if err := o.ClearCaches(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := o.CachedAnswer(context.Background(), req, "A"); ok {
		t.Error("cache should be empty after ClearCaches")
	}

	t.Log("✓ Repeated generation is served from cache")
}

func TestGenerateAnswer_TerminalFailure(t *testing.T) {
	gen := newScripted().
		on("A", status(http.StatusInternalServerError)).
		on("B", status(http.StatusBadRequest)).
		on("C", status(http.StatusServiceUnavailable))
	o := newTestOrchestrator(t, gen, newCountingSearcher(), nil)

	_, err := o.GenerateAnswer(context.Background(), GenerationRequest{Prompt: "q"})
	if !errors.Is(err, ErrAllBackendsFailed) {
		t.Fatalf("expected ErrAllBackendsFailed, got %v", err)
	}

	t.Log("✓ Only total exhaustion crosses the boundary")
}

func TestGenerateAnswer_CoalescesIdenticalRequests(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	gen := GeneratorFunc(func(ctx context.Context, b BackendConfig, r GenerationRequest) (string, error) {
		calls.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return "shared", nil
	})
	o := newTestOrchestrator(t, gen, newCountingSearcher(), nil)

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := o.GenerateAnswer(context.Background(), GenerationRequest{Prompt: "same"})
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = res.Value
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("expected one backend call, got %d", calls.Load())
	}
	for i, r := range results {
		if r != "shared" {
			t.Errorf("caller %d got %q", i, r)
		}
	}

	t.Log("✓ Concurrent identical requests share one execution")
}

func TestSearch_SecondIdenticalQueryHitsCache(t *testing.T) {
	search := newCountingSearcher()
	search.results["tavily"] = []SearchResult{{Title: "Paris", URL: "https://en.wikipedia.org/wiki/Paris", Score: 0.9}}
	o := newTestOrchestrator(t, newScripted(), search, nil)

	req := SearchRequest{Query: "capital of France", MaxResults: 5}
	first, err := o.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Backend != "tavily" || first.FromCache {
		t.Errorf("expected live tavily result, got %+v", first)
	}

	second, err := o.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.FromCache || len(second.Value) != 1 {
		t.Errorf("expected cached result, got %+v", second)
	}
	if search.total() != 1 {
		t.Errorf("expected zero additional outbound calls, got %d total", search.total())
	}

	t.Log("✓ Identical search within TTL makes no outbound call")
}

func TestSearch_ProviderSelection(t *testing.T) {
	search := newCountingSearcher()
	search.results["tavily"] = []SearchResult{{Title: "t"}}
	search.results["serper"] = []SearchResult{{Title: "s"}}
	o := newTestOrchestrator(t, newScripted(), search, nil)
	ctx := context.Background()

	res, err := o.Search(ctx, SearchRequest{Query: "q1", Provider: "serper"})
	if err != nil || res.Backend != "serper" {
		t.Fatalf("explicit provider not honoured: %+v %v", res, err)
	}

	// brave has no credential: fall back to the default provider
	res, err = o.Search(ctx, SearchRequest{Query: "q2", Provider: "brave"})
	if err != nil || res.Backend != "tavily" {
		t.Fatalf("expected fallback to tavily, got %+v %v", res, err)
	}

	if got := o.AvailableProviders(); len(got) != 2 || got[0] != "tavily" || got[1] != "serper" {
		t.Errorf("unexpected available providers: %v", got)
	}
	if o.DefaultProvider() != "tavily" {
		t.Errorf("expected default tavily, got %s", o.DefaultProvider())
	}

	t.Log("✓ Provider selection honours explicit, default and credentials")
}

func TestSearch_FailoverToNextProvider(t *testing.T) {
	search := newCountingSearcher()
	search.errs["tavily"] = &resilience.StatusError{StatusCode: http.StatusUnauthorized}
	search.results["serper"] = []SearchResult{{Title: "from serper"}}
	o := newTestOrchestrator(t, newScripted(), search, nil)

	res, err := o.Search(context.Background(), SearchRequest{Query: "q"})
	if err != nil {
		t.Fatalf("expected failover success, got %v", err)
	}
	if res.Backend != "serper" {
		t.Errorf("expected serper, got %s", res.Backend)
	}

	t.Log("✓ Search fails over to the next credentialed provider")
}

func TestSearch_EmptyResultsNotCached(t *testing.T) {
	search := newCountingSearcher()
	o := newTestOrchestrator(t, newScripted(), search, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := o.Search(ctx, SearchRequest{Query: "nothing"})
		if err != nil || len(res.Value) != 0 {
			t.Fatalf("expected empty success, got %+v %v", res, err)
		}
	}
	if search.total() != 2 {
		t.Errorf("empty results must not be cached, got %d calls", search.total())
	}

	t.Log("✓ Empty result lists are returned but not cached")
}

func TestSearch_NoCredentialedProvider(t *testing.T) {
	o, err := New(Config{
		Generation: OperationConfig{Backends: []BackendConfig{{Name: "A"}}},
		Search:     OperationConfig{Backends: []BackendConfig{{Name: "tavily"}}},
		Generator:  newScripted(),
		Searcher:   newCountingSearcher(),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = o.Search(context.Background(), SearchRequest{Query: "q"})
	if !errors.Is(err, ErrAllBackendsFailed) || !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected a chain failure carrying ErrNoProvider, got %v", err)
	}
	var chainErr *AllBackendsFailedError
	if !errors.As(err, &chainErr) || chainErr.Operation != opSearch || chainErr.Failures[0].Reason != ReasonNoProvider {
		t.Errorf("unexpected failure detail: %+v", chainErr)
	}

	t.Log("✓ Search without credentials fails fast")
}

func TestStats_ReportsBackendsAndCache(t *testing.T) {
	search := newCountingSearcher()
	search.results["tavily"] = []SearchResult{{Title: "t"}}
	o := newTestOrchestrator(t, newScripted().on("A", succeed("x")), search, nil)
	ctx := context.Background()

	_, _ = o.GenerateAnswer(ctx, GenerationRequest{Prompt: "p"})
	_, _ = o.Search(ctx, SearchRequest{Query: "q"})

	stats := o.Stats()
	if len(stats.Generation.Backends) != 3 || stats.Generation.Backends[0].Model != "fast" {
		t.Errorf("unexpected generation backends: %+v", stats.Generation.Backends)
	}
	if stats.Generation.Cache.Size != 1 || stats.Search.Cache.Size != 1 {
		t.Errorf("expected one cached entry per chain, got %d/%d", stats.Generation.Cache.Size, stats.Search.Cache.Size)
	}
	if stats.Search.Backends[0].Limiter == nil {
		t.Error("search backends should report limiter stats")
	}
	if stats.Search.Backends[2].Available {
		t.Error("brave has no credential and must not be available")
	}

	t.Log("✓ Stats expose backends, limiters and caches")
}

func TestGenerateAnswer_RecoveredPrimaryIsTriedBeforeFallbackCache(t *testing.T) {
	gen := newScripted().
		on("A", status(http.StatusBadRequest), succeed("answer-A")).
		on("B", succeed("answer-B"))
	o := newTestOrchestrator(t, gen, newCountingSearcher(), nil)
	req := GenerationRequest{Prompt: "What is the capital of France?"}

	first, err := o.GenerateAnswer(context.Background(), req)
	if err != nil || first.Backend != "B" {
		t.Fatalf("expected B to answer after A rejected, got %+v %v", first, err)
	}

	second, err := o.GenerateAnswer(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if second.Backend != "A" || second.Value != "answer-A" || second.FromCache {
		t.Errorf("recovered A must be called before B's cached answer is served, got %+v", second)
	}
	if gen.callsTo("A") != 2 || gen.callsTo("B") != 1 {
		t.Errorf("expected A=2 B=1 calls, got A=%d B=%d", gen.callsTo("A"), gen.callsTo("B"))
	}

	t.Log("✓ A lower-priority cache entry never shadows a higher-priority backend")
}

func TestSearch_FailoverCacheDoesNotShadowSelectedProvider(t *testing.T) {
	s := newCountingSearcher()
	s.errs["tavily"] = &resilience.StatusError{StatusCode: http.StatusUnauthorized}
	s.results["tavily"] = []SearchResult{{Title: "from tavily"}}
	s.results["serper"] = []SearchResult{{Title: "from serper"}}
	o := newTestOrchestrator(t, newScripted(), s, nil)
	req := SearchRequest{Query: "golang generics", MaxResults: 5}

	first, err := o.Search(context.Background(), req)
	if err != nil || first.Backend != "serper" {
		t.Fatalf("expected failover to serper, got %+v %v", first, err)
	}

	s.mu.Lock()
	delete(s.errs, "tavily")
	s.mu.Unlock()

	second, err := o.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if second.Backend != "tavily" || second.FromCache {
		t.Errorf("selected provider must be called first once healthy, got %+v", second)
	}

	t.Log("✓ Failover results do not shadow the selected provider")
}
