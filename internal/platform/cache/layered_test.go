package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockCache is a simple in-memory cache for testing
type mockCache struct {
	mu       sync.RWMutex
	data     map[string]mockEntry
	getErr   error
	setErr   error
	getCalls int
	setCalls int
	lastTTL  time.Duration
	// remaining, when set, is reported by TTL()
	remaining time.Duration
}

type mockEntry struct {
	value   any
	expires time.Time
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string]mockEntry)}
}

func (m *mockCache) Get(ctx context.Context, key string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++

	if m.getErr != nil {
		return nil, m.getErr
	}
	entry, ok := m.data[key]
	if !ok || (!entry.expires.IsZero() && time.Now().After(entry.expires)) {
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	m.lastTTL = ttl

	if m.setErr != nil {
		return m.setErr
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	m.data[key] = mockEntry{value: value, expires: expires}
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]mockEntry)
	return nil
}

func (m *mockCache) Close() error { return nil }

func (m *mockCache) calls() (gets, sets int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getCalls, m.setCalls
}

// ttlMockCache also reports remaining lifetime, like Redis
type ttlMockCache struct {
	*mockCache
}

func (m ttlMockCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	return m.remaining, nil
}

// TestL2HitBackfillsL1 verifies that L2 hits are backfilled to L1
func TestL2HitBackfillsL1(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newMockCache(), newMockCache()
	lc := NewLayeredCache(l1, l2)

	_ = l2.Set(ctx, "search:tavily:fp", []byte(`[{"title":"Paris"}]`), time.Minute)

	if _, err := lc.Get(ctx, "search:tavily:fp"); err != nil {
		t.Fatalf("First get failed: %v", err)
	}
	if _, sets := l1.calls(); sets != 1 {
		t.Errorf("Expected 1 L1 backfill, got %d", sets)
	}

	l2Gets, _ := l2.calls()
	if _, err := lc.Get(ctx, "search:tavily:fp"); err != nil {
		t.Fatalf("Second get failed: %v", err)
	}
	if gets, _ := l2.calls(); gets != l2Gets {
		t.Error("Second get should be served by L1")
	}

	t.Log("✓ L2 hit correctly backfills L1")
}

// TestBackfillNeverOutlivesL2 verifies L1 backfill uses the remaining L2 TTL
func TestBackfillNeverOutlivesL2(t *testing.T) {
	ctx := context.Background()
	l1 := newMockCache()
	l2 := ttlMockCache{newMockCache()}
	l2.remaining = 5 * time.Second

	lc := NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2, L1MaxTTL: time.Minute})
	_ = l2.Set(ctx, "k", "v", time.Minute)

	if _, err := lc.Get(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if l1.lastTTL != 5*time.Second {
		t.Errorf("Expected backfill TTL 5s, got %v", l1.lastTTL)
	}

	t.Log("✓ Backfill bounded by remaining L2 lifetime")
}

// TestTTLRespectedPerLayer verifies that L1 gets a capped TTL
func TestTTLRespectedPerLayer(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newMockCache(), newMockCache()
	lc := NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2, L1MaxTTL: 30 * time.Second})

	if err := lc.Set(ctx, "k", "v", 5*time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if l1.lastTTL != 30*time.Second {
		t.Errorf("Expected L1 TTL 30s, got %v", l1.lastTTL)
	}
	if l2.lastTTL != 5*time.Minute {
		t.Errorf("Expected L2 TTL 5m, got %v", l2.lastTTL)
	}

	t.Log("✓ TTL correctly capped for L1, full TTL for L2")
}

// TestGracefulDegradationOnL1Error verifies fallback to L2 when L1 fails
func TestGracefulDegradationOnL1Error(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newMockCache(), newMockCache()
	l1.getErr = errors.New("l1 down")
	l1.setErr = errors.New("l1 down")
	lc := NewLayeredCache(l1, l2)

	if err := lc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set should succeed when only L1 fails: %v", err)
	}
	if v, err := lc.Get(ctx, "k"); err != nil || v != "v" {
		t.Fatalf("Expected L2 value, got %v, %v", v, err)
	}

	t.Log("✓ Graceful degradation on L1 error")
}

// TestL2ErrorPropagation verifies non-miss L2 errors surface
func TestL2ErrorPropagation(t *testing.T) {
	ctx := context.Background()
	l1, l2 := newMockCache(), newMockCache()
	l2.getErr = errors.New("connection refused")
	lc := NewLayeredCache(l1, l2)

	_, err := lc.Get(ctx, "k")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Expected L2 error, got %v", err)
	}

	t.Log("✓ L2 errors propagate")
}

// TestL1OnlyMode verifies a nil L2 is tolerated
func TestL1OnlyMode(t *testing.T) {
	ctx := context.Background()
	lc := NewLayeredCache(newMockCache(), nil)

	if _, err := lc.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := lc.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := lc.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := lc.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected cleared cache, got %v", err)
	}

	t.Log("✓ L1-only mode works")
}

// TestDefaultL1MaxTTL verifies the default L1 TTL is applied
func TestDefaultL1MaxTTL(t *testing.T) {
	lc := NewLayeredCache(newMockCache(), newMockCache())
	if lc.l1MaxTTL != DefaultL1MaxTTL {
		t.Errorf("Expected default L1 max TTL %v, got %v", DefaultL1MaxTTL, lc.l1MaxTTL)
	}

	t.Log("✓ Default L1 max TTL correctly set")
}
