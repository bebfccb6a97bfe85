package orchestrator

import (
	"github.com/agatticelli/grounded-answers/internal/platform/cache"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

// LimiterStats is a point-in-time view of one backend's token bucket.
type LimiterStats struct {
	Rate      float64 `json:"rate_per_second"`
	Burst     int     `json:"burst"`
	Tokens    float64 `json:"available_tokens"`
	Adaptive  bool    `json:"adaptive"`
	Throttled bool    `json:"throttled"`
	Denials   int64   `json:"denials,omitempty"`
}

// BackendStats describes one backend for introspection.
type BackendStats struct {
	Name            string        `json:"name"`
	Model           string        `json:"model,omitempty"`
	Priority        int           `json:"priority"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
	Available       bool          `json:"available"`
	CircuitState    string        `json:"circuit_state,omitempty"`
	Limiter         *LimiterStats `json:"limiter,omitempty"`
}

// OperationStats describes one chain.
type OperationStats struct {
	Backends []BackendStats `json:"backends"`
	Cache    CacheStats     `json:"cache"`
}

// CacheStats mirrors cache.Stats with JSON-friendly durations.
type CacheStats struct {
	Size       int     `json:"size"`
	Capacity   int     `json:"capacity"`
	TTLSeconds float64 `json:"ttl_seconds"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	Expired    int64   `json:"expired"`
}

// Stats is the orchestrator's introspection snapshot.
type Stats struct {
	Generation         OperationStats `json:"generation"`
	Search             OperationStats `json:"search"`
	DefaultProvider    string         `json:"default_provider"`
	AvailableProviders []string       `json:"available_providers"`
	GatePending        int            `json:"gate_pending"`
	GateIntervalMS     int64          `json:"gate_interval_ms"`
}

// Stats returns backend, limiter, breaker and cache statistics.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Generation:         operationStats(o.generation.Backends(), o.generation.CacheStats()),
		Search:             operationStats(o.search.Backends(), o.search.CacheStats()),
		DefaultProvider:    o.DefaultProvider(),
		AvailableProviders: o.AvailableProviders(),
		GatePending:        o.gate.Pending(),
		GateIntervalMS:     o.gate.MinInterval().Milliseconds(),
	}
}

// GenerationBackends returns generation backend info in priority order.
func (o *Orchestrator) GenerationBackends() []BackendStats {
	return operationStats(o.generation.Backends(), cache.Stats{}).Backends
}

func operationStats(backends []*Backend, cs cache.Stats) OperationStats {
	stats := OperationStats{
		Backends: make([]BackendStats, 0, len(backends)),
		Cache: CacheStats{
			Size:       cs.Size,
			Capacity:   cs.Capacity,
			TTLSeconds: cs.TTL.Seconds(),
			Hits:       cs.Hits,
			Misses:     cs.Misses,
			Evictions:  cs.Evictions,
			Expired:    cs.Expired,
		},
	}
	for _, b := range backends {
		bs := BackendStats{
			Name:            b.Name(),
			Model:           b.Config.Model,
			Priority:        b.Config.Priority,
			MaxOutputTokens: b.Config.MaxOutputTokens,
			Available:       b.Config.HasCredential(),
			Limiter:         limiterStats(b.Limiter),
		}
		if b.Breaker != nil {
			bs.CircuitState = b.Breaker.State().String()
			if bs.Available && b.Breaker.State() == resilience.StateOpen {
				bs.Available = false
			}
		}
		stats.Backends = append(stats.Backends, bs)
	}
	return stats
}

func limiterStats(l Limiter) *LimiterStats {
	switch lim := l.(type) {
	case *resilience.AdaptiveLimiter:
		s := lim.Stats()
		return &LimiterStats{
			Rate:      s.CurrentRate,
			Burst:     s.Burst,
			Tokens:    s.AvailableTokens,
			Adaptive:  true,
			Throttled: lim.IsThrottled(),
			Denials:   s.Denials,
		}
	case *resilience.RateLimiter:
		rate, burst, tokens := lim.Stats()
		return &LimiterStats{Rate: rate, Burst: burst, Tokens: tokens}
	default:
		return nil
	}
}
