package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// AdaptiveLimiter is a token bucket whose refill rate follows backend
// feedback: explicit throttling cuts the rate, sustained success restores it.
//
// Algorithm:
//   - Starts at base rate
//   - On rate limit signal: rate *= backoffFactor^consecutiveHits (capped at 5 hits)
//   - After recoveryWindow consecutive successes: rate *= recoveryFactor
//   - Rate stays within [minRate, maxRate]
type AdaptiveLimiter struct {
	limiter *RateLimiter
	now     Clock

	baseRate       float64
	minRate        float64
	maxRate        float64
	backoffFactor  float64
	recoveryFactor float64
	recoveryWindow int

	currentRate         float64
	consecutiveSuccess  int64
	consecutiveFailures int64
	lastAdjustment      time.Time
	mu                  sync.RWMutex

	totalRequests int64
	denials       int64
	rateLimitHits int64
	adaptations   int64
}

// AdaptiveLimiterConfig configures the adaptive limiter.
type AdaptiveLimiterConfig struct {
	// Base rate in requests per second (default: 1.0)
	BaseRate float64
	// Minimum rate - floor for backoff (default: BaseRate/10)
	MinRate float64
	// Maximum rate - ceiling for recovery (default: BaseRate)
	MaxRate float64
	// Burst size (default: derived from BaseRate)
	Burst int

	BackoffFactor  float64 // default 0.5
	RecoveryFactor float64 // default 1.1
	RecoveryWindow int     // default 10

	Clock Clock
}

// NewAdaptiveLimiter creates a new adaptive rate limiter.
func NewAdaptiveLimiter(cfg AdaptiveLimiterConfig) *AdaptiveLimiter {
	if cfg.BaseRate <= 0 {
		cfg.BaseRate = 1.0
	}
	if cfg.MinRate <= 0 {
		cfg.MinRate = cfg.BaseRate / 10
	}
	if cfg.MaxRate <= 0 {
		cfg.MaxRate = cfg.BaseRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.BaseRate * 2)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.BackoffFactor <= 0 || cfg.BackoffFactor >= 1 {
		cfg.BackoffFactor = 0.5
	}
	if cfg.RecoveryFactor <= 1 {
		cfg.RecoveryFactor = 1.1
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 10
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if cfg.MinRate > cfg.BaseRate {
		cfg.MinRate = cfg.BaseRate
	}
	if cfg.MaxRate < cfg.BaseRate {
		cfg.MaxRate = cfg.BaseRate
	}

	return &AdaptiveLimiter{
		limiter: NewRateLimiterWithConfig(RateLimiterConfig{
			Rate:  cfg.BaseRate,
			Burst: cfg.Burst,
			Clock: cfg.Clock,
		}),
		now:            cfg.Clock,
		baseRate:       cfg.BaseRate,
		minRate:        cfg.MinRate,
		maxRate:        cfg.MaxRate,
		backoffFactor:  cfg.BackoffFactor,
		recoveryFactor: cfg.RecoveryFactor,
		recoveryWindow: cfg.RecoveryWindow,
		currentRate:    cfg.BaseRate,
		lastAdjustment: cfg.Clock(),
	}
}

// NewAdaptiveLimiterFromRPM creates an adaptive limiter from RPM values.
func NewAdaptiveLimiterFromRPM(baseRPM, burst int) *AdaptiveLimiter {
	return NewAdaptiveLimiter(AdaptiveLimiterConfig{
		BaseRate: float64(baseRPM) / 60.0,
		Burst:    burst,
	})
}

// Acquire takes a token, waiting at most timeout.
func (a *AdaptiveLimiter) Acquire(ctx context.Context, timeout time.Duration) bool {
	atomic.AddInt64(&a.totalRequests, 1)
	if a.limiter.Acquire(ctx, timeout) {
		return true
	}
	atomic.AddInt64(&a.denials, 1)
	return false
}

// Observe adapts the rate to one attempt outcome. It is meant to be chained
// into RetryConfig.OnAttempt.
func (a *AdaptiveLimiter) Observe(attempt Attempt) {
	switch attempt.Kind {
	case KindNone:
		a.RecordSuccess()
	case KindRateLimited:
		a.RecordRateLimitError()
	default:
		atomic.StoreInt64(&a.consecutiveSuccess, 0)
	}
}

// RecordSuccess indicates a successful call.
func (a *AdaptiveLimiter) RecordSuccess() {
	atomic.StoreInt64(&a.consecutiveFailures, 0)

	if int(atomic.AddInt64(&a.consecutiveSuccess, 1)) >= a.recoveryWindow {
		a.tryRecover()
	}
}

// RecordRateLimitError indicates the backend throttled us.
func (a *AdaptiveLimiter) RecordRateLimitError() {
	atomic.AddInt64(&a.rateLimitHits, 1)
	atomic.StoreInt64(&a.consecutiveSuccess, 0)
	failures := atomic.AddInt64(&a.consecutiveFailures, 1)

	a.backoff(int(failures))
}

func (a *AdaptiveLimiter) backoff(failureCount int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if failureCount > 5 {
		failureCount = 5
	}

	multiplier := 1.0
	for i := 0; i < failureCount; i++ {
		multiplier *= a.backoffFactor
	}

	newRate := a.currentRate * multiplier
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.setRate(newRate)
}

func (a *AdaptiveLimiter) tryRecover() {
	a.mu.Lock()
	defer a.mu.Unlock()

	atomic.StoreInt64(&a.consecutiveSuccess, 0)

	if a.currentRate >= a.maxRate {
		return
	}
	// at most one increase per second
	if a.now().Sub(a.lastAdjustment) < time.Second {
		return
	}

	newRate := a.currentRate * a.recoveryFactor
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.setRate(newRate)
}

// setRate applies a new rate (caller must hold lock)
func (a *AdaptiveLimiter) setRate(rate float64) {
	if rate == a.currentRate {
		return
	}
	a.currentRate = rate
	a.limiter.SetRate(rate)
	a.lastAdjustment = a.now()
	atomic.AddInt64(&a.adaptations, 1)
}

// AdaptiveLimiterStats is a point-in-time view of the limiter.
type AdaptiveLimiterStats struct {
	CurrentRate     float64 `json:"current_rate"`
	BaseRate        float64 `json:"base_rate"`
	MinRate         float64 `json:"min_rate"`
	MaxRate         float64 `json:"max_rate"`
	Burst           int     `json:"burst"`
	AvailableTokens float64 `json:"available_tokens"`
	TotalRequests   int64   `json:"total_requests"`
	Denials         int64   `json:"denials"`
	RateLimitHits   int64   `json:"rate_limit_hits"`
	Adaptations     int64   `json:"adaptations"`
}

// Stats returns current statistics.
func (a *AdaptiveLimiter) Stats() AdaptiveLimiterStats {
	a.mu.RLock()
	currentRate := a.currentRate
	a.mu.RUnlock()

	_, burst, tokens := a.limiter.Stats()

	return AdaptiveLimiterStats{
		CurrentRate:     currentRate,
		BaseRate:        a.baseRate,
		MinRate:         a.minRate,
		MaxRate:         a.maxRate,
		Burst:           burst,
		AvailableTokens: tokens,
		TotalRequests:   atomic.LoadInt64(&a.totalRequests),
		Denials:         atomic.LoadInt64(&a.denials),
		RateLimitHits:   atomic.LoadInt64(&a.rateLimitHits),
		Adaptations:     atomic.LoadInt64(&a.adaptations),
	}
}

// CurrentRate returns the current rate in requests per second.
func (a *AdaptiveLimiter) CurrentRate() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentRate
}

// IsThrottled returns true if we're operating below base rate.
func (a *AdaptiveLimiter) IsThrottled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentRate < a.baseRate
}
