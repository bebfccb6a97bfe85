package resilience

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall-clock reads so limiter and cache tests can drive time.
type Clock func() time.Time

// RateLimiter implements token bucket rate limiting.
// Refill is computed lazily on every call; there is no background goroutine.
type RateLimiter struct {
	rate         float64   // Tokens per second
	burst        int       // Max tokens (bucket size)
	tokens       float64   // Current tokens, always within [0, burst]
	lastUpdate   time.Time // Last token refill time
	now          Clock
	pollInterval time.Duration
	mu           sync.Mutex
}

// RateLimiterConfig configures a RateLimiter.
type RateLimiterConfig struct {
	Rate  float64 // tokens per second
	Burst int     // bucket capacity

	Clock Clock
	// PollInterval caps how long a blocked Acquire sleeps between checks.
	PollInterval time.Duration
}

// NewRateLimiter creates a new rate limiter
// rate: number of requests per second
// burst: maximum burst size
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return NewRateLimiterWithConfig(RateLimiterConfig{Rate: rate, Burst: burst})
}

// NewRateLimiterFromRPM creates a rate limiter from requests per minute
func NewRateLimiterFromRPM(requestsPerMinute int, burst int) *RateLimiter {
	rate := float64(requestsPerMinute) / 60.0
	return NewRateLimiter(rate, burst)
}

// NewRateLimiterWithConfig creates a limiter that starts with a full bucket.
func NewRateLimiterWithConfig(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 10 // default: 10 requests/sec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.Rate) // default burst = rate
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}

	return &RateLimiter{
		rate:         cfg.Rate,
		burst:        cfg.Burst,
		tokens:       float64(cfg.Burst), // Start with full bucket
		lastUpdate:   cfg.Clock(),
		now:          cfg.Clock,
		pollInterval: cfg.PollInterval,
	}
}

// Allow checks if a request is allowed without blocking
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}

	return false
}

// Acquire takes one token, waiting up to timeout for a refill.
// A false return is a denial, not an error: the caller should skip the
// backend or report it saturated. A zero timeout never blocks.
func (rl *RateLimiter) Acquire(ctx context.Context, timeout time.Duration) bool {
	if rl.Allow() {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := rl.now().Add(timeout)
	for {
		remaining := deadline.Sub(rl.now())
		if remaining <= 0 {
			return false
		}

		wait := rl.calculateWaitTime()
		if wait > rl.pollInterval {
			wait = rl.pollInterval
		}
		if wait > remaining {
			wait = remaining
		}

		if err := sleepContext(ctx, wait); err != nil {
			return false
		}
		if rl.Allow() {
			return true
		}
	}
}

// Wait blocks until a token is available or context is cancelled
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}

		if err := sleepContext(ctx, rl.calculateWaitTime()); err != nil {
			return err
		}
	}
}

// refill adds tokens based on elapsed time (caller must hold lock)
func (rl *RateLimiter) refill() {
	now := rl.now()
	elapsed := now.Sub(rl.lastUpdate)
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed.Seconds() * rl.rate
	if rl.tokens > float64(rl.burst) {
		rl.tokens = float64(rl.burst)
	}

	rl.lastUpdate = now
}

// calculateWaitTime calculates how long to wait for next token
func (rl *RateLimiter) calculateWaitTime() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokensNeeded := 1.0 - rl.tokens
	if tokensNeeded < 0 {
		tokensNeeded = 0
	}

	waitTime := time.Duration(tokensNeeded / rl.rate * float64(time.Second))

	// Minimum wait time to avoid busy-waiting
	if waitTime < 10*time.Millisecond {
		waitTime = 10 * time.Millisecond
	}

	return waitTime
}

// SetRate changes the rate limit (requests per second)
func (rl *RateLimiter) SetRate(rate float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// settle tokens earned at the old rate first
	rl.refill()
	rl.rate = rate
}

// Stats returns current rate limiter statistics
func (rl *RateLimiter) Stats() (rate float64, burst int, availableTokens float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()
	return rl.rate, rl.burst, rl.tokens
}

// Reset resets the rate limiter to full capacity
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = float64(rl.burst)
	rl.lastUpdate = rl.now()
}
