package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// RateLimitBaseDelay replaces BaseDelay when the failed attempt was an
	// explicit throttling signal. Zero means use BaseDelay.
	RateLimitBaseDelay time.Duration
	MaxDelay           time.Duration // zero disables the cap
	Jitter             float64       // 0.0 to 1.0
	AttemptTimeout     time.Duration // zero leaves attempts bounded only by ctx

	// Sleep waits between attempts. Defaults to a timer that honours ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnAttempt observes every attempt, successful or not.
	OnAttempt func(Attempt)
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Retry executes a function with exponential backoff retry logic
func Retry(ctx context.Context, cfg RetryConfig, name string, fn func(context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult calls fn until it succeeds, the attempt budget runs out or
// the failure is permanent. Attempt n (0-based) that fails transiently is
// followed by a backoff of base*2^n. Failures come back as *RetryError.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	attempts := make([]Attempt, 0, cfg.MaxAttempts)
	fail := func(reason RetryReason, err error) (T, error) {
		return zero, &RetryError{Backend: name, Reason: reason, Attempts: attempts, Err: err}
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		res, err := callAttempt(ctx, cfg.AttemptTimeout, fn)

		record := Attempt{Backend: name, Number: attempt + 1, Kind: Classify(err), Err: err}
		if err == nil {
			attempts = append(attempts, record)
			observe(cfg, record)
			return res, nil
		}

		// The caller's context ending is cancellation, not a backend failure.
		if ctx.Err() != nil {
			attempts = append(attempts, record)
			observe(cfg, record)
			return fail(ReasonCancelled, ctx.Err())
		}

		if record.Kind == KindRejected {
			attempts = append(attempts, record)
			observe(cfg, record)
			return fail(ReasonRejected, err)
		}

		// Don't sleep after last attempt
		if attempt == cfg.MaxAttempts-1 {
			attempts = append(attempts, record)
			observe(cfg, record)
			return fail(ReasonExhausted, err)
		}

		base := cfg.BaseDelay
		if record.Kind == KindRateLimited && cfg.RateLimitBaseDelay > 0 {
			base = cfg.RateLimitBaseDelay
		}
		record.Delay = calculateBackoff(attempt, base, cfg.MaxDelay, cfg.Jitter)
		attempts = append(attempts, record)
		observe(cfg, record)

		if err := sleep(ctx, record.Delay); err != nil {
			return fail(ReasonCancelled, err)
		}
	}

	// unreachable: the loop always returns on its last iteration
	return fail(ReasonExhausted, ErrExhaustedRetries)
}

func callAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func observe(cfg RetryConfig, a Attempt) {
	if cfg.OnAttempt != nil {
		cfg.OnAttempt(a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// calculateBackoff calculates delay with exponential backoff and jitter
func calculateBackoff(attempt int, baseDelay, maxDelay time.Duration, jitter float64) time.Duration {
	// Exponential backoff: baseDelay * 2^attempt
	delay := float64(baseDelay) * math.Pow(2, float64(attempt))

	if maxDelay > 0 && delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	// Add jitter: randomize delay by ±jitter percent
	if jitter > 0 {
		jitterAmount := delay * jitter
		delay = delay - jitterAmount + (rand.Float64() * jitterAmount * 2)
	}

	return time.Duration(delay)
}

// IsRetryable reports whether another attempt against the same backend can help.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err) != KindRejected
}
