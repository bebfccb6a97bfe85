package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned when circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// State represents circuit breaker state
type State int

const (
	// StateClosed allows all requests
	StateClosed State = iota
	// StateOpen rejects all requests
	StateOpen
	// StateHalfOpen allows limited requests to test recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calls to a backend that keeps failing and lets a
// trial call through once the cool-down has passed.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	countsAsFailure  func(error) bool
	now              Clock

	state         State
	failures      int
	successes     int
	openedAt      time.Time
	mu            sync.RWMutex
	onStateChange func(name string, from, to State)
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // successes in half-open before closing
	Timeout          time.Duration // open -> half-open cool-down
	// CountsAsFailure filters which errors move the breaker. By default
	// cancellation, limiter denials and permanent rejections are ignored.
	CountsAsFailure func(error) bool
	Clock           Clock
	OnStateChange   func(name string, from, to State)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CountsAsFailure == nil {
		cfg.CountsAsFailure = defaultCountsAsFailure
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		countsAsFailure:  cfg.CountsAsFailure,
		now:              cfg.Clock,
		state:            StateClosed,
		onStateChange:    cfg.OnStateChange,
	}
}

func defaultCountsAsFailure(err error) bool {
	var retryErr *RetryError
	if errors.As(err, &retryErr) {
		return retryErr.Reason == ReasonExhausted
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrLimiterDenied) {
		return false
	}
	return Classify(err) != KindRejected
}

// Execute executes a function through the circuit breaker
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.Record(err)
	return err
}

// ExecuteWithResult executes a function with result through circuit breaker
// Note: This is a standalone generic function, not a method, as Go doesn't support generic methods
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var result T

	if err := cb.Allow(); err != nil {
		return result, err
	}

	res, err := fn(ctx)
	cb.Record(err)
	return res, err
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen while
// the breaker is open and the cool-down has not elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.timeout {
			cb.setState(StateHalfOpen)
			cb.successes = 0
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// Record feeds the outcome of a call allowed by Allow back into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	if err != nil && !cb.countsAsFailure(err) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.successes = 0

		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.failureThreshold {
				cb.open()
			}
		case StateHalfOpen:
			cb.open()
		}
		return
	}

	cb.successes++
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		if cb.successes >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.failures = 0
		}
	}
}

// open transitions to open (caller must hold lock)
func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.setState(StateOpen)
}

// setState transitions to a new state (caller must hold lock)
func (cb *CircuitBreaker) setState(newState State) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, oldState, newState)
	}
}

// State returns current state
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Name returns circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.successes = 0
}

// ForceOpen manually forces circuit breaker to open state
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.open()
}

// Stats returns circuit breaker statistics
func (cb *CircuitBreaker) Stats() (state State, failures, successes int) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state, cb.failures, cb.successes
}
