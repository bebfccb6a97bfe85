package resilience

import (
	"context"
	"sync"
	"time"
)

// Gate enforces a minimum spacing between consecutive releases across all
// callers. Waiters are released strictly in arrival order: each one chains
// on the done channel of the caller queued before it.
type Gate struct {
	minInterval time.Duration
	now         Clock
	sleep       func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	tail    chan struct{}
	last    time.Time
	pending int

	// released observes the recorded release timestamp, in release order.
	released func(time.Time)
}

// GateConfig configures a Gate.
type GateConfig struct {
	MinInterval time.Duration
	Clock       Clock
	Sleep       func(ctx context.Context, d time.Duration) error
}

// NewGate creates a gate. A zero MinInterval still serializes callers.
func NewGate(cfg GateConfig) *Gate {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	tail := make(chan struct{})
	close(tail)

	return &Gate{
		minInterval: cfg.MinInterval,
		now:         cfg.Clock,
		sleep:       cfg.Sleep,
		tail:        tail,
	}
}

// Acquire blocks until every earlier caller has been released and at least
// MinInterval has passed since the previous release. It returns the context
// error if ctx ends first; a cancelled waiter never lets a later one jump
// ahead of its own predecessor.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	prev := g.tail
	done := make(chan struct{})
	g.tail = done
	g.pending++
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.pending--
		g.mu.Unlock()
	}()

	select {
	case <-prev:
	case <-ctx.Done():
		go func() {
			<-prev
			close(done)
		}()
		return ctx.Err()
	}

	g.mu.Lock()
	last := g.last
	g.mu.Unlock()

	if !last.IsZero() {
		if wait := last.Add(g.minInterval).Sub(g.now()); wait > 0 {
			if err := g.sleep(ctx, wait); err != nil {
				close(done)
				return err
			}
		}
	}

	now := g.now()
	g.mu.Lock()
	g.last = now
	g.mu.Unlock()

	if g.released != nil {
		g.released(now)
	}
	close(done)
	return nil
}

// Pending returns the number of callers currently inside Acquire.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// MinInterval returns the configured spacing.
func (g *Gate) MinInterval() time.Duration {
	return g.minInterval
}
