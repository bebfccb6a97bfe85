package resilience

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestGateSpacing verifies successive releases are at least MinInterval apart
func TestGateSpacing(t *testing.T) {
	const interval = 20 * time.Millisecond
	gate := NewGate(GateConfig{MinInterval: interval})

	var mu sync.Mutex
	var releases []time.Time
	gate.released = func(ts time.Time) {
		mu.Lock()
		releases = append(releases, ts)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gate.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(releases) != 6 {
		t.Fatalf("Expected 6 releases, got %d", len(releases))
	}
	for i := 1; i < len(releases); i++ {
		if gap := releases[i].Sub(releases[i-1]); gap < interval {
			t.Errorf("Release %d only %v after previous, want >= %v", i, gap, interval)
		}
	}

	t.Log("✓ Gate enforces minimum spacing across concurrent callers")
}

// TestGateFIFO verifies waiters are released in arrival order
func TestGateFIFO(t *testing.T) {
	gate := NewGate(GateConfig{MinInterval: 30 * time.Millisecond})

	// prime so every later caller has to wait
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := gate.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire %d failed: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}(i)

		// wait until caller i is queued before starting the next one
		deadline := time.Now().Add(time.Second)
		for gate.Pending() < i+1 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()

	for i, id := range order {
		if id != i {
			t.Fatalf("Expected FIFO order, got %v", order)
		}
	}

	t.Log("✓ Gate releases waiters first-come first-served")
}

// TestGateCancelledWaiterKeepsOrder verifies a cancelled waiter neither blocks nor lets others jump
func TestGateCancelledWaiterKeepsOrder(t *testing.T) {
	const interval = 30 * time.Millisecond
	gate := NewGate(GateConfig{MinInterval: interval})

	var mu sync.Mutex
	var releases []time.Time
	gate.released = func(ts time.Time) {
		mu.Lock()
		releases = append(releases, ts)
		mu.Unlock()
	}

	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() { cancelled <- gate.Acquire(ctx) }()

	for gate.Pending() < 1 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-cancelled; err == nil {
		t.Fatal("Expected cancelled Acquire to return an error")
	}

	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after cancellation failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(releases) != 2 {
		t.Fatalf("Expected 2 releases, got %d", len(releases))
	}
	if gap := releases[1].Sub(releases[0]); gap < interval {
		t.Errorf("Spacing violated after cancellation: %v", gap)
	}

	t.Log("✓ Cancelled waiter leaves the gate consistent")
}

// TestGateFirstCallImmediate verifies an idle gate does not delay
func TestGateFirstCallImmediate(t *testing.T) {
	gate := NewGate(GateConfig{MinInterval: time.Hour})

	start := time.Now()
	if err := gate.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("First acquire took %v", elapsed)
	}

	t.Log("✓ First acquire is immediate")
}
