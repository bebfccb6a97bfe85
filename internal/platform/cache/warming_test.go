package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agatticelli/grounded-answers/internal/platform/observability"
)

type fakeWarmup struct {
	name  string
	err   error
	calls atomic.Int32
}

func (f *fakeWarmup) Name() string { return f.name }

func (f *fakeWarmup) Warmup(ctx context.Context) error {
	f.calls.Add(1)
	return f.err
}

// TestWarmerParallel verifies every provider runs and errors are counted
func TestWarmerParallel(t *testing.T) {
	w := NewWarmer(observability.NewNopLogger(), WarmupConfig{Timeout: time.Second, Workers: 2})

	ok1 := &fakeWarmup{name: "q1"}
	ok2 := &fakeWarmup{name: "q2"}
	bad := &fakeWarmup{name: "q3", err: errors.New("provider down")}
	w.RegisterProvider(ok1)
	w.RegisterProvider(bad)
	w.RegisterProvider(ok2)

	results := w.Warmup(context.Background())

	if len(results.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results.Results))
	}
	if !results.HasErrors() || results.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", results.Errors)
	}
	if results.Results[1].Provider != "q3" {
		t.Errorf("Expected results in registration order, got %+v", results.Results)
	}
	for _, f := range []*fakeWarmup{ok1, ok2, bad} {
		if f.calls.Load() != 1 {
			t.Errorf("Provider %s called %d times", f.name, f.calls.Load())
		}
	}

	t.Log("✓ Parallel warmup runs all providers")
}

// TestWarmerSequentialStopsOnError verifies ContinueOnError=false
func TestWarmerSequentialStopsOnError(t *testing.T) {
	w := NewWarmer(observability.NewNopLogger(), WarmupConfig{Workers: 1})

	bad := &fakeWarmup{name: "first", err: errors.New("boom")}
	skipped := &fakeWarmup{name: "second"}
	w.RegisterProvider(bad)
	w.RegisterProvider(skipped)

	results := w.Warmup(context.Background())
	if len(results.Results) != 1 || skipped.calls.Load() != 0 {
		t.Errorf("Expected warmup to stop after first failure, got %+v", results.Results)
	}

	t.Log("✓ Sequential warmup stops on error")
}
