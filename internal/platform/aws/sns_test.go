package aws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

type fakeSNS struct {
	mu     sync.Mutex
	inputs []*sns.PublishInput
	errs   []error
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &sns.PublishOutput{}, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func TestSNSClient_PublishRetriesTransient(t *testing.T) {
	api := &fakeSNS{errs: []error{errors.New("connection reset"), nil}}
	retry := resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep}

	client := NewSNSClient(SNSClientConfig{API: api, RetryConfig: &retry})

	event := map[string]string{"query_id": "q-1"}
	if err := client.Publish(context.Background(), "arn:aws:sns:us-east-1:000000000000:queries", event, map[string]string{"mode": "web"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(api.inputs) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(api.inputs))
	}
	last := api.inputs[1]
	if *last.Message != `{"query_id":"q-1"}` {
		t.Errorf("unexpected message body: %s", *last.Message)
	}
	if *last.MessageAttributes["mode"].StringValue != "web" {
		t.Error("message attribute not forwarded")
	}

	t.Log("✓ SNS publish retried transient failure")
}

func TestSNSClient_BreakerOpensAfterFailures(t *testing.T) {
	failing := make([]error, 10)
	for i := range failing {
		failing[i] = errors.New("unavailable")
	}
	api := &fakeSNS{errs: failing}
	retry := resilience.RetryConfig{MaxAttempts: 1, Sleep: noSleep}
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "sns", FailureThreshold: 2})

	client := NewSNSClient(SNSClientConfig{API: api, RetryConfig: &retry, CircuitBreaker: breaker})

	for i := 0; i < 2; i++ {
		_ = client.Publish(context.Background(), "arn", "payload", nil)
	}
	if client.CircuitBreakerState() != resilience.StateOpen {
		t.Fatalf("expected open breaker, got %s", client.CircuitBreakerState())
	}

	err := client.Publish(context.Background(), "arn", "payload", nil)
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if len(api.inputs) != 2 {
		t.Errorf("open breaker should not call SNS, got %d calls", len(api.inputs))
	}

	client.ResetCircuitBreaker()
	if client.CircuitBreakerState() != resilience.StateClosed {
		t.Error("expected closed breaker after reset")
	}

	t.Log("✓ SNS circuit breaker opens and resets")
}
