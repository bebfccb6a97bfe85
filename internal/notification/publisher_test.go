package notification

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/agatticelli/grounded-answers/internal/platform/aws"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

type captureSNS struct {
	inputs []*sns.PublishInput
}

func (c *captureSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	c.inputs = append(c.inputs, in)
	return &sns.PublishOutput{}, nil
}

func TestPublisher_PublishQuery(t *testing.T) {
	api := &captureSNS{}
	retry := resilience.RetryConfig{MaxAttempts: 1}
	client := aws.NewSNSClient(aws.SNSClientConfig{API: api, RetryConfig: &retry})

	pub, err := NewPublisher(PublisherConfig{SNSClient: client, TopicARN: "arn:aws:sns:us-east-1:000000000000:queries"})
	if err != nil {
		t.Fatal(err)
	}

	event := &QueryEvent{
		QueryID:   "q-1",
		Query:     "What is the capital of France?",
		Mode:      "web",
		Backend:   "llama-3.1-8b-instant",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := pub.PublishQuery(context.Background(), event); err != nil {
		t.Fatalf("PublishQuery failed: %v", err)
	}

	if len(api.inputs) != 1 {
		t.Fatalf("expected one publish, got %d", len(api.inputs))
	}
	decoded, err := ParseQueryEvent([]byte(*api.inputs[0].Message))
	if err != nil {
		t.Fatalf("message is not a query event: %v", err)
	}
	if decoded.QueryID != "q-1" || !decoded.Timestamp.Equal(event.Timestamp) {
		t.Errorf("unexpected decoded event: %+v", decoded)
	}
	attrs := api.inputs[0].MessageAttributes
	if *attrs["mode"].StringValue != "web" || *attrs["backend"].StringValue != "llama-3.1-8b-instant" {
		t.Error("filter attributes not set")
	}
	if pub.CircuitBreakerState() != "closed" {
		t.Errorf("expected closed breaker, got %s", pub.CircuitBreakerState())
	}

	t.Log("✓ Query events are published as JSON with filter attributes")
}

func TestNewPublisher_RequiresTopic(t *testing.T) {
	client := aws.NewSNSClient(aws.SNSClientConfig{API: &captureSNS{}})
	if _, err := NewPublisher(PublisherConfig{SNSClient: client}); err == nil {
		t.Error("expected error without topic ARN")
	}
	if _, err := NewPublisher(PublisherConfig{TopicARN: "arn"}); err == nil {
		t.Error("expected error without SNS client")
	}

	t.Log("✓ Publisher validates its configuration")
}
