// Package notification publishes query events for downstream persistence.
package notification

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/grounded-answers/internal/platform/aws"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
)

// EventPublisher is implemented by Publisher and NoOpPublisher.
type EventPublisher interface {
	PublishQuery(ctx context.Context, event *QueryEvent) error
	CircuitBreakerState() string
}

// Publisher publishes query events to SNS
type Publisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *observability.Logger
	tracer    observability.Tracer
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *observability.Logger
	Tracer    observability.Tracer
}

// NewPublisher creates a new query event publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	return &Publisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    cfg.Logger.Component("publisher"),
		tracer:    cfg.Tracer,
	}, nil
}

// PublishQuery publishes one query event. Attributes allow SNS subscription filtering.
func (p *Publisher) PublishQuery(ctx context.Context, event *QueryEvent) error {
	ctx, span := p.tracer.StartSpan(
		ctx,
		"Publisher.PublishQuery",
		observability.WithAttributes(
			attribute.String("query_id", event.QueryID),
			attribute.Bool("degraded", event.Degraded),
		),
	)
	defer span.End()

	payload, err := event.ToJSON()
	if err != nil {
		span.NoticeError(err)
		return fmt.Errorf("failed to marshal query event: %w", err)
	}

	attributes := map[string]string{
		"mode":      event.Mode,
		"degraded":  strconv.FormatBool(event.Degraded),
		"fromCache": strconv.FormatBool(event.FromCache),
	}
	if event.Backend != "" {
		attributes["backend"] = event.Backend
	}

	if err := p.snsClient.Publish(ctx, p.topicARN, payload, attributes); err != nil {
		span.NoticeError(err)
		p.logger.LogError(ctx, "failed to publish to SNS", err,
			"query_id", event.QueryID,
			"topic_arn", p.topicARN,
		)
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	p.logger.LogDebug(ctx, "published query event",
		"query_id", event.QueryID,
		"mode", event.Mode,
		"degraded", event.Degraded,
	)
	return nil
}

// CircuitBreakerState returns the current circuit breaker state
func (p *Publisher) CircuitBreakerState() string {
	return p.snsClient.CircuitBreakerState().String()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (p *Publisher) ResetCircuitBreaker() {
	p.snsClient.ResetCircuitBreaker()
	p.logger.Info("reset SNS circuit breaker")
}
