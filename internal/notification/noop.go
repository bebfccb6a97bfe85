package notification

import (
	"context"

	"github.com/agatticelli/grounded-answers/internal/platform/observability"
)

// NoOpPublisher only logs query events.
// Use this when SNS is not configured (local development, testing).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a new no-op publisher that only logs events.
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	return &NoOpPublisher{
		logger: logger,
	}
}

// PublishQuery logs the event instead of publishing to SNS.
func (p *NoOpPublisher) PublishQuery(ctx context.Context, event *QueryEvent) error {
	if p.logger != nil {
		p.logger.LogDebug(ctx, "query answered (SNS disabled)",
			"query_id", event.QueryID,
			"mode", event.Mode,
			"backend", event.Backend,
			"degraded", event.Degraded,
			"sources", event.SourceCount,
			"processing_time_ms", event.ProcessingTimeMS,
		)
	}
	return nil
}

// CircuitBreakerState returns "closed" since there's no circuit breaker.
func (p *NoOpPublisher) CircuitBreakerState() string {
	return "closed"
}
