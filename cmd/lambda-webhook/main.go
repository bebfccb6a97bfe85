package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/agatticelli/grounded-answers/internal/notification"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

// alert is the payload posted for a degraded answer.
type alert struct {
	Text    string                   `json:"text"`
	QueryID string                   `json:"query_id"`
	Event   *notification.QueryEvent `json:"event"`
}

// handler forwards degraded query events to a webhook. Healthy answers are
// acknowledged without a call.
type handler struct {
	client     *http.Client
	webhookURL string
	retry      resilience.RetryConfig
	logger     *observability.Logger
}

func (h *handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var failures []events.SQSBatchItemFailure
	sent := 0

	for _, record := range sqsEvent.Records {
		event, err := notification.ParseQueueMessage(record.Body)
		if err != nil {
			h.logger.LogError(ctx, "skipping unparseable record", err, "message_id", record.MessageId)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		if !event.Degraded {
			continue
		}

		url := h.webhookURL
		if attr, ok := record.MessageAttributes["webhookURL"]; ok && attr.StringValue != nil {
			url = *attr.StringValue
		}
		if url == "" {
			h.logger.Warn("no webhook URL configured, dropping alert", "query_id", event.QueryID)
			continue
		}

		err = resilience.Retry(ctx, h.retry, "webhook", func(ctx context.Context) error {
			return h.send(ctx, url, event)
		})
		if err != nil {
			h.logger.LogError(ctx, "failed to send webhook", err, "query_id", event.QueryID, "url", maskURL(url))
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		sent++
	}

	h.logger.Info("batch processed",
		"records", len(sqsEvent.Records),
		"alerts_sent", sent,
		"failed", len(failures),
	)
	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

// send makes one POST. Non-2xx responses come back as *resilience.StatusError
// so 4xx stops the retry loop and 5xx or 429 keep it going.
func (h *handler) send(ctx context.Context, url string, event *notification.QueryEvent) error {
	payload, err := json.Marshal(alert{
		Text:    fmt.Sprintf("Degraded answer for %q (mode %s, %dms)", event.Query, event.Mode, event.ProcessingTimeMS),
		QueryID: event.QueryID,
		Event:   event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Join(resilience.ErrBackendRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "grounded-answers-webhook/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", resilience.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &resilience.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}

func maskURL(url string) string {
	if len(url) > 30 {
		return url[:15] + "..." + url[len(url)-10:]
	}
	return url
}

func main() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	h := &handler{
		client:     &http.Client{Timeout: 5 * time.Second},
		webhookURL: os.Getenv("WEBHOOK_URL"),
		retry: resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
			Jitter:      0.1,
		},
		logger: observability.NewLogger(level, "json"),
	}
	h.logger.Info("webhook lambda initialized", "webhook_configured", h.webhookURL != "")

	lambda.Start(h.Handle)
}
