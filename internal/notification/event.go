package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// QueryEvent records one answered (or degraded) query.
type QueryEvent struct {
	QueryID          string    `json:"query_id" dynamodbav:"query_id"`
	Query            string    `json:"query" dynamodbav:"query"`
	Mode             string    `json:"mode" dynamodbav:"mode"`
	TopK             int       `json:"top_k" dynamodbav:"top_k"`
	Provider         string    `json:"provider,omitempty" dynamodbav:"provider,omitempty"`
	Backend          string    `json:"backend,omitempty" dynamodbav:"backend,omitempty"`
	FromCache        bool      `json:"from_cache" dynamodbav:"from_cache"`
	Degraded         bool      `json:"degraded" dynamodbav:"degraded"`
	SourceCount      int       `json:"source_count" dynamodbav:"source_count"`
	ProcessingTimeMS int64     `json:"processing_time_ms" dynamodbav:"processing_time_ms"`
	Timestamp        time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// ToJSON encodes the event as a message body.
func (e *QueryEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ParseQueryEvent decodes a message body produced by ToJSON.
func ParseQueryEvent(data []byte) (*QueryEvent, error) {
	var e QueryEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ParseQueueMessage decodes a queue record body. Bodies delivered through an
// SNS subscription carry the event in the envelope's Message field; raw
// delivery carries the event itself.
func ParseQueueMessage(body string) (*QueryEvent, error) {
	var envelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse message body: %w", err)
	}

	payload := []byte(body)
	if envelope.Message != "" {
		payload = []byte(envelope.Message)
	}

	event, err := ParseQueryEvent(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query event: %w", err)
	}
	if event.QueryID == "" {
		return nil, errors.New("query event has no query_id")
	}
	return event, nil
}
