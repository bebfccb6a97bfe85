package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// TestLoggerJSONFields verifies structured output and error field
func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "info", "json").Component("orchestrator")

	logger.LogError(context.Background(), "backend failed", errors.New("boom"), "backend", "llama-3.1-8b-instant")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "orchestrator" || line["backend"] != "llama-3.1-8b-instant" || line["error"] != "boom" {
		t.Errorf("Unexpected fields: %v", line)
	}

	t.Log("✓ Logger emits structured fields")
}

// TestLoggerLevelFiltering verifies debug is suppressed at info
func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "info", "text")

	logger.LogDebug(context.Background(), "cache hit")
	if buf.Len() != 0 {
		t.Errorf("Expected debug to be filtered, got %q", buf.String())
	}

	logger.LogWarn(context.Background(), "falling back")
	if buf.Len() == 0 {
		t.Error("Expected warn to be written")
	}

	t.Log("✓ Level filtering works")
}

// TestDisabledMetricsAreSafe verifies no-op instruments accept records
func TestDisabledMetricsAreSafe(t *testing.T) {
	m, err := NewMetrics(context.Background(), MetricsConfig{ServiceName: "test"})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	ctx := context.Background()
	m.RecordCacheRequest(ctx, "search", true)
	m.RecordBackendCall(ctx, "generate", "a", "ok", 0)
	m.RecordRetry(ctx, "generate", "a", "rate_limited")
	m.SetCircuitBreakerState(ctx, "a", 1)

	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	t.Log("✓ Disabled metrics are safe to use")
}
