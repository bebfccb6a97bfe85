package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

func TestGenerate_SendsChatRequest(t *testing.T) {
	var got chatRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Paris [Source 1]"}}]}`))
	}))
	defer server.Close()

	client := NewChatClient(ChatClientConfig{HTTPClient: server.Client()})
	backend := orchestrator.BackendConfig{
		Name:            "llama-3.1-8b-instant",
		Endpoint:        server.URL,
		Credential:      "secret",
		MaxOutputTokens: 2048,
		Temperature:     0.1,
	}

	text, err := client.Generate(context.Background(), backend, orchestrator.GenerationRequest{
		System: "answer from context",
		Prompt: "What is the capital of France?",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if text != "Paris [Source 1]" {
		t.Errorf("unexpected completion %q", text)
	}
	if auth != "Bearer secret" {
		t.Errorf("expected bearer credential, got %q", auth)
	}
	if got.Model != "llama-3.1-8b-instant" || got.MaxTokens != 2048 || got.Temperature != 0.1 {
		t.Errorf("unexpected request fields: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("expected system and user messages, got %+v", got.Messages)
	}

	t.Log("✓ Chat request carries model, limits and credential")
}

func TestGenerate_StatusIsClassified(t *testing.T) {
	tests := []struct {
		status int
		want   resilience.FailureKind
	}{
		{http.StatusTooManyRequests, resilience.KindRateLimited},
		{http.StatusServiceUnavailable, resilience.KindTransient},
		{http.StatusUnauthorized, resilience.KindRejected},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer server.Close()

			client := NewChatClient(ChatClientConfig{HTTPClient: server.Client()})
			_, err := client.Generate(context.Background(),
				orchestrator.BackendConfig{Name: "m", Endpoint: server.URL},
				orchestrator.GenerationRequest{Prompt: "q"},
			)

			var statusErr *resilience.StatusError
			if !errors.As(err, &statusErr) || statusErr.StatusCode != tt.status {
				t.Fatalf("expected StatusError %d, got %v", tt.status, err)
			}
			if kind := resilience.Classify(err); kind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, kind)
			}
		})
	}

	t.Log("✓ Non-2xx responses map onto the failure taxonomy")
}

func TestGenerate_EmptyCompletionIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewChatClient(ChatClientConfig{HTTPClient: server.Client()})
	_, err := client.Generate(context.Background(),
		orchestrator.BackendConfig{Name: "m", Endpoint: server.URL},
		orchestrator.GenerationRequest{Prompt: "q"},
	)
	if !errors.Is(err, ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
	if resilience.Classify(err) != resilience.KindTransient {
		t.Error("empty completion should be retried as transient")
	}

	t.Log("✓ Empty completions are transient failures")
}

func TestGenerate_InvalidEndpointIsRejected(t *testing.T) {
	client := NewChatClient(ChatClientConfig{})
	_, err := client.Generate(context.Background(),
		orchestrator.BackendConfig{Name: "broken", Endpoint: "://bad endpoint", Credential: "k"},
		orchestrator.GenerationRequest{Prompt: "q"},
	)
	if resilience.Classify(err) != resilience.KindRejected {
		t.Errorf("malformed endpoint should be a permanent rejection, got %v", err)
	}

	t.Log("✓ Request construction errors are not retried")
}
