// Package llm calls OpenAI-compatible chat-completions endpoints (Groq by default).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agatticelli/grounded-answers/internal/orchestrator"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

// DefaultEndpoint is Groq's OpenAI-compatible chat-completions URL.
const DefaultEndpoint = "https://api.groq.com/openai/v1/chat/completions"

// ErrEmptyCompletion is returned when a 2xx response carries no choices.
var ErrEmptyCompletion = errors.New("empty completion")

// ChatClient performs one chat-completions call per Generate.
// Retries, fallback and caching belong to the orchestrator.
type ChatClient struct {
	client *http.Client
	logger *observability.Logger
}

// ChatClientConfig holds chat client configuration
type ChatClientConfig struct {
	HTTPClient *http.Client
	Logger     *observability.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewChatClient creates a new chat-completions client
func NewChatClient(cfg ChatClientConfig) *ChatClient {
	if cfg.HTTPClient == nil {
		// per-attempt deadlines come from the caller's context
		cfg.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &ChatClient{
		client: cfg.HTTPClient,
		logger: cfg.Logger.Component("llm"),
	}
}

// Generate implements orchestrator.Generator.
func (c *ChatClient) Generate(ctx context.Context, backend orchestrator.BackendConfig, req orchestrator.GenerationRequest) (string, error) {
	endpoint := backend.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	model := backend.Model
	if model == "" {
		model = backend.Name
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: backend.Temperature,
		MaxTokens:   backend.MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode request: %w", resilience.ErrBackendRejected, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %w", resilience.ErrBackendRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+backend.Credential)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", resilience.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &resilience.StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %w", resilience.ErrTransport, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: %w from %s", resilience.ErrTransport, ErrEmptyCompletion, model)
	}

	c.logger.LogDebug(ctx, "completion received",
		"backend", backend.Name,
		"model", model,
		"length", len(out.Choices[0].Message.Content),
	)
	return out.Choices[0].Message.Content, nil
}
