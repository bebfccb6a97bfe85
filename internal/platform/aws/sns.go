package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
	"github.com/agatticelli/grounded-answers/internal/platform/resilience"
)

// PublishAPI is the slice of the SNS API the client needs.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient wraps AWS SNS client with resilience patterns
type SNSClient struct {
	client         PublishAPI
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    resilience.RetryConfig
	logger         *observability.Logger
	metrics        *observability.Metrics
}

// SNSClientConfig holds SNS client configuration
type SNSClientConfig struct {
	AWSConfig aws.Config
	// API replaces the SDK client built from AWSConfig
	API            PublishAPI
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	RetryConfig    *resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
}

// NewSNSClient creates a new SNS client with resilience patterns
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	client := cfg.API
	if client == nil {
		client = sns.NewFromConfig(cfg.AWSConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	retryConfig := resilience.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retryConfig = *cfg.RetryConfig
	}

	circuitBreaker := cfg.CircuitBreaker
	if circuitBreaker == nil {
		circuitBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "sns",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				cfg.Logger.Info("SNS circuit breaker state changed",
					"from", from.String(),
					"to", to.String(),
				)
				if cfg.Metrics != nil {
					cfg.Metrics.SetCircuitBreakerState(context.Background(), name, int64(to))
				}
			},
		})
	}

	return &SNSClient{
		client:         client,
		circuitBreaker: circuitBreaker,
		retryConfig:    retryConfig,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}
}

// Publish publishes a message to SNS topic with retry and circuit breaker.
// message is sent as-is when it is a string or []byte, JSON-encoded otherwise.
func (s *SNSClient) Publish(ctx context.Context, topicARN string, message any, attributes map[string]string) error {
	start := time.Now()

	body, err := encodeMessage(message)
	if err != nil {
		return err
	}

	err = s.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, s.retryConfig, "sns", func(ctx context.Context) error {
			return s.publishOnce(ctx, topicARN, body, attributes)
		})
	})

	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.LogError(ctx, "SNS publish failed", err,
			"topic_arn", topicARN,
			"duration_ms", duration.Milliseconds(),
		)
	}

	if s.metrics != nil {
		s.metrics.RecordBackendCall(ctx, "publish", "sns", status, duration)
	}

	return err
}

func encodeMessage(message any) (string, error) {
	switch m := message.(type) {
	case string:
		return m, nil
	case []byte:
		return string(m), nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	return string(data), nil
}

// publishOnce publishes a message without retry (single attempt)
func (s *SNSClient) publishOnce(ctx context.Context, topicARN, message string, attributes map[string]string) error {
	messageAttributes := make(map[string]types.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		messageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(message),
		MessageAttributes: messageAttributes,
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		// surface the HTTP status so throttling and client errors classify correctly
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			return fmt.Errorf("SNS publish failed: %w", &resilience.StatusError{
				StatusCode: respErr.HTTPStatusCode(),
				Body:       respErr.Error(),
			})
		}
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	return nil
}

// CircuitBreakerState returns current circuit breaker state
func (s *SNSClient) CircuitBreakerState() resilience.State {
	return s.circuitBreaker.State()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (s *SNSClient) ResetCircuitBreaker() {
	s.circuitBreaker.Reset()
}
