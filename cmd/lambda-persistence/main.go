package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/agatticelli/grounded-answers/internal/notification"
	platformaws "github.com/agatticelli/grounded-answers/internal/platform/aws"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
)

const (
	defaultTable = "answer-query-log"
	recordTTL    = 7 * 24 * time.Hour
)

// PutItemAPI is the subset of the DynamoDB client the handler needs.
type PutItemAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// QueryRecord is a query event with an expiry attribute.
type QueryRecord struct {
	notification.QueryEvent
	TTL int64 `dynamodbav:"ttl" json:"ttl"`
}

// handler persists query events from an SQS batch.
type handler struct {
	db     PutItemAPI
	table  string
	now    func() time.Time
	logger *observability.Logger
}

// Handle writes each record and reports the ones that failed so SQS only
// redelivers those.
func (h *handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var failures []events.SQSBatchItemFailure
	succeeded := 0

	for _, record := range sqsEvent.Records {
		event, err := notification.ParseQueueMessage(record.Body)
		if err != nil {
			h.logger.LogError(ctx, "skipping unparseable record", err, "message_id", record.MessageId)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		if err := h.put(ctx, event); err != nil {
			h.logger.LogError(ctx, "failed to persist query event", err, "query_id", event.QueryID)
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}

		succeeded++
		h.logger.LogDebug(ctx, "persisted query event",
			"query_id", event.QueryID,
			"mode", event.Mode,
			"degraded", event.Degraded,
		)
	}

	h.logger.Info("batch processed",
		"records", len(sqsEvent.Records),
		"succeeded", succeeded,
		"failed", len(failures),
	)
	return events.SQSEventResponse{BatchItemFailures: failures}, nil
}

func (h *handler) put(ctx context.Context, event *notification.QueryEvent) error {
	item, err := attributevalue.MarshalMap(QueryRecord{
		QueryEvent: *event,
		TTL:        h.now().Add(recordTTL).Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = h.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(h.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

func main() {
	logger := observability.NewLogger(envOr("LOG_LEVEL", "info"), "json")

	awsCfg, err := platformaws.LoadAWSConfig(context.Background(), platformaws.Config{
		Region:   envOr("AWS_REGION", "us-east-1"),
		Endpoint: os.Getenv("AWS_ENDPOINT_URL"),
	})
	if err != nil {
		logger.LogError(context.Background(), "failed to load AWS config", err)
		os.Exit(1)
	}

	h := &handler{
		db:     dynamodb.NewFromConfig(awsCfg),
		table:  envOr("DYNAMODB_TABLE", defaultTable),
		now:    time.Now,
		logger: logger,
	}
	logger.Info("persistence lambda initialized", "table", h.table)

	lambda.Start(h.Handle)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
