package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/agatticelli/grounded-answers/internal/notification"
	"github.com/agatticelli/grounded-answers/internal/platform/observability"
)

type fakeDynamo struct {
	puts []*dynamodb.PutItemInput
	fail map[string]bool
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	var rec QueryRecord
	if err := attributevalue.UnmarshalMap(in.Item, &rec); err != nil {
		return nil, err
	}
	if f.fail[rec.QueryID] {
		return nil, errors.New("ProvisionedThroughputExceededException")
	}
	f.puts = append(f.puts, in)
	return &dynamodb.PutItemOutput{}, nil
}

func body(t *testing.T, id string) string {
	t.Helper()
	raw, err := (&notification.QueryEvent{QueryID: id, Query: "q", Mode: "web", TopK: 5}).ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestHandle_PersistsAndReportsFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDynamo{fail: map[string]bool{"q-3": true}}
	h := &handler{db: db, table: "query-log", now: func() time.Time { return now }, logger: observability.NewNopLogger()}

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: body(t, "q-1")},
		{MessageId: "m2", Body: "not json"},
		{MessageId: "m3", Body: body(t, "q-3")},
	}})
	if err != nil {
		t.Fatal(err)
	}

	if len(resp.BatchItemFailures) != 2 ||
		resp.BatchItemFailures[0].ItemIdentifier != "m2" ||
		resp.BatchItemFailures[1].ItemIdentifier != "m3" {
		t.Errorf("unexpected failures: %+v", resp.BatchItemFailures)
	}
	if len(db.puts) != 1 {
		t.Fatalf("expected one write, got %d", len(db.puts))
	}

	put := db.puts[0]
	if *put.TableName != "query-log" {
		t.Errorf("wrong table %q", *put.TableName)
	}
	var rec QueryRecord
	if err := attributevalue.UnmarshalMap(put.Item, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.QueryID != "q-1" || rec.TTL != now.Add(recordTTL).Unix() {
		t.Errorf("unexpected record %+v", rec)
	}

	t.Log("✓ Events persist with a TTL and failures are reported per record")
}
