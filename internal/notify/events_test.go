package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

type fakeBus struct {
	out   *eventbridge.PutEventsOutput
	err   error
	input *eventbridge.PutEventsInput
}

func (f *fakeBus) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestPublishRun(t *testing.T) {
	bus := &fakeBus{}
	p := NewPublisher(bus, "pipeline-bus")

	err := p.PublishRun(context.Background(), RunOutcome{
		RunID:     "run-1",
		ProjectID: "analytics",
		Bucket:    "incoming",
		Key:       "a.json",
		Succeeded: false,
		Stage:     "load",
		Error:     "statement FAILED",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry := bus.input.Entries[0]
	if aws.ToString(entry.Source) != Source || aws.ToString(entry.DetailType) != DetailRunFailed {
		t.Errorf("unexpected source/detail type %s/%s", aws.ToString(entry.Source), aws.ToString(entry.DetailType))
	}
	if aws.ToString(entry.EventBusName) != "pipeline-bus" {
		t.Errorf("unexpected bus %s", aws.ToString(entry.EventBusName))
	}
	if len(entry.Resources) != 1 || entry.Resources[0] != "arn:aws:s3:::incoming/a.json" {
		t.Errorf("unexpected resources %v", entry.Resources)
	}
	var detail map[string]any
	if err := json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail); err != nil {
		t.Fatalf("detail is not JSON: %v", err)
	}
	if detail["runId"] != "run-1" || detail["stage"] != "load" || detail["succeeded"] != false {
		t.Errorf("unexpected detail %v", detail)
	}
}

func TestPublishRun_DefaultBus(t *testing.T) {
	bus := &fakeBus{}
	if err := NewPublisher(bus, "").PublishRun(context.Background(), RunOutcome{RunID: "run-1", Succeeded: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := bus.input.Entries[0]
	if entry.EventBusName != nil {
		t.Errorf("expected default bus, got %s", aws.ToString(entry.EventBusName))
	}
	if aws.ToString(entry.DetailType) != DetailRunSucceeded {
		t.Errorf("unexpected detail type %s", aws.ToString(entry.DetailType))
	}
}

func TestPublishRun_Failures(t *testing.T) {
	callErr := errors.New("AccessDeniedException")
	if err := NewPublisher(&fakeBus{err: callErr}, "b").PublishRun(context.Background(), RunOutcome{}); !errors.Is(err, callErr) {
		t.Errorf("expected wrapped call error, got %v", err)
	}

	bus := &fakeBus{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries: []eventbridgetypes.PutEventsResultEntry{{
			ErrorCode:    aws.String("InternalFailure"),
			ErrorMessage: aws.String("try again"),
		}},
	}}
	err := NewPublisher(bus, "b").PublishRun(context.Background(), RunOutcome{})
	if err == nil || !strings.Contains(err.Error(), "InternalFailure") {
		t.Errorf("expected entry failure, got %v", err)
	}
}
