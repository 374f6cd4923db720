// Package notify publishes pipeline run outcomes to EventBridge.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// Source is the EventBridge source of every event published here.
const Source = "storage-event-pipeline"

// Detail types.
const (
	DetailRunSucceeded = "PipelineRunSucceeded"
	DetailRunFailed    = "PipelineRunFailed"
)

// RunOutcome is the event detail for a finished run.
type RunOutcome struct {
	RunID       string    `json:"runId"`
	ProjectID   string    `json:"projectId"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Succeeded   bool      `json:"succeeded"`
	Stage       string    `json:"stage"`
	ClusterName string    `json:"clusterName"`
	StepID      string    `json:"stepId,omitempty"`
	Table       string    `json:"table"`
	StatementID string    `json:"statementId,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorCode   string    `json:"errorCode,omitempty"`
	DurationMs  int64     `json:"durationMs"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// DetailType returns the detail type for the outcome.
func (o RunOutcome) DetailType() string {
	if o.Succeeded {
		return DetailRunSucceeded
	}
	return DetailRunFailed
}

// PutEventsAPI is the subset of the EventBridge client used by Publisher.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher sends run outcomes to one event bus.
type Publisher struct {
	client  PutEventsAPI
	busName string
}

// NewPublisher creates a Publisher. An empty bus name means the default bus.
func NewPublisher(client PutEventsAPI, busName string) *Publisher {
	return &Publisher{client: client, busName: busName}
}

// BusName returns the configured bus name.
func (p *Publisher) BusName() string { return p.busName }

// PublishRun emits one outcome event.
func (p *Publisher) PublishRun(ctx context.Context, outcome RunOutcome) error {
	detail, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal RunOutcome: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(outcome.DetailType()),
		Detail:     aws.String(string(detail)),
		Resources:  []string{"arn:aws:s3:::" + outcome.Bucket + "/" + outcome.Key},
	}
	if p.busName != "" {
		entry.EventBusName = aws.String(p.busName)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("runId", outcome.RunID).Str("detailType", outcome.DetailType()).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("runId", outcome.RunID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents: %d entries failed", result.FailedEntryCount)
	}

	log.Debug().Str("runId", outcome.RunID).Str("detailType", outcome.DetailType()).Msg("Run outcome emitted to EventBridge")
	return nil
}
