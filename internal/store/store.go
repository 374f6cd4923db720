// Package store keeps the run ledger: one DynamoDB record per pipeline run,
// written as the run starts and replaced when it finishes.
//
// All records for a project share a partition key (PROJECT#{projectId}).
// Sort keys are RUN#{runId}; run IDs are time-ordered, so a reverse query
// lists the newest runs first. A TTL attribute (expiresAt) auto-deletes
// records after RunTTL.
package store

import (
	"context"
	"time"
)

// RunTTL is the time-to-live for run records.
const RunTTL = 30 * 24 * time.Hour

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Stages a run passes through, in order.
const (
	StageDownload = "download"
	StageValidate = "validate"
	StageSubmit   = "submit"
	StageLoad     = "load"
	StageDone     = "done"
)

// RunRecord is the ledger entry for one run.
type RunRecord struct {
	ProjectID   string    `json:"projectId" dynamodbav:"-"` // Derived from PK
	RunID       string    `json:"runId" dynamodbav:"-"`     // Derived from SK
	Bucket      string    `json:"bucket" dynamodbav:"bucket"`
	Key         string    `json:"key" dynamodbav:"key"`
	Status      string    `json:"status" dynamodbav:"status"`
	Stage       string    `json:"stage" dynamodbav:"stage"`
	ClusterName string    `json:"clusterName" dynamodbav:"clusterName"`
	JobName     string    `json:"jobName" dynamodbav:"jobName"`
	ClusterID   string    `json:"clusterId,omitempty" dynamodbav:"clusterId,omitempty"`
	StepID      string    `json:"stepId,omitempty" dynamodbav:"stepId,omitempty"`
	Table       string    `json:"table" dynamodbav:"table"`
	StatementID string    `json:"statementId,omitempty" dynamodbav:"statementId,omitempty"`
	Documents   int       `json:"documents,omitempty" dynamodbav:"documents,omitempty"`
	Bytes       int64     `json:"bytes,omitempty" dynamodbav:"bytes,omitempty"`
	Error       string    `json:"error,omitempty" dynamodbav:"error,omitempty"`
	ErrorCode   string    `json:"errorCode,omitempty" dynamodbav:"errorCode,omitempty"`
	StartedAt   time.Time `json:"startedAt" dynamodbav:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitzero" dynamodbav:"finishedAt"`
}

// RunStore persists run records.
//
// GetRun returns (nil, nil) when the record does not exist. PutRun performs
// full-item replacement.
type RunStore interface {
	PutRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, projectID, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, projectID string, limit int) ([]RunRecord, error)
}
