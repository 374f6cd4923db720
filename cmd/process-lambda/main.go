// Package main provides the Lambda entry point for the storage-event chain.
//
// The function is invoked by the bucket's S3 event notification (or an
// EventBridge "Object Created" rule, or pipelinectl invoke). For every object
// in the event it downloads the object, checks it is JSON, runs the Spark job
// on the configured EMR cluster and loads the object into Redshift.
//
// Records are processed in order; the first failure stops the invocation and
// is returned to the Lambda runtime unmodified.
//
// Memory: 512 MB
// Timeout: 15 minutes
package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/storage-event-pipeline/internal/lambdaboot"
	"github.com/fpang/storage-event-pipeline/internal/logging"
	"github.com/fpang/storage-event-pipeline/internal/pipeline"
	"github.com/fpang/storage-event-pipeline/internal/trigger"
)

var coldStart = true

var (
	runner         *pipeline.Runner
	target         pipeline.Target
	defaultProject string
)

// setup wires the chain from the environment. It runs from main rather than
// init so the handler can be exercised in tests without AWS configuration.
func setup() {
	initStart := time.Now()
	logging.Init()

	clients := lambdaboot.InitAWS()
	cfg := lambdaboot.LoadConfig(clients)
	p, err := lambdaboot.NewPipeline(clients, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire pipeline")
	}
	runner = p.Runner
	target = p.Target
	defaultProject = cfg.ProjectID

	lambdaboot.StartupLog("process-lambda", initStart, cfg).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Log()
}

func main() {
	setup()
	lambda.Start(handler)
}

func handler(ctx context.Context, raw json.RawMessage) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "process-lambda").Msg("Cold start, first invocation")
	}

	evs, err := trigger.Parse(raw, defaultProject)
	if err != nil {
		log.Error().Err(err).Int("payloadBytes", len(raw)).Msg("Failed to parse invocation payload")
		return err
	}
	log.Info().Int("events", len(evs)).Msg("Process Lambda invoked")
	return runner.HandleEvents(ctx, evs, target)
}
