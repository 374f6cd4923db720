// Package pipeline runs the storage-event chain: download the new object,
// check it is JSON, run the Spark job on it, then load it into the
// warehouse.
//
// The chain is strictly sequential and never retries. Any failure is logged
// and handed back to the caller as the same error value the failing step
// returned. The run ledger, outcome events, object tags and metrics are
// side channels: their failures are logged and otherwise ignored.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/storage-event-pipeline/internal/cluster"
	"github.com/fpang/storage-event-pipeline/internal/jobs"
	"github.com/fpang/storage-event-pipeline/internal/jobutil"
	"github.com/fpang/storage-event-pipeline/internal/jsonutil"
	"github.com/fpang/storage-event-pipeline/internal/metrics"
	"github.com/fpang/storage-event-pipeline/internal/notify"
	"github.com/fpang/storage-event-pipeline/internal/s3util"
	"github.com/fpang/storage-event-pipeline/internal/store"
	"github.com/fpang/storage-event-pipeline/internal/trigger"
	"github.com/fpang/storage-event-pipeline/internal/warehouse"
)

// Storage reads uploaded objects.
type Storage interface {
	ReadObject(ctx context.Context, bucket, key string) (*s3util.Object, error)
}

// JobSubmitter runs a job on a named cluster and waits for it.
type JobSubmitter interface {
	SubmitJob(ctx context.Context, clusterName string, spec cluster.JobSpec) (*cluster.Job, error)
}

// Loader loads an object into a warehouse table and waits for it.
type Loader interface {
	LoadData(ctx context.Context, req warehouse.LoadRequest) (*warehouse.LoadResult, error)
}

// RunLedger records runs.
type RunLedger interface {
	PutRun(ctx context.Context, run *store.RunRecord) error
}

// Publisher announces finished runs.
type Publisher interface {
	PublishRun(ctx context.Context, outcome notify.RunOutcome) error
}

// ObjectTagger tags loaded objects.
type ObjectTagger interface {
	TagObject(ctx context.Context, bucket, key string, tags map[string]string) error
}

// Target is the externally configured destination of a run.
type Target struct {
	ClusterName string
	JobName     string
	DatasetID   string
	TableID     string
}

// ErrInvalidTarget is returned when a target field is missing.
var ErrInvalidTarget = errors.New("invalid target")

// Validate checks every field is set.
func (t Target) Validate() error {
	switch {
	case t.ClusterName == "":
		return fmt.Errorf("%w: cluster name is required", ErrInvalidTarget)
	case t.JobName == "":
		return fmt.Errorf("%w: job name is required", ErrInvalidTarget)
	case t.DatasetID == "":
		return fmt.Errorf("%w: dataset ID is required", ErrInvalidTarget)
	case t.TableID == "":
		return fmt.Errorf("%w: table ID is required", ErrInvalidTarget)
	}
	return nil
}

// Options configures a Runner. Storage, Jobs and Loader are required.
type Options struct {
	Storage Storage
	Jobs    JobSubmitter
	Loader  Loader

	// MainURI and SubmitArgs define the spark-submit command; the object
	// URI is passed as the application's only argument.
	MainURI    string
	SubmitArgs []string

	Autodetect bool
	Schema     warehouse.Schema

	Ledger    RunLedger
	Publisher Publisher
	Tagger    ObjectTagger

	// MetricsOutput receives one EMF line per run. Nil means stdout.
	MetricsOutput io.Writer
}

// Runner executes the chain for storage events.
type Runner struct {
	opts Options
	now  func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(opts Options) (*Runner, error) {
	switch {
	case opts.Storage == nil:
		return nil, errors.New("pipeline: storage is required")
	case opts.Jobs == nil:
		return nil, errors.New("pipeline: job submitter is required")
	case opts.Loader == nil:
		return nil, errors.New("pipeline: loader is required")
	case opts.MainURI == "":
		return nil, errors.New("pipeline: job main URI is required")
	}
	return &Runner{opts: opts, now: time.Now}, nil
}

// run carries the state of one Process call.
type run struct {
	record  *store.RunRecord
	logger  zerolog.Logger
	metrics *metrics.Recorder
	start   time.Time
}

// Process runs the chain for one event.
func (r *Runner) Process(ctx context.Context, ev trigger.Event, target Target) error {
	runID := jobs.NewRunID()
	logger := log.With().
		Str("runId", runID).
		Str("bucket", ev.Bucket).
		Str("object", ev.Name).
		Str("projectId", ev.ProjectID).
		Logger()

	if err := ev.Validate(); err != nil {
		jobutil.SetRunError(ctx, logger, runID, store.StageDownload, err, nil)
		return err
	}
	if err := target.Validate(); err != nil {
		jobutil.SetRunError(ctx, logger, runID, store.StageDownload, err, nil)
		return err
	}

	rn := &run{
		record: &store.RunRecord{
			ProjectID:   ev.ProjectID,
			RunID:       runID,
			Bucket:      ev.Bucket,
			Key:         ev.Name,
			Status:      store.StatusRunning,
			Stage:       store.StageDownload,
			ClusterName: target.ClusterName,
			JobName:     target.JobName,
			Table:       target.DatasetID + "." + target.TableID,
			StartedAt:   r.now().UTC(),
		},
		logger:  logger,
		metrics: metrics.ForRun(ev.ProjectID, runID),
		start:   r.now(),
	}
	if r.opts.MetricsOutput != nil {
		rn.metrics.WithOutput(r.opts.MetricsOutput)
	}
	logger.Info().Str("cluster", target.ClusterName).Str("table", rn.record.Table).Msg("Processing storage event")
	r.putRun(ctx, rn)

	err := r.process(ctx, rn, ev, target)
	r.finish(ctx, rn, ev, err)
	return err
}

// process is the chain proper. It returns errors exactly as received.
func (r *Runner) process(ctx context.Context, rn *run, ev trigger.Event, target Target) error {
	rec := rn.record

	t := r.now()
	obj, err := r.opts.Storage.ReadObject(ctx, ev.Bucket, ev.Name)
	if err != nil {
		return err
	}
	rn.metrics.Duration("DownloadMs", r.now().Sub(t)).Bytes("ObjectBytes", int64(len(obj.Content)))
	rec.Bytes = int64(len(obj.Content))

	rec.Stage = store.StageValidate
	docs, err := jsonutil.Documents(obj.Content)
	if err != nil {
		rn.metrics.Count("InvalidFormat")
		return err
	}
	rec.Documents = docs
	rn.metrics.Metric("Documents", float64(docs), metrics.UnitCount)
	rn.logger.Debug().Int("documents", docs).Str("compression", string(obj.Compression)).Msg("Object validated")

	rec.Stage = store.StageSubmit
	t = r.now()
	job, err := r.opts.Jobs.SubmitJob(ctx, target.ClusterName, cluster.JobSpec{
		Name:       target.JobName,
		MainURI:    r.opts.MainURI,
		SubmitArgs: r.opts.SubmitArgs,
		Args:       []string{ev.ObjectURI()},
	})
	if job != nil {
		rec.ClusterID, rec.StepID = job.ClusterID, job.StepID
		rn.metrics.Property("stepId", job.StepID)
	}
	if err != nil {
		return err
	}
	rn.metrics.Duration("SubmitMs", r.now().Sub(t))

	rec.Stage = store.StageLoad
	t = r.now()
	res, err := r.opts.Loader.LoadData(ctx, warehouse.LoadRequest{
		Dataset:     target.DatasetID,
		Table:       target.TableID,
		SourceURI:   ev.ObjectURI(),
		Autodetect:  r.opts.Autodetect,
		Schema:      r.opts.Schema,
		Compression: string(obj.Compression),
	})
	if res != nil {
		rec.StatementID = res.StatementID
		rn.metrics.Property("statementId", res.StatementID)
	}
	if err != nil {
		return err
	}
	rn.metrics.Duration("LoadMs", r.now().Sub(t))

	rec.Stage = store.StageDone
	return nil
}

// finish records the outcome on every side channel.
func (r *Runner) finish(ctx context.Context, rn *run, ev trigger.Event, err error) {
	rec := rn.record
	rec.FinishedAt = r.now().UTC()
	elapsed := r.now().Sub(rn.start)
	rn.metrics.Duration("RunMs", elapsed).Property("stage", rec.Stage)

	if err != nil {
		rec.Status = store.StatusFailed
		rec.Error = err.Error()
		rec.ErrorCode = jobutil.ErrorCode(err)
		rn.metrics.Count("RunFailed")
		var write jobutil.ErrorWriter
		if r.opts.Ledger != nil {
			write = func(ctx context.Context, runID, stage, errMsg string) error {
				return r.opts.Ledger.PutRun(ctx, rec)
			}
		}
		jobutil.SetRunError(ctx, rn.logger, rec.RunID, rec.Stage, err, write)
	} else {
		rec.Status = store.StatusSucceeded
		rn.metrics.Count("RunSucceeded")
		rn.logger.Info().
			Str("stepId", rec.StepID).
			Str("statementId", rec.StatementID).
			Int("documents", rec.Documents).
			Dur("elapsed", elapsed).
			Msg("Data processing completed successfully")
		r.putRun(ctx, rn)
		r.tag(ctx, rn, ev)
	}

	rn.metrics.Flush()
	r.publish(ctx, rn, elapsed)
}

func (r *Runner) putRun(ctx context.Context, rn *run) {
	if r.opts.Ledger == nil {
		return
	}
	if err := r.opts.Ledger.PutRun(ctx, rn.record); err != nil {
		rn.logger.Warn().Err(err).Str("status", rn.record.Status).Msg("Failed to record run")
	}
}

func (r *Runner) tag(ctx context.Context, rn *run, ev trigger.Event) {
	if r.opts.Tagger == nil {
		return
	}
	tags := s3util.RunTags(ev.ProjectID, rn.record.RunID, "loaded")
	if err := r.opts.Tagger.TagObject(ctx, ev.Bucket, ev.Name, tags); err != nil {
		rn.logger.Warn().Err(err).Msg("Failed to tag loaded object")
	}
}

func (r *Runner) publish(ctx context.Context, rn *run, elapsed time.Duration) {
	if r.opts.Publisher == nil {
		return
	}
	rec := rn.record
	outcome := notify.RunOutcome{
		RunID:       rec.RunID,
		ProjectID:   rec.ProjectID,
		Bucket:      rec.Bucket,
		Key:         rec.Key,
		Succeeded:   rec.Status == store.StatusSucceeded,
		Stage:       rec.Stage,
		ClusterName: rec.ClusterName,
		StepID:      rec.StepID,
		Table:       rec.Table,
		StatementID: rec.StatementID,
		Error:       rec.Error,
		ErrorCode:   rec.ErrorCode,
		DurationMs:  elapsed.Milliseconds(),
		FinishedAt:  rec.FinishedAt,
	}
	if err := r.opts.Publisher.PublishRun(ctx, outcome); err != nil {
		rn.logger.Warn().Err(err).Msg("Failed to publish run outcome")
	}
}

// HandleEvents processes events in order and stops at the first failure.
func (r *Runner) HandleEvents(ctx context.Context, events []trigger.Event, target Target) error {
	log.Debug().Int("events", len(events)).Msg("Handling storage events")
	for i, ev := range events {
		if err := r.Process(ctx, ev, target); err != nil {
			if remaining := len(events) - i - 1; remaining > 0 {
				log.Warn().Int("skipped", remaining).Msg("Stopping after failed event")
			}
			return err
		}
	}
	return nil
}
