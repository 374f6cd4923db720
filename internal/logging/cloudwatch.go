package logging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// PutLogEvents limits. Each event counts its UTF-8 message bytes plus a
// fixed overhead against both the per-event and per-call size limits.
const (
	maxLogBatch   = 10000
	maxBatchBytes = 1 << 20
	eventOverhead = 26
	maxEventBytes = 256<<10 - eventOverhead
)

// LogsAPI is the subset of the CloudWatch Logs client used by CloudWatchWriter.
type LogsAPI interface {
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// CloudWatchWriter buffers zerolog JSON lines and ships them to a CloudWatch
// Logs stream on Flush. It lets CLI runs of the pipeline land in the same log
// group as the deployed function. Inside Lambda it is not needed: stdout is
// already captured.
type CloudWatchWriter struct {
	api    LogsAPI
	group  string
	stream string

	mu      sync.Mutex
	pending []cwltypes.InputLogEvent
	created bool
	now     func() time.Time
}

// NewCloudWatchWriter creates a writer for the given log group and stream.
// The stream is created on first flush if it does not exist; the group must.
func NewCloudWatchWriter(api LogsAPI, group, stream string) *CloudWatchWriter {
	return &CloudWatchWriter{api: api, group: group, stream: stream, now: time.Now}
}

// Write buffers one log line. Lines over the per-event limit are truncated.
// It never fails; delivery errors surface on Flush.
func (w *CloudWatchWriter) Write(p []byte) (int, error) {
	msg := truncateMessage(string(p), maxEventBytes)
	w.mu.Lock()
	w.pending = append(w.pending, cwltypes.InputLogEvent{
		Message:   aws.String(msg),
		Timestamp: aws.Int64(w.now().UnixMilli()),
	})
	w.mu.Unlock()
	return len(p), nil
}

// Pending returns the number of buffered events.
func (w *CloudWatchWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush sends all buffered events. Buffered events are dropped after a failed
// send so a broken sink cannot grow memory without bound.
func (w *CloudWatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := w.ensureStream(ctx); err != nil {
		return err
	}

	for _, events := range splitBatches(batch) {
		_, err := w.api.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(w.group),
			LogStreamName: aws.String(w.stream),
			LogEvents:     events,
		})
		if err != nil {
			return fmt.Errorf("PutLogEvents %s/%s: %w", w.group, w.stream, err)
		}
	}
	return nil
}

// splitBatches cuts events into consecutive PutLogEvents calls that stay
// within both the event count and the byte size limits.
func splitBatches(events []cwltypes.InputLogEvent) [][]cwltypes.InputLogEvent {
	var out [][]cwltypes.InputLogEvent
	start, size := 0, 0
	for i, ev := range events {
		n := len(aws.ToString(ev.Message)) + eventOverhead
		if i > start && (i-start == maxLogBatch || size+n > maxBatchBytes) {
			out = append(out, events[start:i])
			start, size = i, 0
		}
		size += n
	}
	if start < len(events) {
		out = append(out, events[start:])
	}
	return out
}

// truncateMessage cuts msg to at most limit bytes without splitting a rune.
func truncateMessage(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func (w *CloudWatchWriter) ensureStream(ctx context.Context) error {
	if w.created {
		return nil
	}
	_, err := w.api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(w.group),
		LogStreamName: aws.String(w.stream),
	})
	var exists *cwltypes.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return fmt.Errorf("CreateLogStream %s/%s: %w", w.group, w.stream, err)
	}
	w.created = true
	return nil
}
