// Package metrics emits CloudWatch Embedded Metric Format (EMF) documents.
// Each document is one JSON line on stdout; CloudWatch Logs extracts the
// metrics from it without any API call from the function.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultNamespace is the CloudWatch namespace pipeline metrics land in.
const DefaultNamespace = "StorageEventPipeline"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder accumulates dimensions, metrics, and properties for one pipeline
// run. It is not safe for concurrent use; create one per run.
type Recorder struct {
	namespace  string
	out        io.Writer
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]float64
	properties map[string]any
	// rollup adds an empty dimension set so totals across every dimension
	// value are published as well.
	rollup bool
}

var (
	functionName string
	initOnce     sync.Once
)

func initFunctionName() {
	functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
}

// New creates a Recorder for the given namespace that writes to stdout.
// Inside Lambda the FunctionName dimension is added automatically.
func New(namespace string) *Recorder {
	initOnce.Do(initFunctionName)
	r := &Recorder{
		namespace:  namespace,
		out:        os.Stdout,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]float64),
		properties: make(map[string]any),
	}
	if functionName != "" {
		r.dimensions["FunctionName"] = functionName
	}
	return r
}

// ForRun creates a Recorder for one pipeline run: namespace
// DefaultNamespace, a ProjectId dimension with a project-wide rollup, and the
// run ID as a property.
func ForRun(projectID, runID string) *Recorder {
	r := New(DefaultNamespace).Property("runId", runID)
	if projectID != "" {
		r.Dimension("ProjectId", projectID)
	}
	r.rollup = true
	return r
}

// WithOutput redirects the flushed document. Used by tests and the CLI.
func (r *Recorder) WithOutput(w io.Writer) *Recorder {
	r.out = w
	return r
}

// Dimension adds an indexed dimension (e.g. ProjectId).
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records a count metric of 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Duration records d in milliseconds.
func (r *Recorder) Duration(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Milliseconds()), UnitMilliseconds)
}

// Bytes records a size in bytes.
func (r *Recorder) Bytes(name string, n int64) *Recorder {
	return r.Metric(name, float64(n), UnitBytes)
}

// Property adds a searchable, non-metric field (e.g. runId).
func (r *Recorder) Property(key string, value any) *Recorder {
	r.properties[key] = value
	return r
}

// Document builds the EMF document, or returns nil when no metric was
// recorded.
func (r *Recorder) Document() map[string]any {
	if len(r.metrics) == 0 {
		return nil
	}

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]metricDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.metrics[name])
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)
	dimSets := [][]string{dimKeys}
	if r.rollup && len(dimKeys) > 0 {
		dimSets = append(dimSets, []string{})
	}

	doc := make(map[string]any, len(r.properties)+len(r.dimensions)+len(r.values)+1)
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	doc["_aws"] = emfDirective{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: dimSets,
			Metrics:    defs,
		}},
	}
	return doc
}

// Flush writes the EMF document as a single line. Nothing is written when no
// metric was recorded. The Recorder should not be reused afterwards.
func (r *Recorder) Flush() {
	doc := r.Document()
	if doc == nil {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, string(data))
}
