// Package metrics emits CloudWatch Embedded Metrics Format (EMF) documents.
// EMF metrics are single JSON lines on stdout; CloudWatch extracts them from
// the log stream, so recording a metric costs no API call and adds no
// request latency.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace for all delivery-core metrics.
const Namespace = "GalleryDelivery"

// CloudWatch metric units used by this service.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type cloudWatchMetrics struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

type directive struct {
	Timestamp         int64               `json:"Timestamp"`
	CloudWatchMetrics []cloudWatchMetrics `json:"CloudWatchMetrics"`
}

// Recorder accumulates one EMF document. Not safe for concurrent use; create
// one per operation and Flush it once.
type Recorder struct {
	namespace  string
	out        io.Writer
	dimensions map[string]string
	defs       map[string]metricDef
	values     map[string]interface{}
	properties map[string]interface{}
}

var (
	functionName string
	initOnce     sync.Once
)

// New creates a Recorder in the service namespace. The FunctionName
// dimension is filled from the Lambda environment when present.
func New() *Recorder {
	initOnce.Do(func() {
		functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	})
	r := &Recorder{
		namespace:  Namespace,
		out:        os.Stdout,
		dimensions: make(map[string]string),
		defs:       make(map[string]metricDef),
		values:     make(map[string]interface{}),
		properties: make(map[string]interface{}),
	}
	if functionName != "" {
		r.dimensions["FunctionName"] = functionName
	}
	return r
}

// WithOutput redirects the EMF line, for tests.
func (r *Recorder) WithOutput(w io.Writer) *Recorder {
	r.out = w
	return r
}

// Dimension adds an indexed, filterable dimension.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.defs[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records a count-of-one metric.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Duration records an elapsed time in milliseconds.
func (r *Recorder) Duration(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Milliseconds()), UnitMilliseconds)
}

// Property adds a searchable non-metric field (visible in Logs Insights,
// creates no CloudWatch metric).
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the EMF document as one JSON line. A Recorder with no metrics
// flushes nothing; a flushed Recorder must not be reused.
func (r *Recorder) Flush() {
	if len(r.defs) == 0 {
		return
	}

	defs := make([]metricDef, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}

	doc := make(map[string]interface{}, len(r.dimensions)+len(r.values)+len(r.properties)+1)
	doc["_aws"] = directive{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cloudWatchMetrics{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    defs,
		}},
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	for k, v := range r.properties {
		doc[k] = v
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: marshal failed: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, string(data))
}
