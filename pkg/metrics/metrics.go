// Package metrics exposes Prometheus metrics for incremental syncs: how
// responses were classified, how long the read loop backed off, how many
// slices and records were produced, and how far behind the checkpoint is.
//
// # Basic Usage
//
//	c := metrics.NewCollector("orders")
//	c.SlicesGenerated(len(slices))
//	c.Classified("default", "RETRY")
//	c.BackedOff("default", wait)
//	c.RecordsRead(len(records))
//	c.Checkpointed(cursorTime)
//
// All metrics are registered on the default registry with promauto.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ResponsesClassified counts handler verdicts.
	// Labels: stream, handler, action (SUCCESS/RETRY/IGNORE/FAIL)
	ResponsesClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_cdk_responses_classified_total",
			Help: "Total number of HTTP responses classified by an error handler",
		},
		[]string{"stream", "handler", "action"},
	)

	// BackoffSeconds tracks the waits the read loop slept before retrying.
	// Labels: stream, handler
	BackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "nebula_cdk_backoff_seconds",
			Help: "Time waited before retrying a request",
			Buckets: []float64{
				0.1, // header-driven short waits
				1,
				5, // default first exponential step
				10,
				30,
				60, // typical Retry-After ceiling
				300,
				600,
			},
		},
		[]string{"stream", "handler"},
	)

	// SlicesGenerated counts slices produced by the cursor.
	SlicesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_cdk_slices_generated_total",
			Help: "Total number of stream slices generated",
		},
		[]string{"stream"},
	)

	// RecordsRead counts records emitted to the sink.
	RecordsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nebula_cdk_records_read_total",
			Help: "Total number of records read",
		},
		[]string{"stream"},
	)

	// RequestLatency tracks upstream request latency in seconds.
	// Labels: stream, method
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nebula_cdk_request_latency_seconds",
			Help:    "Latency of upstream HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stream", "method"},
	)

	// CursorLagSeconds is how far the checkpointed cursor trails wall-clock time.
	CursorLagSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nebula_cdk_cursor_lag_seconds",
			Help: "Seconds between the checkpointed cursor value and now",
		},
		[]string{"stream"},
	)

	// Throughput tracks records per second over the last reporting window.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nebula_cdk_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"stream"},
	)
)

// Collector records metrics for one stream.
type Collector struct {
	stream    string
	startTime time.Time
	now       func() time.Time
}

// NewCollector creates a collector labelled with stream.
func NewCollector(stream string) *Collector {
	return &Collector{stream: stream, startTime: time.Now(), now: time.Now}
}

// Stream returns the stream label.
func (c *Collector) Stream() string { return c.stream }

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time { return c.startTime }

// Classified counts one handler verdict.
func (c *Collector) Classified(handler, action string) {
	ResponsesClassified.WithLabelValues(c.stream, handler, action).Inc()
}

// BackedOff observes a retry wait.
func (c *Collector) BackedOff(handler string, wait time.Duration) {
	BackoffSeconds.WithLabelValues(c.stream, handler).Observe(wait.Seconds())
}

// SlicesGenerated counts n generated slices.
func (c *Collector) SlicesGenerated(n int) {
	SlicesGenerated.WithLabelValues(c.stream).Add(float64(n))
}

// RecordsRead counts n emitted records.
func (c *Collector) RecordsRead(n int) {
	RecordsRead.WithLabelValues(c.stream).Add(float64(n))
}

// RequestDone observes the latency of one request.
func (c *Collector) RequestDone(method string, d time.Duration) {
	RequestLatency.WithLabelValues(c.stream, method).Observe(d.Seconds())
}

// Checkpointed updates the cursor lag gauge.
func (c *Collector) Checkpointed(cursor time.Time) {
	lag := c.now().Sub(cursor).Seconds()
	if lag < 0 {
		lag = 0
	}
	CursorLagSeconds.WithLabelValues(c.stream).Set(lag)
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer label.
func (t *Timer) Name() string { return t.name }

// Stop returns the time elapsed since creation. It may be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks records per second for a stream. Safe for
// concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	stream    string
}

// NewThroughputTracker creates a tracker for stream.
func NewThroughputTracker(stream string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		stream:    stream,
	}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset returns records per second since the last reset, publishes it
// to the Throughput gauge and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.stream).Set(throughput)
	return throughput
}
