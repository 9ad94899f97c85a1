package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	c := NewCollector("metrics_test_orders")

	c.Classified("default", "RETRY")
	c.Classified("default", "RETRY")
	c.Classified("default", "SUCCESS")
	assert.Equal(t, 2.0, testutil.ToFloat64(ResponsesClassified.WithLabelValues("metrics_test_orders", "default", "RETRY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ResponsesClassified.WithLabelValues("metrics_test_orders", "default", "SUCCESS")))

	c.SlicesGenerated(10)
	assert.Equal(t, 10.0, testutil.ToFloat64(SlicesGenerated.WithLabelValues("metrics_test_orders")))

	c.RecordsRead(3)
	c.RecordsRead(4)
	assert.Equal(t, 7.0, testutil.ToFloat64(RecordsRead.WithLabelValues("metrics_test_orders")))

	c.BackedOff("default", 5*time.Second)
	c.RequestDone("GET", 20*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(BackoffSeconds, "nebula_cdk_backoff_seconds"))

	now := time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	c.Checkpointed(now.Add(-time.Hour))
	assert.Equal(t, 3600.0, testutil.ToFloat64(CursorLagSeconds.WithLabelValues("metrics_test_orders")))
	c.Checkpointed(now.Add(time.Hour))
	assert.Equal(t, 0.0, testutil.ToFloat64(CursorLagSeconds.WithLabelValues("metrics_test_orders")))
}

func TestThroughputTracker(t *testing.T) {
	tracker := NewThroughputTracker("metrics_test_throughput")
	tracker.Increment(100)
	time.Sleep(10 * time.Millisecond)

	got := tracker.GetAndReset()
	assert.Greater(t, got, 0.0)
	assert.Equal(t, got, testutil.ToFloat64(Throughput.WithLabelValues("metrics_test_throughput")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer("op")
	time.Sleep(time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), time.Millisecond)
	assert.Equal(t, "op", timer.Name())
}
