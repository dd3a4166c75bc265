package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	return NewWithRegisterer(prometheus.NewRegistry())
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	if m.Gauge != nil {
		return m.Gauge.GetValue()
	}
	return 0
}

func TestRecordIngestAndDrop(t *testing.T) {
	m := newTestMetrics()
	m.RecordIngest("plc1")
	m.RecordIngest("plc1")
	m.RecordDrop("plc1", "drop_newest")

	assert.Equal(t, float64(2), counterValue(t, m.RecordsIngested.WithLabelValues("plc1")))
	assert.Equal(t, float64(1), counterValue(t, m.RecordsDropped.WithLabelValues("plc1", "drop_newest")))
}

func TestSetBufferDepth(t *testing.T) {
	m := newTestMetrics()
	m.SetBufferDepth("memory", 42)
	assert.Equal(t, float64(42), counterValue(t, m.BufferDepth.WithLabelValues("memory")))
}

func TestRecordFlush(t *testing.T) {
	m := newTestMetrics()
	m.RecordFlush(true, 100, 0.25)
	m.RecordFlush(false, 0, 0.01)

	assert.Equal(t, float64(1), counterValue(t, m.SinkFlushTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), counterValue(t, m.SinkFlushTotal.WithLabelValues("failure")))
}

func TestSetBreakerState(t *testing.T) {
	m := newTestMetrics()
	m.SetBreakerState(2)
	assert.Equal(t, float64(2), counterValue(t, m.BreakerState))
}
