// Package telemetry is the gateway's single Prometheus metrics
// registry (spec §5: "one metrics registry"), covering ingestion,
// buffering, sink egress, and auth across every component.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the gateway exposes.
type Metrics struct {
	RecordsIngested  *prometheus.CounterVec
	RecordsDropped   *prometheus.CounterVec
	BufferDepth      *prometheus.GaugeVec
	SpoolBytes       prometheus.Gauge
	DLQTotal         prometheus.Counter

	SourceState *prometheus.GaugeVec

	SinkFlushTotal    *prometheus.CounterVec
	SinkFlushDuration prometheus.Histogram
	SinkBatchSize     prometheus.Histogram

	BreakerState     prometheus.Gauge
	BreakerTripTotal prometheus.Counter

	TokenRefreshTotal *prometheus.CounterVec
}

// New builds and registers the metrics collectors against the default
// Prometheus registry. Call once per process.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer builds the metrics collectors against reg, letting
// tests use an isolated prometheus.NewRegistry() instead of the
// process-global default.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RecordsIngested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otgw_records_ingested_total",
				Help: "Total records accepted into the backpressure buffer, by source.",
			},
			[]string{"source"},
		),
		RecordsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otgw_records_dropped_total",
				Help: "Total records dropped at the buffer, by source and reason.",
			},
			[]string{"source", "reason"}, // reason: drop_newest, drop_oldest, malformed_payload, spool_write_failed
		),
		BufferDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "otgw_buffer_depth",
				Help: "Current queue depth by tier.",
			},
			[]string{"tier"}, // tier: memory, spool
		),
		SpoolBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "otgw_spool_bytes_used",
			Help: "Bytes currently used by the disk spool.",
		}),
		DLQTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "otgw_dlq_total",
			Help: "Total records quarantined to the dead-letter queue.",
		}),
		SourceState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "otgw_source_state",
				Help: "Current supervisor state per source (0=idle,1=connecting,2=running,3=backoff,4=stopped).",
			},
			[]string{"source"},
		),
		SinkFlushTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otgw_sink_flush_total",
				Help: "Total batch flush attempts against the sink, by outcome.",
			},
			[]string{"outcome"}, // outcome: success, failure
		),
		SinkFlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "otgw_sink_flush_duration_seconds",
			Help:    "Duration of a batch ingest+flush round trip to the sink.",
			Buckets: prometheus.DefBuckets,
		}),
		SinkBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "otgw_sink_batch_size",
			Help:    "Number of records in each flushed batch.",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "otgw_circuit_breaker_state",
			Help: "Sink circuit breaker state (0=closed,1=half_open,2=open).",
		}),
		BreakerTripTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "otgw_circuit_breaker_trips_total",
			Help: "Total transitions into the open state.",
		}),
		TokenRefreshTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otgw_token_refresh_total",
				Help: "Total token manager refresh attempts, by outcome.",
			},
			[]string{"outcome"}, // outcome: success, failure
		),
	}
}

// RecordIngest records a single accepted record.
func (m *Metrics) RecordIngest(source string) {
	m.RecordsIngested.WithLabelValues(source).Inc()
}

// RecordDrop records a single dropped record.
func (m *Metrics) RecordDrop(source, reason string) {
	m.RecordsDropped.WithLabelValues(source, reason).Inc()
}

// SetBufferDepth updates the depth gauge for one tier.
func (m *Metrics) SetBufferDepth(tier string, depth int) {
	m.BufferDepth.WithLabelValues(tier).Set(float64(depth))
}

// RecordFlush records one batch flush attempt and its duration.
func (m *Metrics) RecordFlush(success bool, batchSize int, durationSeconds float64) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.SinkFlushTotal.WithLabelValues(outcome).Inc()
	m.SinkFlushDuration.Observe(durationSeconds)
	m.SinkBatchSize.Observe(float64(batchSize))
}

// SetBreakerState mirrors the breaker's current state (0/1/2) onto the gauge.
func (m *Metrics) SetBreakerState(state int) {
	m.BreakerState.Set(float64(state))
}

// RecordTokenRefresh records one token manager refresh attempt.
func (m *Metrics) RecordTokenRefresh(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.TokenRefreshTotal.WithLabelValues(outcome).Inc()
}
