// Package telemetry holds the gateway's Prometheus collectors.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	RequestTotal        *prometheus.CounterVec
	RequestDurationMs   *prometheus.HistogramVec
	RedactionsTotal     prometheus.Counter
	QuotaBlockTotal     *prometheus.CounterVec
	AdmissionEventTotal *prometheus.CounterVec
	StreamFrameTotal    *prometheus.CounterVec
	InflightRequests    prometheus.Gauge
}

// NewMetrics creates and registers all gateway metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_requests_total",
			Help: "Total requests processed by the gateway.",
		}, []string{"route", "model", "status"}),

		RequestDurationMs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veil_request_duration_ms",
			Help:    "Request duration in milliseconds, including provider latency.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"route"}),

		RedactionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "veil_redactions_total",
			Help: "Total redactions applied to request and response content.",
		}),

		QuotaBlockTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_quota_block_total",
			Help: "Requests blocked by the quota ledger, by reason.",
		}, []string{"reason"}),

		AdmissionEventTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_admission_events_total",
			Help: "Admission pipeline rejections, by stage.",
		}, []string{"stage"}),

		StreamFrameTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_stream_frames_total",
			Help: "Outbound stream frames emitted, by kind.",
		}, []string{"kind"}),

		InflightRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "veil_inflight_requests",
			Help: "Requests currently being processed.",
		}),
	}
}

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(route, model, status string, durationMs float64) {
	m.RequestTotal.WithLabelValues(route, model, status).Inc()
	m.RequestDurationMs.WithLabelValues(route).Observe(durationMs)
}

// RecordRedactions adds n to the redaction counter.
func (m *Metrics) RecordRedactions(n int) {
	if n > 0 {
		m.RedactionsTotal.Add(float64(n))
	}
}

// RecordQuotaBlock counts a quota rejection ("exceeded" or "backend").
func (m *Metrics) RecordQuotaBlock(reason string) {
	m.QuotaBlockTotal.WithLabelValues(reason).Inc()
}

// RecordAdmissionEvent counts an admission-stage rejection.
func (m *Metrics) RecordAdmissionEvent(stage string) {
	m.AdmissionEventTotal.WithLabelValues(stage).Inc()
}

// RecordStreamFrame counts an emitted stream frame by kind.
func (m *Metrics) RecordStreamFrame(kind string) {
	m.StreamFrameTotal.WithLabelValues(kind).Inc()
}
