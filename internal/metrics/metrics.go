// Package metrics provides Prometheus metrics for the server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	StagingOpsTotal    *prometheus.CounterVec
	ActiveStreams      prometheus.Gauge
	ErrorsTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atelier_requests_total",
				Help: "Total number of ask requests by route and status.",
			},
			[]string{"route", "status"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "atelier_generation_duration_seconds",
				Help:    "End-to-end generation duration by route.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"route"},
		),
		StagingOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atelier_staging_ops_total",
				Help: "Total staging operations by action and result.",
			},
			[]string{"action", "result"},
		),
		ActiveStreams: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "atelier_active_streams",
				Help: "Number of SSE streams currently open.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atelier_errors_total",
				Help: "Total errors by component and kind.",
			},
			[]string{"component", "kind"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.GenerationDuration)
	reg.MustRegister(m.StagingOpsTotal)
	reg.MustRegister(m.ActiveStreams)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(route, status string) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
}

// ObserveGeneration records a generation duration.
func (m *Metrics) ObserveGeneration(route string, seconds float64) {
	m.GenerationDuration.WithLabelValues(route).Observe(seconds)
}

// RecordStagingOp increments the staging operation counter.
func (m *Metrics) RecordStagingOp(action, result string) {
	m.StagingOpsTotal.WithLabelValues(action, result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorsTotal.WithLabelValues(component, kind).Inc()
}
