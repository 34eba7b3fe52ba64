// Package metrics exposes Prometheus collectors for runs, model calls,
// sessions and HTTP traffic. A nil *Metrics is a valid no-op.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llm_fanout/generation"
	"llm_fanout/orchestrator"
)

const namespace = "llm_fanout"

// Metrics holds the collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	runs           *prometheus.CounterVec
	calls          *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	activeSessions prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	registryModels prometheus.Gauge
}

var (
	_ orchestrator.Observer = (*Metrics)(nil)
)

// New creates and registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of fan-out runs",
			},
			[]string{"mode"},
		),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Total number of model calls by outcome",
			},
			[]string{"model", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_call_duration_seconds",
				Help:      "Duration of model calls",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120, 180},
			},
			[]string{"model"},
		),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open WebSocket sessions",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "code"},
		),
		registryModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_models",
			Help:      "Number of models in the current registry snapshot",
		}),
	}
	reg.MustRegister(m.runs, m.calls, m.callDuration, m.activeSessions, m.httpRequests, m.registryModels)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveCall records one finished model call.
func (m *Metrics) ObserveCall(mode string, res generation.Result) {
	if m == nil {
		return
	}
	outcome := "completed"
	if !res.Successful() {
		outcome = string(res.ErrKind)
	}
	m.calls.WithLabelValues(res.Model, outcome).Inc()
	m.callDuration.WithLabelValues(res.Model).Observe(res.Duration.Seconds())
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(summary orchestrator.Summary) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(summary.Mode)).Inc()
}

// SessionOpened increments the active session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the active session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// ObserveHTTP records one HTTP response.
func (m *Metrics) ObserveHTTP(method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// SetRegistryModels records the registry snapshot size.
func (m *Metrics) SetRegistryModels(n int) {
	if m == nil {
		return
	}
	m.registryModels.Set(float64(n))
}
