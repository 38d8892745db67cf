// Package telemetry exposes the process counters scraped from /metrics.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	stages         *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	remoteFailures *prometheus.CounterVec
	duration       prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnkeeper",
			Name:      "requests_total",
			Help:      "Handled orchestration requests by intent and outcome.",
		}, []string{"intent", "outcome"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnkeeper",
			Name:      "stages_total",
			Help:      "Planned stages by name and whether they executed, were skipped or failed.",
		}, []string{"stage", "result"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnkeeper",
			Name:      "fallbacks_total",
			Help:      "Deterministic defaults substituted for unusable oracle output.",
		}, []string{"step"}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "turnkeeper",
			Name:      "remote_failures_total",
			Help:      "Failed calls to tool and completion services.",
		}, []string{"target"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "turnkeeper",
			Name:      "request_duration_seconds",
			Help:      "Wall time of orchestration requests.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.requests, m.stages, m.fallbacks, m.remoteFailures, m.duration)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Request(intent, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(intent, outcome).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) Stage(stage, result string) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) Fallback(step string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(step).Inc()
}

func (m *Metrics) RemoteFailure(target string) {
	if m == nil {
		return
	}
	m.remoteFailures.WithLabelValues(target).Inc()
}
