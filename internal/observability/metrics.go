// File: internal/observability/metrics.go
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "retumi"

// Script outcomes recorded by ObserveScript.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeInterrupted = "interrupted"
	OutcomeFatal       = "fatal"
	OutcomeSkipped     = "skipped"
)

// Metrics holds the bridge collectors. A nil *Metrics records nothing, so
// components can take one unconditionally.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	scripts         *prometheus.CounterVec
	sessionHandles  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bridge",
			Name:      "requests_total",
			Help:      "Requests serviced by the document owner, by kind.",
		}, []string{"kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "bridge",
			Name:      "request_duration_seconds",
			Help:      "Time spent servicing one bridge request.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"kind"}),
		scripts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scripts_total",
			Help:      "Script bodies run, by outcome.",
		}, []string{"outcome"}),
		sessionHandles: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "session_handles",
			Help:      "Distinct nodes handed to scripts per session.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.requestDuration, m.scripts, m.sessionHandles)
	}
	return m
}

// ObserveRequest records one serviced bridge request.
func (m *Metrics) ObserveRequest(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind).Inc()
	m.requestDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveScript records the outcome of one script body.
func (m *Metrics) ObserveScript(outcome string) {
	if m == nil {
		return
	}
	m.scripts.WithLabelValues(outcome).Inc()
}

// ObserveSessionHandles records the handle table size of a finished session.
func (m *Metrics) ObserveSessionHandles(n int) {
	if m == nil {
		return
	}
	m.sessionHandles.Observe(float64(n))
}
