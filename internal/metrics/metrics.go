package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aero_realtime_relay"

// Relay events counted by Inc.
const (
	EventCallsProxied       = "calls_proxied"
	EventMissingAuth        = "missing_authorization"
	EventBodyTooLarge       = "body_too_large"
	EventUpstreamError      = "upstream_error"
	EventUpstreamTLSSkipped = "upstream_tls_skipped"
)

// Metrics groups the relay's Prometheus instruments. Each instance owns its
// registry, so tests and multiple servers don't collide.
type Metrics struct {
	reg *prometheus.Registry

	Events           *prometheus.CounterVec
	UpstreamStatus   *prometheus.CounterVec
	UpstreamLatency  prometheus.Histogram
	InflightRequests prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Relay events by type.",
		}, []string{"event"}),
		UpstreamStatus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_responses_total",
			Help:      "Upstream call-creation responses by status class.",
		}, []string{"class"}),
		UpstreamLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_ms",
			Help:      "Upstream call-creation latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000},
		}),
		InflightRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_proxy_requests",
			Help:      "Proxy requests currently waiting on the upstream.",
		}),
	}
}

func (m *Metrics) Inc(event string) {
	m.Events.WithLabelValues(event).Inc()
}

// ObserveUpstream records one completed upstream round trip.
func (m *Metrics) ObserveUpstream(status int, d time.Duration) {
	m.UpstreamStatus.WithLabelValues(statusClass(status)).Inc()
	m.UpstreamLatency.Observe(float64(d.Milliseconds()))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
