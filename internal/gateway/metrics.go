// ABOUTME: Prometheus metrics for the gatekeeper
// ABOUTME: Request totals and latency plus domain counters on own registry

package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gatekeeper's Prometheus collectors. Each Gateway
// carries its own registry so instances (and tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	robotHits      prometheus.Counter
	authFailures   *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
}

// NewMetrics creates and registers the gatekeeper collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_http_requests_total",
			Help: "Total number of HTTP requests handled.",
		}, []string{"status", "method", "route"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gatekeeper_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status", "method", "route"}),
		robotHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gatekeeper_robot_requests_total",
			Help: "Requests whose User-Agent classified as a robot.",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_auth_failures_total",
			Help: "Authentication rejections returned to clients.",
		}, []string{"upstream"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_upstream_errors_total",
			Help: "Transport-level failures talking to an upstream.",
		}, []string{"upstream"}),
	}

	m.registry.MustRegister(m.requests, m.latency, m.robotHits, m.authFailures, m.upstreamErrors)
	return m
}

// Handler exposes the registry for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
