// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors used across the API.
type Metrics struct {
	registry *prometheus.Registry

	ImportsTotal     *prometheus.CounterVec
	ImportRows       *prometheus.CounterVec
	ImportDuration   *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	RateLimitedTotal prometheus.Counter
}

// New registers all collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ImportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imports_total",
			Help: "Processed upload files by kind and status.",
		}, []string{"kind", "status"}),
		ImportRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "import_rows_total",
			Help: "Rows seen by imports by kind and outcome (inserted, duplicate, invalid).",
		}, []string{"kind", "outcome"}),
		ImportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "import_duration_seconds",
			Help:    "Time spent processing one upload file.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ImportsTotal,
		m.ImportRows,
		m.ImportDuration,
		m.HTTPRequests,
		m.HTTPDuration,
		m.RateLimitedTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
