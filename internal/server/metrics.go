package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the request and stream counters exported at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	streamsTotal   *prometheus.CounterVec
	streamEvents   *prometheus.CounterVec
	streamDuration *prometheus.HistogramVec
}

// NewMetrics builds a self-contained registry so tests can construct
// independent servers without duplicate-registration panics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commodityd_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		streamsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commodityd_streams_total",
			Help: "Streaming requests by operation kind and outcome.",
		}, []string{"kind", "outcome"}),
		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "commodityd_stream_events_total",
			Help: "SSE events emitted by operation kind and event type.",
		}, []string{"kind", "type"}),
		streamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "commodityd_stream_duration_seconds",
			Help:    "Wall time of streaming requests by operation kind.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"kind"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
