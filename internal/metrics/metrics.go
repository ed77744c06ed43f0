package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Conversation metrics
	ConversationAppendsTotal *prometheus.CounterVec
	ConversationFetchesTotal prometheus.Counter
	ConversationStoreErrors  prometheus.Counter

	// Session lifecycle metrics
	SessionsTracked         prometheus.Gauge
	SessionTransitionsTotal *prometheus.CounterVec
	SessionVersionConflicts prometheus.Counter
	SessionsEvictedTotal    prometheus.Counter

	// Speech proxy metrics
	SpeechRequestsTotal   *prometheus.CounterVec
	SpeechRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),

		ConversationAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversation_appends_total",
				Help: "Total number of conversation entries appended",
			},
			[]string{"type"},
		),
		ConversationFetchesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "conversation_fetches_total",
				Help: "Total number of conversation fetches",
			},
		),
		ConversationStoreErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "conversation_store_errors_total",
				Help: "Total number of conversation store failures",
			},
		),

		SessionsTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_tracked",
				Help: "Number of sessions currently tracked in memory",
			},
		),
		SessionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_transitions_total",
				Help: "Total number of session lifecycle transitions",
			},
			[]string{"action"},
		),
		SessionVersionConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_version_conflicts_total",
				Help: "Total number of rejected stale-version session writes",
			},
		),
		SessionsEvictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_evicted_total",
				Help: "Total number of stale session records evicted",
			},
		),

		SpeechRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "speech_requests_total",
				Help: "Total number of speech service requests",
			},
			[]string{"operation", "status"},
		),
		SpeechRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "speech_request_duration_seconds",
				Help:    "Duration of speech service requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(m.HTTPRequestsTotal)
	m.registry.MustRegister(m.HTTPRequestDuration)

	m.registry.MustRegister(m.ConversationAppendsTotal)
	m.registry.MustRegister(m.ConversationFetchesTotal)
	m.registry.MustRegister(m.ConversationStoreErrors)

	m.registry.MustRegister(m.SessionsTracked)
	m.registry.MustRegister(m.SessionTransitionsTotal)
	m.registry.MustRegister(m.SessionVersionConflicts)
	m.registry.MustRegister(m.SessionsEvictedTotal)

	m.registry.MustRegister(m.SpeechRequestsTotal)
	m.registry.MustRegister(m.SpeechRequestDuration)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
