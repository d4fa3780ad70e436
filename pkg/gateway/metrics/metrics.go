package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimitHits   *prometheus.CounterVec

	// Twilio
	WebhooksTotal     *prometheus.CounterVec
	TwilioAPIRequests *prometheus.CounterVec

	// Relay sessions
	RelaySessionsActive  prometheus.Gauge
	RelaySessionsTotal   *prometheus.CounterVec
	RelaySessionDuration prometheus.Histogram
	RelayAudioBytesTotal *prometheus.CounterVec

	// Browser events
	EventClientsActive prometheus.Gauge
	EventsPublished    *prometheus.CounterVec
	EventClientsKicked prometheus.Counter

	// Insights
	InsightsTotal    *prometheus.CounterVec
	InsightsDuration prometheus.Histogram
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mohit"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"route", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"route"}),
		RateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit rejections",
		}, []string{"limit_type"}),
		WebhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "twilio_webhooks_total",
			Help:      "Twilio webhooks received by kind and outcome",
		}, []string{"kind", "outcome"}),
		TwilioAPIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "twilio_api_requests_total",
			Help:      "Twilio REST API calls by operation and outcome",
		}, []string{"op", "outcome"}),
		RelaySessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_sessions_active",
			Help:      "Number of active media relay sessions",
		}),
		RelaySessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_sessions_total",
			Help:      "Total number of media relay sessions by close reason",
		}, []string{"reason"}),
		RelaySessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "relay_session_duration_seconds",
			Help:      "Media relay session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		RelayAudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_audio_bytes_total",
			Help:      "Audio bytes relayed by direction",
		}, []string{"direction"}),
		EventClientsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_clients_active",
			Help:      "Number of connected browser event sockets",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Browser events published by name",
		}, []string{"event"}),
		EventClientsKicked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_clients_kicked_total",
			Help:      "Browser event sockets closed for falling behind",
		}),
		InsightsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_total",
			Help:      "Call insight generations by outcome",
		}, []string{"outcome"}),
		InsightsDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "insights_duration_seconds",
			Help:      "Call insight generation latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestsTotal,
		m.RequestDuration,
		m.RateLimitHits,
		m.WebhooksTotal,
		m.TwilioAPIRequests,
		m.RelaySessionsActive,
		m.RelaySessionsTotal,
		m.RelaySessionDuration,
		m.RelayAudioBytesTotal,
		m.EventClientsActive,
		m.EventsPublished,
		m.EventClientsKicked,
		m.InsightsTotal,
		m.InsightsDuration,
	)
	return m
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) RecordRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

func (m *Metrics) RecordWebhook(kind, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordTwilioAPI(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.TwilioAPIRequests.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) RecordRelayStart() {
	if m == nil {
		return
	}
	m.RelaySessionsActive.Inc()
}

func (m *Metrics) RecordRelayEnd(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RelaySessionsActive.Dec()
	m.RelaySessionsTotal.WithLabelValues(reason).Inc()
	m.RelaySessionDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRelayAudio(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RelayAudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) RecordEventClient(delta int) {
	if m == nil {
		return
	}
	m.EventClientsActive.Add(float64(delta))
}

func (m *Metrics) RecordEventPublished(event string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordEventClientKicked() {
	if m == nil {
		return
	}
	m.EventClientsKicked.Inc()
}

func (m *Metrics) RecordInsights(err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.InsightsTotal.WithLabelValues(outcome).Inc()
	m.InsightsDuration.Observe(duration.Seconds())
}
