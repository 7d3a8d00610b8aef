package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the consultation service.
// Every method is safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Database Metrics
	dbConnectionsActive prometheus.Gauge
	dbConnectionsIdle   prometheus.Gauge

	// WebSocket / relay Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec
	relayDroppedTotal      *prometheus.CounterVec
	roomsActive            prometheus.Gauge

	// Session Metrics
	sessionsTotal    *prometheus.CounterVec
	sessionsByStatus *prometheus.GaugeVec

	// Chat Metrics
	chatMessagesTotal *prometheus.CounterVec

	// Rate Limiting Metrics
	rateLimitBlockedTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics on a private registry, plus Go and process collectors
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		dbConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "db_connections_active",
				Help:        "Number of acquired database connections",
				ConstLabels: labels,
			},
		),
		dbConnectionsIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "db_connections_idle",
				Help:        "Number of idle database connections",
				ConstLabels: labels,
			},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of open relay websocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Relay events by name and direction",
				ConstLabels: labels,
			},
			[]string{"event", "direction"},
		),
		websocketErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Relay transport errors by reason",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		relayDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "relay_dropped_total",
				Help:        "Relay events dropped without delivery",
				ConstLabels: labels,
			},
			[]string{"event", "reason"},
		),
		roomsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "relay_rooms_active",
				Help:        "Number of rooms with at least one member",
				ConstLabels: labels,
			},
		),

		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "consult_sessions_total",
				Help:        "Session lifecycle events",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		sessionsByStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "consult_sessions",
				Help:        "Stored sessions by status",
				ConstLabels: labels,
			},
			[]string{"status"},
		),

		chatMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "chat_messages_total",
				Help:        "Chat send attempts by result",
				ConstLabels: labels,
			},
			[]string{"result"},
		),

		rateLimitBlockedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "rate_limit_blocked_total",
				Help:        "Requests rejected by the rate limiter",
				ConstLabels: labels,
			},
			[]string{"endpoint"},
		),
	}
}

// GetRegistry returns the registry the metrics are registered on
func (m *Metrics) GetRegistry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.httpRequestsInFlight.Dec()
}

// SetDBConnections sets the pool gauges
func (m *Metrics) SetDBConnections(active, idle int) {
	if m == nil {
		return
	}
	m.dbConnectionsActive.Set(float64(active))
	m.dbConnectionsIdle.Set(float64(idle))
}

// SetWebSocketConnections sets the open connection gauge
func (m *Metrics) SetWebSocketConnections(count int) {
	if m == nil {
		return
	}
	m.websocketConnections.Set(float64(count))
}

// SetRoomsActive sets the active room gauge
func (m *Metrics) SetRoomsActive(count int) {
	if m == nil {
		return
	}
	m.roomsActive.Set(float64(count))
}

// RecordWebSocketMessage counts a relay event; direction is "in" or "out"
func (m *Metrics) RecordWebSocketMessage(event, direction string) {
	if m == nil {
		return
	}
	m.websocketMessagesTotal.WithLabelValues(event, direction).Inc()
}

// RecordWebSocketError counts a transport error
func (m *Metrics) RecordWebSocketError(reason string) {
	if m == nil {
		return
	}
	m.websocketErrorsTotal.WithLabelValues(reason).Inc()
}

// RecordRelayDrop counts an event that reached no recipient
func (m *Metrics) RecordRelayDrop(event, reason string) {
	if m == nil {
		return
	}
	m.relayDroppedTotal.WithLabelValues(event, reason).Inc()
}

// RecordSession counts a session lifecycle event (created, activated, ended, expired)
func (m *Metrics) RecordSession(event string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(event).Inc()
}

// SetSessionsByStatus replaces the per-status gauge values
func (m *Metrics) SetSessionsByStatus(counts map[string]int) {
	if m == nil {
		return
	}
	m.sessionsByStatus.Reset()
	for status, n := range counts {
		m.sessionsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// RecordChatMessage counts a chat send by result (sent, locked, rejected, failed)
func (m *Metrics) RecordChatMessage(result string) {
	if m == nil {
		return
	}
	m.chatMessagesTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitBlocked counts a rejected request
func (m *Metrics) RecordRateLimitBlocked(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitBlockedTotal.WithLabelValues(endpoint).Inc()
}
