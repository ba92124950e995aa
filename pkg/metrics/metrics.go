// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnectionsActive tracks live chat connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active chat WebSocket connections",
		},
	)

	// ConnectionsRejected counts connections closed during open, by stage.
	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_connections_rejected_total",
			Help: "Chat connections rejected during open",
		},
		[]string{"stage"},
	)

	// AuthFailuresTotal counts authentication failures by server-side reason.
	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Authentication failures by reason",
		},
		[]string{"reason"},
	)

	// SessionLookupDuration tracks session resolution latency.
	SessionLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_lookup_duration_seconds",
			Help:    "Session resolution duration in seconds",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"result"},
	)

	// MessagesTotal tracks inbound chat messages by outcome.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total chat messages received",
		},
		[]string{"status"},
	)

	// BroadcastDeliveries tracks frames handed to subscribed connections.
	BroadcastDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_deliveries_total",
			Help: "Frames delivered to subscribed connections",
		},
	)

	// JournalFailures counts messages that could not be journaled.
	JournalFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journal_failures_total",
			Help: "Messages that could not be written to the journal",
		},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// UsersTotal tracks total users registered.
	UsersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "users_total",
			Help: "Total users registered",
		},
		[]string{"source"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementConnections increments the active connection count.
func IncrementConnections() {
	WSConnectionsActive.Inc()
}

// DecrementConnections decrements the active connection count.
func DecrementConnections() {
	WSConnectionsActive.Dec()
}
