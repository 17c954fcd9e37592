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

	// SocketConnectionsActive tracks live websocket connections on this instance.
	SocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of active websocket connections",
		},
	)

	// HandshakesTotal tracks gateway handshakes by outcome.
	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_handshakes_total",
			Help: "Websocket handshakes by outcome",
		},
		[]string{"outcome"},
	)

	// PresenceTransitions tracks presence broadcasts.
	PresenceTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_transitions_total",
			Help: "Presence transitions that produced a broadcast",
		},
		[]string{"state"},
	)

	// MessagesRouted tracks send attempts by result code.
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_routed_total",
			Help: "Conversation router send attempts by result",
		},
		[]string{"result"},
	)

	// FanoutDeliveries tracks per-socket live deliveries.
	FanoutDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_deliveries_total",
			Help: "Live frame deliveries to sockets by result",
		},
		[]string{"result"},
	)

	// NotificationsDispatched tracks dispatcher outcomes per recipient.
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Reminder dispatch outcomes",
		},
		[]string{"outcome"},
	)

	// DispatcherRunDuration tracks one full dispatcher run.
	DispatcherRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatcher_run_duration_seconds",
			Help:    "Notification dispatcher run duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// BusMessages tracks frames crossing the inter-instance bus.
	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_total",
			Help: "Frames published to or received from the instance bus",
		},
		[]string{"direction", "kind"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordDispatch records the aggregated outcome of one dispatcher run.
func RecordDispatch(created, skipped, failed int, duration float64) {
	NotificationsDispatched.WithLabelValues("created").Add(float64(created))
	NotificationsDispatched.WithLabelValues("skipped").Add(float64(skipped))
	NotificationsDispatched.WithLabelValues("error").Add(float64(failed))
	DispatcherRunDuration.Observe(duration)
}

// IncrementSockets increments the active socket count.
func IncrementSockets() {
	SocketConnectionsActive.Inc()
}

// DecrementSockets decrements the active socket count.
func DecrementSockets() {
	SocketConnectionsActive.Dec()
}
