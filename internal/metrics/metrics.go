package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsTotal counts inbound events by classified kind
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_events_total",
			Help: "Total number of inbound events by kind",
		},
		[]string{"kind"},
	)

	// MalformedEvents counts payloads rejected by the classifier
	MalformedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_malformed_events_total",
			Help: "Total number of inbound payloads rejected as malformed",
		},
	)

	// ActiveSessions tracks currently connected transport sessions
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_active_sessions",
			Help: "Number of active transport sessions",
		},
	)

	// Reconnects counts reconnect attempts by outcome
	Reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_reconnects_total",
			Help: "Total number of reconnect attempts",
		},
		[]string{"outcome"},
	)

	// OutboundQueueDepth tracks messages queued while connecting
	OutboundQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_outbound_queue_depth",
			Help: "Number of outbound events queued awaiting connection",
		},
	)

	// DecodeDrops counts embedded stream segments dropped on decode failure
	DecodeDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_decode_drops_total",
			Help: "Total number of embedded stream segments dropped on decode failure",
		},
	)

	// SendFailures counts sends rejected while disconnected or closing
	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_send_failures_total",
			Help: "Total number of sends rejected by session state",
		},
	)

	// ReplayBufferDrops tracks events dropped from session replay buffers
	ReplayBufferDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_replay_buffer_drops_total",
			Help: "Total number of events dropped due to replay buffer overflow",
		},
		[]string{"conversation_id"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records a classified inbound event
func RecordEvent(kind string) {
	EventsTotal.WithLabelValues(kind).Inc()
}

// RecordMalformed records a rejected payload
func RecordMalformed() {
	MalformedEvents.Inc()
}

// RecordSessionOpen increments the active session gauge
func RecordSessionOpen() {
	ActiveSessions.Inc()
}

// RecordSessionClose decrements the active session gauge
func RecordSessionClose() {
	ActiveSessions.Dec()
}

// RecordReconnect records a reconnect attempt outcome ("success", "failure", "exhausted")
func RecordReconnect(outcome string) {
	Reconnects.WithLabelValues(outcome).Inc()
}

// RecordDecodeDrop records a dropped embedded segment
func RecordDecodeDrop() {
	DecodeDrops.Inc()
}

// RecordSendFailure records a send rejected by session state
func RecordSendFailure() {
	SendFailures.Inc()
}

// RecordReplayDrop records a replay buffer overflow drop
func RecordReplayDrop(conversationID string) {
	ReplayBufferDrops.WithLabelValues(conversationID).Inc()
}
