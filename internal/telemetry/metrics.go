// Package telemetry provides Prometheus metrics and OpenTelemetry tracing for the relay.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values shared by the counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"

	StreamTimeline = "timeline"
	StreamDirect   = "direct"
)

var (
	once sync.Once

	// Counters
	FeedRequests     *prometheus.CounterVec // service, endpoint, outcome
	PollCycles       *prometheus.CounterVec // service, outcome
	RelayedMessages  *prometheus.CounterVec // service, stream
	InboundMessages  *prometheus.CounterVec // service, action, outcome
	PresenceEvents   *prometheus.CounterVec // service, state
	CursorCommits    *prometheus.CounterVec // outcome
	StanzasSent      *prometheus.CounterVec // kind
	StanzasDropped   prometheus.Counter
	ComponentDialed  *prometheus.CounterVec // outcome
	LoopPanics       prometheus.Counter
	TokenRefreshes   *prometheus.CounterVec // service
	ReconcileChanges *prometheus.CounterVec // change

	// Histograms (seconds)
	PollDuration *prometheus.HistogramVec // service

	// Gauges
	BoundRooms       prometheus.Gauge
	ActiveConnectors prometheus.Gauge
	ComponentUp      prometheus.Gauge // 1=connected,0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		FeedRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedbridge_feed_requests_total", Help: "Feed API requests by endpoint and outcome"}, []string{"service", "endpoint", "outcome"})
		PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedbridge_poll_cycles_total", Help: "Polling cycles by outcome"}, []string{"service", "outcome"})
		RelayedMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedbridge_relayed_messages_total", Help: "Feed entries relayed into rooms"}, []string{"service", "stream"})
		InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedbridge_inbound_messages_total", Help: "Room messages handled by connectors"}, []string{"service", "action", "outcome"})
		PresenceEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedbridge_presence_events_total", Help: "Simulated author presence changes"}, []string{"service", "state"})
		CursorCommits = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedbridge_cursor_commits_total", Help: "Cursor persistence attempts"}, []string{"outcome"})
		StanzasSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedbridge_stanzas_sent_total", Help: "Stanzas queued for the chat server"}, []string{"kind"})
		StanzasDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "feedbridge_stanzas_dropped_total", Help: "Stanzas dropped because the send queue was full or closed"})
		ComponentDialed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedbridge_component_dials_total", Help: "Component connection attempts"}, []string{"outcome"})
		LoopPanics = promauto.NewCounter(prometheus.CounterOpts{Name: "feedbridge_loop_panics_total", Help: "Panics recovered by the event loop"})
		TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedbridge_token_refreshes_total", Help: "OAuth2 access tokens refreshed"}, []string{"service"})
		ReconcileChanges = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedbridge_reconcile_changes_total", Help: "Rows changed by service reconciliation"}, []string{"change"})
		PollDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "feedbridge_poll_duration_seconds", Help: "Polling cycle duration seconds", Buckets: prometheus.DefBuckets}, []string{"service"})
		BoundRooms = promauto.NewGauge(prometheus.GaugeOpts{Name: "feedbridge_bound_rooms", Help: "Rooms with a binding"})
		ActiveConnectors = promauto.NewGauge(prometheus.GaugeOpts{Name: "feedbridge_active_connectors", Help: "Connectors registered across all rooms"})
		ComponentUp = promauto.NewGauge(prometheus.GaugeOpts{Name: "feedbridge_component_up", Help: "Component link connected=1 disconnected=0"})
	})
}

// Outcome maps an error to [OutcomeSuccess] or [OutcomeFailure].
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// SetComponentUp sets the link gauge to 1 when connected else 0.
func SetComponentUp(up bool) {
	if ComponentUp == nil {
		return
	}
	if up {
		ComponentUp.Set(1)
	} else {
		ComponentUp.Set(0)
	}
}

// SetBindings records the current room and connector counts.
func SetBindings(rooms, connectors int) {
	if BoundRooms != nil {
		BoundRooms.Set(float64(rooms))
	}
	if ActiveConnectors != nil {
		ActiveConnectors.Set(float64(connectors))
	}
}
