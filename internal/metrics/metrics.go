// Package metrics provides Prometheus instrumentation for the chat relay. It
// exposes gauges for connection and session counts, counters for message and
// presence throughput, and a histogram for routing latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connections tracks the current number of open WebSocket connections,
	// joined or not.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections",
		Help: "Current number of open WebSocket connections",
	})

	// Sessions tracks the number of connections that have joined a room.
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions",
		Help: "Current number of joined sessions",
	})

	// MessagesTotal counts events, labeled by kind: "received", "broadcast",
	// "assistant", "dropped", "rate_limited", "invalid".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"kind"})

	// FramesDropped counts outbound frames discarded because a recipient's
	// outbox was full or its connection was gone.
	FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_frames_dropped_total",
		Help: "Outbound frames dropped for slow or closed recipients",
	})

	// JoinRejections counts joins refused, labeled by reason.
	JoinRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_join_rejections_total",
		Help: "Total number of rejected room joins",
	}, []string{"reason"}) // reason = "name_taken", "already_joined", "invalid"

	// AssistantReplies counts assistant replies, labeled by the rule branch
	// that produced them.
	AssistantReplies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_assistant_replies_total",
		Help: "Total number of assistant directives answered",
	}, []string{"branch"})

	// RouteLatency records the time from receiving a chat message to having
	// queued it for every recipient.
	RouteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_route_latency_seconds",
		Help:    "Message routing latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

func init() {
	prometheus.MustRegister(
		Connections,
		Sessions,
		MessagesTotal,
		FramesDropped,
		JoinRejections,
		AssistantReplies,
		RouteLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
