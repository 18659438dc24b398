// Package metricsutil holds the prometheus collectors shared by every
// binary. Collectors are package-level; Init registers them once and each
// main serves Handler on its metrics port.
package metricsutil

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsConsumed counts stream entries by terminal result.
	EventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_consumed_total",
			Help: "Stream entries consumed, by stream and terminal result",
		},
		[]string{"stream", "result"},
	)

	// RouterExecutions counts command executions by terminal state.
	RouterExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_executions_total",
			Help: "Command executions by terminal state",
		},
		[]string{"state"},
	)

	// DispatchDuration tracks module dispatch latency per transport.
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "router_dispatch_duration_seconds",
			Help:    "Time spent dispatching to interaction modules",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	// ReputationEvents counts scored events per type.
	ReputationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reputation_events_total",
			Help: "Reputation events recorded, by event type",
		},
		[]string{"event_type"},
	)

	// ModerationActions counts policy-driven moderation deliveries.
	ModerationActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reputation_moderation_total",
			Help: "Moderation actions issued by the score policy",
		},
		[]string{"action"},
	)
)

// Init registers every collector. Call once per process, before serving.
func Init() {
	prometheus.MustRegister(
		EventsConsumed,
		RouterExecutions,
		DispatchDuration,
		ReputationEvents,
		ModerationActions,
	)
}

// Handler returns the prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
