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

	// EventsPublished tracks bus publishes by event name and outcome.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Events published on the notification bus",
		},
		[]string{"event", "status"},
	)

	// EventsDropped tracks inbound events dropped by consumers.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_dropped_total",
			Help: "Inbound events dropped by consumers",
		},
		[]string{"reason"},
	)

	// SeenReceipts tracks markSeen outcomes.
	SeenReceipts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seen_receipts_total",
			Help: "Seen receipt calls by outcome",
		},
		[]string{"outcome"},
	)

	// MessageMutations tracks send/edit/delete outcomes.
	MessageMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_mutations_total",
			Help: "Message mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
		[]string{"kind"},
	)

	// PresenceActive tracks members currently present.
	PresenceActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_active_members",
			Help: "Number of members on the presence channel",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordPublish records a bus publish attempt.
func RecordPublish(event, status string) {
	EventsPublished.WithLabelValues(event, status).Inc()
}

// RecordMutation records a message mutation outcome.
func RecordMutation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	MessageMutations.WithLabelValues(operation, outcome).Inc()
}
