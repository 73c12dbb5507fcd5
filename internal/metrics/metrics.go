// README: Prometheus metrics for fan-out, transitions and tracking.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackd_connections_open",
			Help: "Live connections currently registered with the hub",
		},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackd_events_published_total",
			Help: "Events published per topic kind and event type",
		},
		[]string{"kind", "type"},
	)

	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackd_deliveries_total",
			Help: "Per-subscriber delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	Evictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trackd_slow_consumer_evictions_total",
			Help: "Connections dropped for exceeding the consecutive drop limit",
		},
	)

	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackd_order_transitions_total",
			Help: "Order status transitions by target status and result",
		},
		[]string{"to", "result"},
	)

	DeliveriesCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trackd_tracker_completions_total",
			Help: "Orders advanced to delivered by the delivery tracker",
		},
	)

	ActiveTrackers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackd_trackers_active",
			Help: "Orders with a running position tick",
		},
	)

	PositionSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackd_position_samples_total",
			Help: "Driver position samples by source and result",
		},
		[]string{"source", "result"},
	)

	PollChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trackd_poll_changes_total",
			Help: "Change notifications emitted by the poll-diff engine",
		},
	)

	PublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackd_publish_duration_seconds",
			Help:    "Time spent enqueueing one publish to all subscribers",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all collectors on reg (prometheus.DefaultRegisterer when nil).
func Register(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		ConnectionsOpen,
		EventsPublished,
		Deliveries,
		Evictions,
		Transitions,
		DeliveriesCompleted,
		ActiveTrackers,
		PositionSamples,
		PollChanges,
		PublishDuration,
	)
}
