// Package metrics holds the process-wide Prometheus collectors, registered on the default
// registry and served by the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carpool"

var (
	// Operations counts API facade calls by operation and outcome ("ok" or an error status).
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "API operations by name and result.",
		},
		[]string{"op", "result"},
	)

	// ActiveSubscriptions is the number of live tree observations.
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Live subscriptions currently bound to an owner.",
		},
	)

	// DroppedTrips counts trips skipped while decoding a trip list.
	DroppedTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_trips_total",
			Help:      "Malformed trips dropped from trip lists.",
		},
	)

	// Connections is the number of open websocket connections.
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "wsapi",
			Name:      "connections",
			Help:      "Open websocket connections.",
		},
	)

	// NotificationsFailed counts change notifications that could not be published.
	NotificationsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "publish_failures_total",
			Help:      "Change notifications that failed to publish.",
		},
	)
)

// Observe records the outcome of one operation.
func Observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Operations.WithLabelValues(op, result).Inc()
}
