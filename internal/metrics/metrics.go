// Package metrics provides Prometheus instrumentation for breakout group
// computation: request outcomes, latency, and the shape of the groups
// produced.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Compute results used as the "result" label of ComputeTotal.
const (
	ResultOK          = "ok"
	ResultInvalid     = "invalid_parameters"
	ResultNotFound    = "not_found"
	ResultBusy        = "busy"
	ResultRateLimited = "rate_limited"
	ResultPersistence = "persistence_failure"
	ResultUnavailable = "unavailable"
	ResultInternal    = "internal"
)

var (
	// ComputeTotal counts compute requests by outcome.
	ComputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "breakout_compute_total",
		Help: "Total number of breakout group compute requests",
	}, []string{"result"})

	// ComputeDuration records end-to-end compute latency, persistence included.
	ComputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "breakout_compute_duration_seconds",
		Help:    "Breakout group compute latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	GroupsPerEvent = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "breakout_groups_per_event",
		Help:    "Number of groups produced per successful compute",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250},
	})

	GroupSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "breakout_group_size",
		Help:    "Number of members per produced group",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 7, 8, 10, 12, 16},
	})

	// OverflowPlacements counts leftovers placed past the maximum size
	// because every group was already full.
	OverflowPlacements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "breakout_overflow_placements_total",
		Help: "Leftover attendees placed into a group already at max size",
	})

	PersistenceFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "breakout_persistence_failures_total",
		Help: "Failed breakout group replace or fetch operations",
	})
)

func init() {
	prometheus.MustRegister(
		ComputeTotal,
		ComputeDuration,
		GroupsPerEvent,
		GroupSize,
		OverflowPlacements,
		PersistenceFailures,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
