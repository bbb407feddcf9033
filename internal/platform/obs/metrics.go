package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dashboard"

var (
	OpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "op_duration_seconds",
		Help:      "Duration of collaborator calls by operation.",
		Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"op"})

	JobPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "poller",
		Name:      "polls_total",
		Help:      "Job poll ticks by outcome (applied, stale, transient, fatal).",
	}, []string{"outcome"})

	StaleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "stale_responses_total",
		Help:      "Responses discarded because a newer request was issued or the fetch was cancelled.",
	}, []string{"source"})

	DanglingStops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "routes",
		Name:      "dangling_stops_total",
		Help:      "Route stops dropped because their entity is no longer in the registry.",
	})

	Assemblies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "viewmodel",
		Name:      "assemblies_total",
		Help:      "View model snapshots assembled.",
	})

	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "viewmodel",
		Name:      "version",
		Help:      "Version of the latest published view model snapshot.",
	})
)
