package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	operationsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_operations_submitted_total",
			Help: "Total number of operations accepted into the intake queue.",
		},
		[]string{"kind"},
	)

	operationsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_operations_completed_total",
			Help: "Total number of operations that reached a terminal status.",
		},
		[]string{"kind", "status"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tether_operation_duration_seconds",
			Help:    "Operation execution time from start to terminal status, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	intakeDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tether_intake_queue_depth",
			Help: "Number of operations waiting in the intake queue.",
		},
	)

	reaperTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tether_reaper_tracked_events",
			Help: "Number of events currently tracked by the reaper.",
		},
	)

	sweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_reaper_sweeps_total",
			Help: "Total number of reaper sweeps performed.",
		},
	)
)

func init() {
	prometheus.MustRegister(operationsSubmitted)
	prometheus.MustRegister(operationsCompleted)
	prometheus.MustRegister(operationDuration)
	prometheus.MustRegister(intakeDepth)
	prometheus.MustRegister(reaperTracked)
	prometheus.MustRegister(sweepsTotal)
}
