package webhook

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for request outcome.
const (
	outcomeDelivered = "delivered"
	outcomeError     = "error"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_webhook_requests_total",
			Help: "Total number of outbound webhook requests by outcome.",
		},
		[]string{"outcome"},
	)

	requestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tether_webhook_request_duration_seconds",
			Help:    "Outbound webhook request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestDuration)

	// Pre-initialize counter label combinations so they appear in /metrics
	// with value 0 from startup, rather than only after first observation.
	requestsTotal.WithLabelValues(outcomeDelivered)
	requestsTotal.WithLabelValues(outcomeError)
}
