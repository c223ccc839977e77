package posts

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	postOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_post_operations_total",
			Help: "Delivery operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	postOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_post_operation_duration_seconds",
			Help:    "Delivery operation latency including the transport round trip.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	changeFeedDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_change_feed_drops_total",
			Help: "Changes dropped because a subscriber was not keeping up.",
		},
	)
)

func observeOperation(op string, start time.Time, err error) {
	result := "success"
	switch {
	case err == nil:
	case IsTransportError(err):
		result = "transport_error"
	default:
		result = "rejected"
	}
	postOperationsTotal.WithLabelValues(op, result).Inc()
	postOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
