package jetstream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	feedEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "courier_feed_events_total",
		Help: "Post commit events received from Jetstream by operation and result",
	}, []string{"operation", "result"})

	feedReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_feed_reconnects_total",
		Help: "Jetstream connection attempts that ended in an error",
	})
)
