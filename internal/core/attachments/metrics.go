package attachments

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_uploads_total",
			Help: "Attachment uploads by result.",
		},
		[]string{"result"},
	)

	uploadsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_uploads_in_flight",
			Help: "Attachment uploads currently talking to the server.",
		},
	)
)
