package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	delivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_dispatch_delivered_total",
		Help: "Events successfully applied, per projection",
	}, []string{"projection"})

	inboxDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_dispatch_inbox_dropped_total",
		Help: "Live-path events dropped to a full inbox (recovered by catch-up)",
	}, []string{"projection"})

	deadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_dispatch_dead_lettered_total",
		Help: "Events moved to a projection dead-letter queue",
	}, []string{"projection"})
)
