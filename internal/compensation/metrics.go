package compensation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compensationsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_compensations_emitted_total",
		Help: "CompensationRequired review items, per invariant code",
	}, []string{"invariant"})

	autoCompensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_auto_compensations_total",
		Help: "Automatically emitted corrective events, per invariant code",
	}, []string{"invariant"})
)
