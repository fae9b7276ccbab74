package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	handshakes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_sync_handshakes_total",
		Help: "Sync handshakes, per status",
	}, []string{"status"})

	uploadedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinicore_sync_uploaded_events_total",
		Help: "Events accepted from device uploads",
	})

	downloadedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clinicore_sync_downloaded_events_total",
		Help: "Events served to devices in download pages",
	})

	conflictsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_sync_conflicts_resolved_total",
		Help: "Upload version conflicts, per resolution",
	}, []string{"resolution"})
)
