package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_commands_total",
		Help: "Commands handled, labelled by command type and outcome",
	}, []string{"command", "outcome"})

	conflictRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clinicore_command_conflict_retries_total",
		Help: "Optimistic-concurrency retries per command type",
	}, []string{"command"})
)
