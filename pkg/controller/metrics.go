package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fwmon_controller_commands_total",
		Help: "Total controller commands by view and command",
	}, []string{"view", "command"})

	mutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fwmon_row_mutations_total",
		Help: "Total row mutations by view, action and result",
	}, []string{"view", "action", "result"})

	rowsShown = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fwmon_view_rows",
		Help: "Rows currently shown by view",
	}, []string{"view"})
)
