package poll

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fwmon_poll_refreshes_total",
		Help: "Total refreshes by view and trigger (timer, manual)",
	}, []string{"view", "trigger"})

	activeTickers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fwmon_poll_active_tickers",
		Help: "Number of active countdown tickers by view",
	}, []string{"view"})
)
