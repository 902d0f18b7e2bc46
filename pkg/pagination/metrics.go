package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes recorded by the owner of the request tokens.
const (
	OutcomeAccepted = "accepted"
	OutcomeStale    = "stale"
	OutcomeFailed   = "failed"
	OutcomeClamped  = "clamped"
)

var (
	// ListFetches counts completed list fetches by view and outcome.
	ListFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwmon_list_fetches_total",
			Help: "Total list fetches by view and outcome (accepted, stale, failed, clamped)",
		},
		[]string{"view", "outcome"},
	)

	listFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fwmon_list_fetch_duration_seconds",
		Help:    "List fetch duration in seconds by view",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 15},
	}, []string{"view"})
)
