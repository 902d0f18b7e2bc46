package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnrichmentRequests tracks Get calls by result (hit, miss)
	EnrichmentRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwmon_enrichment_requests_total",
			Help: "Total enrichment cache reads by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	// EnrichmentLookups tracks settled lookups by outcome
	EnrichmentLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwmon_enrichment_lookups_total",
			Help: "Total enrichment lookups by outcome",
		},
		[]string{"outcome"}, // "ready", "not_found", "failed", "dropped"
	)

	// EnrichmentInFlight tracks lookups currently holding a gate slot
	EnrichmentInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fwmon_enrichment_inflight",
			Help: "Number of enrichment lookups in flight",
		},
	)

	// StoreHits tracks Redis tier hits
	StoreHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fwmon_store_hits_total",
			Help: "Total number of Redis enrichment store hits",
		},
	)

	// StoreMisses tracks Redis tier misses
	StoreMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fwmon_store_misses_total",
			Help: "Total number of Redis enrichment store misses",
		},
	)

	// StoreErrors tracks Redis tier operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fwmon_store_errors_total",
			Help: "Total number of Redis enrichment store errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
