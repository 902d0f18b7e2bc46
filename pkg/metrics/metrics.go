// Package metrics exposes the Prometheus metrics of the fwmon client.
// All metrics are defined in their respective packages (pagination, cache,
// poll, controller, client, ratelimit) and registered via promauto on the
// default registry.
//
// This package provides the scrape handler and the metric catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the fwmon client.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// List Metrics (pkg/pagination, pkg/controller):
//   - fwmon_list_fetches_total{view, outcome} (Counter): accepted, stale, failed, clamped
//   - fwmon_list_fetch_duration_seconds{view} (Histogram): page fetch latency
//   - fwmon_controller_commands_total{view, command} (Counter): commands issued
//   - fwmon_row_mutations_total{view, action, result} (Counter): row actions
//   - fwmon_view_rows{view} (Gauge): rows currently shown
//
// Enrichment Metrics (pkg/cache):
//   - fwmon_enrichment_requests_total{result} (Counter): hit, miss
//   - fwmon_enrichment_lookups_total{outcome} (Counter): ready, not_found, failed, dropped
//   - fwmon_enrichment_inflight (Gauge): lookups running
//   - fwmon_store_hits_total, fwmon_store_misses_total (Counter): Redis tier
//   - fwmon_store_errors_total{operation} (Counter): Redis tier errors
//
// Poll Metrics (pkg/poll):
//   - fwmon_poll_refreshes_total{view, trigger} (Counter): timer, manual
//   - fwmon_poll_active_tickers{view} (Gauge): 1 while running, else 0
//
// Request Metrics (pkg/client, pkg/ratelimit):
//   - fwmon_api_requests_total{endpoint, status} (Counter)
//   - fwmon_api_request_duration_seconds{endpoint} (Histogram)
//   - fwmon_api_errors_total{class} (Counter): client, not_found, server, rate_limit, network
//   - fwmon_rate_gate_wait_seconds (Histogram): time spent at the gate
//   - fwmon_rate_gate_holds_total (Counter): 429 holds
//   - fwmon_rate_gate_rejected_total (Counter): callers that gave up waiting
//
// Example Prometheus Queries:
//
//   # Share of list responses discarded as stale
//   sum(rate(fwmon_list_fetches_total{outcome="stale"}[5m])) /
//   sum(rate(fwmon_list_fetches_total[5m]))
//
//   # More than one ticker per view is a bug
//   max(fwmon_poll_active_tickers) > 1
//
//   # P95 API latency
//   histogram_quantile(0.95, rate(fwmon_api_request_duration_seconds_bucket[5m]))
