// Package cache provides the per-row enrichment cache of a list view and
// an optional Redis tier for enrichment responses.
//
// # Enrichment records
//
// An EnrichmentCache keeps one Record per key with the lifecycle
// pending -> ready or pending -> failed:
//
//	c := cache.NewEnrichmentCache(lookup, cache.DefaultConfig())
//	rec := c.Get("203.0.113.7") // pending, lookup dispatched
//	rec = c.Get("203.0.113.7")  // same record, no second lookup
//
// A pending record is stored before the lookup starts, so concurrent Get
// calls for one key produce exactly one upstream lookup. Failed records
// are kept and not retried until Invalidate removes them. Lookups run
// through a gate of MaxInFlight slots.
//
// # Redis tier
//
// CachedLookup wraps an upstream Lookup with a RedisStore so responses are
// shared between processes until their TTL runs out:
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewRedisStore(redisClient, 15*time.Minute)
//	lookup := cache.NewCachedLookup(apiClient.EnrichmentLookup(), store)
//
// Invalidate on the EnrichmentCache also deletes the Redis copy.
//
// # Metrics
//
//   - fwmon_enrichment_requests_total{result} - cache reads (hit, miss)
//   - fwmon_enrichment_lookups_total{outcome} - settled lookups
//   - fwmon_enrichment_inflight - lookups holding a gate slot
//   - fwmon_store_hits_total, fwmon_store_misses_total - Redis tier reads
//   - fwmon_store_errors_total{operation} - Redis tier errors
package cache
