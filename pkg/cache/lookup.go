package cache

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CachedLookup consults a RedisStore before the upstream lookup and
// stores upstream answers (including "not found"). Failures are not
// stored. Store errors degrade to an upstream call.
type CachedLookup struct {
	upstream Lookup
	store    *RedisStore
	logger   zerolog.Logger
}

// NewCachedLookup wraps upstream with the Redis tier.
func NewCachedLookup(upstream Lookup, store *RedisStore) *CachedLookup {
	if upstream == nil {
		panic("upstream lookup cannot be nil")
	}
	if store == nil {
		panic("redis store cannot be nil")
	}
	return &CachedLookup{
		upstream: upstream,
		store:    store,
		logger:   log.With().Str("component", "cached-lookup").Logger(),
	}
}

// Lookup implements Lookup.
func (l *CachedLookup) Lookup(ctx context.Context, key string) (*Enrichment, error) {
	storeKey := EnrichmentKey(key)

	stored, err := l.store.Get(ctx, storeKey)
	switch {
	case err == nil:
		l.logger.Debug().Str("key", key).Time("cached_at", stored.CachedAt).Msg("Enrichment served from store")
		if stored.Payload == nil {
			return nil, ErrNotFound
		}
		return stored.Payload, nil
	case !errors.Is(err, ErrCacheMiss):
		l.logger.Warn().Err(err).Str("key", key).Msg("Store get error")
	}

	payload, err := l.upstream.Lookup(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		payload = nil
	}

	if setErr := l.store.Set(ctx, storeKey, payload); setErr != nil {
		l.logger.Warn().Err(setErr).Str("key", key).Msg("Failed to store enrichment")
	}

	return payload, err
}

// Forget implements Forgetter.
func (l *CachedLookup) Forget(ctx context.Context, key string) error {
	return l.store.Delete(ctx, EnrichmentKey(key))
}
