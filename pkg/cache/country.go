package cache

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CountryFunc resolves the country of an address.
type CountryFunc func(ctx context.Context, key string) (string, error)

// CountryLookup fills Enrichment.Country on payloads returned by the
// upstream lookup. Geolocation failures leave the country empty and
// never fail the lookup. Not-found answers stay not found.
type CountryLookup struct {
	upstream Lookup
	country  CountryFunc
	logger   zerolog.Logger
}

// NewCountryLookup wraps upstream with country resolution.
func NewCountryLookup(upstream Lookup, country CountryFunc) *CountryLookup {
	if upstream == nil {
		panic("upstream lookup cannot be nil")
	}
	if country == nil {
		panic("country func cannot be nil")
	}
	return &CountryLookup{
		upstream: upstream,
		country:  country,
		logger:   log.With().Str("component", "country-lookup").Logger(),
	}
}

// Lookup implements Lookup.
func (l *CountryLookup) Lookup(ctx context.Context, key string) (*Enrichment, error) {
	payload, err := l.upstream.Lookup(ctx, key)
	if err != nil || payload == nil || payload.Country != "" {
		return payload, err
	}

	name, err := l.country(ctx, key)
	if err != nil {
		l.logger.Debug().Err(err).Str("key", key).Msg("Country lookup failed")
		return payload, nil
	}

	out := *payload
	out.Country = name
	return &out, nil
}
