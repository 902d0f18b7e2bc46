package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key this package writes to Redis.
const KeyPrefix = "fwmon"

// Key identifies a stored collaborator response.
type Key struct {
	// Kind is the lookup family (e.g. "enrich").
	Kind string

	// ID is the looked-up identifier (e.g. an IP address).
	ID string

	// Params distinguish variants of the same lookup.
	Params url.Values
}

// EnrichmentKey returns the Redis key for an address enrichment.
func EnrichmentKey(id string) Key {
	return Key{Kind: "enrich", ID: id}
}

// String generates a deterministic key string.
// Format: fwmon:kind:id:param1=val1:param2=val2
//
// Example:
//
//	fwmon:enrich:203.0.113.7
func (k Key) String() string {
	parts := []string{KeyPrefix}

	if kind := strings.Trim(k.Kind, ":"); kind != "" {
		parts = append(parts, kind)
	}
	if id := strings.TrimSpace(k.ID); id != "" {
		parts = append(parts, id)
	}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params.Get(name)))
		}
	}

	return strings.Join(parts, ":")
}
