package pagination

import (
	"net/url"
	"strings"
)

// StatusFilter narrows a list by the row status flag.
type StatusFilter string

const (
	// StatusAny matches every row.
	StatusAny StatusFilter = ""

	// StatusBlocked matches rows whose address is already blocked.
	StatusBlocked StatusFilter = "blocked"

	// StatusAllowed matches rows that are not blocked.
	StatusAllowed StatusFilter = "allowed"
)

// Filter holds the query criteria of a list view. Like State it is
// replaced wholesale, never edited in place.
type Filter struct {
	// Address matches the row key (IP address).
	Address string `json:"ip,omitempty"`

	// Hostname matches the reporting agent host.
	Hostname string `json:"hostname,omitempty"`

	// Status narrows by blocked/allowed.
	Status StatusFilter `json:"status,omitempty"`

	// Query is a free-text search used by views without structured filters.
	Query string `json:"q,omitempty"`
}

// Normalize trims whitespace and drops unknown status values.
func (f Filter) Normalize() Filter {
	f.Address = strings.TrimSpace(f.Address)
	f.Hostname = strings.TrimSpace(f.Hostname)
	f.Query = strings.TrimSpace(f.Query)
	switch f.Status {
	case StatusBlocked, StatusAllowed:
	default:
		f.Status = StatusAny
	}
	return f
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Normalize() == Filter{}
}

// Values renders the filter as dashboard API query parameters.
// Empty criteria are omitted.
func (f Filter) Values() url.Values {
	f = f.Normalize()
	v := url.Values{}
	if f.Address != "" {
		v.Set("ip", f.Address)
	}
	if f.Hostname != "" {
		v.Set("hostname", f.Hostname)
	}
	switch f.Status {
	case StatusBlocked:
		v.Set("is_process", "true")
	case StatusAllowed:
		v.Set("is_process", "false")
	}
	if f.Query != "" {
		v.Set("q", f.Query)
	}
	return v
}
