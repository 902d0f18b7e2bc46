package cache

import "time"

// Status is the lifecycle state of an enrichment record.
type Status string

const (
	// StatusPending means a lookup has been dispatched and not yet answered.
	StatusPending Status = "pending"

	// StatusReady means the lookup answered. Payload is nil when the
	// upstream had no data for the key.
	StatusReady Status = "ready"

	// StatusFailed means the lookup failed. The record stays failed until
	// it is invalidated.
	StatusFailed Status = "failed"
)

// Tag is one threat-intelligence label attached to an address.
type Tag struct {
	Value string `json:"value"`
	Color string `json:"color,omitempty"`
	Risk  int    `json:"risk,omitempty"`
}

// Enrichment is the secondary data looked up per row.
// Treat a stored Enrichment as read-only; it is shared between readers.
type Enrichment struct {
	Tags    []Tag  `json:"tags"`
	Country string `json:"country,omitempty"`
}

// RiskScore returns the highest tag risk, 0 when there are no tags.
func (e *Enrichment) RiskScore() int {
	if e == nil {
		return 0
	}
	score := 0
	for _, tag := range e.Tags {
		if tag.Risk > score {
			score = tag.Risk
		}
	}
	return score
}

// Record is the cached enrichment state of one key.
type Record struct {
	Key       string      `json:"key"`
	Status    Status      `json:"status"`
	Payload   *Enrichment `json:"payload,omitempty"`
	Err       error       `json:"-"`
	FetchedAt time.Time   `json:"fetched_at,omitempty"`
}

// HasData reports whether the record is ready and carries a payload.
func (r Record) HasData() bool {
	return r.Status == StatusReady && r.Payload != nil
}

// ErrorString returns the failure message, empty unless failed.
func (r Record) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}
