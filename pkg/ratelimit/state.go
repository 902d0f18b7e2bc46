// Package ratelimit paces outgoing dashboard API requests.
//
// A Gate combines a token bucket with a server-imposed hold: when the
// server answers 429 with Retry-After, every caller waits until the hold
// expires before the bucket is consulted again.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// State is a point-in-time view of a Gate.
type State struct {
	// Tokens currently available in the bucket.
	Tokens float64 `json:"tokens"`

	// Limit is the sustained rate in requests per second.
	Limit float64 `json:"limit"`

	// Burst is the bucket size.
	Burst int `json:"burst"`

	// HeldUntil is set while the server asked us to back off.
	HeldUntil time.Time `json:"held_until,omitempty"`
}

// IsHeld reports whether requests are held at the given time.
func (s State) IsHeld(now time.Time) bool {
	return now.Before(s.HeldUntil)
}

// TimeUntilRelease returns how long the hold lasts from now, or 0.
func (s State) TimeUntilRelease(now time.Time) time.Duration {
	d := s.HeldUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an
// HTTP date. It returns false when the header is missing or invalid.
func ParseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
