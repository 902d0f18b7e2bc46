package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DefaultGeoURL is the public geolocation service the dashboard uses.
const DefaultGeoURL = "https://api.iplocation.net"

// Geolocator resolves the country of an address through an
// iplocation.net style service: GET /?ip=<addr>.
type Geolocator struct {
	api *Client
}

// NewGeolocator creates a geolocator on its own paced client. The
// service is public, so the default pace is low.
func NewGeolocator(baseURL, userAgent string) (*Geolocator, error) {
	cfg := DefaultConfig(baseURL, userAgent)
	cfg.Timeout = 5 * time.Second
	cfg.RateLimit = 2
	cfg.Burst = 5

	api, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create geolocator: %w", err)
	}
	return &Geolocator{api: api}, nil
}

// Country returns the country name of ip, or "" when the service does
// not know it.
func (g *Geolocator) Country(ctx context.Context, ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", fmt.Errorf("geolocate: empty address")
	}

	var body struct {
		CountryName  string `json:"country_name"`
		ResponseCode string `json:"response_code"`
	}
	if err := g.api.getJSON(ctx, "geo", "/", url.Values{"ip": {ip}}, &body); err != nil {
		return "", fmt.Errorf("geolocate %s: %w", ip, err)
	}
	if body.ResponseCode != "" && body.ResponseCode != "200" {
		return "", nil
	}
	return body.CountryName, nil
}

// Close releases idle connections.
func (g *Geolocator) Close() error {
	return g.api.Close()
}
