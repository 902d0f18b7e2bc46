package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/fwmon-client/pkg/cache"
	"github.com/Sternrassler/fwmon-client/pkg/controller"
	"github.com/Sternrassler/fwmon-client/pkg/pagination"
)

type enrichTag struct {
	Value string `json:"value"`
	Color string `json:"color"`
	Risk  int    `json:"risk"`
}

// Report holds the dashboard counters.
type Report struct {
	ConnectedAgents int `json:"connected_agents"`
	BlockedIPs      int `json:"blocked_ips"`
	ActiveAlerts    int `json:"active_alerts"`
}

// Enrich looks up the threat tags of an address. A 404 maps to
// cache.ErrNotFound.
func (c *Client) Enrich(ctx context.Context, ip string) (*cache.Enrichment, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return nil, fmt.Errorf("enrich: empty address")
	}

	var tags []enrichTag
	err := c.getJSON(ctx, "enrich", PathEnrich+url.PathEscape(ip), nil, &tags)
	if IsNotFound(err) {
		return nil, fmt.Errorf("enrich %s: %w", ip, cache.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("enrich %s: %w", ip, err)
	}

	out := &cache.Enrichment{Tags: make([]cache.Tag, 0, len(tags))}
	for _, t := range tags {
		out.Tags = append(out.Tags, cache.Tag{Value: t.Value, Color: t.Color, Risk: t.Risk})
	}
	return out, nil
}

// Lookup returns the client as an enrichment collaborator.
func (c *Client) Lookup() cache.Lookup {
	return cache.LookupFunc(c.Enrich)
}

// BlockIP blocks an address reported by hostname.
func (c *Client) BlockIP(ctx context.Context, ip, hostname string) error {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return fmt.Errorf("block: empty address")
	}
	q := url.Values{}
	q.Set("ip", ip)
	q.Set("hostname", hostname)

	if err := c.sendJSON(ctx, http.MethodPost, "block_ip", PathBlockIP, q, nil); err != nil {
		return fmt.Errorf("block %s: %w", ip, err)
	}
	c.logger.Info().Str("ip", ip).Str("hostname", hostname).Msg("Address blocked")
	return nil
}

// MutateRow applies a row action. Only block is supported.
func (c *Client) MutateRow(ctx context.Context, row pagination.Row, action controller.Action) error {
	switch action {
	case controller.ActionBlock:
		if row.Blocked {
			return errors.New("address is already blocked")
		}
		return c.BlockIP(ctx, row.Key, row.Hostname)
	default:
		return fmt.Errorf("unsupported action %q", action)
	}
}

// Report fetches the dashboard counters.
func (c *Client) Report(ctx context.Context) (*Report, error) {
	var r Report
	if err := c.getJSON(ctx, "report", PathReport, nil, &r); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return &r, nil
}
