package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/fwmon-client/pkg/pagination"
)

// View names a list served by the dashboard API.
type View string

const (
	// ViewSuspicious lists detected indicators of compromise.
	ViewSuspicious View = "suspicious"

	// ViewBlocked lists blocked addresses.
	ViewBlocked View = "blocked"

	// ViewActivity lists the agent activity log.
	ViewActivity View = "activity"

	// ViewAgents lists the hosts running the firewall agent.
	ViewAgents View = "agents"
)

// Views lists every supported view.
var Views = []View{ViewSuspicious, ViewBlocked, ViewActivity, ViewAgents}

// Dashboard API paths.
const (
	PathSuspicious = "/admin/list-ioc"
	PathBlocked    = "/admin/list-mal-ip"
	PathActivity   = "/admin/log-activity"
	PathAgents     = "/admin/list-hosts"
	PathEnrich     = "/admin/enrich/"
	PathBlockIP    = "/admin/block-ip"
	PathReport     = "/admin/report"
)

type iocItem struct {
	ID         int64  `json:"id"`
	IPAddress  string `json:"ip_address"`
	Hostname   string `json:"hostname"`
	IsProcess  bool   `json:"is_process"`
	Counter    int    `json:"counter"`
	Pagination struct {
		Total int `json:"total"`
	} `json:"pagination"`
}

type blockedItem struct {
	ID           int64  `json:"id"`
	IPAddress    string `json:"ip_address"`
	Hostname     string `json:"hostname"`
	ExecutedTime int64  `json:"executed_time"`
}

type activityItem struct {
	ID       int64  `json:"id"`
	Activity string `json:"activity"`
}

type agentItem struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	IP           string `json:"ip"`
	VersionAgent string `json:"version_agent"`
	OS           string `json:"os"`
	GroupName    string `json:"group_name"`
}

type envelope[T any] struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Data    []T `json:"data"`
}

// Fetcher returns the page fetcher for a view.
func (c *Client) Fetcher(view View) (pagination.PageFetcher, error) {
	switch view {
	case ViewSuspicious:
		return pagination.PageFetcherFunc(c.ListSuspicious), nil
	case ViewBlocked:
		return pagination.PageFetcherFunc(c.ListBlocked), nil
	case ViewActivity:
		return pagination.PageFetcherFunc(c.ListActivity), nil
	case ViewAgents:
		return pagination.PageFetcherFunc(c.ListAgents), nil
	default:
		return nil, fmt.Errorf("unknown view %q", view)
	}
}

// ListSuspicious fetches one page of suspicious addresses. The API
// returns a bare array and repeats the total on every item.
func (c *Client) ListSuspicious(ctx context.Context, req pagination.Request) (pagination.PageResult, error) {
	var items []iocItem
	if err := c.getJSON(ctx, string(ViewSuspicious), PathSuspicious, pageQuery(req), &items); err != nil {
		return pagination.PageResult{}, fmt.Errorf("list suspicious: %w", err)
	}

	result := pagination.PageResult{
		Items:   make([]pagination.Row, 0, len(items)),
		Page:    req.Page,
		PerPage: req.PerPage,
	}
	if len(items) > 0 {
		result.Total = items[0].Pagination.Total
	}
	for _, it := range items {
		result.Items = append(result.Items, pagination.Row{
			Key:      it.IPAddress,
			Hostname: it.Hostname,
			Blocked:  it.IsProcess,
			Counter:  it.Counter,
			Attributes: map[string]string{
				"id": strconv.FormatInt(it.ID, 10),
			},
		})
	}
	return result, nil
}

// ListBlocked fetches one page of blocked addresses.
func (c *Client) ListBlocked(ctx context.Context, req pagination.Request) (pagination.PageResult, error) {
	var env envelope[blockedItem]
	if err := c.getJSON(ctx, string(ViewBlocked), PathBlocked, pageQuery(req), &env); err != nil {
		return pagination.PageResult{}, fmt.Errorf("list blocked: %w", err)
	}

	result := pagination.PageResult{
		Items:   make([]pagination.Row, 0, len(env.Data)),
		Page:    env.Page,
		PerPage: env.PerPage,
		Total:   env.Total,
	}
	for _, it := range env.Data {
		attrs := map[string]string{"id": strconv.FormatInt(it.ID, 10)}
		if it.ExecutedTime > 0 {
			attrs["executed_at"] = time.Unix(it.ExecutedTime, 0).UTC().Format(time.RFC3339)
		}
		result.Items = append(result.Items, pagination.Row{
			Key:        it.IPAddress,
			Hostname:   it.Hostname,
			Blocked:    true,
			Attributes: attrs,
		})
	}
	return result, nil
}

// ListActivity fetches one page of the activity log. Servers that return
// the whole log as a bare array are paginated here.
func (c *Client) ListActivity(ctx context.Context, req pagination.Request) (pagination.PageResult, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, string(ViewActivity), PathActivity, pageQuery(req), &raw); err != nil {
		return pagination.PageResult{}, fmt.Errorf("list activity: %w", err)
	}

	var env envelope[activityItem]
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var all []activityItem
		if err := json.Unmarshal(trimmed, &all); err != nil {
			return pagination.PageResult{}, fmt.Errorf("list activity: %w: %v", ErrInvalidResponse, err)
		}
		env = paginateLocally(all, req)
	} else if err := json.Unmarshal(trimmed, &env); err != nil {
		return pagination.PageResult{}, fmt.Errorf("list activity: %w: %v", ErrInvalidResponse, err)
	}

	result := pagination.PageResult{
		Items:   make([]pagination.Row, 0, len(env.Data)),
		Page:    env.Page,
		PerPage: env.PerPage,
		Total:   env.Total,
	}
	for _, it := range env.Data {
		result.Items = append(result.Items, pagination.Row{
			Key:        strconv.FormatInt(it.ID, 10),
			Attributes: map[string]string{"activity": it.Activity},
		})
	}
	return result, nil
}

// ListAgents fetches the registered hosts. The API returns every host at
// once, so filtering and paging happen here.
func (c *Client) ListAgents(ctx context.Context, req pagination.Request) (pagination.PageResult, error) {
	var all []agentItem
	if err := c.getJSON(ctx, string(ViewAgents), PathAgents, nil, &all); err != nil {
		return pagination.PageResult{}, fmt.Errorf("list agents: %w", err)
	}

	f := req.Filter.Normalize()
	matched := all[:0:0]
	for _, it := range all {
		if f.Address != "" && !strings.Contains(it.IP, f.Address) {
			continue
		}
		if f.Hostname != "" && !strings.Contains(strings.ToLower(it.Name), strings.ToLower(f.Hostname)) {
			continue
		}
		if f.Query != "" && !strings.Contains(strings.ToLower(it.GroupName+" "+it.OS), strings.ToLower(f.Query)) {
			continue
		}
		matched = append(matched, it)
	}

	env := paginateLocally(matched, req)
	result := pagination.PageResult{
		Items:   make([]pagination.Row, 0, len(env.Data)),
		Page:    env.Page,
		PerPage: env.PerPage,
		Total:   env.Total,
	}
	for _, it := range env.Data {
		result.Items = append(result.Items, pagination.Row{
			Key:      it.IP,
			Hostname: it.Name,
			Attributes: map[string]string{
				"id":      strconv.FormatInt(it.ID, 10),
				"version": it.VersionAgent,
				"os":      it.OS,
				"group":   it.GroupName,
			},
		})
	}
	return result, nil
}

func paginateLocally[T any](all []T, req pagination.Request) envelope[T] {
	s := pagination.State{Page: req.Page, PerPage: req.PerPage, Total: len(all)}.Clamp()
	start := (s.Page - 1) * s.PerPage
	end := start + s.PerPage
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	return envelope[T]{Page: s.Page, PerPage: s.PerPage, Total: s.Total, Data: all[start:end]}
}

func pageQuery(req pagination.Request) url.Values {
	q := req.Filter.Values()
	q.Set("page", strconv.Itoa(req.Page))
	q.Set("per_page", strconv.Itoa(req.PerPage))
	return q
}
