package pagination

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Row is one displayed record of a list view.
type Row struct {
	// Key is the primary identifier (the IP address).
	Key string `json:"key"`

	// Hostname is the agent that reported the address.
	Hostname string `json:"hostname,omitempty"`

	// Attributes holds the remaining displayable columns.
	Attributes map[string]string `json:"attributes,omitempty"`

	// Blocked is the status flag.
	Blocked bool `json:"blocked"`

	// Counter is the detection counter.
	Counter int `json:"counter"`
}

// PageResult is one page of rows plus pagination metadata.
type PageResult struct {
	Items   []Row `json:"items"`
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int   `json:"total"`
}

// State returns the page window described by the result, clamped.
func (r PageResult) State() State {
	return State{Page: r.Page, PerPage: r.PerPage, Total: r.Total}.Clamp()
}

// Normalize clamps the metadata in place of rejecting it.
func (r PageResult) Normalize() PageResult {
	s := r.State()
	r.Page, r.PerPage, r.Total = s.Page, s.PerPage, s.Total
	return r
}

// Request is the input of one list fetch.
type Request struct {
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
	Filter  Filter `json:"filter"`
}

// NewRequest builds a request from the current page window and filter.
func NewRequest(s State, f Filter) Request {
	s = s.Clamp()
	return Request{Page: s.Page, PerPage: s.PerPage, Filter: f.Normalize()}
}

// Token stamps each issued fetch. Tokens only grow; the holder of the
// current token decides whether a response may be applied.
type Token uint64

// Next returns the token that supersedes t.
func (t Token) Next() Token {
	return t + 1
}

// PageFetcher is the list collaborator: it returns one page for a request.
type PageFetcher interface {
	FetchPage(ctx context.Context, req Request) (PageResult, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, req Request) (PageResult, error)

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, req Request) (PageResult, error) {
	return f(ctx, req)
}

// Response is a completed fetch, still carrying the token it was issued with.
type Response struct {
	Token   Token
	Request Request
	Result  PageResult
	Err     error
}

// Config holds list fetcher configuration.
type Config struct {
	// Timeout bounds a single page fetch.
	Timeout time.Duration

	// View labels metrics and logs (e.g. "suspicious").
	View string
}

// DefaultConfig returns the default list fetcher configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,
		View:    "default",
	}
}

// ListFetcher issues list fetches asynchronously. It keeps no state
// between calls; staleness is decided by whoever owns the tokens.
type ListFetcher struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewListFetcher creates a list fetcher around the given collaborator.
func NewListFetcher(fetcher PageFetcher, config Config) *ListFetcher {
	if fetcher == nil {
		panic("page fetcher cannot be nil")
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.View == "" {
		config.View = "default"
	}
	return &ListFetcher{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "list-fetcher").Str("view", config.View).Logger(),
	}
}

// Issue starts the fetch for req in its own goroutine and passes the
// outcome, stamped with token, to deliver. deliver is always called
// exactly once.
func (lf *ListFetcher) Issue(ctx context.Context, token Token, req Request, deliver func(Response)) {
	go func() {
		deliver(lf.Fetch(ctx, token, req))
	}()
}

// Fetch performs the fetch synchronously.
func (lf *ListFetcher) Fetch(ctx context.Context, token Token, req Request) Response {
	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, lf.config.Timeout)
	defer cancel()

	lf.logger.Debug().
		Uint64("token", uint64(token)).
		Int("page", req.Page).
		Int("per_page", req.PerPage).
		Msg("Issuing list fetch")

	result, err := lf.fetcher.FetchPage(fetchCtx, req)
	listFetchDuration.WithLabelValues(lf.config.View).Observe(time.Since(start).Seconds())
	if err != nil {
		lf.logger.Debug().Err(err).Uint64("token", uint64(token)).Msg("List fetch failed")
		return Response{Token: token, Request: req, Err: err}
	}

	if result.Page <= 0 {
		result.Page = req.Page
	}
	if result.PerPage <= 0 {
		result.PerPage = req.PerPage
	}
	return Response{Token: token, Request: req, Result: result.Normalize()}
}
