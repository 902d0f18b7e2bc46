// Package controller composes list fetching, enrichment and polling
// into one view controller per list.
//
// Every command and every async completion takes the controller lock,
// so they are applied one at a time. Collaborator calls run in their own
// goroutines and never hold the lock. A list response is applied only
// when it carries the most recently issued token; anything older is
// discarded, whatever order the responses arrive in.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/fwmon-client/pkg/cache"
	"github.com/Sternrassler/fwmon-client/pkg/logging"
	"github.com/Sternrassler/fwmon-client/pkg/pagination"
	"github.com/Sternrassler/fwmon-client/pkg/poll"
)

// Action names a row mutation.
type Action string

// ActionBlock blocks the row's address.
const ActionBlock Action = "block"

// RowMutator is the mutation collaborator.
type RowMutator interface {
	MutateRow(ctx context.Context, row pagination.Row, action Action) error
}

// RowMutatorFunc adapts a function to RowMutator.
type RowMutatorFunc func(ctx context.Context, row pagination.Row, action Action) error

// MutateRow calls f.
func (f RowMutatorFunc) MutateRow(ctx context.Context, row pagination.Row, action Action) error {
	return f(ctx, row, action)
}

// Config holds controller configuration.
type Config struct {
	// View names the list (suspicious, blocked, activity).
	View string

	// Fetch loads one page. Required.
	Fetch pagination.PageFetcher

	// Enrich looks up row details. Optional; without it every key is
	// ready with no payload.
	Enrich cache.Lookup

	// Mutate applies row actions. Optional.
	Mutate RowMutator

	// PerPage is the initial page size.
	PerPage int

	// IntervalSeconds between automatic refreshes.
	IntervalSeconds int

	// AutoReload starts the poll scheduler on Start.
	AutoReload bool

	// PrefetchEnrichment looks up every row of each accepted page.
	PrefetchEnrichment bool

	// FetchTimeout bounds one list fetch.
	FetchTimeout time.Duration

	// MutateTimeout bounds one row mutation.
	MutateTimeout time.Duration

	// EnrichTimeout bounds one enrichment lookup.
	EnrichTimeout time.Duration

	// MaxEnrichInFlight bounds concurrent enrichment lookups.
	MaxEnrichInFlight int

	// NewTicker overrides the poll ticker. Used by tests.
	NewTicker poll.TickerFunc
}

// DefaultConfig returns the defaults for the named view.
func DefaultConfig(view string) Config {
	return Config{
		View:              view,
		PerPage:           pagination.DefaultPerPage,
		IntervalSeconds:   5,
		AutoReload:        true,
		FetchTimeout:      15 * time.Second,
		MutateTimeout:     10 * time.Second,
		EnrichTimeout:     10 * time.Second,
		MaxEnrichInFlight: 4,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.View) == "" {
		return errors.New("view name is required")
	}
	if c.Fetch == nil {
		return errors.New("page fetcher is required")
	}
	if c.PerPage < 0 || c.PerPage > pagination.MaxPerPage {
		return fmt.Errorf("per_page must be between 1 and %d", pagination.MaxPerPage)
	}
	if c.IntervalSeconds < 0 {
		return errors.New("interval must not be negative")
	}
	return nil
}

// Controller owns the state of one list view.
type Controller struct {
	config Config
	logger zerolog.Logger
	lists  *pagination.ListFetcher
	enrich *cache.EnrichmentCache
	sched  *poll.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	version atomic.Uint64

	mu sync.Mutex

	// rows, page and shown come from the same accepted fetch. want and
	// filter describe the latest request and may be ahead of them.
	rows        []pagination.Row
	page        pagination.State
	shown       pagination.Filter
	want        pagination.State
	filter      pagination.Filter
	token       pagination.Token
	abortFetch  context.CancelFunc
	loading     bool
	lastErr     *Error
	closed      bool
	lastApplied time.Time
}

// New creates a controller. Nothing is fetched until Start.
func New(config Config) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if config.PerPage == 0 {
		config.PerPage = pagination.DefaultPerPage
	}
	if config.IntervalSeconds == 0 {
		config.IntervalSeconds = 5
	}

	enrich := config.Enrich
	if enrich == nil {
		enrich = cache.LookupFunc(func(ctx context.Context, key string) (*cache.Enrichment, error) {
			return nil, cache.ErrNotFound
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		config: config,
		logger: logging.ForView("controller", config.View),
		ctx:    ctx,
		cancel: cancel,
		page:   pagination.NewState(config.PerPage),
		want:   pagination.NewState(config.PerPage),
	}

	c.lists = pagination.NewListFetcher(config.Fetch, pagination.Config{
		Timeout: config.FetchTimeout,
		View:    config.View,
	})
	c.enrich = cache.NewEnrichmentCache(enrich, cache.Config{
		MaxInFlight: config.MaxEnrichInFlight,
		Timeout:     config.EnrichTimeout,
		View:        config.View,
		OnUpdate:    func(cache.Record) { c.bump() },
	})
	c.sched = poll.NewScheduler(poll.Config{
		IntervalSeconds: config.IntervalSeconds,
		Refresh:         c.timerRefresh,
		OnChange:        func(poll.Status) { c.bump() },
		NewTicker:       config.NewTicker,
		View:            config.View,
	})

	return c, nil
}

// View returns the view name.
func (c *Controller) View() string {
	return c.config.View
}

// Start issues the initial fetch and starts polling when auto-reload is on.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.issueLocked("start")
	c.mu.Unlock()

	if c.config.AutoReload {
		c.sched.Start()
	}
	c.logger.Info().Int("per_page", c.config.PerPage).Bool("auto_reload", c.config.AutoReload).Msg("Controller started")
}

// SetFilter replaces the filter, returns to page 1 and fetches.
func (c *Controller) SetFilter(f pagination.Filter) {
	c.command("set_filter", func() {
		c.filter = f.Normalize()
		c.want = c.want.WithPage(1)
	})
}

// SetPage moves to page p, clamped against the known total, and fetches.
func (c *Controller) SetPage(p int) {
	c.command("set_page", func() {
		c.want = c.want.WithPage(p)
	})
}

// SetPerPage changes the page size, returns to page 1 and fetches.
func (c *Controller) SetPerPage(n int) {
	c.command("set_per_page", func() {
		c.want = c.want.WithPerPage(n)
	})
}

// ForceRefresh fetches immediately and restarts the poll countdown.
func (c *Controller) ForceRefresh() {
	if c.isClosed() {
		return
	}
	c.sched.ResetCountdown()
	c.command("refresh", func() {})
}

// ToggleAutoReload pauses or resumes polling and reports whether polling
// is on afterwards.
func (c *Controller) ToggleAutoReload() bool {
	if c.isClosed() {
		return false
	}
	commandsTotal.WithLabelValues(c.config.View, "toggle_auto_reload").Inc()
	return c.sched.Toggle()
}

// SetInterval changes the poll interval. Values below 1 become 1.
func (c *Controller) SetInterval(seconds int) {
	if c.isClosed() {
		return
	}
	commandsTotal.WithLabelValues(c.config.View, "set_interval").Inc()
	c.sched.SetInterval(seconds)
}

// RequestEnrichment returns the enrichment record for key, starting a
// lookup when none exists yet.
func (c *Controller) RequestEnrichment(key string) cache.Record {
	return c.enrich.Get(key)
}

// Enrichment returns the record for key without starting a lookup.
func (c *Controller) Enrichment(key string) (cache.Record, bool) {
	return c.enrich.Peek(key)
}

// InvalidateEnrichment drops the record for key so it is looked up again.
func (c *Controller) InvalidateEnrichment(key string) bool {
	removed := c.enrich.Invalidate(key)
	c.bump()
	return removed
}

// MutateRow applies action to the row with the given key. On success
// the error slot is cleared and the list is refreshed; on failure the
// error slot holds a mutation failure and nothing is refetched.
func (c *Controller) MutateRow(ctx context.Context, key string, action Action) error {
	key = strings.TrimSpace(key)
	if c.isClosed() {
		return ErrClosed
	}
	commandsTotal.WithLabelValues(c.config.View, "mutate_row").Inc()

	if c.config.Mutate == nil {
		return fmt.Errorf("%s on %s: %w", action, key, ErrNoMutator)
	}

	row := c.rowByKey(key)
	mctx, cancel := context.WithTimeout(ctx, c.config.MutateTimeout)
	err := c.config.Mutate.MutateRow(mctx, row, action)
	cancel()

	if err != nil {
		mutationsTotal.WithLabelValues(c.config.View, string(action), "failed").Inc()
		mErr := &Error{Kind: KindMutationFailure, Key: key, Err: err, At: time.Now()}
		c.mu.Lock()
		c.lastErr = mErr
		c.mu.Unlock()
		c.bump()
		c.logger.Warn().Err(err).Str("key", key).Str("action", string(action)).Msg("Row mutation failed")
		return mErr
	}

	mutationsTotal.WithLabelValues(c.config.View, string(action), "success").Inc()
	c.logger.Info().Str("key", key).Str("action", string(action)).Msg("Row mutation applied")

	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	c.ForceRefresh()
	return nil
}

// Snapshot returns the current view model. Rows, pagination and filter
// always come from the same accepted fetch; Requested shows the window
// of the latest fetch, which may still be loading.
func (c *Controller) Snapshot() ViewModel {
	pollStatus := c.sched.Status()

	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([]pagination.Row, len(c.rows))
	copy(rows, c.rows)

	return ViewModel{
		View:       c.config.View,
		Rows:       rows,
		Pagination: c.page,
		Filter:     c.shown,
		Requested:  pagination.NewRequest(c.want, c.filter),
		Poll:       pollStatus,
		Error:      c.lastErr,
		Loading:    c.loading,
		UpdatedAt:  c.lastApplied,
		Version:    c.version.Load(),
	}
}

// Version increases on every state change.
func (c *Controller) Version() uint64 {
	return c.version.Load()
}

// Close stops polling, abandons the fetch in flight and cancels pending
// lookups. Later commands are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.abortFetch != nil {
		c.abortFetch()
		c.abortFetch = nil
	}
	c.mu.Unlock()

	c.sched.Stop()
	c.cancel()
	c.wg.Wait()
	c.enrich.Close()
	rowsShown.DeleteLabelValues(c.config.View)
	c.logger.Info().Msg("Controller closed")
}

func (c *Controller) command(name string, apply func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	commandsTotal.WithLabelValues(c.config.View, name).Inc()
	apply()
	c.issueLocked(name)
}

func (c *Controller) timerRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.issueLocked("timer")
}

// issueLocked supersedes every earlier fetch and starts a new one for
// the current page and filter.
func (c *Controller) issueLocked(reason string) {
	c.token = c.token.Next()
	token := c.token
	if c.abortFetch != nil {
		c.abortFetch()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.abortFetch = cancel
	c.loading = true

	req := pagination.NewRequest(c.want, c.filter)
	c.logger.Debug().
		Str("reason", reason).
		Uint64("token", uint64(token)).
		Int("page", req.Page).
		Int("per_page", req.PerPage).
		Msg("Fetching page")

	c.wg.Add(1)
	c.lists.Issue(ctx, token, req, func(resp pagination.Response) {
		defer c.wg.Done()
		defer cancel()
		c.apply(resp)
	})
	c.bump()
}

func (c *Controller) apply(resp pagination.Response) {
	c.mu.Lock()
	if c.closed || resp.Token != c.token {
		c.mu.Unlock()
		pagination.ListFetches.WithLabelValues(c.config.View, pagination.OutcomeStale).Inc()
		c.logger.Debug().Uint64("token", uint64(resp.Token)).Msg("Discarding stale page")
		return
	}
	c.abortFetch = nil
	c.loading = false

	if resp.Err != nil {
		c.lastErr = &Error{Kind: KindTransientFetch, Err: resp.Err, At: time.Now()}
		c.mu.Unlock()
		c.bump()
		pagination.ListFetches.WithLabelValues(c.config.View, pagination.OutcomeFailed).Inc()
		c.logger.Warn().Err(resp.Err).Int("page", resp.Request.Page).Msg("List fetch failed, keeping previous rows")
		return
	}

	result := resp.Result

	// The total shrank below the requested page. The rows of an out of
	// range page are not shown; the last real page is fetched instead.
	// An empty page past the first also lands here, since some lists
	// only report their total on non-empty pages.
	if result.Page < resp.Request.Page {
		c.want = result.State()
		c.issueLocked("clamp")
		c.mu.Unlock()
		pagination.ListFetches.WithLabelValues(c.config.View, pagination.OutcomeClamped).Inc()
		c.logger.Debug().
			Int("requested", resp.Request.Page).
			Int("page", result.Page).
			Int("total", result.Total).
			Msg("Page out of range, refetching")
		return
	}

	c.rows = result.Items
	c.page = result.State()
	c.want = c.page
	c.shown = resp.Request.Filter
	c.lastErr = nil
	c.lastApplied = time.Now()

	var keys []string
	if c.config.PrefetchEnrichment {
		keys = make([]string, 0, len(result.Items))
		for _, row := range result.Items {
			keys = append(keys, row.Key)
		}
	}
	c.mu.Unlock()

	c.bump()
	pagination.ListFetches.WithLabelValues(c.config.View, pagination.OutcomeAccepted).Inc()
	rowsShown.WithLabelValues(c.config.View).Set(float64(len(result.Items)))

	if len(keys) > 0 {
		if n := c.enrich.PrefetchAll(keys); n > 0 {
			c.logger.Debug().Int("lookups", n).Msg("Prefetching enrichment")
		}
	}
}

func (c *Controller) rowByKey(key string) pagination.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range c.rows {
		if row.Key == key {
			return row
		}
	}
	return pagination.Row{Key: key}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) bump() {
	c.version.Add(1)
}
