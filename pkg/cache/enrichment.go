package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned by a Lookup that has no data for the key.
	// The cache stores it as a ready record without payload.
	ErrNotFound = errors.New("enrichment not found")

	// ErrEnrichmentUnavailable wraps every lookup failure stored in a
	// failed record.
	ErrEnrichmentUnavailable = errors.New("enrichment unavailable")

	// ErrClosed is stored for keys requested after Close.
	ErrClosed = errors.New("enrichment cache closed")
)

// Lookup is the enrichment collaborator.
type Lookup interface {
	Lookup(ctx context.Context, key string) (*Enrichment, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, key string) (*Enrichment, error)

// Lookup calls f.
func (f LookupFunc) Lookup(ctx context.Context, key string) (*Enrichment, error) {
	return f(ctx, key)
}

// Forgetter is implemented by lookups that keep their own copy of
// responses. Invalidate calls Forget so the next lookup is fresh.
type Forgetter interface {
	Forget(ctx context.Context, key string) error
}

// Config holds enrichment cache configuration.
type Config struct {
	// MaxInFlight bounds concurrent lookups. Further lookups wait.
	MaxInFlight int

	// Timeout bounds a single lookup.
	Timeout time.Duration

	// View labels logs.
	View string

	// OnUpdate is called after a pending record settles. Optional.
	OnUpdate func(Record)
}

// DefaultConfig returns the default enrichment cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxInFlight: 4,
		Timeout:     10 * time.Second,
		View:        "default",
	}
}

type entry struct {
	rec Record
}

// EnrichmentCache holds one record per key and dispatches at most one
// lookup per key until that key is invalidated.
type EnrichmentCache struct {
	lookup Lookup
	config Config
	logger zerolog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	gate   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewEnrichmentCache creates an enrichment cache around the given lookup.
func NewEnrichmentCache(lookup Lookup, config Config) *EnrichmentCache {
	if lookup == nil {
		panic("enrichment lookup cannot be nil")
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.View == "" {
		config.View = "default"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EnrichmentCache{
		lookup:  lookup,
		config:  config,
		logger:  log.With().Str("component", "enrichment-cache").Str("view", config.View).Logger(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		gate:    make(chan struct{}, config.MaxInFlight),
		entries: make(map[string]*entry),
	}
}

// Get returns the current record for key. When no record exists a
// pending one is stored before the lookup is dispatched, so concurrent
// callers for the same key share a single lookup. Failed records are
// returned as-is; they are not retried.
func (c *EnrichmentCache) Get(key string) Record {
	key = strings.TrimSpace(key)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		rec := e.rec
		c.mu.Unlock()
		EnrichmentRequests.WithLabelValues("hit").Inc()
		return rec
	}

	e := &entry{rec: Record{Key: key, Status: StatusPending}}
	c.entries[key] = e
	if c.closed {
		e.rec.Status = StatusFailed
		e.rec.Err = fmt.Errorf("%w: %w", ErrEnrichmentUnavailable, ErrClosed)
		e.rec.FetchedAt = c.now()
		rec := e.rec
		c.mu.Unlock()
		return rec
	}
	c.wg.Add(1)
	rec := e.rec
	c.mu.Unlock()

	EnrichmentRequests.WithLabelValues("miss").Inc()
	c.logger.Debug().Str("key", key).Msg("Dispatching enrichment lookup")
	go c.resolve(e)

	return rec
}

// Peek returns the record for key without dispatching a lookup.
func (c *EnrichmentCache) Peek(key string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[strings.TrimSpace(key)]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// PrefetchAll calls Get for every key and returns how many lookups it
// started. Lookups run independently and complete in any order.
func (c *EnrichmentCache) PrefetchAll(keys []string) int {
	started := 0
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if _, ok := c.Peek(key); ok {
			continue
		}
		if c.Get(key).Status == StatusPending {
			started++
		}
	}
	return started
}

// Invalidate removes the record for key so the next Get looks it up
// again. It reports whether a record existed. A lookup still in flight
// for the removed record is discarded when it completes.
func (c *EnrichmentCache) Invalidate(key string) bool {
	key = strings.TrimSpace(key)

	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	closed := c.closed
	if !closed {
		c.wg.Add(1)
	}
	c.mu.Unlock()

	if closed {
		return ok
	}

	go func() {
		defer c.wg.Done()
		f, isForgetter := c.lookup.(Forgetter)
		if !isForgetter {
			return
		}
		ctx, cancel := context.WithTimeout(c.ctx, c.config.Timeout)
		defer cancel()
		if err := f.Forget(ctx, key); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to forget stored enrichment")
		}
	}()

	c.logger.Debug().Str("key", key).Bool("existed", ok).Msg("Enrichment invalidated")
	return ok
}

// Len returns the number of records.
func (c *EnrichmentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close cancels in-flight lookups and waits for them to settle.
func (c *EnrichmentCache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *EnrichmentCache) resolve(e *entry) {
	defer c.wg.Done()
	key := e.rec.Key

	select {
	case c.gate <- struct{}{}:
	case <-c.ctx.Done():
		c.settle(e, nil, c.ctx.Err())
		return
	}
	EnrichmentInFlight.Inc()
	defer func() {
		EnrichmentInFlight.Dec()
		<-c.gate
	}()

	ctx, cancel := context.WithTimeout(c.ctx, c.config.Timeout)
	payload, err := c.lookup.Lookup(ctx, key)
	cancel()

	c.settle(e, payload, err)
}

func (c *EnrichmentCache) settle(e *entry, payload *Enrichment, err error) {
	c.mu.Lock()
	if current, ok := c.entries[e.rec.Key]; !ok || current != e {
		c.mu.Unlock()
		EnrichmentLookups.WithLabelValues("dropped").Inc()
		c.logger.Debug().Str("key", e.rec.Key).Msg("Dropping lookup for invalidated record")
		return
	}

	outcome := "ready"
	switch {
	case err == nil:
		e.rec.Status = StatusReady
		e.rec.Payload = payload
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
		e.rec.Status = StatusReady
		e.rec.Payload = nil
	default:
		outcome = "failed"
		e.rec.Status = StatusFailed
		e.rec.Err = fmt.Errorf("%w: %v", ErrEnrichmentUnavailable, err)
	}
	e.rec.FetchedAt = c.now()
	rec := e.rec
	c.mu.Unlock()

	EnrichmentLookups.WithLabelValues(outcome).Inc()
	if outcome == "failed" {
		c.logger.Warn().Err(err).Str("key", rec.Key).Msg("Enrichment lookup failed")
	}

	if c.config.OnUpdate != nil {
		c.config.OnUpdate(rec)
	}
}
