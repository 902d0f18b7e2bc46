package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	gateWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fwmon_rate_gate_wait_seconds",
		Help:    "Time requests spent waiting at the rate gate",
		Buckets: []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	gateHoldsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fwmon_rate_gate_holds_total",
		Help: "Total server-imposed holds (429 with Retry-After)",
	})

	gateRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fwmon_rate_gate_rejected_total",
		Help: "Total requests abandoned while waiting at the rate gate",
	})
)

// MaxHold caps how long a single Retry-After may hold the gate.
const MaxHold = 5 * time.Minute

// Config holds gate configuration.
type Config struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables pacing.
	RequestsPerSecond float64

	// Burst is the bucket size.
	Burst int
}

// DefaultConfig returns 10 requests per second with a burst of 20.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// Gate paces requests. It is safe for concurrent use.
type Gate struct {
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	heldUntil time.Time
}

// NewGate creates a gate.
func NewGate(config Config, logger zerolog.Logger) *Gate {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}
	return &Gate{
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		now:     time.Now,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	start := g.now()

	if hold := g.State().TimeUntilRelease(start); hold > 0 {
		g.logger.Debug().Dur("hold", hold).Msg("Request held by server back-off")
		timer := time.NewTimer(hold)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			gateRejectedTotal.Inc()
			return ctx.Err()
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		gateRejectedTotal.Inc()
		return err
	}
	gateWaitSeconds.Observe(g.now().Sub(start).Seconds())
	return nil
}

// Allow reports whether a request may be sent right now without waiting.
func (g *Gate) Allow() bool {
	if g.State().IsHeld(g.now()) {
		return false
	}
	return g.limiter.Allow()
}

// Observe inspects a response and holds the gate when the server asked
// for a back-off. It returns the hold applied, or 0.
func (g *Gate) Observe(statusCode int, headers http.Header) time.Duration {
	if statusCode != http.StatusTooManyRequests {
		return 0
	}
	now := g.now()
	hold, ok := ParseRetryAfter(headers, now)
	if !ok {
		hold = time.Second
	}
	if hold > MaxHold {
		hold = MaxHold
	}

	g.mu.Lock()
	if until := now.Add(hold); until.After(g.heldUntil) {
		g.heldUntil = until
	}
	g.mu.Unlock()

	gateHoldsTotal.Inc()
	g.logger.Warn().Dur("hold", hold).Msg("Server rate limit reached, holding requests")
	return hold
}

// State returns the current gate state.
func (g *Gate) State() State {
	g.mu.Lock()
	held := g.heldUntil
	g.mu.Unlock()

	return State{
		Tokens:    g.limiter.TokensAt(g.now()),
		Limit:     float64(g.limiter.Limit()),
		Burst:     g.limiter.Burst(),
		HeldUntil: held,
	}
}
