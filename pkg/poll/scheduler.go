// Package poll implements the countdown scheduler that drives periodic
// list refreshes.
//
// One Scheduler owns one 1-second ticker. Every tick decrements the
// countdown; when it reaches zero the refresh action fires and the
// countdown restarts from the interval. Pausing keeps the remaining
// seconds so Resume continues where the countdown stopped.
package poll

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the scheduler state.
type State string

const (
	// StateStopped means no ticker exists. Initial and final state.
	StateStopped State = "stopped"

	// StateRunning means the ticker is active.
	StateRunning State = "running"

	// StatePaused means the ticker is cancelled but the countdown is kept.
	StatePaused State = "paused"
)

// TickPeriod is the countdown resolution.
const TickPeriod = time.Second

// Status is a point-in-time view of the scheduler.
type Status struct {
	State            State     `json:"state"`
	Enabled          bool      `json:"enabled"`
	IntervalSeconds  int       `json:"interval_seconds"`
	RemainingSeconds int       `json:"remaining_seconds"`
	LastRefreshAt    time.Time `json:"last_refresh_at,omitempty"`
}

// Config holds scheduler configuration.
type Config struct {
	// IntervalSeconds between automatic refreshes. Values below 1 become 1.
	IntervalSeconds int

	// Refresh is called when the countdown reaches zero. It runs on the
	// ticker goroutine without the scheduler lock held.
	Refresh func()

	// OnChange is called after every countdown or state change. Optional.
	OnChange func(Status)

	// NewTicker creates the 1-second ticker. Defaults to time.NewTicker.
	NewTicker TickerFunc

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// View labels metrics and logs.
	View string
}

// DefaultConfig returns a scheduler configuration with a 5 second interval.
func DefaultConfig(refresh func()) Config {
	return Config{
		IntervalSeconds: 5,
		Refresh:         refresh,
		View:            "default",
	}
}

// Scheduler is a pausable, reconfigurable countdown. Exactly one ticker
// is active while Running and none otherwise.
type Scheduler struct {
	config Config
	logger zerolog.Logger

	mu          sync.Mutex
	state       State
	interval    int
	remaining   int
	lastRefresh time.Time
	ticker      Ticker
	stop        chan struct{}
	generation  uint64
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(config Config) *Scheduler {
	if config.Refresh == nil {
		panic("refresh action cannot be nil")
	}
	if config.NewTicker == nil {
		config.NewTicker = NewSystemTicker
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.View == "" {
		config.View = "default"
	}
	interval := clampInterval(config.IntervalSeconds)

	return &Scheduler{
		config:    config,
		logger:    log.With().Str("component", "poll-scheduler").Str("view", config.View).Logger(),
		state:     StateStopped,
		interval:  interval,
		remaining: interval,
	}
}

// Start moves Stopped to Running with a full countdown. From Paused it
// behaves like Resume; when already Running it does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return
	case StateStopped:
		s.remaining = s.interval
	}
	s.startLocked()
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Info().Int("interval_seconds", st.IntervalSeconds).Msg("Polling started")
	s.notify(st)
}

// Pause cancels the ticker and keeps the remaining seconds.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.state = StatePaused
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Debug().Int("remaining_seconds", st.RemainingSeconds).Msg("Polling paused")
	s.notify(st)
}

// Resume restarts ticking from the retained countdown.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return
	}
	s.startLocked()
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Debug().Int("remaining_seconds", st.RemainingSeconds).Msg("Polling resumed")
	s.notify(st)
}

// Toggle pauses a running scheduler and resumes or starts any other.
// It returns whether the scheduler is running afterwards.
func (s *Scheduler) Toggle() bool {
	s.mu.Lock()
	from := s.state
	switch from {
	case StateRunning:
		s.stopLocked()
		s.state = StatePaused
	case StateStopped:
		s.remaining = s.interval
		s.startLocked()
	default:
		s.startLocked()
	}
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Debug().
		Str("from", string(from)).
		Str("to", string(st.State)).
		Int("remaining_seconds", st.RemainingSeconds).
		Msg("Polling toggled")
	s.notify(st)
	return st.Enabled
}

// SetInterval changes the interval and resets the countdown to it. A
// running ticker is replaced under the same lock, so no observer sees
// zero or two tickers.
func (s *Scheduler) SetInterval(seconds int) {
	seconds = clampInterval(seconds)

	s.mu.Lock()
	s.interval = seconds
	s.remaining = seconds
	if s.state == StateRunning {
		s.stopLocked()
		s.startLocked()
	}
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Debug().Int("interval_seconds", seconds).Str("state", string(st.State)).Msg("Polling interval changed")
	s.notify(st)
}

// ResetCountdown records a manual refresh: the next automatic refresh
// is a full interval away.
func (s *Scheduler) ResetCountdown() {
	s.mu.Lock()
	s.remaining = s.interval
	s.lastRefresh = s.config.Now()
	st := s.statusLocked()
	s.mu.Unlock()

	pollRefreshes.WithLabelValues(s.config.View, "manual").Inc()
	s.notify(st)
}

// Stop cancels the ticker unconditionally.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	s.state = StateStopped
	st := s.statusLocked()
	s.mu.Unlock()

	s.logger.Info().Msg("Polling stopped")
	s.notify(st)
}

// Status returns the current scheduler status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Scheduler) startLocked() {
	s.generation++
	s.ticker = s.config.NewTicker(TickPeriod)
	s.stop = make(chan struct{})
	s.state = StateRunning
	activeTickers.WithLabelValues(s.config.View).Inc()
	go s.loop(s.generation, s.ticker, s.stop)
}

func (s *Scheduler) stopLocked() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.stop = nil
	activeTickers.WithLabelValues(s.config.View).Dec()
}

func (s *Scheduler) loop(generation uint64, ticker Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			s.tick(generation)
		}
	}
}

// tick ignores ticks from a ticker that has since been replaced.
func (s *Scheduler) tick(generation uint64) {
	s.mu.Lock()
	if s.state != StateRunning || generation != s.generation {
		s.mu.Unlock()
		return
	}

	fire := false
	if s.remaining > 0 {
		s.remaining--
	}
	if s.remaining == 0 {
		fire = true
		s.remaining = s.interval
		s.lastRefresh = s.config.Now()
	}
	st := s.statusLocked()
	s.mu.Unlock()

	if fire {
		pollRefreshes.WithLabelValues(s.config.View, "timer").Inc()
		s.logger.Debug().Time("at", st.LastRefreshAt).Msg("Countdown elapsed, refreshing")
		s.config.Refresh()
	}
	s.notify(st)
}

func (s *Scheduler) statusLocked() Status {
	return Status{
		State:            s.state,
		Enabled:          s.state == StateRunning,
		IntervalSeconds:  s.interval,
		RemainingSeconds: s.remaining,
		LastRefreshAt:    s.lastRefresh,
	}
}

func (s *Scheduler) notify(st Status) {
	if s.config.OnChange != nil {
		s.config.OnChange(st)
	}
}

func clampInterval(seconds int) int {
	if seconds < 1 {
		return 1
	}
	return seconds
}
