// Package logging configures the zerolog logger shared by the view
// controllers, the API client and the fwmon service.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `yaml:"level"`

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool `yaml:"pretty"`

	// Service is added to every entry when set.
	Service string `yaml:"service"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `yaml:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:   LevelInfo,
		Pretty:  false,
		Service: "fwmon",
		Output:  os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// ParseLevel validates a level name from configuration.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// parseLevel maps a configured level to zerolog. Unknown names log at info.
func parseLevel(level LogLevel) zerolog.Level {
	name, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return zerologLevels[name]
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForView creates a component logger bound to a list view.
func ForView(component, view string) zerolog.Logger {
	return log.With().Str("component", component).Str("view", view).Logger()
}

// Log Level Guidelines:
//
// Debug: internals of a view
//   - list fetch issued, stale page discarded
//   - enrichment dispatched, dropped after invalidation
//   - countdown elapsed, interval changed, poll paused/resumed
//
// Info: lifecycle
//   - controller started/closed, polling started/stopped
//   - row mutation applied
//   - server startup/shutdown
//
// Warn: failures the view survives
//   - list fetch failed (previous rows kept)
//   - enrichment lookup failed (record marked failed)
//   - row mutation rejected
//   - 429 from the API (gate held), Redis store errors
//
// Error: failures requiring attention
//   - configuration errors, server startup failures
//
// Context Fields:
//   - component, view
//   - token, page, per_page
//   - key (row or enrichment key), action
//   - endpoint, status, error_class, request_id
//   - interval_seconds, remaining_seconds
