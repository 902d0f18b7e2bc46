// Package config loads the fwmon service configuration from a YAML file
// with FWMON_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/fwmon-client/pkg/logging"
	"github.com/Sternrassler/fwmon-client/pkg/pagination"
)

// Config holds the full fwmon configuration.
type Config struct {
	Listen string         `yaml:"listen"`
	API    APIConfig      `yaml:"api"`
	Redis  RedisConfig    `yaml:"redis"`
	Log    logging.Config `yaml:"log"`
	Views  []ViewConfig   `yaml:"views"`

	// MaxEnrichInFlight bounds concurrent enrichment lookups per view.
	MaxEnrichInFlight int `yaml:"max_enrich_in_flight"`
}

// APIConfig configures the dashboard API client.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"`
	Burst     int           `yaml:"burst"`

	// GeoURL is the base URL of an iplocation.net style geolocation
	// service used to fill the country of enriched addresses. Empty
	// disables it.
	GeoURL string `yaml:"geo_url"`
}

// RedisConfig configures the shared enrichment store.
type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// ViewConfig configures one list view.
type ViewConfig struct {
	Name               string `yaml:"name"`
	PerPage            int    `yaml:"per_page"`
	IntervalSeconds    int    `yaml:"interval_seconds"`
	AutoReload         bool   `yaml:"auto_reload"`
	PrefetchEnrichment bool   `yaml:"prefetch_enrichment"`
}

// DefaultConfig returns sane defaults: the dashboard lists polled every
// 5 seconds against a local API, and the agent list loaded once.
func DefaultConfig() *Config {
	return &Config{
		Listen: ":8090",
		API: APIConfig{
			BaseURL:   "http://localhost:8000",
			UserAgent: "fwmon/0.1.0",
			Timeout:   30 * time.Second,
			RateLimit: 10,
			Burst:     20,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  15 * time.Minute,
		},
		Log: logging.Config{
			Level:   logging.LevelInfo,
			Service: "fwmon",
		},
		Views: []ViewConfig{
			{Name: "suspicious", PerPage: 10, IntervalSeconds: 5, AutoReload: true},
			{Name: "blocked", PerPage: 10, IntervalSeconds: 5, AutoReload: true, PrefetchEnrichment: true},
			{Name: "activity", PerPage: 20, IntervalSeconds: 5, AutoReload: true},
			{Name: "agents", PerPage: 10, IntervalSeconds: 60},
		},
		MaxEnrichInFlight: 4,
	}
}

// Load reads the YAML file at path (if any) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.Decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Decode merges YAML from r into c. Unknown keys are rejected.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from FWMON_* variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("FWMON_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := getenv("FWMON_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := getenv("FWMON_API_KEY"); v != "" {
		c.API.APIKey = v
	}
	if v := getenv("FWMON_GEO_URL"); v != "" {
		c.API.GeoURL = v
	}
	if v := getenv("FWMON_USER_AGENT"); v != "" {
		c.API.UserAgent = v
	}
	if v := getenv("FWMON_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("FWMON_LOG_LEVEL"); v != "" {
		c.Log.Level = logging.LogLevel(v)
	}
	if v := getenv("FWMON_LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FWMON_LOG_PRETTY: %w", err)
		}
		c.Log.Pretty = pretty
	}
	if v := getenv("FWMON_INTERVAL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FWMON_INTERVAL_SECONDS: %w", err)
		}
		for i := range c.Views {
			c.Views[i].IntervalSeconds = secs
		}
	}
	return nil
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.API.UserAgent == "" {
		return fmt.Errorf("api.user_agent is required")
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must be >= 0")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if _, err := logging.ParseLevel(string(c.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.MaxEnrichInFlight <= 0 {
		return fmt.Errorf("max_enrich_in_flight must be > 0")
	}
	if len(c.Views) == 0 {
		return fmt.Errorf("at least one view is required")
	}

	seen := make(map[string]bool, len(c.Views))
	for i, v := range c.Views {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			return fmt.Errorf("views[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("views[%d]: duplicate view %q", i, name)
		}
		seen[name] = true
		if v.PerPage < 1 || v.PerPage > pagination.MaxPerPage {
			return fmt.Errorf("views[%d]: per_page must be between 1 and %d", i, pagination.MaxPerPage)
		}
		if v.IntervalSeconds < 1 {
			return fmt.Errorf("views[%d]: interval_seconds must be >= 1", i)
		}
	}
	return nil
}

// View returns the configuration of the named view.
func (c *Config) View(name string) (ViewConfig, bool) {
	for _, v := range c.Views {
		if v.Name == name {
			return v, true
		}
	}
	return ViewConfig{}, false
}
