// Package client provides the HTTP client for the firewall manager
// dashboard API, with request pacing, error classification and metrics.
// It implements the list, enrichment and mutation collaborators used by
// the view controllers.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/fwmon-client/pkg/ratelimit"
)

// Prometheus metrics for dashboard API requests.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fwmon_api_requests_total",
		Help: "Total dashboard API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fwmon_api_request_duration_seconds",
		Help:    "Dashboard API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fwmon_api_errors_total",
		Help: "Total dashboard API errors by class",
	}, []string{"class"})
)

// maxErrorBody caps how much of an error response is kept as the message.
const maxErrorBody = 512

// Client talks to the dashboard API.
type Client struct {
	httpClient *http.Client
	gate       *ratelimit.Gate
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the dashboard API, e.g. "http://fwmanager:8000".
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// UserAgent header. Required.
	UserAgent string

	// Timeout for a single HTTP request.
	Timeout time.Duration

	// RateLimit is the sustained request rate per second. 0 disables pacing.
	RateLimit float64

	// Burst is the number of requests allowed above the sustained rate.
	Burst int
}

// DefaultConfig returns a default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		RateLimit: 10,
		Burst:     20,
	}
}

// New creates a new dashboard API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute http(s) url (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate_limit must be >= 0 (got %v)", cfg.RateLimit)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "api-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		gate:    ratelimit.NewGate(ratelimit.Config{RequestsPerSecond: cfg.RateLimit, Burst: cfg.Burst}, logger),
		baseURL: base,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Do performs an HTTP request with pacing, headers and error handling.
// endpoint is a low-cardinality name used for metrics. Responses with a
// status of 400 or above are closed and returned as *APIError.
func (c *Client) Do(req *http.Request, endpoint string) (*http.Response, error) {
	ctx := req.Context()

	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	if err := c.gate.Wait(ctx); err != nil {
		apiRequestsTotal.WithLabelValues(endpoint, "rate_limited").Inc()
		return nil, &APIError{Class: ErrorClassNetwork, Message: "rate gate", Err: err}
	}

	requestID := uuid.NewString()
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Str("request_id", requestID).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		class := classifyError(nil, err)
		apiErrorsTotal.WithLabelValues(string(class)).Inc()
		apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		if isCancelled(err) {
			c.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("HTTP request abandoned")
		} else {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		}
		return nil, &APIError{Class: class, Message: "request failed", Err: err}
	}

	c.gate.Observe(resp.StatusCode, resp.Header)
	apiRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		class := classifyError(resp, nil)
		apiErrorsTotal.WithLabelValues(string(class)).Inc()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Str("request_id", requestID).
			Msg("API request error")

		return nil, &APIError{StatusCode: resp.StatusCode, Class: class, Message: msg}
	}

	return resp, nil
}

// getJSON GETs path with query and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	return c.sendJSON(ctx, http.MethodGet, endpoint, path, query, out)
}

func (c *Client) sendJSON(ctx context.Context, method, endpoint, path string, query url.Values, out any) error {
	u := c.resolve(path, query)
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, endpoint, err)
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Gate returns the request gate.
func (c *Client) Gate() *ratelimit.Gate {
	return c.gate
}
