// Package testutil provides testing utilities for the dashboard API client.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockResponse defines a canned response for a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Indicator is a suspicious address served by the mock.
type Indicator struct {
	ID        int64  `json:"id"`
	IPAddress string `json:"ip_address"`
	Hostname  string `json:"hostname"`
	IsProcess bool   `json:"is_process"`
	Counter   int    `json:"counter"`
}

// Blocked is a blocked address served by the mock.
type Blocked struct {
	ID           int64  `json:"id"`
	IPAddress    string `json:"ip_address"`
	Hostname     string `json:"hostname"`
	ExecutedTime int64  `json:"executed_time"`
}

// Activity is an activity log entry served by the mock.
type Activity struct {
	ID       int64  `json:"id"`
	Activity string `json:"activity"`
}

// Agent is a registered host served by the mock.
type Agent struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	IP           string `json:"ip"`
	VersionAgent string `json:"version_agent"`
	OS           string `json:"os"`
	GroupName    string `json:"group_name"`
}

// Tag is an enrichment tag served by the mock.
type Tag struct {
	Value string `json:"value"`
	Color string `json:"color"`
	Risk  int    `json:"risk"`
}

// MockAPI is an in-memory dashboard API for testing.
type MockAPI struct {
	server *httptest.Server

	mu         sync.RWMutex
	handlers   map[string]func(w http.ResponseWriter, r *http.Request)
	indicators []Indicator
	blocked    []Blocked
	activity   []Activity
	agents     []Agent
	enrich     map[string][]Tag
	countries  map[string]string
	nextID     int64

	// BareActivity serves the activity log as a bare array.
	BareActivity bool

	// Tracking
	RequestCount      int
	PathCounts        map[string]int
	LastRequestHeader http.Header
}

// NewMockAPI creates and starts a mock dashboard API.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		enrich:     make(map[string][]Tag),
		countries:  make(map[string]string),
		PathCounts: make(map[string]int),
		nextID:     1,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.PathCounts[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
	m.LastRequestHeader = nil
}

// SetHandler overrides the handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// ClearHandler removes an override.
func (m *MockAPI) ClearHandler(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, path)
}

// SetResponse configures a canned response for a path.
func (m *MockAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// AddIndicator adds a suspicious address and returns its ID.
func (m *MockAPI) AddIndicator(ip, hostname string, counter int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.indicators = append(m.indicators, Indicator{ID: id, IPAddress: ip, Hostname: hostname, Counter: counter})
	return id
}

// RemoveIndicator deletes a suspicious address. It reports whether it
// was present.
func (m *MockAPI) RemoveIndicator(ip string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.indicators {
		if it.IPAddress == ip {
			m.indicators = append(m.indicators[:i], m.indicators[i+1:]...)
			return true
		}
	}
	return false
}

// AddAgent registers a host and returns its ID.
func (m *MockAPI) AddAgent(name, ip, os, group string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.agents = append(m.agents, Agent{ID: id, Name: name, IP: ip, VersionAgent: "1.4.2", OS: os, GroupName: group})
	return id
}

// SetCountry sets the country the geolocation endpoint reports for ip.
func (m *MockAPI) SetCountry(ip, country string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countries[ip] = country
}

// GeoURL returns the base URL of the mock geolocation endpoint.
func (m *MockAPI) GeoURL() string {
	return m.server.URL + "/geo"
}

// AddActivity appends an activity log entry.
func (m *MockAPI) AddActivity(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, Activity{ID: m.nextID, Activity: text})
	m.nextID++
}

// SetEnrichment sets the tags returned for ip.
func (m *MockAPI) SetEnrichment(ip string, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrich[ip] = tags
}

// BlockedAddresses returns the blocked addresses in block order.
func (m *MockAPI) BlockedAddresses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.blocked))
	for i, b := range m.blocked {
		out[i] = b.IPAddress
	}
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockAPI) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[path]
}

// GetLastRequestHeader returns the headers of the latest request.
func (m *MockAPI) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch {
	case r.URL.Path == "/admin/list-ioc" && r.Method == http.MethodGet:
		m.listIndicators(w, r)
	case r.URL.Path == "/admin/list-mal-ip" && r.Method == http.MethodGet:
		m.listBlocked(w, r)
	case r.URL.Path == "/admin/log-activity" && r.Method == http.MethodGet:
		m.listActivity(w, r)
	case strings.HasPrefix(r.URL.Path, "/admin/enrich/") && r.Method == http.MethodGet:
		m.enrichment(w, strings.TrimPrefix(r.URL.Path, "/admin/enrich/"))
	case r.URL.Path == "/admin/block-ip" && r.Method == http.MethodPost:
		m.blockIP(w, r)
	case r.URL.Path == "/admin/list-hosts" && r.Method == http.MethodGet:
		m.mu.RLock()
		agents := append([]Agent{}, m.agents...)
		m.mu.RUnlock()
		writeJSON(w, http.StatusOK, agents)
	case r.URL.Path == "/geo/" && r.Method == http.MethodGet:
		m.geolocate(w, r.URL.Query().Get("ip"))
	case r.URL.Path == "/admin/report" && r.Method == http.MethodGet:
		m.report(w)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (m *MockAPI) listIndicators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := pageParams(r)

	m.mu.RLock()
	var matched []Indicator
	for _, it := range m.indicators {
		if v := q.Get("ip"); v != "" && !strings.Contains(it.IPAddress, v) {
			continue
		}
		if v := q.Get("hostname"); v != "" && !strings.Contains(it.Hostname, v) {
			continue
		}
		if v := q.Get("is_process"); v != "" && strconv.FormatBool(it.IsProcess) != v {
			continue
		}
		matched = append(matched, it)
	}
	m.mu.RUnlock()

	type item struct {
		Indicator
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}
	window := pageWindow(len(matched), page, perPage)
	out := make([]item, 0, window[1]-window[0])
	for _, it := range matched[window[0]:window[1]] {
		entry := item{Indicator: it}
		entry.Pagination.Total = len(matched)
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

func (m *MockAPI) listBlocked(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)

	m.mu.RLock()
	all := append([]Blocked(nil), m.blocked...)
	m.mu.RUnlock()

	window := pageWindow(len(all), page, perPage)
	writeJSON(w, http.StatusOK, map[string]any{
		"page":     page,
		"per_page": perPage,
		"total":    len(all),
		"data":     all[window[0]:window[1]],
	})
}

func (m *MockAPI) listActivity(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)

	m.mu.RLock()
	all := append([]Activity(nil), m.activity...)
	bare := m.BareActivity
	m.mu.RUnlock()

	if bare {
		writeJSON(w, http.StatusOK, all)
		return
	}
	window := pageWindow(len(all), page, perPage)
	writeJSON(w, http.StatusOK, map[string]any{
		"page":     page,
		"per_page": perPage,
		"total":    len(all),
		"data":     all[window[0]:window[1]],
	})
}

func (m *MockAPI) enrichment(w http.ResponseWriter, ip string) {
	m.mu.RLock()
	tags, ok := m.enrich[ip]
	m.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no enrichment"})
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (m *MockAPI) geolocate(w http.ResponseWriter, ip string) {
	m.mu.RLock()
	country, ok := m.countries[ip]
	m.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"ip": ip, "response_code": "404", "response_message": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ip":            ip,
		"country_name":  country,
		"response_code": "200",
	})
}

func (m *MockAPI) blockIP(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	hostname := r.URL.Query().Get("hostname")
	if ip == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ip is required"})
		return
	}

	m.mu.Lock()
	m.blocked = append(m.blocked, Blocked{ID: m.nextID, IPAddress: ip, Hostname: hostname, ExecutedTime: time.Now().Unix()})
	m.nextID++
	for i := range m.indicators {
		if m.indicators[i].IPAddress == ip {
			m.indicators[i].IsProcess = true
		}
	}
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "blocked", "ip": ip})
}

func (m *MockAPI) report(w http.ResponseWriter) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]int{
		"connected_agents": 1,
		"blocked_ips":      len(m.blocked),
		"active_alerts":    len(m.indicators),
	})
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	return page, perPage
}

// pageWindow returns the [start, end) slice bounds of a page.
func pageWindow(total, page, perPage int) [2]int {
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return [2]int{start, end}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewRateLimitResponse creates a 429 response with Retry-After.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfterSeconds),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
