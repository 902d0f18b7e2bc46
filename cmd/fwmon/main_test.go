package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/fwmon-client/internal/testutil"
	"github.com/Sternrassler/fwmon-client/pkg/client"
	"github.com/Sternrassler/fwmon-client/pkg/config"
	"github.com/Sternrassler/fwmon-client/pkg/controller"
)

type testServer struct {
	mock    *testutil.MockAPI
	views   map[string]*controller.Controller
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mock := testutil.NewMockAPI()
	t.Cleanup(mock.Close)

	cfg := config.DefaultConfig()
	cfg.API.BaseURL = mock.URL()
	cfg.API.RateLimit = 0
	for i := range cfg.Views {
		cfg.Views[i].PerPage = 2
		cfg.Views[i].AutoReload = false
		cfg.Views[i].PrefetchEnrichment = false
	}

	apiCfg := client.DefaultConfig(cfg.API.BaseURL, "fwmon-test/1.0")
	apiCfg.RateLimit = 0
	api, err := client.New(apiCfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	views, err := buildViews(cfg, api, api.Lookup())
	if err != nil {
		t.Fatalf("buildViews() error = %v", err)
	}
	t.Cleanup(func() {
		for _, c := range views {
			c.Close()
		}
	})

	return &testServer{
		mock:    mock,
		views:   views,
		handler: newRouter(&server{views: views, report: api.Report, logger: zerolog.Nop()}),
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) snapshot(t *testing.T, view string) controller.ViewModel {
	t.Helper()
	w := s.do(t, http.MethodGet, "/views/"+view, "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /views/%s status = %d, body = %s", view, w.Code, w.Body.String())
	}
	var vm controller.ViewModel
	if err := json.Unmarshal(w.Body.Bytes(), &vm); err != nil {
		t.Fatalf("decode view model: %v", err)
	}
	return vm
}

// settle waits until the view is idle and cond holds.
func (s *testServer) settle(t *testing.T, view string, cond func(controller.ViewModel) bool) controller.ViewModel {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		vm := s.snapshot(t, view)
		if !vm.Loading && cond(vm) {
			return vm
		}
		if time.Now().After(deadline) {
			t.Fatalf("view %s did not settle, last = %+v", view, vm)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *testServer) start() {
	for _, c := range s.views {
		c.Start()
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Status string `json:"status"`
		Views  int    `json:"views"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Views != len(s.views) {
		t.Errorf("health = %+v", body)
	}
}

func TestListViews(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/views", "")
	var names []string
	if err := json.Unmarshal(w.Body.Bytes(), &names); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"activity", "agents", "blocked", "suspicious"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("views = %v, want %v", names, want)
	}
}

func TestUnknownView(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/views/nope"},
		{http.MethodPost, "/views/nope/refresh"},
		{http.MethodPut, "/views/nope/page"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, `{"page":1}`)
			if w.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", w.Code)
			}
		})
	}
}

func TestSnapshotAndPaging(t *testing.T) {
	s := newTestServer(t)
	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"} {
		s.mock.AddIndicator(ip, "agent-1", 1)
	}
	s.start()

	vm := s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return vm.Pagination.Total == 5 })
	if vm.Pagination.Page != 1 || len(vm.Rows) != 2 {
		t.Fatalf("first page = %+v rows=%d", vm.Pagination, len(vm.Rows))
	}
	if vm.Rows[0].Key != "10.0.0.1" {
		t.Errorf("first row = %s, want 10.0.0.1", vm.Rows[0].Key)
	}

	w := s.do(t, http.MethodPut, "/views/suspicious/page", `{"page":3}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("PUT page status = %d", w.Code)
	}
	vm = s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return vm.Pagination.Page == 3 })
	if len(vm.Rows) != 1 || vm.Rows[0].Key != "10.0.0.5" {
		t.Errorf("page 3 rows = %+v", vm.Rows)
	}

	w = s.do(t, http.MethodPut, "/views/suspicious/per-page", `{"per_page":10}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("PUT per-page status = %d", w.Code)
	}
	vm = s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return vm.Pagination.PerPage == 10 })
	if vm.Pagination.Page != 1 || len(vm.Rows) != 5 {
		t.Errorf("after per-page: %+v rows=%d", vm.Pagination, len(vm.Rows))
	}
}

func TestShrunkListFallsBackToFirstPage(t *testing.T) {
	s := newTestServer(t)
	ips := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"}
	for _, ip := range ips {
		s.mock.AddIndicator(ip, "agent-1", 1)
	}
	s.start()

	s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return vm.Pagination.Total == 5 })
	s.do(t, http.MethodPut, "/views/suspicious/page", `{"page":3}`)
	s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return vm.Pagination.Page == 3 })

	// Page 3 of the shrunk list is an empty array without a total.
	for _, ip := range ips[2:] {
		if !s.mock.RemoveIndicator(ip) {
			t.Fatalf("RemoveIndicator(%s) = false", ip)
		}
	}
	before := s.mock.GetPathCount(client.PathSuspicious)

	w := s.do(t, http.MethodPost, "/views/suspicious/refresh", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("POST refresh status = %d", w.Code)
	}
	vm := s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return len(vm.Rows) == 2 })
	if vm.Pagination.Page != 1 || vm.Pagination.Total != 2 {
		t.Errorf("pagination = %+v, want page 1 total 2", vm.Pagination)
	}
	if vm.Rows[0].Key != "10.0.0.1" || vm.Rows[1].Key != "10.0.0.2" {
		t.Errorf("rows = %+v", vm.Rows)
	}
	if n := s.mock.GetPathCount(client.PathSuspicious) - before; n != 2 {
		t.Errorf("list requests after refresh = %d, want 2", n)
	}
}

func TestAgentsView(t *testing.T) {
	s := newTestServer(t)
	s.mock.AddAgent("edge-01", "10.0.1.1", "debian 12", "edge")
	s.mock.AddAgent("edge-02", "10.0.1.2", "debian 12", "edge")
	s.mock.AddAgent("core-01", "10.0.2.1", "rocky 9", "core")
	s.start()

	vm := s.settle(t, "agents", func(vm controller.ViewModel) bool { return vm.Pagination.Total == 3 })
	if len(vm.Rows) != 2 || vm.Rows[0].Hostname != "edge-01" {
		t.Errorf("rows = %+v", vm.Rows)
	}

	s.do(t, http.MethodPut, "/views/agents/filter", `{"hostname":"core"}`)
	vm = s.settle(t, "agents", func(vm controller.ViewModel) bool { return vm.Pagination.Total == 1 })
	if vm.Rows[0].Key != "10.0.2.1" || vm.Rows[0].Attributes["os"] != "rocky 9" {
		t.Errorf("filtered row = %+v", vm.Rows[0])
	}
}

func TestBuildViewsClosesOnError(t *testing.T) {
	mock := testutil.NewMockAPI()
	t.Cleanup(mock.Close)

	apiCfg := client.DefaultConfig(mock.URL(), "fwmon-test/1.0")
	apiCfg.RateLimit = 0
	api, err := client.New(apiCfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	var built []*controller.Controller
	orig := newController
	newController = func(cfg controller.Config) (*controller.Controller, error) {
		c, err := orig(cfg)
		if err == nil {
			built = append(built, c)
		}
		return c, err
	}
	t.Cleanup(func() { newController = orig })

	cfg := config.DefaultConfig()
	cfg.Views = []config.ViewConfig{
		{Name: "suspicious", PerPage: 10, IntervalSeconds: 5},
		{Name: "blocked", PerPage: 10, IntervalSeconds: 5},
		{Name: "hosts", PerPage: 10, IntervalSeconds: 5},
	}

	views, err := buildViews(cfg, api, api.Lookup())
	if err == nil {
		t.Fatal("buildViews() error = nil, want unknown view error")
	}
	if views != nil {
		t.Errorf("views = %v, want nil", views)
	}
	if len(built) != 2 {
		t.Fatalf("built %d controllers, want 2", len(built))
	}
	for _, c := range built {
		if err := c.MutateRow(context.Background(), "10.0.0.1", controller.ActionBlock); !errors.Is(err, controller.ErrClosed) {
			t.Errorf("view %s MutateRow() error = %v, want ErrClosed", c.View(), err)
		}
	}
}

func TestFilterResetsPage(t *testing.T) {
	s := newTestServer(t)
	s.mock.AddIndicator("10.0.0.1", "alpha", 1)
	s.mock.AddIndicator("10.0.0.2", "beta", 1)
	s.mock.AddIndicator("10.0.0.3", "alpha", 1)
	s.start()

	s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return vm.Pagination.Total == 3 })
	s.do(t, http.MethodPut, "/views/suspicious/page", `{"page":2}`)
	s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return vm.Pagination.Page == 2 })

	w := s.do(t, http.MethodPut, "/views/suspicious/filter", `{"hostname":"alpha"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("PUT filter status = %d", w.Code)
	}
	vm := s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return vm.Pagination.Total == 2 })
	if vm.Pagination.Page != 1 {
		t.Errorf("page = %d, want 1 after filter change", vm.Pagination.Page)
	}
	if vm.Filter.Hostname != "alpha" {
		t.Errorf("filter = %+v", vm.Filter)
	}
	for _, row := range vm.Rows {
		if row.Hostname != "alpha" {
			t.Errorf("row %s hostname = %s, want alpha", row.Key, row.Hostname)
		}
	}
}

func TestInvalidBody(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPut, "/views/suspicious/page", `{"page":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestFetchFailureSurfacesError(t *testing.T) {
	s := newTestServer(t)
	s.mock.SetResponse("/admin/list-ioc", testutil.NewServerErrorResponse())
	s.start()

	vm := s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return vm.HasError() })
	if vm.Error.Kind != controller.KindTransientFetch {
		t.Errorf("error kind = %s, want %s", vm.Error.Kind, controller.KindTransientFetch)
	}

	s.mock.ClearHandler("/admin/list-ioc")
	s.mock.AddIndicator("10.0.0.1", "agent", 1)
	s.do(t, http.MethodPost, "/views/suspicious/refresh", "")
	vm = s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return !vm.HasError() })
	if len(vm.Rows) != 1 {
		t.Errorf("rows = %d, want 1 after recovery", len(vm.Rows))
	}
}

func TestAutoReloadAndInterval(t *testing.T) {
	s := newTestServer(t)
	s.start()

	w := s.do(t, http.MethodPost, "/views/activity/auto-reload", "")
	var toggled map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &toggled); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !toggled["enabled"] {
		t.Errorf("auto-reload = %v, want enabled", toggled)
	}

	w = s.do(t, http.MethodPut, "/views/activity/interval", `{"seconds":0}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT interval status = %d", w.Code)
	}
	vm := s.snapshot(t, "activity")
	if vm.Poll.IntervalSeconds != 1 {
		t.Errorf("interval = %d, want clamped to 1", vm.Poll.IntervalSeconds)
	}
}

func TestEnrichmentEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.mock.SetEnrichment("10.0.0.9", testutil.Tag{Value: "botnet", Color: "red", Risk: 80})
	s.start()

	var got enrichmentResponse
	deadline := time.Now().Add(3 * time.Second)
	for {
		w := s.do(t, http.MethodGet, "/views/suspicious/enrichment/10.0.0.9", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		got = enrichmentResponse{}
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.HasData() || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got.Risk != 80 {
		t.Errorf("risk = %d, want 80 (record %+v)", got.Risk, got.Record)
	}

	w := s.do(t, http.MethodDelete, "/views/suspicious/enrichment/10.0.0.9", "")
	var removed map[string]bool
	if err := json.Unmarshal(w.Body.Bytes(), &removed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !removed["removed"] {
		t.Errorf("DELETE enrichment = %v, want removed", removed)
	}
}

func TestRowAction(t *testing.T) {
	s := newTestServer(t)
	s.mock.AddIndicator("10.0.0.7", "agent-7", 3)
	s.start()

	s.settle(t, "suspicious", func(vm controller.ViewModel) bool { return len(vm.Rows) == 1 })

	w := s.do(t, http.MethodPost, "/views/suspicious/rows/10.0.0.7/block", "")
	if w.Code != http.StatusOK {
		t.Fatalf("block status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := s.mock.BlockedAddresses(); len(got) != 1 || got[0] != "10.0.0.7" {
		t.Errorf("blocked = %v", got)
	}
	s.settle(t, "suspicious", func(vm controller.ViewModel) bool {
		return len(vm.Rows) == 1 && vm.Rows[0].Blocked
	})

	// A second block fails in the client and lands in the error slot.
	w = s.do(t, http.MethodPost, "/views/suspicious/rows/10.0.0.7/block", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("second block status = %d, want 502", w.Code)
	}
	vm := s.snapshot(t, "suspicious")
	if !vm.HasError() || vm.Error.Kind != controller.KindMutationFailure {
		t.Errorf("error = %+v, want mutation failure", vm.Error)
	}

	w = s.do(t, http.MethodPost, "/views/activity/rows/1/block", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("activity block status = %d, want 405", w.Code)
	}
}

func TestReportEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.mock.AddIndicator("10.0.0.1", "a", 1)

	w := s.do(t, http.MethodGet, "/report", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var rep client.Report
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.ActiveAlerts != 1 {
		t.Errorf("active alerts = %d, want 1", rep.ActiveAlerts)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.start()
	s.settle(t, "blocked", func(controller.ViewModel) bool { return true })

	w := s.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"fwmon_api_requests_total", "fwmon_list_fetches_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("FWMON_TEST_VALUE", "set")

	if got := getEnv("FWMON_TEST_VALUE", "default"); got != "set" {
		t.Errorf("getEnv() = %q, want set", got)
	}
	if got := getEnv("FWMON_TEST_MISSING", "default"); got != "default" {
		t.Errorf("getEnv() = %q, want default", got)
	}
}
