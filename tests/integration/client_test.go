//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/fwmon-client/internal/testutil"
	"github.com/Sternrassler/fwmon-client/pkg/cache"
	"github.com/Sternrassler/fwmon-client/pkg/client"
	"github.com/Sternrassler/fwmon-client/pkg/controller"
	"github.com/Sternrassler/fwmon-client/pkg/pagination"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	t.Cleanup(func() {
		redisClient.Close()
		container.Terminate(ctx)
	})

	return redisClient
}

type stack struct {
	mock  *testutil.MockAPI
	api   *client.Client
	redis *redis.Client
	store *cache.RedisStore
}

func setupStack(t *testing.T) *stack {
	t.Helper()

	mock := testutil.NewMockAPI()
	t.Cleanup(mock.Close)

	cfg := client.DefaultConfig(mock.URL(), "fwmon-integration/1.0")
	cfg.RateLimit = 0
	api, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { api.Close() })

	rdb := setupRedis(t)
	return &stack{
		mock:  mock,
		api:   api,
		redis: rdb,
		store: cache.NewRedisStore(rdb, time.Minute),
	}
}

func (s *stack) controller(t *testing.T, view client.View) *controller.Controller {
	t.Helper()

	fetcher, err := s.api.Fetcher(view)
	if err != nil {
		t.Fatalf("Fetcher(%s) error = %v", view, err)
	}
	cfg := controller.DefaultConfig(string(view))
	cfg.Fetch = fetcher
	cfg.Enrich = cache.NewCachedLookup(s.api.Lookup(), s.store)
	cfg.Mutate = s.api
	cfg.PerPage = 3
	cfg.AutoReload = false

	c, err := controller.New(cfg)
	if err != nil {
		t.Fatalf("controller.New() error = %v", err)
	}
	t.Cleanup(c.Close)
	c.Start()
	return c
}

func waitFor(t *testing.T, c *controller.Controller, what string, cond func(controller.ViewModel) bool) controller.ViewModel {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		vm := c.Snapshot()
		if !vm.Loading && cond(vm) {
			return vm
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last = %+v", what, vm)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitRecord(t *testing.T, c *controller.Controller, key string) cache.Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := c.RequestEnrichment(key)
		if rec.Status != cache.StatusPending {
			return rec
		}
		if time.Now().After(deadline) {
			t.Fatalf("enrichment for %s still pending", key)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestListPagingFlow(t *testing.T) {
	s := setupStack(t)
	for _, ip := range []string{"10.1.0.1", "10.1.0.2", "10.1.0.3", "10.1.0.4"} {
		s.mock.AddIndicator(ip, "edge-1", 2)
	}

	c := s.controller(t, client.ViewSuspicious)
	vm := waitFor(t, c, "first page", func(vm controller.ViewModel) bool { return vm.Pagination.Total == 4 })
	if len(vm.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(vm.Rows))
	}

	c.SetPage(2)
	vm = waitFor(t, c, "page 2", func(vm controller.ViewModel) bool { return vm.Pagination.Page == 2 })
	if len(vm.Rows) != 1 || vm.Rows[0].Key != "10.1.0.4" {
		t.Errorf("page 2 rows = %+v", vm.Rows)
	}

	c.SetFilter(pagination.Filter{Address: "10.1.0.2"})
	vm = waitFor(t, c, "filtered", func(vm controller.ViewModel) bool { return vm.Pagination.Total == 1 })
	if vm.Pagination.Page != 1 {
		t.Errorf("page = %d, want 1 after filter change", vm.Pagination.Page)
	}
}

func TestEnrichmentSharedThroughRedis(t *testing.T) {
	s := setupStack(t)
	s.mock.SetEnrichment("10.2.0.1", testutil.Tag{Value: "scanner", Color: "orange", Risk: 40})

	first := s.controller(t, client.ViewSuspicious)
	rec := waitRecord(t, first, "10.2.0.1")
	if !rec.HasData() || rec.Payload.RiskScore() != 40 {
		t.Fatalf("record = %+v", rec)
	}

	stored, err := s.store.Get(context.Background(), cache.EnrichmentKey("10.2.0.1"))
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if stored.Payload == nil || len(stored.Payload.Tags) != 1 {
		t.Errorf("stored = %+v", stored)
	}

	// A second controller has an empty memory cache and must be served
	// from Redis without another upstream call.
	before := s.mock.GetPathCount(client.PathEnrich + "10.2.0.1")
	second := s.controller(t, client.ViewBlocked)
	rec = waitRecord(t, second, "10.2.0.1")
	if !rec.HasData() {
		t.Fatalf("second record = %+v", rec)
	}
	if after := s.mock.GetPathCount(client.PathEnrich + "10.2.0.1"); after != before {
		t.Errorf("upstream enrich calls = %d, want %d", after, before)
	}
}

func TestNotFoundStoredAndInvalidated(t *testing.T) {
	s := setupStack(t)
	c := s.controller(t, client.ViewSuspicious)

	rec := waitRecord(t, c, "10.3.0.1")
	if rec.Status != cache.StatusReady || rec.Payload != nil {
		t.Fatalf("record = %+v, want ready without payload", rec)
	}
	if _, err := s.store.Get(context.Background(), cache.EnrichmentKey("10.3.0.1")); err != nil {
		t.Fatalf("not-found answer was not stored: %v", err)
	}

	if !c.InvalidateEnrichment("10.3.0.1") {
		t.Errorf("InvalidateEnrichment() = false, want true")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		_, err := s.store.Get(context.Background(), cache.EnrichmentKey("10.3.0.1"))
		if errors.Is(err, cache.ErrCacheMiss) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stored entry not forgotten: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestBlockMovesAddressToBlockedView(t *testing.T) {
	s := setupStack(t)
	s.mock.AddIndicator("10.4.0.1", "edge-4", 9)

	suspicious := s.controller(t, client.ViewSuspicious)
	blocked := s.controller(t, client.ViewBlocked)

	waitFor(t, suspicious, "row", func(vm controller.ViewModel) bool { return len(vm.Rows) == 1 })
	waitFor(t, blocked, "empty blocked view", func(vm controller.ViewModel) bool { return vm.Pagination.Total == 0 })

	if err := suspicious.MutateRow(context.Background(), "10.4.0.1", controller.ActionBlock); err != nil {
		t.Fatalf("MutateRow() error = %v", err)
	}
	waitFor(t, suspicious, "blocked flag", func(vm controller.ViewModel) bool {
		return len(vm.Rows) == 1 && vm.Rows[0].Blocked
	})

	blocked.ForceRefresh()
	vm := waitFor(t, blocked, "blocked row", func(vm controller.ViewModel) bool { return vm.Pagination.Total == 1 })
	if vm.Rows[0].Key != "10.4.0.1" || vm.Rows[0].Hostname != "edge-4" {
		t.Errorf("blocked row = %+v", vm.Rows[0])
	}
	if vm.Rows[0].Attributes["executed_at"] == "" {
		t.Errorf("blocked row missing executed_at")
	}
}

func TestRateLimitedFetchRecovers(t *testing.T) {
	s := setupStack(t)
	s.mock.AddIndicator("10.5.0.1", "edge-5", 1)
	s.mock.SetResponse(client.PathSuspicious, testutil.NewRateLimitResponse(1))

	c := s.controller(t, client.ViewSuspicious)
	vm := waitFor(t, c, "error", func(vm controller.ViewModel) bool { return vm.HasError() })
	if !errors.Is(vm.Error, controller.ErrTransientFetch) {
		t.Errorf("error = %v, want transient fetch", vm.Error)
	}
	if state := s.api.Gate().State(); !state.IsHeld(time.Now()) {
		t.Errorf("gate not held after 429")
	}

	s.mock.ClearHandler(client.PathSuspicious)
	start := time.Now()
	c.ForceRefresh()
	vm = waitFor(t, c, "recovery", func(vm controller.ViewModel) bool { return !vm.HasError() && len(vm.Rows) == 1 })
	if waited := time.Since(start); waited < 500*time.Millisecond {
		t.Errorf("refresh finished after %v, want it to wait out the hold", waited)
	}
}
