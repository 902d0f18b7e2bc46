package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/fwmon-client/pkg/cache"
	"github.com/Sternrassler/fwmon-client/pkg/client"
	"github.com/Sternrassler/fwmon-client/pkg/config"
	"github.com/Sternrassler/fwmon-client/pkg/controller"
	"github.com/Sternrassler/fwmon-client/pkg/logging"
)

func main() {
	configPath := flag.String("config", getEnv("FWMON_CONFIG", ""), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fwmon: %v\n", err)
		os.Exit(1)
	}

	cfg.Log.Output = os.Stderr
	logging.Setup(cfg.Log)
	logger := logging.NewLogger("fwmon")

	if err := run(cfg); err != nil {
		logger.Error().Err(err).Msg("Server failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := logging.NewLogger("fwmon")

	apiCfg := client.DefaultConfig(cfg.API.BaseURL, cfg.API.UserAgent)
	apiCfg.APIKey = cfg.API.APIKey
	apiCfg.Timeout = cfg.API.Timeout
	apiCfg.RateLimit = cfg.API.RateLimit
	apiCfg.Burst = cfg.API.Burst

	api, err := client.New(apiCfg)
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}
	defer api.Close()

	lookup := api.Lookup()
	if cfg.API.GeoURL != "" {
		geo, err := client.NewGeolocator(cfg.API.GeoURL, cfg.API.UserAgent)
		if err != nil {
			return err
		}
		defer geo.Close()
		lookup = cache.NewCountryLookup(lookup, geo.Country)
	}
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		defer redisClient.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
		lookup = cache.NewCachedLookup(lookup, cache.NewRedisStore(redisClient, cfg.Redis.TTL))
	}

	views, err := buildViews(cfg, api, lookup)
	if err != nil {
		return err
	}
	defer closeViews(views)
	for _, c := range views {
		c.Start()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newRouter(&server{views: views, report: api.Report, logger: logger}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Listen).Str("api", cfg.API.BaseURL).Int("views", len(views)).Msg("Starting fwmon server")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

var newController = controller.New

// buildViews creates one controller per configured view. On error the
// controllers built so far are closed.
func buildViews(cfg *config.Config, api *client.Client, lookup cache.Lookup) (map[string]*controller.Controller, error) {
	views := make(map[string]*controller.Controller, len(cfg.Views))
	for _, vc := range cfg.Views {
		fetcher, err := api.Fetcher(client.View(vc.Name))
		if err != nil {
			closeViews(views)
			return nil, err
		}

		ccfg := controller.DefaultConfig(vc.Name)
		ccfg.Fetch = fetcher
		ccfg.PerPage = vc.PerPage
		ccfg.IntervalSeconds = vc.IntervalSeconds
		ccfg.AutoReload = vc.AutoReload
		ccfg.PrefetchEnrichment = vc.PrefetchEnrichment
		ccfg.MaxEnrichInFlight = cfg.MaxEnrichInFlight
		if client.View(vc.Name) != client.ViewActivity {
			ccfg.Enrich = lookup
		}
		if client.View(vc.Name) == client.ViewSuspicious {
			ccfg.Mutate = api
		}

		c, err := newController(ccfg)
		if err != nil {
			closeViews(views)
			return nil, fmt.Errorf("view %s: %w", vc.Name, err)
		}
		views[vc.Name] = c
	}
	return views, nil
}

func closeViews(views map[string]*controller.Controller) {
	for _, c := range views {
		c.Close()
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
