package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/placemark-weather/internal/cache"
	"github.com/kjstillabower/placemark-weather/internal/client"
	"github.com/kjstillabower/placemark-weather/internal/config"
	httphandler "github.com/kjstillabower/placemark-weather/internal/http"
	"github.com/kjstillabower/placemark-weather/internal/observability"
	"github.com/kjstillabower/placemark-weather/internal/service"
	"github.com/kjstillabower/placemark-weather/internal/traffic"
)

// warmTimeout bounds the startup warm and each scheduled run.
const warmTimeout = 30 * time.Second

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	placemarkClient, err := client.NewAPIClientWithRetry(
		cfg.PlacemarkAPIURL,
		cfg.PlacemarkAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("placemark client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		placemarkClient.SetCircuitBreaker(client.NewCircuitBreaker(client.BreakerConfig{
			MaxRequests:      cfg.CircuitBreakerMaxRequests,
			Interval:         cfg.CircuitBreakerInterval,
			Timeout:          cfg.CircuitBreakerTimeout,
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		}, logger))
		logger.Info("circuit breaker enabled",
			zap.Uint32("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	weatherService := service.NewWeatherService(placemarkClient, cacheSvc, cfg.CacheTTL, cfg.CoalesceEnabled, cfg.CoalesceTimeout)
	weatherService.SetHeatmapDays(cfg.HeatmapDays)

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		BreakerState:     placemarkClient.BreakerState,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, healthConfig, traffic.NewTracker(0), logger)
	handler.SetDefaultToken(cfg.PlacemarkAPIToken)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	if len(cfg.WarmPlacemarkIDs) > 0 {
		warmer := cache.NewCacheWarmer(weatherService, cfg.PlacemarkAPIToken, warmTimeout, logger)
		warmCtx, warmCancel := context.WithTimeout(appCtx, warmTimeout)
		if err := warmer.Warm(warmCtx, cfg.WarmPlacemarkIDs); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()

		scheduler, err := warmer.Schedule(appCtx, cfg.WarmSchedule, cfg.WarmPlacemarkIDs)
		if err != nil {
			logger.Fatal("cache warming schedule", zap.Error(err))
		}
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
		logger.Info("cache warming scheduled",
			zap.String("schedule", cfg.WarmSchedule),
			zap.Int("placemarks", len(cfg.WarmPlacemarkIDs)))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	appCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	if err := observability.FlushLogger(logger); err != nil {
		fmt.Fprintf(os.Stderr, "logger flush: %v\n", err)
	}
}
