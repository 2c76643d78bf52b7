package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/placemark-weather/internal/observability"
)

// WeatherRefresher is implemented by the service layer to fetch a placemark's weather
// from upstream and store it in the cache. Used by CacheWarmer to avoid a circular
// dependency on the service package.
type WeatherRefresher interface {
	RefreshWeather(ctx context.Context, placemarkID, token string) error
}

// CacheWarmer warms the cache by prefetching weather for a list of placemarks.
type CacheWarmer struct {
	refresher WeatherRefresher
	token     string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that refreshes placemarks with token.
// timeout bounds each scheduled run; zero means no bound.
func NewCacheWarmer(refresher WeatherRefresher, token string, timeout time.Duration, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{refresher: refresher, token: token, timeout: timeout, logger: logger}
}

// Warm refreshes each placemark concurrently. Returns an aggregated error if any failed.
func (w *CacheWarmer) Warm(ctx context.Context, placemarkIDs []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("placemarks", len(placemarkIDs)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(placemarkIDs))
	for _, id := range placemarkIDs {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.refresher.RefreshWeather(ctx, id, w.token); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", id, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("placemarks", len(placemarkIDs)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// Schedule registers a Warm run on spec (standard five-field cron or a descriptor such as
// "@every 10m") and returns the stopped scheduler. Overlapping runs are skipped.
// The caller starts it and stops it on shutdown.
func (w *CacheWarmer) Schedule(ctx context.Context, spec string, placemarkIDs []string) (*cron.Cron, error) {
	logger := cronLogger{w.logger.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	_, err := c.AddFunc(spec, func() {
		runCtx := ctx
		if w.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, w.timeout)
			defer cancel()
		}
		if err := w.Warm(runCtx, placemarkIDs); err != nil {
			w.logger.Warn("scheduled cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule cache warming %q: %w", spec, err)
	}
	return c, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
