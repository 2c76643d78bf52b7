package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/placemark-weather/internal/cache"
	"github.com/kjstillabower/placemark-weather/internal/charts"
	"github.com/kjstillabower/placemark-weather/internal/client"
	"github.com/kjstillabower/placemark-weather/internal/models"
	"github.com/kjstillabower/placemark-weather/internal/observability"
)

// WeatherService fetches placemark weather with a cache-aside pattern and builds the
// chart and heatmap views from it. Only raw upstream responses are cached; views are
// rebuilt per request against the current date.
type WeatherService struct {
	client      client.PlacemarkClient
	cache       cache.Cache
	ttl         time.Duration
	coalescer   *requestCoalescer // nil if disabled
	heatmapDays int
	now         func() time.Time
}

// PlacemarkView is the chart view of one placemark's weather. Placemark is omitted when
// the placemark lookup fails.
type PlacemarkView struct {
	Placemark *models.Placemark `json:"placemark,omitempty"`
	charts.WeatherView
}

// HeatmapView wraps a possibly absent heatmap so absence encodes as {"windHeatmap": null}.
type HeatmapView struct {
	Today       string                  `json:"today"`
	WindHeatmap *charts.WindHeatmapGrid `json:"windHeatmap"`
}

// NewWeatherService creates a WeatherService. ttl is the cache lifetime of upstream
// responses; coalesceEnabled and coalesceTimeout configure request coalescing
// (disabled if timeout is 0).
func NewWeatherService(client client.PlacemarkClient, cache cache.Cache, ttl time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *WeatherService {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &WeatherService{
		client:      client,
		cache:       cache,
		ttl:         ttl,
		coalescer:   coalescer,
		heatmapDays: charts.DefaultHeatmapDays,
		now:         time.Now,
	}
}

// SetHeatmapDays sets the day count used when a request does not ask for one.
func (s *WeatherService) SetHeatmapDays(days int) {
	if days > 0 {
		s.heatmapDays = days
	}
}

// SetClock replaces the clock that decides "today".
func (s *WeatherService) SetClock(now func() time.Time) {
	s.now = now
}

// Today returns the current UTC calendar date as YYYY-MM-DD.
func (s *WeatherService) Today() string {
	return charts.TodayISO(s.now())
}

// GetWeather returns the upstream weather response for a placemark, serving from cache
// when fresh. Concurrent misses for the same placemark and token share one upstream call.
func (s *WeatherService) GetWeather(ctx context.Context, placemarkID, token string) (*models.WeatherResponse, error) {
	key := cacheKey(placemarkID, token)
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		logger.Warn("cache get failed", zap.String("placemark_id", placemarkID), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("weather").Inc()
		logger.Debug("cache hit", zap.String("placemark_id", placemarkID))
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues("weather").Inc()
	logger.Debug("cache miss, fetching upstream", zap.String("placemark_id", placemarkID))

	var data *models.WeatherResponse
	var upstreamErr error
	if s.coalescer != nil {
		var shared bool
		data, shared, upstreamErr = s.coalescer.GetOrDo(ctx, key, func(ctx context.Context) (*models.WeatherResponse, error) {
			return s.fetchAndStore(ctx, key, placemarkID, token)
		})
		if shared {
			observability.RequestCoalescingHitsTotal.Inc()
		}
	} else {
		data, upstreamErr = s.fetchAndStore(ctx, key, placemarkID, token)
	}
	if upstreamErr != nil {
		return nil, fmt.Errorf("fetch weather for placemark %s: %w", placemarkID, upstreamErr)
	}

	logger.Debug("weather served", zap.String("placemark_id", placemarkID), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return data, nil
}

// RefreshWeather fetches a placemark's weather from upstream and overwrites the cache entry.
func (s *WeatherService) RefreshWeather(ctx context.Context, placemarkID, token string) error {
	if _, err := s.fetchAndStore(ctx, cacheKey(placemarkID, token), placemarkID, token); err != nil {
		return fmt.Errorf("refresh weather for placemark %s: %w", placemarkID, err)
	}
	return nil
}

func (s *WeatherService) fetchAndStore(ctx context.Context, key, placemarkID, token string) (*models.WeatherResponse, error) {
	data, err := s.client.GetWeather(ctx, placemarkID, token)
	if err != nil {
		return nil, err
	}
	if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.LoggerFromContext(ctx).Warn("cache set failed", zap.String("placemark_id", placemarkID), zap.Error(setErr))
	}
	return data, nil
}

// GetView builds the chart view for a placemark. heatmapDays <= 0 uses the configured default.
// A failed placemark lookup is logged and leaves Placemark nil.
func (s *WeatherService) GetView(ctx context.Context, placemarkID, token string, heatmapDays int) (*PlacemarkView, error) {
	resp, err := s.GetWeather(ctx, placemarkID, token)
	if err != nil {
		return nil, err
	}

	view := &PlacemarkView{WeatherView: charts.BuildWeatherView(resp, s.Today(), s.days(heatmapDays))}
	for kind, chart := range view.Charts() {
		observability.RecordChart(kind, chart != nil)
		if chart == nil {
			observability.LoggerFromContext(ctx).Debug("chart absent", zap.String("placemark_id", placemarkID), zap.String("kind", kind))
		}
	}
	observability.RecordHeatmap(view.WindHeatmap != nil, view.WindHeatmap.Filled())

	pm, err := s.client.GetPlacemark(ctx, placemarkID, token)
	if err != nil {
		observability.LoggerFromContext(ctx).Debug("placemark lookup failed", zap.String("placemark_id", placemarkID), zap.Error(err))
	} else {
		view.Placemark = pm
	}
	return view, nil
}

// GetHeatmap builds only the wind heatmap for a placemark.
func (s *WeatherService) GetHeatmap(ctx context.Context, placemarkID, token string, heatmapDays int) (*HeatmapView, error) {
	resp, err := s.GetWeather(ctx, placemarkID, token)
	if err != nil {
		return nil, err
	}
	today := s.Today()
	grid := charts.BuildWindHeatmap(resp, today, s.days(heatmapDays))
	observability.RecordHeatmap(grid != nil, grid.Filled())
	return &HeatmapView{Today: today, WindHeatmap: grid}, nil
}

func (s *WeatherService) days(n int) int {
	if n > 0 {
		return n
	}
	return s.heatmapDays
}

// cacheKey keys a response by placemark id and an FNV-1a hash of the token.
func cacheKey(placemarkID, token string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return placemarkID + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
