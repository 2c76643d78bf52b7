package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/placemark-weather/internal/cache"
	"github.com/kjstillabower/placemark-weather/internal/client"
	"github.com/kjstillabower/placemark-weather/internal/models"
	"github.com/kjstillabower/placemark-weather/internal/service"
	"github.com/kjstillabower/placemark-weather/internal/testhelpers"
	"github.com/kjstillabower/placemark-weather/internal/traffic"
)

var routerToday = time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC)

type stack struct {
	api     *testhelpers.PlacemarkAPI
	router  http.Handler
	handler *Handler
}

// newStack wires a real client, service and in-memory cache against a fake placemark API.
func newStack(t testing.TB, limiter *rate.Limiter) *stack {
	t.Helper()
	api := testhelpers.NewPlacemarkAPI(t, "secret")
	api.AddPlacemark(models.Placemark{ID: "pm-1", Name: "Dingle", CategoryName: "Coast", Latitude: 52.14, Longitude: -10.27},
		testhelpers.WeatherFixture(routerToday, 3, 7))

	apiClient, err := client.NewAPIClientWithRetry(api.URL(), time.Second, 1, time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("NewAPIClientWithRetry: %v", err)
	}
	svc := service.NewWeatherService(apiClient, cache.NewInMemoryCache(), time.Minute, true, time.Second)
	svc.SetClock(func() time.Time { return routerToday })
	svc.SetHeatmapDays(5)

	handler := NewHandler(svc, &HealthConfig{
		DegradedWindow:   time.Minute,
		DegradedErrorPct: 50,
		BreakerState:     apiClient.BreakerState,
	}, traffic.NewTracker(0), zap.NewNop())
	return &stack{api: api, router: NewRouter(handler, zap.NewNop(), limiter, 2*time.Second), handler: handler}
}

func (s *stack) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestRouter_Charts_EndToEnd(t *testing.T) {
	s := newStack(t, nil)

	w := s.get("/placemarks/pm-1/weather/charts", "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}

	var view service.PlacemarkView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Placemark == nil || view.Placemark.Name != "Dingle" {
		t.Errorf("placemark = %+v, want Dingle", view.Placemark)
	}
	if view.Today != "2024-01-10" {
		t.Errorf("today = %q, want 2024-01-10", view.Today)
	}
	wantPast := []string{"2024-01-07", "2024-01-08", "2024-01-09"}
	if diff := cmp.Diff(wantPast, view.Temperature.Past.Labels); diff != "" {
		t.Errorf("temperature past labels mismatch (-want +got):\n%s", diff)
	}
	if got := len(view.Rain.Future.Labels); got != 7 {
		t.Errorf("rain future labels = %d, want 7", got)
	}
	if view.Wind.Future == nil {
		t.Fatal("wind future chart missing")
	}
	if view.WindHeatmap == nil {
		t.Fatal("wind heatmap missing")
	}
	if got := len(view.WindHeatmap.Days); got != 5 {
		t.Errorf("heatmap days = %d, want configured 5", got)
	}
}

func TestRouter_Heatmap_EndToEnd(t *testing.T) {
	s := newStack(t, nil)

	w := s.get("/placemarks/pm-1/weather/heatmap?days=2", "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	var view service.HeatmapView
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	grid := view.WindHeatmap
	if grid == nil {
		t.Fatal("heatmap missing")
	}
	if diff := cmp.Diff([]string{"2024-01-10", "2024-01-11"}, grid.Days); diff != "" {
		t.Errorf("days mismatch (-want +got):\n%s", diff)
	}
	if grid.Unit != "km/h" {
		t.Errorf("unit = %q, want km/h", grid.Unit)
	}
	if got := *grid.Grid[13][1]; got != 113 {
		t.Errorf("grid[13][1] = %v, want 113", got)
	}
	if got := grid.Filled(); got != 48 {
		t.Errorf("filled = %d, want 48", got)
	}
}

func TestRouter_Heatmap_NoHourly(t *testing.T) {
	s := newStack(t, nil)
	s.api.SetWeatherJSON("pm-1", `{"daily":{"time":["2024-01-10"],"temperature_2m_max":[5]}}`)

	w := s.get("/placemarks/pm-1/weather/heatmap", "secret")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"today":"2024-01-10","windHeatmap":null}` {
		t.Errorf("body = %s", got)
	}
}

// TestRouter_Weather_CachedPerToken verifies the raw route is cached and the cache is keyed by token.
func TestRouter_Weather_CachedPerToken(t *testing.T) {
	s := newStack(t, nil)

	for i := 0; i < 3; i++ {
		if w := s.get("/placemarks/pm-1/weather", "secret"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}
	if got := s.api.WeatherCalls(); got != 1 {
		t.Errorf("upstream weather calls = %d, want 1", got)
	}

	if w := s.get("/placemarks/pm-1/weather", "other"); w.Code != http.StatusUnauthorized {
		t.Errorf("other token: status = %d, want 401", w.Code)
	}
	if got := s.api.WeatherCalls(); got != 2 {
		t.Errorf("upstream weather calls = %d, want 2", got)
	}
}

func TestRouter_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		token      string
		fail       int
		wantStatus int
		wantCode   string
	}{
		{"unknown placemark", "/placemarks/missing/weather/charts", "secret", 0, http.StatusNotFound, "PLACEMARK_NOT_FOUND"},
		{"bad token", "/placemarks/pm-1/weather/charts", "wrong", 0, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"upstream down", "/placemarks/pm-1/weather/heatmap", "secret", http.StatusBadGateway, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"upstream throttled", "/placemarks/pm-1/weather", "secret", http.StatusTooManyRequests, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"invalid days", "/placemarks/pm-1/weather/charts?days=99", "secret", 0, http.StatusBadRequest, "INVALID_DAYS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t, nil)
			s.api.FailWith(tt.fail)

			w := s.get(tt.path, tt.token)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeError(t, w)
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if body.Error.RequestID != w.Header().Get("X-Correlation-ID") {
				t.Errorf("requestId = %q, want header %q", body.Error.RequestID, w.Header().Get("X-Correlation-ID"))
			}
		})
	}
}

// TestRouter_Health_DegradesOnUpstreamErrors verifies upstream failures flip /health to degraded.
func TestRouter_Health_DegradesOnUpstreamErrors(t *testing.T) {
	s := newStack(t, nil)

	if w := s.get("/health", ""); w.Code != http.StatusOK {
		t.Fatalf("initial health = %d, want 200", w.Code)
	}

	s.api.FailWith(http.StatusInternalServerError)
	for i := 0; i < 3; i++ {
		s.get("/placemarks/pm-1/weather", "secret")
	}

	w := s.get("/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health = %d, want 503", w.Code)
	}
	var body healthBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}

	s.handler.SetShuttingDown(true)
	if err := json.NewDecoder(s.get("/health", "").Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "shutting-down" {
		t.Errorf("status = %q, want shutting-down", body.Status)
	}
}

func TestRouter_RateLimitOnlyOnPlacemarks(t *testing.T) {
	s := newStack(t, rate.NewLimiter(rate.Every(time.Hour), 1))

	if w := s.get("/placemarks/pm-1/weather", "secret"); w.Code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", w.Code)
	}
	if w := s.get("/placemarks/pm-1/weather", "secret"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", w.Code)
	}
	for i := 0; i < 3; i++ {
		if w := s.get("/health", ""); w.Code != http.StatusOK {
			t.Errorf("health %d = %d, want 200", i, w.Code)
		}
	}
}

func TestRouter_Metrics(t *testing.T) {
	s := newStack(t, nil)
	s.get("/placemarks/pm-1/weather/charts", "secret")

	w := s.get("/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`httpRequestsTotal{method="GET",route="/placemarks/{id}/weather/charts",statusCode="2xx"}`,
		"chartsBuiltTotal",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	s := newStack(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/placemarks/pm-1/weather", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}
