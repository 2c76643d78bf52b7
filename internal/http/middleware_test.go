package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/placemark-weather/internal/models"
	"github.com/kjstillabower/placemark-weather/internal/observability"
	"github.com/kjstillabower/placemark-weather/internal/traffic"
)

func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	var seen string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	header := w.Header().Get("X-Correlation-ID")
	if header == "" {
		t.Fatal("X-Correlation-ID header missing")
	}
	if len(header) != 36 {
		t.Errorf("generated id %q is not a uuid", header)
	}
	if seen != header {
		t.Errorf("context correlation id = %q, want %q", seen, header)
	}
}

func TestCorrelationIDMiddleware_PropagatesIDAndLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		observability.LoggerFromContext(r.Context()).Info("handled")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Errorf("X-Correlation-ID = %q, want abc-123", got)
	}
	entries := logs.FilterMessage("handled").All()
	if len(entries) != 1 {
		t.Fatalf("want 1 log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["correlation_id"]; got != "abc-123" {
		t.Errorf("correlation_id field = %v, want abc-123", got)
	}
}

// TestCorrelationIDMiddleware_ErrorEnvelope verifies the error requestId matches the response header.
func TestCorrelationIDMiddleware_ErrorEnvelope(t *testing.T) {
	handler := NewHandler(&mockWeatherService{}, nil, nil, zap.NewNop())
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/placemarks/{id}/weather", handler.GetWeather)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/placemarks/bad!id/weather", nil))

	body := decodeError(t, w)
	if body.Error.RequestID == "" || body.Error.RequestID != w.Header().Get("X-Correlation-ID") {
		t.Errorf("requestId = %q, header = %q", body.Error.RequestID, w.Header().Get("X-Correlation-ID"))
	}
}

func TestGetRoute_UsesTemplate(t *testing.T) {
	var route string
	router := mux.NewRouter()
	router.HandleFunc("/placemarks/{id}/weather/charts", func(w http.ResponseWriter, r *http.Request) {
		route = getRoute(r)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/placemarks/pm-42/weather/charts", nil))

	if route != "/placemarks/{id}/weather/charts" {
		t.Errorf("getRoute = %q, want /placemarks/{id}/weather/charts", route)
	}
}

func TestGetRoute_Unmatched(t *testing.T) {
	if got := getRoute(httptest.NewRequest(http.MethodGet, "/nowhere", nil)); got != "unmatched" {
		t.Errorf("getRoute = %q, want unmatched", got)
	}
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/teapot", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/teapot", nil))

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTeapot)
	}
	if InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d after request, want 0", InFlightCount())
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	var during int64
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		during = InFlightCount()
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))

	if during < 1 {
		t.Errorf("InFlightCount() during request = %d, want >= 1", during)
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 404: "4xx", 429: "4xx", 503: "5xx"}
	for code, want := range tests {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

// TestTimeoutMiddleware_CancelsContextAfterTimeout verifies a slow upstream surfaces as 503.
func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	svc := &mockWeatherService{block: make(chan struct{})}
	defer close(svc.block)
	tracker := traffic.NewTracker(0)
	handler := NewHandler(svc, nil, tracker, zap.NewNop())

	router := mux.NewRouter()
	router.Use(TimeoutMiddleware(50 * time.Millisecond))
	router.HandleFunc("/placemarks/{id}/weather", handler.GetWeather)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/placemarks/pm-1/weather", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if errs, _ := tracker.ErrorRate(time.Minute); errs != 1 {
		t.Errorf("tracked errors = %d, want 1", errs)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	tracker := traffic.NewTracker(0)
	handler := NewHandler(&mockWeatherService{weather: &models.WeatherResponse{}}, nil, tracker, zap.NewNop())

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(RateLimitMiddleware(rate.NewLimiter(1, 2), tracker))
	router.HandleFunc("/placemarks/{id}/weather", handler.GetWeather)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/placemarks/pm-1/weather", nil))

		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		body := decodeError(t, w)
		if body.Error.Code != "RATE_LIMITED" {
			t.Errorf("error.code = %q, want RATE_LIMITED", body.Error.Code)
		}
		if body.Error.RequestID == "" {
			t.Error("error.requestId is empty")
		}
	}
	if got := tracker.DenialCount(time.Minute); got != 1 {
		t.Errorf("DenialCount = %d, want 1", got)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	router := mux.NewRouter()
	router.Use(RateLimitMiddleware(nil, nil))
	router.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {})

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}
}
