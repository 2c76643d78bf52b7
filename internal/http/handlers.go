package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/placemark-weather/internal/client"
	"github.com/kjstillabower/placemark-weather/internal/models"
	"github.com/kjstillabower/placemark-weather/internal/observability"
	"github.com/kjstillabower/placemark-weather/internal/service"
	"github.com/kjstillabower/placemark-weather/internal/traffic"
	"github.com/kjstillabower/placemark-weather/internal/validation"
)

// WeatherService is the subset of service.WeatherService the handlers depend on.
type WeatherService interface {
	GetWeather(ctx context.Context, placemarkID, token string) (*models.WeatherResponse, error)
	GetView(ctx context.Context, placemarkID, token string, heatmapDays int) (*service.PlacemarkView, error)
	GetHeatmap(ctx context.Context, placemarkID, token string, heatmapDays int) (*service.HeatmapView, error)
}

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// BreakerState, when set, reports the upstream circuit breaker state.
	BreakerState func() string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService WeatherService
	healthConfig   *HealthConfig
	tracker        *traffic.Tracker
	logger         *zap.Logger
	defaultToken   string
	shuttingDown   atomic.Bool

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. A nil tracker gets a fresh one.
func NewHandler(weatherService WeatherService, healthConfig *HealthConfig, tracker *traffic.Tracker, logger *zap.Logger) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker(0)
	}
	return &Handler{
		weatherService: weatherService,
		healthConfig:   healthConfig,
		tracker:        tracker,
		logger:         logger,
	}
}

// SetDefaultToken sets the token forwarded upstream when a request carries no Authorization header.
func (h *Handler) SetDefaultToken(token string) {
	h.defaultToken = token
}

// SetShuttingDown flips the health endpoint to shutting-down.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// IsShuttingDown reports whether shutdown has begun.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

// GetWeather handles GET /placemarks/{id}/weather and passes the upstream response through.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	id, ok := h.placemarkID(w, r)
	if !ok {
		return
	}
	result, err := h.weatherService.GetWeather(r.Context(), id, h.token(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.tracker.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// GetCharts handles GET /placemarks/{id}/weather/charts?days=N.
func (h *Handler) GetCharts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.placemarkID(w, r)
	if !ok {
		return
	}
	days, ok := h.days(w, r)
	if !ok {
		return
	}
	view, err := h.weatherService.GetView(r.Context(), id, h.token(r), days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.tracker.RecordSuccess()
	writeJSON(w, http.StatusOK, view)
}

// GetHeatmap handles GET /placemarks/{id}/weather/heatmap?days=N. An absent heatmap is a
// 200 with "windHeatmap": null.
func (h *Handler) GetHeatmap(w http.ResponseWriter, r *http.Request) {
	id, ok := h.placemarkID(w, r)
	if !ok {
		return
	}
	days, ok := h.days(w, r)
	if !ok {
		return
	}
	view, err := h.weatherService.GetHeatmap(r.Context(), id, h.token(r), days)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.tracker.RecordSuccess()
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) placemarkID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := validation.ValidatePlacemarkID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PLACEMARK_ID", err.Error())
		return "", false
	}
	return id, true
}

// days returns 0 when the query omits days so the service applies its configured default.
func (h *Handler) days(w http.ResponseWriter, r *http.Request) (int, bool) {
	days, err := validation.ParseDays(r.URL.Query().Get("days"), 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DAYS", err.Error())
		return 0, false
	}
	return days, true
}

func (h *Handler) token(r *http.Request) string {
	if t := bearerToken(r); t != "" {
		return t
	}
	return h.defaultToken
}

// bearerToken returns the credential from the Authorization header with any "Bearer " prefix removed.
func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) >= 7 && strings.EqualFold(auth[:7], "bearer ") {
		auth = strings.TrimSpace(auth[7:])
	}
	return auth
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "circuit_open" || result.reason == "error_rate_breach" {
		checks["placemarkApi"] = "unhealthy"
	} else {
		checks["placemarkApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "placemark-weather",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > circuit open > error rate breach > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.BreakerState != nil && h.healthConfig.BreakerState() == "open" {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 &&
		h.tracker.ErrorRateExceeds(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeServiceError maps service errors onto the error envelope. Only upstream-side
// failures count toward the degraded error rate.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	switch {
	case errors.Is(err, client.ErrPlacemarkNotFound):
		h.tracker.RecordSuccess()
		writeError(w, r, http.StatusNotFound, "PLACEMARK_NOT_FOUND", "Placemark not found")
	case errors.Is(err, client.ErrUnauthorized):
		h.tracker.RecordSuccess()
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Placemark API rejected the token")
	case errors.Is(err, client.ErrRateLimited):
		h.tracker.RecordError()
		writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Placemark API rate limit exceeded")
	default:
		h.tracker.RecordError()
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	}
	logger.Debug("upstream error", zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
}
