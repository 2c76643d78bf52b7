package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/placemark-weather/internal/observability"
)

// NewRouter wires the service routes. Rate limiting and the request timeout apply only
// under /placemarks.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	placemarks := router.PathPrefix("/placemarks").Subrouter()
	placemarks.Use(RateLimitMiddleware(limiter, h.tracker))
	if requestTimeout > 0 {
		placemarks.Use(TimeoutMiddleware(requestTimeout))
	}
	placemarks.HandleFunc("/{id}/weather", h.GetWeather).Methods(http.MethodGet)
	placemarks.HandleFunc("/{id}/weather/charts", h.GetCharts).Methods(http.MethodGet)
	placemarks.HandleFunc("/{id}/weather/heatmap", h.GetHeatmap).Methods(http.MethodGet)
	return router
}
