package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Placemark API calls by endpoint (weather, placemark) and status label.
	PlacemarkAPICallsTotal *prometheus.CounterVec

	// Placemark API latency. Watch for: p95 > 2s (upstream degradation).
	PlacemarkAPIDuration *prometheus.HistogramVec

	// Retry attempts against the placemark API. Watch for: high retries = unstable upstream.
	PlacemarkAPIRetriesTotal prometheus.Counter

	// Upstream errors by stable category (see client.CategorizeError).
	PlacemarkAPIErrorsTotal *prometheus.CounterVec

	// Cache hits and misses for raw weather responses.
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend failures by operation (get, set) and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Requests that joined an in-flight upstream fetch instead of issuing their own.
	RequestCoalescingHitsTotal prometheus.Counter

	// Charts built per kind (temperature_past, rain_future, ...) and outcome (present, absent).
	ChartsBuiltTotal *prometheus.CounterVec

	// Filled cells per wind heatmap. Watch for: drops to zero = hourly feed regression.
	HeatmapCellsFilled prometheus.Histogram

	// Heatmaps not produced because the hourly feed was empty or had no current days.
	HeatmapAbsentTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Scheduled cache warming runs, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	PlacemarkAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemarkApiCallsTotal",
			Help: "Total number of placemark API calls",
		},
		[]string{"endpoint", "status"},
	)
	PlacemarkAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "placemarkApiDurationSeconds",
			Help:    "Placemark API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	PlacemarkAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "placemarkApiRetriesTotal",
			Help: "Total number of retry attempts for placemark API calls",
		},
	)
	PlacemarkAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placemarkApiErrorsTotal",
			Help: "Placemark API errors by category",
		},
		[]string{"category"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by joining an in-flight upstream fetch",
		},
	)
	ChartsBuiltTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartsBuiltTotal",
			Help: "Charts built per kind and outcome (present, absent)",
		},
		[]string{"kind", "outcome"},
	)
	HeatmapCellsFilled = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "heatmapCellsFilled",
			Help:    "Number of filled cells per wind heatmap",
			Buckets: []float64{0, 24, 48, 96, 168, 240, 336, 384},
		},
	)
	HeatmapAbsentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heatmapAbsentTotal",
			Help: "Wind heatmaps not produced (no hourly data or no current days)",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed placemark",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30},
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		PlacemarkAPICallsTotal, PlacemarkAPIDuration, PlacemarkAPIRetriesTotal, PlacemarkAPIErrorsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, RequestCoalescingHitsTotal,
		ChartsBuiltTotal, HeatmapCellsFilled, HeatmapAbsentTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
	)
}

// RecordChart counts one built chart of the given kind; absent charts are counted separately.
func RecordChart(kind string, present bool) {
	outcome := "absent"
	if present {
		outcome = "present"
	}
	ChartsBuiltTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordHeatmap observes the filled cell count, or counts an absent heatmap.
func RecordHeatmap(present bool, filled int) {
	if !present {
		HeatmapAbsentTotal.Inc()
		return
	}
	HeatmapCellsFilled.Observe(float64(filled))
}

// CircuitBreakerStateValue maps a breaker state name to the gauge value.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordCircuitBreakerTransition updates the state gauge and counts the transition.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(CircuitBreakerStateValue(to))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
