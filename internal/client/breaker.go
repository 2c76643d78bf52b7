package client

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/placemark-weather/internal/observability"
)

// BreakerComponent is the component label used for placemark API breaker metrics.
const BreakerComponent = "placemark_api"

// BreakerConfig holds circuit breaker parameters for the placemark API.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// NewCircuitBreaker builds a breaker that opens after FailureThreshold consecutive
// failures and reports transitions to metrics and logs.
func NewCircuitBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	observability.CircuitBreakerState.WithLabelValues(BreakerComponent).Set(0)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        BreakerComponent,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
			logger.Info("circuit breaker state change",
				zap.String("component", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}
