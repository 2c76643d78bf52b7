package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/placemark-weather/internal/models"
	"github.com/kjstillabower/placemark-weather/internal/observability"
)

// PlacemarkClient reads placemarks and their weather from the placemark API.
type PlacemarkClient interface {
	GetWeather(ctx context.Context, placemarkID, token string) (*models.WeatherResponse, error)
	GetPlacemark(ctx context.Context, placemarkID, token string) (*models.Placemark, error)
}

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrPlacemarkNotFound = errors.New("placemark not found")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

const (
	endpointWeather   = "weather"
	endpointPlacemark = "placemark"
)

type APIClient struct {
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *gobreaker.CircuitBreaker
}

func NewAPIClient(baseURL string, timeout time.Duration) (*APIClient, error) {
	return NewAPIClientWithRetry(baseURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewAPIClientWithRetry(baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*APIClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid placemark API URL %q", baseURL)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &APIClient{
		baseURL:        strings.TrimRight(u.String(), "/"),
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wraps every upstream attempt in cb. Nil disables the breaker.
func (c *APIClient) SetCircuitBreaker(cb *gobreaker.CircuitBreaker) {
	c.breaker = cb
}

// BreakerState reports the breaker state ("closed", "half-open", "open"), or "disabled".
func (c *APIClient) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}

// GetWeather fetches the forecast attached to a placemark. A JSON null body yields an
// empty response with no daily or hourly record.
func (c *APIClient) GetWeather(ctx context.Context, placemarkID, token string) (*models.WeatherResponse, error) {
	var out models.WeatherResponse
	if err := c.get(ctx, endpointWeather, "/api/placemarks/"+url.PathEscape(placemarkID)+"/weather", token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPlacemark fetches the placemark summary.
func (c *APIClient) GetPlacemark(ctx context.Context, placemarkID, token string) (*models.Placemark, error) {
	var out models.Placemark
	if err := c.get(ctx, endpointPlacemark, "/api/placemarks/"+url.PathEscape(placemarkID), token, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) get(ctx context.Context, endpoint, path, token string, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.PlacemarkAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			observability.LoggerFromContext(ctx).Debug("retrying placemark API call",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := c.guardedCall(ctx, endpoint, path, token)
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				err = fmt.Errorf("parse %s response: %w", endpoint, err)
				observability.PlacemarkAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
				return err
			}
			return nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			observability.PlacemarkAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
			return err
		}
	}

	observability.PlacemarkAPIErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

// guardedCall runs one attempt through the circuit breaker. Client errors (401, 403, 404)
// are returned out of band so they never count as breaker failures.
func (c *APIClient) guardedCall(ctx context.Context, endpoint, path, token string) ([]byte, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, endpoint, path, token)
	}

	var clientErr error
	res, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.callAPI(ctx, endpoint, path, token)
		if err != nil && (errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrPlacemarkNotFound)) {
			clientErr = err
			return nil, nil
		}
		return body, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	if clientErr != nil {
		return nil, clientErr
	}
	return res.([]byte), nil
}

func (c *APIClient) callAPI(ctx context.Context, endpoint, path, token string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, token)
	if err != nil {
		observability.PlacemarkAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.PlacemarkAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.PlacemarkAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.PlacemarkAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.PlacemarkAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func (c *APIClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "http request failed") {
		return true
	}

	return false
}

func (c *APIClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *APIClient) buildRequest(ctx context.Context, path, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrPlacemarkNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
