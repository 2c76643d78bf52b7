package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/placemark-weather/internal/models"
)

// inFlightRequest tracks a single upstream request that multiple callers may wait for.
type inFlightRequest struct {
	mu      sync.Mutex
	result  *models.WeatherResponse
	err     error
	done    bool
	waiters []chan struct{}
}

// requestCoalescer prevents cache stampede by coalescing concurrent requests for the same key.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo joins an in-flight request for key or starts one running fn. fn runs detached
// from the caller's cancellation but bounded by the coalescer timeout, so one caller
// giving up does not fail the others. shared reports whether the caller joined an
// existing request.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(ctx context.Context) (*models.WeatherResponse, error)) (resp *models.WeatherResponse, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest{}
		rc.inFlight[key] = req
	}
	notify := make(chan struct{})
	req.mu.Lock()
	if req.done {
		result, err := req.result, req.err
		req.mu.Unlock()
		rc.mu.Unlock()
		return result, true, err
	}
	req.waiters = append(req.waiters, notify)
	req.mu.Unlock()
	rc.mu.Unlock()

	if !exists {
		go rc.run(ctx, key, req, fn)
	}

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-notify:
		req.mu.Lock()
		result, err := req.result, req.err
		req.mu.Unlock()
		return result, exists, err
	case <-waitCtx.Done():
		return nil, exists, waitCtx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, req *inFlightRequest, fn func(ctx context.Context) (*models.WeatherResponse, error)) {
	fnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
	defer cancel()
	result, err := fn(fnCtx)

	req.mu.Lock()
	req.result = result
	req.err = err
	req.done = true
	waiters := req.waiters
	req.waiters = nil
	req.mu.Unlock()

	for _, notify := range waiters {
		close(notify)
	}

	rc.cleanup(key)
}

// cleanup removes the in-flight request for key. Must be called after request completes.
func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}

// inFlightCount returns the number of keys with an upstream request in progress.
func (rc *requestCoalescer) inFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}
