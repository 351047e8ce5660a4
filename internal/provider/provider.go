package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// ErrRateLimited marks an upstream throttle response. Callers retry on the
// next scheduled tick instead of failing the indicator.
var ErrRateLimited = errors.New("provider: rate limited")

// NormalizedPoint is the common observation shape all adapters emit.
type NormalizedPoint struct {
	IndicatorKey string
	Timestamp    time.Time
	Value        decimal.Decimal
	Source       string
	RawPayload   json.RawMessage
}

// Window bounds a fetch request.
type Window struct {
	From time.Time
	To   time.Time
}

// Adapter fetches raw observations for the indicator keys it supports.
// Adapters with missing credentials return an empty slice rather than an
// error so one unconfigured source never stalls the pipeline.
type Adapter interface {
	Name() string
	Keys() []string
	Fetch(ctx context.Context, key string, window Window) ([]NormalizedPoint, error)
}

// Registry resolves an indicator key to the first adapter that supports it.
type Registry struct {
	adapters []Adapter
}

// NewRegistry builds a registry preserving adapter order.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Resolve returns the first adapter declaring the key, or nil.
func (r *Registry) Resolve(key string) Adapter {
	for _, adapter := range r.adapters {
		for _, supported := range adapter.Keys() {
			if supported == key {
				return adapter
			}
		}
	}
	return nil
}

// Adapters returns the registered adapters in resolution order.
func (r *Registry) Adapters() []Adapter {
	return r.adapters
}

// httpClient wraps an HTTP client with a shared rate limiter and the
// 429-aware response handling every HTTP adapter needs.
type httpClient struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

func newHTTPClient(timeout time.Duration, limiter *rate.Limiter, userAgent string) *httpClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &httpClient{
		client:    &http.Client{Timeout: timeout},
		limiter:   limiter,
		userAgent: userAgent,
	}
}

// NewLimiter builds the shared provider rate limiter.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		rps = 2
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func (c *httpClient) get(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("GET %s: %w", url, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}

	return body, nil
}
