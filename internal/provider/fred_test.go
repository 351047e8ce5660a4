package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/config"
)

func fredConfig(baseURL, apiKey string) config.FREDConfig {
	return config.FREDConfig{
		APIKey:         apiKey,
		BaseURL:        baseURL,
		Series:         map[string]string{"us10y": "DGS10"},
		RequestTimeout: time.Second,
	}
}

func TestFREDFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("series_id") != "DGS10" {
			t.Fatalf("unexpected series_id %q", r.URL.Query().Get("series_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"observations":[
            {"date":"2025-08-01","value":"4.23"},
            {"date":"2025-08-02","value":"."},
            {"date":"2025-08-03","value":"4.31"}
        ]}`))
	}))
	defer srv.Close()

	adapter := NewFRED(fredConfig(srv.URL, "key"), nil, "test", zerolog.Nop())
	points, err := adapter.Fetch(context.Background(), "us10y", Window{})
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points (dot value skipped), got %d", len(points))
	}
	if points[0].Value.String() != "4.23" {
		t.Fatalf("unexpected first value %s", points[0].Value.String())
	}
	if points[0].Timestamp.Location() != time.UTC {
		t.Fatal("timestamps must be UTC")
	}
}

func TestFREDFetchMissingKey(t *testing.T) {
	adapter := NewFRED(fredConfig("http://unreachable", ""), nil, "test", zerolog.Nop())
	points, err := adapter.Fetch(context.Background(), "us10y", Window{})
	if err != nil {
		t.Fatalf("missing credentials must not error: %v", err)
	}
	if len(points) != 0 {
		t.Fatalf("expected empty result, got %d points", len(points))
	}
}

func TestFREDFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := NewFRED(fredConfig(srv.URL, "key"), nil, "test", zerolog.Nop())
	_, err := adapter.Fetch(context.Background(), "us10y", Window{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestFREDFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := NewFRED(fredConfig(srv.URL, "key"), nil, "test", zerolog.Nop())
	_, err := adapter.Fetch(context.Background(), "us10y", Window{})
	if err == nil {
		t.Fatal("HTTP 502 should return an error")
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatal("5xx must not be classified as rate limited")
	}
}

func TestRegistryResolvesFirstMatch(t *testing.T) {
	fred := NewFRED(fredConfig("http://a", "key"), nil, "test", zerolog.Nop())
	stooq := NewStooq(config.StooqConfig{
		BaseURL: "http://b",
		Symbols: map[string]string{"us10y": "shadowed", "aapl": "aapl.us"},
	}, nil, "test", zerolog.Nop())

	registry := NewRegistry(fred, stooq)

	if got := registry.Resolve("us10y"); got == nil || got.Name() != "fred" {
		t.Fatalf("us10y should resolve to the first declaring adapter, got %v", got)
	}
	if got := registry.Resolve("aapl"); got == nil || got.Name() != "stooq" {
		t.Fatalf("aapl should resolve to stooq, got %v", got)
	}
	if got := registry.Resolve("unknown"); got != nil {
		t.Fatalf("unknown key should resolve to nil, got %v", got)
	}
}
