package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/config"
)

func TestFearGreedFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[
            {"value":"25","value_classification":"Extreme Fear","timestamp":"1756339200"},
            {"value":"31","value_classification":"Fear","timestamp":"1756252800"}
        ]}`))
	}))
	defer srv.Close()

	adapter := NewFearGreed(config.FearGreedConfig{
		BaseURL:        srv.URL,
		Key:            "sentiment",
		RequestTimeout: time.Second,
	}, nil, "test", zerolog.Nop())

	points, err := adapter.Fetch(context.Background(), "sentiment", Window{})
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[0].Value.String() != "25" {
		t.Fatalf("unexpected value %s", points[0].Value.String())
	}
	if got := adapter.Keys(); len(got) != 1 || got[0] != "sentiment" {
		t.Fatalf("unexpected keys %v", got)
	}
}
