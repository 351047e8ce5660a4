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

func TestStooqFetchParsesCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("s") != "aapl.us" {
			t.Fatalf("unexpected symbol %q", r.URL.Query().Get("s"))
		}
		_, _ = w.Write([]byte("Date,Open,High,Low,Close,Volume\n2025-08-01,200,205,199,204.5,1000\n2025-08-04,204,210,203,209.1,1200\n"))
	}))
	defer srv.Close()

	adapter := NewStooq(config.StooqConfig{
		BaseURL:        srv.URL,
		Symbols:        map[string]string{"aapl": "aapl.us"},
		RequestTimeout: time.Second,
	}, nil, "test", zerolog.Nop())

	points, err := adapter.Fetch(context.Background(), "aapl", Window{})
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[1].Value.String() != "209.1" {
		t.Fatalf("unexpected close value %s", points[1].Value.String())
	}
	if points[0].Source != "stooq:aapl.us" {
		t.Fatalf("unexpected source %s", points[0].Source)
	}
}

func TestStooqFetchUnsupportedKey(t *testing.T) {
	adapter := NewStooq(config.StooqConfig{Symbols: map[string]string{}}, nil, "test", zerolog.Nop())
	if _, err := adapter.Fetch(context.Background(), "tsla", Window{}); err == nil {
		t.Fatal("unsupported key should return an error")
	}
}
