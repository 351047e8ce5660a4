package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-pulse/internal/storage"
)

type memoryPointStore struct {
	raws   []storage.RawPoint
	points map[string]map[time.Time]storage.Point
}

func newMemoryPointStore() *memoryPointStore {
	return &memoryPointStore{points: make(map[string]map[time.Time]storage.Point)}
}

func (m *memoryPointStore) InsertRawPoints(_ context.Context, points []storage.RawPoint) (int64, error) {
	m.raws = append(m.raws, points...)
	return int64(len(points)), nil
}

func (m *memoryPointStore) ListRawPointsSince(_ context.Context, key string, since time.Time) ([]storage.RawPoint, error) {
	out := make([]storage.RawPoint, 0)
	for _, rp := range m.raws {
		if rp.IndicatorKey == key && !rp.Timestamp.Before(since) {
			out = append(out, rp)
		}
	}
	return out, nil
}

func (m *memoryPointStore) InsertPoints(_ context.Context, points []storage.Point) (int64, error) {
	var inserted int64
	for _, p := range points {
		days, ok := m.points[p.IndicatorKey]
		if !ok {
			days = make(map[time.Time]storage.Point)
			m.points[p.IndicatorKey] = days
		}
		if _, exists := days[p.Day]; exists {
			continue
		}
		days[p.Day] = p
		inserted++
	}
	return inserted, nil
}

func (m *memoryPointStore) ListPointsBetween(_ context.Context, key string, from, to time.Time) ([]storage.Point, error) {
	return m.sorted(key), nil
}

func (m *memoryPointStore) ListRecentPoints(_ context.Context, key string, limit int) ([]storage.Point, error) {
	points := m.sorted(key)
	if len(points) > limit {
		points = points[len(points)-limit:]
	}
	return points, nil
}

func (m *memoryPointStore) LatestPoint(_ context.Context, key string) (*storage.Point, error) {
	points := m.sorted(key)
	if len(points) == 0 {
		return nil, nil
	}
	return &points[len(points)-1], nil
}

func (m *memoryPointStore) sorted(key string) []storage.Point {
	days := m.points[key]
	out := make([]storage.Point, 0, len(days))
	for _, p := range days {
		out = append(out, p)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Day.Before(out[j-1].Day); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func rawAt(key string, ts time.Time, value float64) storage.RawPoint {
	return storage.RawPoint{
		IndicatorKey: key,
		Timestamp:    ts,
		Value:        decimal.NewFromFloat(value),
		Source:       "test",
	}
}

func TestBucketDailyLatestWins(t *testing.T) {
	day := time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC)
	raws := []storage.RawPoint{
		rawAt("btc", day.Add(16*time.Hour), 101),
		rawAt("btc", day.Add(9*time.Hour), 99),
		rawAt("btc", day.Add(23*time.Hour), 105),
		rawAt("btc", day.Add(12*time.Hour), 100),
	}

	points := BucketDaily(raws)
	if len(points) != 1 {
		t.Fatalf("expected 1 daily point, got %d", len(points))
	}
	if points[0].Value.InexactFloat64() != 105 {
		t.Fatalf("latest-timestamped raw point should win, got %s", points[0].Value.String())
	}
	if !points[0].Day.Equal(day) {
		t.Fatalf("day should be UTC midnight, got %s", points[0].Day)
	}
}

func TestBucketDailySplitsUTCDays(t *testing.T) {
	raws := []storage.RawPoint{
		rawAt("btc", time.Date(2025, 8, 20, 23, 59, 0, 0, time.UTC), 1),
		rawAt("btc", time.Date(2025, 8, 21, 0, 1, 0, 0, time.UTC), 2),
	}

	points := BucketDaily(raws)
	if len(points) != 2 {
		t.Fatalf("expected 2 daily points across the UTC boundary, got %d", len(points))
	}
}

func TestAggregatorIdempotent(t *testing.T) {
	store := newMemoryPointStore()
	now := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		day := now.AddDate(0, 0, -i)
		_, _ = store.InsertRawPoints(context.Background(), []storage.RawPoint{
			rawAt("spx", day.Add(-2*time.Hour), 5000+float64(i)),
			rawAt("spx", day, 5100+float64(i)),
		})
	}

	agg := NewAggregator(store, store, 32, zerolog.Nop())

	first, err := agg.Run(context.Background(), "spx", now)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first != 5 {
		t.Fatalf("expected 5 inserted points, got %d", first)
	}

	second, err := agg.Run(context.Background(), "spx", now)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if second != 0 {
		t.Fatalf("re-run on unchanged raw data must insert nothing, got %d", second)
	}

	points, _ := store.ListRecentPoints(context.Background(), "spx", 100)
	if len(points) != 5 {
		t.Fatalf("expected 5 stored points, got %d", len(points))
	}
}
