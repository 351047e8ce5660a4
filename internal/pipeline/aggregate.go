package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/storage"
)

// Aggregator collapses raw observations into at most one canonical daily
// point per indicator per UTC day.
type Aggregator struct {
	raw          storage.RawPointStore
	points       storage.PointStore
	lookbackDays int
	logger       zerolog.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(raw storage.RawPointStore, points storage.PointStore, lookbackDays int, logger zerolog.Logger) *Aggregator {
	if lookbackDays < 32 {
		lookbackDays = 32
	}
	return &Aggregator{
		raw:          raw,
		points:       points,
		lookbackDays: lookbackDays,
		logger:       logger.With().Str("component", "aggregator").Logger(),
	}
}

// Run buckets all raw points within the lookback window and writes the daily
// points. Insert-or-ignore semantics make re-runs on unchanged data a no-op.
func (a *Aggregator) Run(ctx context.Context, key string, now time.Time) (int64, error) {
	since := DayStart(now.UTC()).AddDate(0, 0, -a.lookbackDays)
	raws, err := a.raw.ListRawPointsSince(ctx, key, since)
	if err != nil {
		return 0, fmt.Errorf("load raw points for %s: %w", key, err)
	}
	if len(raws) == 0 {
		return 0, nil
	}

	daily := BucketDaily(raws)
	inserted, err := a.points.InsertPoints(ctx, daily)
	if err != nil {
		return inserted, fmt.Errorf("write daily points for %s: %w", key, err)
	}

	if inserted > 0 {
		a.logger.Debug().Str("indicator", key).Int64("inserted", inserted).Msg("daily points aggregated")
	}
	return inserted, nil
}

// BucketDaily groups raw points by UTC calendar day, keeping the point with
// the latest timestamp within each day. Output is sorted ascending by day.
func BucketDaily(raws []storage.RawPoint) []storage.Point {
	latest := make(map[time.Time]storage.RawPoint, len(raws))
	for _, rp := range raws {
		day := DayStart(rp.Timestamp.UTC())
		current, exists := latest[day]
		if !exists || rp.Timestamp.After(current.Timestamp) {
			latest[day] = rp
		}
	}

	points := make([]storage.Point, 0, len(latest))
	for day, rp := range latest {
		points = append(points, storage.Point{
			IndicatorKey: rp.IndicatorKey,
			Day:          day,
			Value:        rp.Value,
			Granularity:  "1d",
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Day.Before(points[j].Day) })
	return points
}

// DayStart truncates a timestamp to UTC midnight.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
