package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"market-pulse/internal/storage"
)

const shortWindow = 14

// Deriver computes rolling statistics over the daily point series.
type Deriver struct {
	points  storage.PointStore
	derived storage.DerivedMetricStore
	logger  zerolog.Logger
}

// NewDeriver constructs a Deriver.
func NewDeriver(points storage.PointStore, derived storage.DerivedMetricStore, logger zerolog.Logger) *Deriver {
	return &Deriver{
		points:  points,
		derived: derived,
		logger:  logger.With().Str("component", "deriver").Logger(),
	}
}

// Run derives metrics for every index with enough history and writes them
// insert-or-ignore. Limit bounds how much of the series is loaded.
func (d *Deriver) Run(ctx context.Context, key string, window int, limit int, now time.Time) (int64, error) {
	if limit < window+1 {
		limit = window + 1
	}
	points, err := d.points.ListRecentPoints(ctx, key, limit)
	if err != nil {
		return 0, fmt.Errorf("load points for %s: %w", key, err)
	}

	metrics := DeriveSeries(points, window)
	if len(metrics) == 0 {
		return 0, nil
	}

	inserted, err := d.derived.InsertDerivedMetrics(ctx, metrics)
	if err != nil {
		return inserted, fmt.Errorf("write derived metrics for %s: %w", key, err)
	}

	if inserted > 0 {
		d.logger.Debug().Str("indicator", key).Int64("inserted", inserted).Msg("derived metrics computed")
	}
	return inserted, nil
}

// DeriveSeries computes one DerivedMetric per index i >= window over the
// ascending daily series. The trailing window includes the current point.
func DeriveSeries(points []storage.Point, window int) []storage.DerivedMetric {
	if window < 2 || len(points) <= window {
		return nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value.InexactFloat64()
	}

	metrics := make([]storage.DerivedMetric, 0, len(points)-window)
	for i := window; i < len(points); i++ {
		trail := values[i-window+1 : i+1]

		slopeW := Slope(trail)
		slopeShort := slopeW
		if len(trail) >= shortWindow {
			slopeShort = Slope(values[i-shortWindow+1 : i+1])
		}

		metrics = append(metrics, storage.DerivedMetric{
			IndicatorKey: points[i].IndicatorKey,
			Timestamp:    points[i].Day,
			Pct1D:        pctChange(values, i, 1),
			Pct7D:        pctChange(values, i, 7),
			Pct14D:       pctChange(values, i, 14),
			Pct21D:       pctChange(values, i, 21),
			SlopeShort:   slopeShort,
			SlopeWindow:  slopeW,
			MAWindow:     mean(trail),
		})
	}
	return metrics
}

// Slope returns the ordinary least-squares slope of value against index
// position. Degenerate windows yield 0.
func Slope(values []float64) float64 {
	n := float64(len(values))
	if len(values) < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denominator
}

// pctChange is the k-day percent change at index i; 0 when the earlier value
// is missing or zero, never NaN or Inf.
func pctChange(values []float64, i, k int) float64 {
	if i-k < 0 {
		return 0
	}
	base := values[i-k]
	if base == 0 {
		return 0
	}
	return (values[i] - base) / base * 100
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
