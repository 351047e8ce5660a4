package status

import (
	"time"

	"market-pulse/internal/config"
)

// Status is the traffic-light classification of an indicator.
type Status string

// Trend is the slope classification of an indicator.
type Trend string

const (
	Green   Status = "GREEN"
	Yellow  Status = "YELLOW"
	Red     Status = "RED"
	Unknown Status = "UNKNOWN"

	Rising  Trend = "RISING"
	Falling Trend = "FALLING"
	Flat    Trend = "FLAT"
)

// PointSample is one daily value handed to a classifier.
type PointSample struct {
	Time  time.Time
	Value float64
}

// Derived carries the rolling statistics for the newest point.
type Derived struct {
	Pct1D       float64
	Pct7D       float64
	Pct14D      float64
	Pct21D      float64
	SlopeShort  float64
	SlopeWindow float64
	MAWindow    float64
}

// Result is a classification outcome.
type Result struct {
	Status      Status
	Trend       Trend
	Explanation string
}

// Input bundles everything a classifier may inspect.
type Input struct {
	Config  config.IndicatorConfig
	Points  []PointSample
	Derived *Derived
	Trend   Trend
}

// Classifier maps an indicator's recent series and derived statistics to a
// status. Implementations are pure; one is registered per indicator kind.
type Classifier interface {
	Kind() string
	Classify(in Input) Result
}

// TrendOf thresholds a slope against the indicator's noise epsilon.
func TrendOf(slope, epsilon float64) Trend {
	switch {
	case slope > epsilon:
		return Rising
	case slope < -epsilon:
		return Falling
	default:
		return Flat
	}
}
