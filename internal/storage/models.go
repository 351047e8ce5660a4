package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RawPoint is one provider observation before day-bucketing. Append-only,
// unique per (indicator_key, ts).
type RawPoint struct {
	IndicatorKey string
	Timestamp    time.Time
	Value        decimal.Decimal
	Source       string
	RawPayload   json.RawMessage
	CreatedAt    time.Time
}

// Point is the canonical daily value for an indicator. Unique per
// (indicator_key, day).
type Point struct {
	IndicatorKey string
	Day          time.Time
	Value        decimal.Decimal
	Granularity  string
	QualityFlag  string
	CreatedAt    time.Time
}

// DerivedMetric holds rolling statistics computed from the daily series.
// Unique per (indicator_key, ts), immutable once written.
type DerivedMetric struct {
	IndicatorKey string
	Timestamp    time.Time
	Pct1D        float64
	Pct7D        float64
	Pct14D       float64
	Pct21D       float64
	SlopeShort   float64
	SlopeWindow  float64
	MAWindow     float64
	CreatedAt    time.Time
}

// StatusSnapshot records one classification result. Append-only history,
// queried as latest-per-indicator.
type StatusSnapshot struct {
	ID           int64
	Timestamp    time.Time
	IndicatorKey string
	Status       string
	Trend        string
	Explanation  string
}

// WeeklyScore is the composite score for one ISO week. Unique per
// week_start, updated in place on re-runs within the week.
type WeeklyScore struct {
	WeekStart  time.Time
	Score      int
	DeltaScore int
	UpdatedAt  time.Time
}

// AlertRule is user-authored alerting configuration, consumed read-only by
// the pipeline.
type AlertRule struct {
	ID              int64
	Name            string
	ConditionType   string
	IndicatorKey    string
	Threshold       decimal.Decimal
	Confirmations   int
	SamplingMinutes int
	CooldownMinutes int
	Actions         []string
	Enabled         bool
	CreatedAt       time.Time
}

// AlertFired is the append-only log of firings; dedupe_key is unique and caps
// duplicates for the same logical event.
type AlertFired struct {
	ID        int64
	RuleID    int64
	Timestamp time.Time
	Payload   json.RawMessage
	DedupeKey string
}

// NotificationDelivery is one delivery attempt for a fired alert.
type NotificationDelivery struct {
	ID                int64
	AlertID           int64
	Channel           string
	Status            string
	ProviderMessageID string
	Timestamp         time.Time
}

// Delivery status markers.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)
