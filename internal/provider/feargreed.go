package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"market-pulse/internal/config"
)

// FearGreed serves the 0-100 crypto fear & greed index from alternative.me.
type FearGreed struct {
	cfg    config.FearGreedConfig
	http   *httpClient
	logger zerolog.Logger
}

// NewFearGreed constructs the sentiment adapter.
func NewFearGreed(cfg config.FearGreedConfig, limiter *rate.Limiter, userAgent string, logger zerolog.Logger) *FearGreed {
	return &FearGreed{
		cfg:    cfg,
		http:   newHTTPClient(cfg.RequestTimeout, limiter, userAgent),
		logger: logger.With().Str("component", "feargreed_adapter").Logger(),
	}
}

// Name identifies the adapter.
func (f *FearGreed) Name() string { return "feargreed" }

// Keys lists the indicator keys this adapter serves.
func (f *FearGreed) Keys() []string {
	key := f.cfg.Key
	if key == "" {
		key = "sentiment"
	}
	return []string{key}
}

// Fetch retrieves enough history to cover the window (one reading per day).
func (f *FearGreed) Fetch(ctx context.Context, key string, window Window) ([]NormalizedPoint, error) {
	to := window.To
	if to.IsZero() {
		to = time.Now().UTC()
	}
	from := window.From
	if from.IsZero() {
		from = to.Add(-48 * time.Hour)
	}

	days := int(to.Sub(from).Hours()/24) + 1
	if days < 1 {
		days = 1
	}

	endpoint := fmt.Sprintf("%s/fng/?limit=%d&format=json", f.cfg.BaseURL, days)
	body, err := f.http.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch fear & greed index: %w", err)
	}

	var payload struct {
		Data []struct {
			Value               string `json:"value"`
			ValueClassification string `json:"value_classification"`
			Timestamp           string `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode fear & greed response: %w", err)
	}

	points := make([]NormalizedPoint, 0, len(payload.Data))
	for _, entry := range payload.Data {
		unix, parseErr := strconv.ParseInt(entry.Timestamp, 10, 64)
		if parseErr != nil {
			f.logger.Warn().Str("timestamp", entry.Timestamp).Msg("unparseable index timestamp")
			continue
		}
		value, convErr := decimal.NewFromString(entry.Value)
		if convErr != nil {
			f.logger.Warn().Str("value", entry.Value).Msg("unparseable index value")
			continue
		}
		raw, _ := json.Marshal(entry)
		points = append(points, NormalizedPoint{
			IndicatorKey: key,
			Timestamp:    time.Unix(unix, 0).UTC(),
			Value:        value,
			Source:       "alternative.me:fng",
			RawPayload:   raw,
		})
	}

	return points, nil
}

var _ Adapter = (*FearGreed)(nil)
