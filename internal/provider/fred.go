package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"market-pulse/internal/config"
)

const fredDateLayout = "2006-01-02"

// FRED serves rate and index series from the FRED observations API.
type FRED struct {
	cfg    config.FREDConfig
	http   *httpClient
	keys   []string
	logger zerolog.Logger
}

// NewFRED constructs the FRED adapter.
func NewFRED(cfg config.FREDConfig, limiter *rate.Limiter, userAgent string, logger zerolog.Logger) *FRED {
	keys := make([]string, 0, len(cfg.Series))
	for key := range cfg.Series {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &FRED{
		cfg:    cfg,
		http:   newHTTPClient(cfg.RequestTimeout, limiter, userAgent),
		keys:   keys,
		logger: logger.With().Str("component", "fred_adapter").Logger(),
	}
}

// Name identifies the adapter.
func (f *FRED) Name() string { return "fred" }

// Keys lists the indicator keys this adapter serves.
func (f *FRED) Keys() []string { return f.keys }

// Fetch retrieves daily observations for one series. A missing API key
// degrades to an empty result.
func (f *FRED) Fetch(ctx context.Context, key string, window Window) ([]NormalizedPoint, error) {
	if f.cfg.APIKey == "" {
		f.logger.Debug().Str("indicator", key).Msg("fred api key not configured; skipping fetch")
		return nil, nil
	}

	seriesID, ok := f.cfg.Series[key]
	if !ok {
		return nil, fmt.Errorf("fred: unsupported indicator %q", key)
	}

	params := url.Values{}
	params.Set("series_id", seriesID)
	params.Set("api_key", f.cfg.APIKey)
	params.Set("file_type", "json")
	if !window.From.IsZero() {
		params.Set("observation_start", window.From.UTC().Format(fredDateLayout))
	}
	if !window.To.IsZero() {
		params.Set("observation_end", window.To.UTC().Format(fredDateLayout))
	}

	endpoint := f.cfg.BaseURL + "/series/observations?" + params.Encode()
	body, err := f.http.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch fred series %s: %w", seriesID, err)
	}

	var payload struct {
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode fred response: %w", err)
	}

	points := make([]NormalizedPoint, 0, len(payload.Observations))
	for _, obs := range payload.Observations {
		// FRED publishes "." for days without a reading
		if obs.Value == "" || obs.Value == "." {
			continue
		}
		value, convErr := decimal.NewFromString(obs.Value)
		if convErr != nil {
			f.logger.Warn().Str("series", seriesID).Str("value", obs.Value).Msg("unparseable observation value")
			continue
		}
		ts, parseErr := time.ParseInLocation(fredDateLayout, obs.Date, time.UTC)
		if parseErr != nil {
			f.logger.Warn().Str("series", seriesID).Str("date", obs.Date).Msg("unparseable observation date")
			continue
		}
		raw, _ := json.Marshal(obs)
		points = append(points, NormalizedPoint{
			IndicatorKey: key,
			Timestamp:    ts,
			Value:        value,
			Source:       "fred:" + seriesID,
			RawPayload:   raw,
		})
	}

	return points, nil
}

var _ Adapter = (*FRED)(nil)
