package provider

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"market-pulse/internal/config"
)

const stooqDateLayout = "2006-01-02"

// Stooq serves daily equity closes from the stooq CSV endpoint.
type Stooq struct {
	cfg    config.StooqConfig
	http   *httpClient
	keys   []string
	logger zerolog.Logger
}

// NewStooq constructs the stooq adapter.
func NewStooq(cfg config.StooqConfig, limiter *rate.Limiter, userAgent string, logger zerolog.Logger) *Stooq {
	keys := make([]string, 0, len(cfg.Symbols))
	for key := range cfg.Symbols {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &Stooq{
		cfg:    cfg,
		http:   newHTTPClient(cfg.RequestTimeout, limiter, userAgent),
		keys:   keys,
		logger: logger.With().Str("component", "stooq_adapter").Logger(),
	}
}

// Name identifies the adapter.
func (s *Stooq) Name() string { return "stooq" }

// Keys lists the indicator keys this adapter serves.
func (s *Stooq) Keys() []string { return s.keys }

// Fetch downloads the daily CSV for one symbol and normalizes the close column.
func (s *Stooq) Fetch(ctx context.Context, key string, window Window) ([]NormalizedPoint, error) {
	symbol, ok := s.cfg.Symbols[key]
	if !ok {
		return nil, fmt.Errorf("stooq: unsupported indicator %q", key)
	}

	params := url.Values{}
	params.Set("s", symbol)
	params.Set("i", "d")
	if !window.From.IsZero() {
		params.Set("d1", window.From.UTC().Format("20060102"))
	}
	if !window.To.IsZero() {
		params.Set("d2", window.To.UTC().Format("20060102"))
	}

	endpoint := s.cfg.BaseURL + "/q/d/l/?" + params.Encode()
	body, err := s.http.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch stooq symbol %s: %w", symbol, err)
	}

	reader := csv.NewReader(strings.NewReader(string(body)))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode stooq csv: %w", err)
	}

	points := make([]NormalizedPoint, 0, len(records))
	for i, record := range records {
		// first row is the Date,Open,High,Low,Close,Volume header
		if i == 0 || len(record) < 5 {
			continue
		}
		ts, parseErr := time.ParseInLocation(stooqDateLayout, record[0], time.UTC)
		if parseErr != nil {
			continue
		}
		value, convErr := decimal.NewFromString(record[4])
		if convErr != nil {
			s.logger.Warn().Str("symbol", symbol).Str("close", record[4]).Msg("unparseable close value")
			continue
		}
		raw, _ := json.Marshal(map[string]string{"date": record[0], "close": record[4]})
		points = append(points, NormalizedPoint{
			IndicatorKey: key,
			Timestamp:    ts,
			Value:        value,
			Source:       "stooq:" + symbol,
			RawPayload:   raw,
		})
	}

	return points, nil
}

var _ Adapter = (*Stooq)(nil)
