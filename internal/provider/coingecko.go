package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"market-pulse/internal/config"
)

// Coingecko serves crypto spot prices from the CoinGecko market chart API.
type Coingecko struct {
	cfg    config.CoingeckoConfig
	http   *httpClient
	keys   []string
	logger zerolog.Logger
}

// NewCoingecko constructs the CoinGecko adapter.
func NewCoingecko(cfg config.CoingeckoConfig, limiter *rate.Limiter, userAgent string, logger zerolog.Logger) *Coingecko {
	keys := make([]string, 0, len(cfg.CoinIDs))
	for key := range cfg.CoinIDs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return &Coingecko{
		cfg:    cfg,
		http:   newHTTPClient(cfg.RequestTimeout, limiter, userAgent),
		keys:   keys,
		logger: logger.With().Str("component", "coingecko_adapter").Logger(),
	}
}

// Name identifies the adapter.
func (c *Coingecko) Name() string { return "coingecko" }

// Keys lists the indicator keys this adapter serves.
func (c *Coingecko) Keys() []string { return c.keys }

// Fetch retrieves USD prices within the window.
func (c *Coingecko) Fetch(ctx context.Context, key string, window Window) ([]NormalizedPoint, error) {
	coinID, ok := c.cfg.CoinIDs[key]
	if !ok {
		return nil, fmt.Errorf("coingecko: unsupported indicator %q", key)
	}

	to := window.To
	if to.IsZero() {
		to = time.Now().UTC()
	}
	from := window.From
	if from.IsZero() {
		from = to.Add(-48 * time.Hour)
	}

	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("from", strconv.FormatInt(from.Unix(), 10))
	params.Set("to", strconv.FormatInt(to.Unix(), 10))

	endpoint := fmt.Sprintf("%s/coins/%s/market_chart/range?%s", c.cfg.BaseURL, coinID, params.Encode())
	body, err := c.http.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch coingecko %s: %w", coinID, err)
	}

	var payload struct {
		Prices [][2]float64 `json:"prices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode coingecko response: %w", err)
	}

	points := make([]NormalizedPoint, 0, len(payload.Prices))
	for _, pair := range payload.Prices {
		ts := time.UnixMilli(int64(pair[0])).UTC()
		raw, _ := json.Marshal(map[string]float64{"ts_ms": pair[0], "price": pair[1]})
		points = append(points, NormalizedPoint{
			IndicatorKey: key,
			Timestamp:    ts,
			Value:        decimal.NewFromFloat(pair[1]),
			Source:       "coingecko:" + coinID,
			RawPayload:   raw,
		})
	}

	return points, nil
}

var _ Adapter = (*Coingecko)(nil)
