package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"market-pulse/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Logging    logging.Config    `mapstructure:"logging"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
	Providers  ProvidersConfig   `mapstructure:"providers"`
	Alerting   AlertingConfig    `mapstructure:"alerting"`
	Export     ExportConfig      `mapstructure:"export"`
	Indicators []IndicatorConfig `mapstructure:"indicators"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs polling and evaluation cadence.
type SchedulerConfig struct {
	EvalInterval          time.Duration `mapstructure:"eval_interval"`
	AlignToBucket         bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey       int64         `mapstructure:"advisory_lock_key"`
	StartupDelay          time.Duration `mapstructure:"startup_delay"`
	FetchLookback         time.Duration `mapstructure:"fetch_lookback"`
	AggregateLookbackDays int           `mapstructure:"aggregate_lookback_days"`
}

// ProvidersConfig groups upstream data source settings.
type ProvidersConfig struct {
	RateLimitRPS float64         `mapstructure:"rate_limit_rps"`
	UserAgent    string          `mapstructure:"user_agent"`
	FRED         FREDConfig      `mapstructure:"fred"`
	Stooq        StooqConfig     `mapstructure:"stooq"`
	Coingecko    CoingeckoConfig `mapstructure:"coingecko"`
	FearGreed    FearGreedConfig `mapstructure:"feargreed"`
	Chainlink    ChainlinkConfig `mapstructure:"chainlink"`
}

// FREDConfig covers the FRED observations API.
type FREDConfig struct {
	APIKey         string            `mapstructure:"api_key"`
	BaseURL        string            `mapstructure:"base_url"`
	Series         map[string]string `mapstructure:"series"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// StooqConfig covers daily CSV quotes from stooq.
type StooqConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	Symbols        map[string]string `mapstructure:"symbols"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// CoingeckoConfig covers the CoinGecko market chart API.
type CoingeckoConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	CoinIDs        map[string]string `mapstructure:"coin_ids"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// FearGreedConfig covers the alternative.me fear & greed index.
type FearGreedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Key            string        `mapstructure:"key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChainlinkConfig covers on-chain price feeds read over Ethereum RPC.
type ChainlinkConfig struct {
	RPCURL         string            `mapstructure:"rpc_url"`
	Feeds          map[string]string `mapstructure:"feeds"`
	FeedDecimals   int32             `mapstructure:"feed_decimals"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	DefaultCooldown time.Duration  `mapstructure:"default_cooldown"`
	DefaultActions  []string       `mapstructure:"default_actions"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
	Email           EmailConfig    `mapstructure:"email"`
}

// TelegramConfig describes Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// EmailConfig describes SMTP delivery parameters.
type EmailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// ZoneConfig holds support/resistance bands for zone-classified indicators.
type ZoneConfig struct {
	BearLine    float64 `mapstructure:"bear_line"`
	SupportLow  float64 `mapstructure:"support_low"`
	SupportHigh float64 `mapstructure:"support_high"`
	BullConfirm float64 `mapstructure:"bull_confirm"`
}

// IndicatorConfig declares one tracked time series. The registry is loaded at
// startup and never mutated for the lifetime of the process.
type IndicatorConfig struct {
	Key             string        `mapstructure:"key"`
	Name            string        `mapstructure:"name"`
	Kind            string        `mapstructure:"kind"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Enabled         bool          `mapstructure:"enabled"`
	Core            bool          `mapstructure:"core"`
	Historical      bool          `mapstructure:"historical"`
	TrendWindowDays int           `mapstructure:"trend_window_days"`
	Epsilon         float64       `mapstructure:"epsilon"`
	Constituents    []string      `mapstructure:"constituents"`
	Zones           *ZoneConfig   `mapstructure:"zones"`
}

// StalenessBudget returns the maximum age of the latest daily point before the
// indicator's status degrades to UNKNOWN. Historical series get a long horizon
// because their sources publish with multi-day lag.
func (ic IndicatorConfig) StalenessBudget() time.Duration {
	if ic.Historical {
		return 30 * 24 * time.Hour
	}
	budget := 3 * ic.PollInterval
	if budget < 3*24*time.Hour {
		budget = 3 * 24 * time.Hour
	}
	return budget
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Indicators) == 0 {
		cfg.Indicators = DefaultIndicators()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketpulse")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.eval_interval", "15m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6d706c73))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.fetch_lookback", "48h")
	v.SetDefault("scheduler.aggregate_lookback_days", 32)

	v.SetDefault("providers.rate_limit_rps", 2.0)
	v.SetDefault("providers.user_agent", "marketpulse/1.0")
	v.SetDefault("providers.fred.base_url", "https://api.stlouisfed.org/fred")
	v.SetDefault("providers.fred.request_timeout", "15s")
	v.SetDefault("providers.fred.series", map[string]string{
		"us10y": "DGS10",
		"dxy":   "DTWEXBGS",
		"spx":   "SP500",
	})
	v.SetDefault("providers.stooq.base_url", "https://stooq.com")
	v.SetDefault("providers.stooq.request_timeout", "15s")
	v.SetDefault("providers.stooq.symbols", map[string]string{
		"aapl":  "aapl.us",
		"msft":  "msft.us",
		"nvda":  "nvda.us",
		"googl": "googl.us",
	})
	v.SetDefault("providers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.coingecko.request_timeout", "15s")
	v.SetDefault("providers.coingecko.coin_ids", map[string]string{
		"btc": "bitcoin",
	})
	v.SetDefault("providers.feargreed.base_url", "https://api.alternative.me")
	v.SetDefault("providers.feargreed.key", "sentiment")
	v.SetDefault("providers.feargreed.request_timeout", "15s")
	v.SetDefault("providers.chainlink.feed_decimals", 8)
	v.SetDefault("providers.chainlink.request_timeout", "10s")
	v.SetDefault("providers.chainlink.feeds", map[string]string{
		"eth": "0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419",
	})

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.default_cooldown", "360m")
	v.SetDefault("alerting.default_actions", []string{"email"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.email.enabled", false)
	v.SetDefault("alerting.email.port", 587)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// DefaultIndicators returns the built-in registry used when the config file
// does not declare one.
func DefaultIndicators() []IndicatorConfig {
	leaders := []string{"aapl", "msft", "nvda", "googl"}

	indicators := []IndicatorConfig{
		{Key: "us10y", Name: "US 10Y Treasury Yield", Kind: "rate", PollInterval: 6 * time.Hour, Enabled: true, Core: true, Historical: true, TrendWindowDays: 21, Epsilon: 0.005},
		{Key: "dxy", Name: "US Dollar Index", Kind: "currency_index", PollInterval: 6 * time.Hour, Enabled: true, Core: true, Historical: true, TrendWindowDays: 21, Epsilon: 0.05},
		{Key: "spx", Name: "S&P 500", Kind: "equity_index", PollInterval: 6 * time.Hour, Enabled: true, Core: true, Historical: true, TrendWindowDays: 21, Epsilon: 2.0},
		{Key: "leaders", Name: "Market Leaders", Kind: "leaders", PollInterval: 6 * time.Hour, Enabled: true, Core: true, TrendWindowDays: 21, Epsilon: 0.5, Constituents: leaders},
		{Key: "btc", Name: "Bitcoin", Kind: "zone", PollInterval: time.Hour, Enabled: true, Core: true, TrendWindowDays: 21, Epsilon: 150.0, Zones: &ZoneConfig{
			BearLine:    60000,
			SupportLow:  74000,
			SupportHigh: 80000,
			BullConfirm: 96000,
		}},
		{Key: "eth", Name: "Ethereum", Kind: "equity_index", PollInterval: time.Hour, Enabled: true, Core: true, TrendWindowDays: 21, Epsilon: 10.0},
		{Key: "sentiment", Name: "Crypto Fear & Greed", Kind: "sentiment", PollInterval: 12 * time.Hour, Enabled: true, Core: true, TrendWindowDays: 14, Epsilon: 0.5},
	}

	for _, key := range leaders {
		indicators = append(indicators, IndicatorConfig{
			Key:             key,
			Name:            strings.ToUpper(key),
			Kind:            "equity_index",
			PollInterval:    6 * time.Hour,
			Enabled:         true,
			Historical:      true,
			TrendWindowDays: 21,
			Epsilon:         0.5,
		})
	}

	return indicators
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.EvalInterval <= 0 {
		return fmt.Errorf("scheduler.eval_interval must be greater than zero")
	}
	if c.Scheduler.AggregateLookbackDays < 32 {
		return fmt.Errorf("scheduler.aggregate_lookback_days must be at least 32")
	}
	if c.Alerting.DefaultCooldown <= 0 {
		return fmt.Errorf("alerting.default_cooldown must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}

	seen := make(map[string]struct{}, len(c.Indicators))
	for _, ic := range c.Indicators {
		if ic.Key == "" {
			return fmt.Errorf("indicator key cannot be empty")
		}
		if _, dup := seen[ic.Key]; dup {
			return fmt.Errorf("duplicate indicator key %q", ic.Key)
		}
		seen[ic.Key] = struct{}{}
		if ic.PollInterval <= 0 {
			return fmt.Errorf("indicator %q: poll_interval must be greater than zero", ic.Key)
		}
		if ic.TrendWindowDays < 2 {
			return fmt.Errorf("indicator %q: trend_window_days must be at least 2", ic.Key)
		}
		if ic.Epsilon < 0 {
			return fmt.Errorf("indicator %q: epsilon cannot be negative", ic.Key)
		}
	}

	for _, ic := range c.Indicators {
		for _, member := range ic.Constituents {
			if _, ok := seen[member]; !ok {
				return fmt.Errorf("indicator %q: unknown constituent %q", ic.Key, member)
			}
		}
	}

	return nil
}

// Indicator returns the config for a key, if registered.
func (c *Config) Indicator(key string) (IndicatorConfig, bool) {
	for _, ic := range c.Indicators {
		if ic.Key == key {
			return ic, true
		}
	}
	return IndicatorConfig{}, false
}

// EnabledIndicators filters the registry down to enabled entries.
func (c *Config) EnabledIndicators() []IndicatorConfig {
	out := make([]IndicatorConfig, 0, len(c.Indicators))
	for _, ic := range c.Indicators {
		if ic.Enabled {
			out = append(out, ic)
		}
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
