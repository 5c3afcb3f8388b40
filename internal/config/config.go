package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	REST      RESTConfig      `yaml:"rest"`
	WS        WSConfig        `yaml:"ws"`
	State     StateConfig     `yaml:"state"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Filters   FilterConfig    `yaml:"filters"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Hedge     HedgeConfig     `yaml:"hedge"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type WSConfig struct {
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

type StateConfig struct {
	FilePath   string `yaml:"file_path"`
	SQLitePath string `yaml:"sqlite_path"`
}

type StrategyConfig struct {
	Symbols             []string           `yaml:"symbols"`
	UtilizationFraction float64            `yaml:"utilization_fraction"`
	MinOrderNotional    map[string]float64 `yaml:"min_order_notional"`
	DefaultMinNotional  float64            `yaml:"default_min_notional"`
	MinHoldDuration     time.Duration      `yaml:"min_hold_duration"`
	ImprovementMultiple float64            `yaml:"improvement_multiple"`
	CheckInterval       time.Duration      `yaml:"check_interval"`
	StatusInterval      time.Duration      `yaml:"status_interval"`
	SizeMismatchPct     float64            `yaml:"size_mismatch_pct"`
	SlippagePct         float64            `yaml:"slippage_pct"`
}

type FilterConfig struct {
	MinAvgFundingAPR   float64 `yaml:"min_avg_funding_apr"`
	MaxBidAskSpreadPct float64 `yaml:"max_bid_ask_spread_pct"`
	MaxCrossSpreadPct  float64 `yaml:"max_cross_spread_pct"`
	MinVolumeUSD       float64 `yaml:"min_volume_usd"`
}

type RateLimitConfig struct {
	RESTCapacity   int           `yaml:"rest_capacity"`
	RESTWindow     time.Duration `yaml:"rest_window"`
	StreamCapacity int           `yaml:"stream_capacity"`
	StreamWindow   time.Duration `yaml:"stream_window"`
}

type HedgeConfig struct {
	AuditInterval time.Duration `yaml:"audit_interval"`
	VenueMinUSD   float64       `yaml:"venue_min_usd"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 30 * time.Second
	}
	if cfg.WS.StaleAfter == 0 {
		cfg.WS.StaleAfter = 15 * time.Second
	}
	if cfg.State.FilePath == "" {
		cfg.State.FilePath = "data/position_state.json"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hl-funding-bot.db"
	}
	if cfg.Strategy.UtilizationFraction == 0 {
		cfg.Strategy.UtilizationFraction = 0.95
	}
	if cfg.Strategy.DefaultMinNotional == 0 {
		cfg.Strategy.DefaultMinNotional = 11
	}
	if cfg.Strategy.MinHoldDuration == 0 {
		cfg.Strategy.MinHoldDuration = 4 * time.Hour
	}
	if cfg.Strategy.ImprovementMultiple == 0 {
		cfg.Strategy.ImprovementMultiple = 2
	}
	if cfg.Strategy.CheckInterval == 0 {
		cfg.Strategy.CheckInterval = time.Hour
	}
	if cfg.Strategy.StatusInterval == 0 {
		cfg.Strategy.StatusInterval = time.Minute
	}
	if cfg.Strategy.SizeMismatchPct == 0 {
		cfg.Strategy.SizeMismatchPct = 2
	}
	if cfg.Strategy.SlippagePct == 0 {
		cfg.Strategy.SlippagePct = 0.5
	}
	if cfg.Filters.MinAvgFundingAPR == 0 {
		cfg.Filters.MinAvgFundingAPR = 5
	}
	if cfg.Filters.MaxBidAskSpreadPct == 0 {
		cfg.Filters.MaxBidAskSpreadPct = 0.2
	}
	if cfg.Filters.MaxCrossSpreadPct == 0 {
		cfg.Filters.MaxCrossSpreadPct = 0.5
	}
	if cfg.Filters.MinVolumeUSD == 0 {
		cfg.Filters.MinVolumeUSD = 1000000
	}
	if cfg.RateLimit.RESTCapacity == 0 {
		cfg.RateLimit.RESTCapacity = 1100
	}
	if cfg.RateLimit.RESTWindow == 0 {
		cfg.RateLimit.RESTWindow = time.Minute
	}
	if cfg.RateLimit.StreamCapacity == 0 {
		cfg.RateLimit.StreamCapacity = 1900
	}
	if cfg.RateLimit.StreamWindow == 0 {
		cfg.RateLimit.StreamWindow = time.Minute
	}
	if cfg.Hedge.AuditInterval == 0 {
		cfg.Hedge.AuditInterval = 6 * time.Hour
	}
	if cfg.Hedge.VenueMinUSD == 0 {
		cfg.Hedge.VenueMinUSD = 10
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
}

func validate(cfg *Config) error {
	if len(cfg.Strategy.Symbols) == 0 {
		return errors.New("strategy.symbols is required")
	}
	if cfg.Strategy.UtilizationFraction <= 0 || cfg.Strategy.UtilizationFraction > 1 {
		return errors.New("strategy.utilization_fraction must be in (0, 1]")
	}
	if cfg.Strategy.ImprovementMultiple < 1 {
		return errors.New("strategy.improvement_multiple must be >= 1")
	}
	for symbol, notional := range cfg.Strategy.MinOrderNotional {
		if notional < 0 {
			return fmt.Errorf("strategy.min_order_notional[%s] must be >= 0", symbol)
		}
	}
	if cfg.Filters.MaxBidAskSpreadPct <= 0 {
		return errors.New("filters.max_bid_ask_spread_pct must be > 0")
	}
	if cfg.Filters.MaxCrossSpreadPct <= 0 {
		return errors.New("filters.max_cross_spread_pct must be > 0")
	}
	return nil
}

// MinNotional returns the per-symbol minimum order notional, falling back to
// the configured default.
func (s StrategyConfig) MinNotional(symbol string) float64 {
	if v, ok := s.MinOrderNotional[symbol]; ok {
		return v
	}
	return s.DefaultMinNotional
}
