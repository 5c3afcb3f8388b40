package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{Strategy: StrategyConfig{Symbols: []string{"BTC"}}}
	applyDefaults(cfg)
	if cfg.Strategy.UtilizationFraction != 0.95 {
		t.Fatalf("utilization default = %v", cfg.Strategy.UtilizationFraction)
	}
	if cfg.Strategy.MinHoldDuration != 4*time.Hour {
		t.Fatalf("min hold default = %v", cfg.Strategy.MinHoldDuration)
	}
	if cfg.Strategy.ImprovementMultiple != 2 {
		t.Fatalf("improvement multiple default = %v", cfg.Strategy.ImprovementMultiple)
	}
	if cfg.RateLimit.RESTCapacity != 1100 || cfg.RateLimit.RESTWindow != time.Minute {
		t.Fatalf("rest budget default = %d/%v", cfg.RateLimit.RESTCapacity, cfg.RateLimit.RESTWindow)
	}
	if cfg.Hedge.VenueMinUSD != 10 {
		t.Fatalf("venue min default = %v", cfg.Hedge.VenueMinUSD)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("defaulted config should validate: %v", err)
	}
}

func TestValidateRejectsEmptySymbols(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for empty symbol set")
	}
}

func TestValidateRejectsBadUtilization(t *testing.T) {
	cfg := &Config{Strategy: StrategyConfig{Symbols: []string{"BTC"}, UtilizationFraction: 1.5}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatal("expected error for utilization > 1")
	}
}

func TestMinNotionalFallsBackToDefault(t *testing.T) {
	s := StrategyConfig{
		DefaultMinNotional: 11,
		MinOrderNotional:   map[string]float64{"BTC": 25},
	}
	if got := s.MinNotional("BTC"); got != 25 {
		t.Fatalf("MinNotional(BTC) = %v", got)
	}
	if got := s.MinNotional("ETH"); got != 11 {
		t.Fatalf("MinNotional(ETH) = %v", got)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "" +
		"strategy:\n" +
		"  symbols: [BTC, ETH, SOL]\n" +
		"  min_hold_duration: 2h\n" +
		"  min_order_notional:\n" +
		"    BTC: 20\n" +
		"filters:\n" +
		"  min_avg_funding_apr: 8\n" +
		"rate_limit:\n" +
		"  rest_capacity: 600\n" +
		"  rest_window: 30s\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Strategy.Symbols) != 3 {
		t.Fatalf("symbols = %v", cfg.Strategy.Symbols)
	}
	if cfg.Strategy.MinHoldDuration != 2*time.Hour {
		t.Fatalf("min hold = %v", cfg.Strategy.MinHoldDuration)
	}
	if cfg.Strategy.MinNotional("BTC") != 20 {
		t.Fatalf("min notional BTC = %v", cfg.Strategy.MinNotional("BTC"))
	}
	if cfg.Filters.MinAvgFundingAPR != 8 {
		t.Fatalf("min funding = %v", cfg.Filters.MinAvgFundingAPR)
	}
	if cfg.RateLimit.RESTCapacity != 600 || cfg.RateLimit.RESTWindow != 30*time.Second {
		t.Fatalf("rest budget = %d/%v", cfg.RateLimit.RESTCapacity, cfg.RateLimit.RESTWindow)
	}
	if cfg.REST.BaseURL == "" || cfg.WS.URL == "" {
		t.Fatal("endpoint defaults missing")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
