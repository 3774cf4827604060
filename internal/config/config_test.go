package config

import (
	"os"
	"path/filepath"
	"testing"
)

func baseConfig() *Config {
	return &Config{Instruments: []string{"paper:ETH/USD", "paper:BTC/USD"}}
}

func TestEstimatorDefaults(t *testing.T) {
	cfg := baseConfig()
	applyDefaults(cfg)
	if cfg.Estimator.WindowSize != 200 {
		t.Fatalf("expected window size 200, got %d", cfg.Estimator.WindowSize)
	}
	if cfg.Estimator.TrainFraction <= 0 || cfg.Estimator.TrainFraction >= 1 {
		t.Fatalf("expected train fraction default, got %v", cfg.Estimator.TrainFraction)
	}
	if cfg.Estimator.MaxVolumePenalty < 1 {
		t.Fatalf("expected max volume penalty default, got %v", cfg.Estimator.MaxVolumePenalty)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestADFLagsZeroIsKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "instruments: [paper:ETH/USD, paper:BTC/USD]\nestimator:\n  adf_lags: 0\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Estimator.ADFLagsValue(); got != 0 {
		t.Fatalf("expected zero adf lags, got %d", got)
	}

	unset := baseConfig()
	applyDefaults(unset)
	if got := unset.Estimator.ADFLagsValue(); got != 1 {
		t.Fatalf("expected one adf lag by default, got %d", got)
	}
	if unset.Timescale.RecordBeliefs {
		t.Fatalf("expected belief recording off by default")
	}

	negative := -1
	unset.Estimator.ADFLags = &negative
	if err := validate(unset); err == nil {
		t.Fatalf("expected negative adf lags to be rejected")
	}
}

func TestMetricsDefaults(t *testing.T) {
	cfg := baseConfig()
	applyDefaults(cfg)
	if !cfg.Metrics.EnabledValue() {
		t.Fatalf("expected metrics enabled default")
	}
	if cfg.Metrics.Address != "127.0.0.1:9001" {
		t.Fatalf("expected metrics address default, got %q", cfg.Metrics.Address)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("expected metrics path default, got %q", cfg.Metrics.Path)
	}
}

func TestWSURLDerivedFromREST(t *testing.T) {
	cfg := &Config{REST: RESTConfig{BaseURL: "https://example.com"}}
	applyDefaults(cfg)
	if cfg.WS.URL != "wss://example.com/ws" {
		t.Fatalf("expected derived ws url, got %q", cfg.WS.URL)
	}
}

func TestWSURLDerivedFromRESTHTTP(t *testing.T) {
	cfg := &Config{REST: RESTConfig{BaseURL: "http://example.com"}}
	applyDefaults(cfg)
	if cfg.WS.URL != "ws://example.com/ws" {
		t.Fatalf("expected derived ws url, got %q", cfg.WS.URL)
	}
}

func TestWSURLRespectsExplicitValue(t *testing.T) {
	cfg := &Config{
		REST: RESTConfig{BaseURL: "https://example.com"},
		WS:   WSConfig{URL: "wss://override.example/ws"},
	}
	applyDefaults(cfg)
	if cfg.WS.URL != "wss://override.example/ws" {
		t.Fatalf("expected explicit ws url, got %q", cfg.WS.URL)
	}
}

func TestKeysAreSorted(t *testing.T) {
	cfg := baseConfig()
	keys, err := cfg.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if keys[0].Base != "BTC" || keys[1].Base != "ETH" {
		t.Fatalf("expected sorted keys, got %v", keys)
	}
}

func TestValidateRejectsSingleInstrument(t *testing.T) {
	cfg := &Config{Instruments: []string{"paper:ETH/USD"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for a single instrument")
	}
}

func TestValidateRejectsDuplicateInstrument(t *testing.T) {
	cfg := &Config{Instruments: []string{"paper:ETH/USD", "PAPER:eth/usd"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for duplicate instruments")
	}
}

func TestValidateRequiresKeyForHyperliquid(t *testing.T) {
	cfg := baseConfig()
	cfg.Venue.Name = "hyperliquid"
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error without private key")
	}
}

func TestValidateCloseThreshold(t *testing.T) {
	cfg := baseConfig()
	cfg.Sizing.MinEdgeToEnter = 0.001
	cfg.Sizing.MinEdgeToClose = 0.01
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error when close threshold exceeds enter threshold")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "venue:\n  name: hyperliquid\ninstruments:\n  - hyperliquid:ETH/USDC\n  - hyperliquid:BTC/USDC\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FP_PRIVATE_KEY", "0xabc")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Venue.PrivateKey != "0xabc" {
		t.Fatalf("expected private key from env, got %q", cfg.Venue.PrivateKey)
	}
}

func TestRepositoryConfigLoads(t *testing.T) {
	t.Setenv("FP_PRIVATE_KEY", "")
	cfg, err := Load(filepath.Join("..", "..", "config.yaml"))
	if err != nil {
		t.Fatalf("expected repository config to load, got %v", err)
	}
	if cfg.Venue.Name != "paper" {
		t.Fatalf("expected paper venue, got %q", cfg.Venue.Name)
	}
	if cfg.WS.URL != "wss://api.hyperliquid.xyz/ws" {
		t.Fatalf("expected derived ws url, got %q", cfg.WS.URL)
	}
}
