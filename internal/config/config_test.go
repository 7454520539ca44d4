package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("app:\n  name: test\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Market.Symbols) != 4 || cfg.Market.Symbols[0] != "NVDA" {
		t.Fatalf("default symbols = %v", cfg.Market.Symbols)
	}
	if cfg.Provider.RequestsPerMinute != 8 || cfg.Provider.Cooldown != time.Minute || cfg.Provider.SymbolDelay != 10*time.Second {
		t.Fatalf("unexpected provider defaults %+v", cfg.Provider)
	}
	if cfg.Provider.MaxRetries != 3 || cfg.Provider.RetryDelay != time.Second || cfg.Provider.BackoffFactor != 2 {
		t.Fatalf("unexpected retry defaults %+v", cfg.Provider)
	}
	if cfg.Scheduler.Interval != 5*time.Second || cfg.Analytics.Window != 5 || cfg.Index.Mode != "rebuild" {
		t.Fatalf("unexpected loop defaults %+v %+v %+v", cfg.Scheduler, cfg.Analytics, cfg.Index)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
market:
  symbols: [AAPL, MSFT]
provider:
  api_keys: [k1, k2, k3]
  symbol_delay: 2s
database:
  driver: sqlite
  path: /tmp/x.db
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STOCKWATCHER_ANALYTICS_WINDOW", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Provider.APIKeys) != 3 || cfg.Provider.SymbolDelay != 2*time.Second {
		t.Fatalf("provider not loaded from file: %+v", cfg.Provider)
	}
	if len(cfg.Market.Symbols) != 2 {
		t.Fatalf("symbols = %v", cfg.Market.Symbols)
	}
	if cfg.Analytics.Window != 7 {
		t.Fatalf("env override ignored, window = %d", cfg.Analytics.Window)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Scheduler: SchedulerConfig{Interval: time.Second},
			Market:    MarketConfig{Symbols: []string{"AAPL"}},
			Database:  DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			Provider:  ProviderConfig{RequestsPerMinute: 8, MaxRetries: 3, BackoffFactor: 2},
			Analytics: AnalyticsConfig{Window: 5},
			Index:     IndexConfig{Enabled: true, Mode: "rebuild", Embedder: "hash"},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}

	good := base()
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*Config){
		"no symbols":      func(c *Config) { c.Market.Symbols = nil },
		"pg without dsn":  func(c *Config) { c.Database = DatabaseConfig{Driver: "postgres"} },
		"bad index mode":  func(c *Config) { c.Index.Mode = "merge" },
		"http embedder":   func(c *Config) { c.Index.Embedder = "http" },
		"bad backoff":     func(c *Config) { c.Provider.BackoffFactor = 0.5 },
		"telegram no bot": func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"jump > 1":        func(c *Config) { c.Synthetic.JumpProbability = 2 },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
