package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spot_trader/internal/domain"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: spot-trader
trading:
  mode: paper
  watchlist: ["btc", "KRW-ETH"]
  min_buy_krw: 20000
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if !cfg.Trading.MinBuyKRW.Equal(decimal.NewFromInt(20000)) {
		t.Errorf("Expected min_buy_krw 20000, got %s", cfg.Trading.MinBuyKRW)
	}
	if !cfg.Trading.MinSellKRW.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Expected default min_sell_krw 5000, got %s", cfg.Trading.MinSellKRW)
	}
	if cfg.Risk.BasicStopLossPct != 8 || cfg.Risk.LongTermPct != 12 {
		t.Errorf("Unexpected risk defaults: %+v", cfg.Risk)
	}
	if cfg.Pyramid.MaxAddOns != 3 || cfg.Pyramid.MaxTotalPositionPct != 8 {
		t.Errorf("Unexpected pyramid defaults: %+v", cfg.Pyramid)
	}

	if cfg.Strategy.Enabled || cfg.Strategy.ShortPeriod != 5 || cfg.Strategy.LongPeriod != 20 {
		t.Errorf("Unexpected strategy defaults: %+v", cfg.Strategy)
	}

	p := cfg.RetryPolicy()
	if p.MaxAttempts != 3 || p.InitialDelay != time.Second || p.Backoff != 2 {
		t.Errorf("Unexpected retry policy: %+v", p)
	}

	wl := cfg.Watchlist()
	if len(wl) != 2 || wl[0] != "KRW-BTC" || wl[1] != "KRW-ETH" {
		t.Errorf("Expected normalized watchlist, got %v", wl)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("TRADER_MODE", "live")
	t.Setenv("TRADER_UPBIT_ACCESS_KEY", "ak")
	t.Setenv("TRADER_UPBIT_SECRET_KEY", "sk")

	cfg, err := LoadConfig(writeConfig(t, "trading:\n  mode: paper\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Trading.Mode != ModeLive {
		t.Errorf("Expected live mode from env, got %s", cfg.Trading.Mode)
	}
	if cfg.API.Upbit.AccessKey != "ak" || cfg.API.Upbit.SecretKey != "sk" {
		t.Error("Expected keys from environment")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Run("live without keys", func(t *testing.T) {
		t.Setenv("TRADER_UPBIT_ACCESS_KEY", "")
		t.Setenv("TRADER_UPBIT_SECRET_KEY", "")
		_, err := LoadConfig(writeConfig(t, "trading:\n  mode: live\n"))
		var cfgErr *domain.ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("Expected ConfigError, got %v", err)
		}
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "trading:\n  mode: yolo\n"))
		if err == nil {
			t.Fatal("Expected error for unknown mode")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		if !errors.Is(err, domain.ErrConfigNotFound) {
			t.Errorf("Expected ErrConfigNotFound, got %v", err)
		}
	})
}
