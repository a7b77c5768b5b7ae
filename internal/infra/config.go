package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"spot_trader/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	ModeLive  = "live"
	ModePaper = "paper"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 .env 및 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Upbit struct {
			WSURL     string `yaml:"ws_url"`
			RestURL   string `yaml:"rest_url"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
		} `yaml:"upbit"`
	} `yaml:"api"`

	Trading struct {
		Mode             string          `yaml:"mode"` // live | paper
		Watchlist        []string        `yaml:"watchlist"`
		CycleIntervalSec int             `yaml:"cycle_interval_sec"`
		SettleSec        int             `yaml:"settle_sec"`
		MinBuyKRW        decimal.Decimal `yaml:"min_buy_krw"`
		MinSellKRW       decimal.Decimal `yaml:"min_sell_krw"`
		MinPyramidKRW    decimal.Decimal `yaml:"min_pyramid_krw"`
		TakerFee         decimal.Decimal `yaml:"taker_fee"`
		PaperCashKRW     decimal.Decimal `yaml:"paper_cash_krw"`
		CandleCount      int             `yaml:"candle_count"`
		PriceMaxAgeSec   int             `yaml:"price_max_age_sec"`
	} `yaml:"trading"`

	Retry struct {
		MaxAttempts    int     `yaml:"max_attempts"`
		InitialDelayMS int     `yaml:"initial_delay_ms"`
		Backoff        float64 `yaml:"backoff"`
	} `yaml:"retry"`

	Risk struct {
		BasicStopLossPct    float64 `yaml:"basic_stop_loss_pct"`
		BigWinnerPct        float64 `yaml:"big_winner_pct"`
		HighReturnPct       float64 `yaml:"high_return_pct"`
		ShortTermPct        float64 `yaml:"short_term_pct"`
		MediumTermPct       float64 `yaml:"medium_term_pct"`
		LongTermPct         float64 `yaml:"long_term_pct"`
		HighProfitBearPct   float64 `yaml:"high_profit_bear_pct"`
		TrailingMinRisePct  float64 `yaml:"trailing_min_rise_pct"`
		TrailingMinHoldDays int     `yaml:"trailing_min_hold_days"`
	} `yaml:"risk"`

	Sizing struct {
		MinPositionPct     float64 `yaml:"min_position_pct"`
		MaxPositionPct     float64 `yaml:"max_position_pct"`
		KellyScale         float64 `yaml:"kelly_scale"`
		KellyMinSamples    int     `yaml:"kelly_min_samples"`
		InitialPositionPct float64 `yaml:"initial_position_pct"`
	} `yaml:"sizing"`

	Pyramid struct {
		MaxAddOns           int     `yaml:"max_add_ons"`
		BaseAddOnRatio      float64 `yaml:"base_add_on_ratio"`
		MaxTotalPositionPct float64 `yaml:"max_total_position_pct"`
		PyramidThresholdPct float64 `yaml:"pyramid_threshold_pct"`
		BreakoutPct         float64 `yaml:"breakout_pct"`
		VolumeSurgeRatio    float64 `yaml:"volume_surge_ratio"`
		MinADX              float64 `yaml:"min_adx"`
		MaxRSI              float64 `yaml:"max_rsi"`
	} `yaml:"pyramid"`

	Consistency struct {
		TolerancePct float64 `yaml:"tolerance_pct"`
	} `yaml:"consistency"`

	// Strategy configures the reference SMA-cross signal source over the watchlist.
	Strategy struct {
		Enabled     bool `yaml:"enabled"`
		ShortPeriod int  `yaml:"short_period"`
		LongPeriod  int  `yaml:"long_period"`
	} `yaml:"strategy"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Notifier struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"notifier"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Logging LogConfig `yaml:"logging"`
}

// LogConfig controls the slog handler and file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file_name"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	// 4원칙: 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	// 5원칙: 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.Upbit.RestURL == "" {
		c.API.Upbit.RestURL = "https://api.upbit.com"
	}
	if c.API.Upbit.WSURL == "" {
		c.API.Upbit.WSURL = "wss://api.upbit.com/websocket/v1"
	}

	t := &c.Trading
	if t.Mode == "" {
		t.Mode = ModePaper
	}
	if t.CycleIntervalSec == 0 {
		t.CycleIntervalSec = 300
	}
	if t.SettleSec == 0 {
		t.SettleSec = 5
	}
	if t.MinBuyKRW.IsZero() {
		t.MinBuyKRW = decimal.NewFromInt(10000)
	}
	if t.MinSellKRW.IsZero() {
		t.MinSellKRW = decimal.NewFromInt(5000)
	}
	if t.MinPyramidKRW.IsZero() {
		t.MinPyramidKRW = decimal.NewFromInt(5000)
	}
	if t.TakerFee.IsZero() {
		t.TakerFee = decimal.RequireFromString("0.00139")
	}
	if t.PaperCashKRW.IsZero() {
		t.PaperCashKRW = decimal.NewFromInt(1_000_000)
	}
	if t.CandleCount == 0 {
		t.CandleCount = 200
	}
	if t.PriceMaxAgeSec == 0 {
		t.PriceMaxAgeSec = 30
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelayMS == 0 {
		c.Retry.InitialDelayMS = 1000
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = 2
	}

	r := &c.Risk
	setFloat(&r.BasicStopLossPct, 8)
	setFloat(&r.BigWinnerPct, 100)
	setFloat(&r.HighReturnPct, 50)
	setFloat(&r.ShortTermPct, 15)
	setFloat(&r.MediumTermPct, 20)
	setFloat(&r.LongTermPct, 12)
	setFloat(&r.HighProfitBearPct, 25)
	setFloat(&r.TrailingMinRisePct, 8)
	if r.TrailingMinHoldDays == 0 {
		r.TrailingMinHoldDays = 3
	}

	s := &c.Sizing
	setFloat(&s.MinPositionPct, 1)
	setFloat(&s.MaxPositionPct, 8)
	setFloat(&s.KellyScale, 0.25)
	setFloat(&s.InitialPositionPct, 2)
	if s.KellyMinSamples == 0 {
		s.KellyMinSamples = 5
	}

	p := &c.Pyramid
	if p.MaxAddOns == 0 {
		p.MaxAddOns = 3
	}
	setFloat(&p.BaseAddOnRatio, 0.5)
	setFloat(&p.MaxTotalPositionPct, 8)
	setFloat(&p.PyramidThresholdPct, 5)
	setFloat(&p.BreakoutPct, 1)
	setFloat(&p.VolumeSurgeRatio, 1.3)
	setFloat(&p.MinADX, 25)
	setFloat(&p.MaxRSI, 75)

	setFloat(&c.Consistency.TolerancePct, 1)

	if c.Strategy.ShortPeriod == 0 {
		c.Strategy.ShortPeriod = 5
	}
	if c.Strategy.LongPeriod == 0 {
		c.Strategy.LongPeriod = 20
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "localhost:6060"
	}

	l := &c.Logging
	if l.FileName == "" {
		l.FileName = "logs/app.log"
	}
	if l.MaxSize == 0 {
		l.MaxSize = 10
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = 3
	}
	if l.MaxAge == 0 {
		l.MaxAge = 28
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	// Upbit
	if !strings.HasPrefix(c.API.Upbit.WSURL, "ws://") && !strings.HasPrefix(c.API.Upbit.WSURL, "wss://") {
		return &domain.ConfigError{Field: "api.upbit.ws_url", Err: fmt.Errorf("invalid Upbit WS URL: %s", c.API.Upbit.WSURL)}
	}
	if !strings.HasPrefix(c.API.Upbit.RestURL, "http://") && !strings.HasPrefix(c.API.Upbit.RestURL, "https://") {
		return &domain.ConfigError{Field: "api.upbit.rest_url", Err: fmt.Errorf("invalid Upbit REST URL: %s", c.API.Upbit.RestURL)}
	}

	switch c.Trading.Mode {
	case ModeLive:
		if c.API.Upbit.AccessKey == "" || c.API.Upbit.SecretKey == "" {
			return &domain.ConfigError{Field: "api.upbit.access_key", Err: errors.New("live mode requires Upbit API keys")}
		}
	case ModePaper:
	default:
		return &domain.ConfigError{Field: "trading.mode", Err: fmt.Errorf("unknown mode %q", c.Trading.Mode)}
	}

	if c.Trading.CycleIntervalSec <= 0 {
		return &domain.ConfigError{Field: "trading.cycle_interval_sec", Err: errors.New("cycle interval must be positive")}
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.Backoff < 1 {
		return &domain.ConfigError{Field: "retry", Err: errors.New("max_attempts must be >= 1 and backoff >= 1")}
	}
	if c.Sizing.MinPositionPct > c.Sizing.MaxPositionPct {
		return &domain.ConfigError{Field: "sizing", Err: errors.New("min_position_pct exceeds max_position_pct")}
	}
	if c.Pyramid.MaxTotalPositionPct <= 0 || c.Pyramid.MaxAddOns < 0 {
		return &domain.ConfigError{Field: "pyramid", Err: errors.New("invalid pyramid limits")}
	}
	if c.Strategy.Enabled && c.Strategy.ShortPeriod >= c.Strategy.LongPeriod {
		return &domain.ConfigError{Field: "strategy", Err: errors.New("short_period must be below long_period")}
	}

	return nil
}

// RetryPolicy builds the exchange retry policy from config.
func (c *Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts:  c.Retry.MaxAttempts,
		InitialDelay: time.Duration(c.Retry.InitialDelayMS) * time.Millisecond,
		Backoff:      c.Retry.Backoff,
	}
}

// Watchlist returns the configured tickers as KRW market codes.
func (c *Config) Watchlist() []string {
	out := make([]string, 0, len(c.Trading.Watchlist))
	for _, s := range c.Trading.Watchlist {
		out = append(out, domain.MarketCode(strings.ToUpper(strings.TrimSpace(s))))
	}
	return out
}


// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("TRADER_UPBIT_ACCESS_KEY"); key != "" {
		cfg.API.Upbit.AccessKey = key
	}
	if secret := os.Getenv("TRADER_UPBIT_SECRET_KEY"); secret != "" {
		cfg.API.Upbit.SecretKey = secret
	}
	if url := os.Getenv("TRADER_WEBHOOK_URL"); url != "" {
		cfg.Notifier.WebhookURL = url
	}
	if mode := os.Getenv("TRADER_MODE"); mode != "" {
		cfg.Trading.Mode = mode
	}
}
