package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"spot_trader/internal/consistency"
	"spot_trader/internal/domain"
	"spot_trader/internal/engine"
	"spot_trader/internal/event"
	"spot_trader/internal/execution"
	"spot_trader/internal/indicator"
	"spot_trader/internal/infra"
	"spot_trader/internal/infra/storage"
	"spot_trader/internal/infra/upbit"
	"spot_trader/internal/risk"
	"spot_trader/internal/service"
	"spot_trader/internal/sizing"
	"spot_trader/internal/strategy"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Storage  *storage.Storage
	Metrics  *infra.Metrics
	Exchange domain.ExchangeClient
	Prices   *service.PriceService
	Worker   *upbit.Worker
	Notifier *event.Dispatcher
	Executor *execution.Executor
	Engine   *engine.Engine
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config and wires every component. Nothing is started yet.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping Spot Trader...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg.Logging))

	// 3. Initialize Storage (ledger)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Ledger initialized")

	b.Metrics = infra.NewMetrics()
	retry := cfg.RetryPolicy()

	// 4. Exchange. The REST client also serves public quotes and candles in paper mode.
	rest := upbit.NewClient(cfg.API.Upbit.RestURL, cfg.API.Upbit.AccessKey, cfg.API.Upbit.SecretKey)
	b.Prices = service.NewPriceService(rest, time.Duration(cfg.Trading.PriceMaxAgeSec)*time.Second)

	switch cfg.Trading.Mode {
	case infra.ModeLive:
		b.Exchange = rest
		slog.Warn("💸 LIVE trading mode: orders go to Upbit")
	default:
		paper := execution.NewPaperExchange(cfg.Trading.PaperCashKRW, cfg.Trading.TakerFee, b.Prices, rest)
		restored, err := paper.Seed(context.Background(), store)
		if err != nil {
			return fmt.Errorf("restore paper holdings: %w", err)
		}
		b.Exchange = paper
		slog.Info("📝 Paper trading mode", "cash_krw", cfg.Trading.PaperCashKRW.String(), "restored_positions", restored)
	}

	// 5. Price stream
	markets, err := b.markets(context.Background())
	if err != nil {
		return err
	}
	if len(markets) > 0 {
		b.Worker = upbit.NewWorker(cfg.API.Upbit.WSURL, markets, b.Prices, b.Metrics)
	}

	// 6. Notifier
	sinks := []event.Notifier{event.NewLogNotifier()}
	if cfg.Notifier.WebhookURL != "" {
		sinks = append(sinks, event.NewWebhookNotifier(cfg.Notifier.WebhookURL))
		slog.Info("✅ Webhook notifier enabled")
	}
	b.Notifier = event.NewDispatcher(256, sinks...)

	// 7. Core
	b.Executor = execution.NewExecutor(b.Exchange, store, b.Notifier, b.Metrics, execution.ConfigFrom(cfg))
	validator := consistency.NewValidator(store, b.Exchange, cfg.Consistency.TolerancePct, retry, b.Metrics)
	provider := indicator.NewProvider(b.Exchange, b.Prices, cfg.Trading.CandleCount, retry)

	deps := engine.Deps{
		Ledger:    store,
		Balances:  b.Exchange,
		Validator: validator,
		Snapshots: provider,
		Prices:    b.Prices,
		Risk:      risk.NewEngine(risk.ThresholdsFrom(cfg)),
		Sizer:     sizing.NewSizer(sizing.PolicyFrom(cfg)),
		Orders:    b.Executor,
		Notifier:  b.Notifier,
		Metrics:   b.Metrics,
		Retry:     retry,
	}
	if cfg.Strategy.Enabled {
		src, err := strategy.NewCrossSource(b.Exchange, cfg.Watchlist(), cfg.Strategy.ShortPeriod, cfg.Strategy.LongPeriod, retry)
		if err != nil {
			return fmt.Errorf("signal source: %w", err)
		}
		deps.Signals = src
		slog.Info("✅ SMA cross signal source enabled", "short", cfg.Strategy.ShortPeriod, "long", cfg.Strategy.LongPeriod)
	}

	b.Engine = engine.NewEngine(deps, engine.Config{
		Interval: time.Duration(cfg.Trading.CycleIntervalSec) * time.Second,
		DumpPath: "panic_dump.json",
	})
	slog.Info("✅ Components wired", "mode", cfg.Trading.Mode, "markets", len(markets))
	return nil
}

// markets is the watchlist plus every ticker the ledger still holds.
func (b *Bootstrap) markets(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})
	for _, m := range b.Config.Watchlist() {
		set[m] = struct{}{}
	}
	open, err := b.Storage.OpenTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("open tickers: %w", err)
	}
	for _, m := range open {
		set[m] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// Start launches the notifier, the price stream and the cycle engine.
// The engine runs in its own goroutine; a panic there halts the process.
func (b *Bootstrap) Start(ctx context.Context) {
	b.Notifier.Start(ctx)

	if b.Worker != nil {
		if err := b.Worker.Connect(ctx); err != nil {
			slog.Error("Failed to connect Upbit stream, using REST prices", slog.Any("error", err))
		} else {
			slog.InfoContext(ctx, "✅ Upbit stream started")
		}
	}

	go b.Engine.Run(ctx)
	slog.InfoContext(ctx, "✅ Cycle engine started")
}

// Shutdown stops background components in reverse order.
func (b *Bootstrap) Shutdown() {
	if b.Worker != nil {
		b.Worker.Disconnect()
	}
	if b.Notifier != nil {
		b.Notifier.Close()
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close ledger", slog.Any("error", err))
		}
	}
}
