package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"spot_trader/internal/consistency"
	"spot_trader/internal/domain"
	"spot_trader/internal/event"
	"spot_trader/internal/infra"
	"spot_trader/internal/risk"
	"spot_trader/internal/sizing"
	"spot_trader/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// OrderSubmitter executes sized order intents.
type OrderSubmitter interface {
	SubmitMarketOrder(ctx context.Context, req domain.OrderRequest) domain.OrderResult
}

// Reconciler cross checks a ticker's ledger position with the exchange.
type Reconciler interface {
	Reconcile(ctx context.Context, ticker string) (consistency.Reconciliation, error)
}

// SnapshotProvider builds the market snapshot for a ticker.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, ticker string, entryAt time.Time) (domain.Snapshot, error)
}

// ExitEvaluator decides whether an open position is closed.
type ExitEvaluator interface {
	Evaluate(pos domain.Position, snap domain.Snapshot) (*risk.ExitDecision, bool)
}

// Ledger is the trade log plus realized episode returns.
type Ledger interface {
	domain.TradeLedger
	ClosedReturns(ctx context.Context) ([]float64, error)
}

// BalanceSource reports free exchange balances.
type BalanceSource interface {
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Deps are the collaborators of the cycle engine.
type Deps struct {
	Ledger    Ledger
	Balances  BalanceSource
	Validator Reconciler
	Snapshots SnapshotProvider
	Prices    domain.PriceSource // reference prices for signal orders
	Risk      ExitEvaluator
	Sizer     *sizing.Sizer
	Orders    OrderSubmitter
	Signals   strategy.Source // optional
	Notifier  event.Notifier
	Metrics   *infra.Metrics
	Retry     domain.RetryPolicy
}

// Config controls the loop.
type Config struct {
	Interval time.Duration
	DumpPath string
}

// CycleReport summarizes one evaluation pass.
type CycleReport struct {
	StartedAt    time.Time         `json:"started_at"`
	Duration     time.Duration     `json:"duration"`
	Capital      string            `json:"capital"`
	Positions    map[string]string `json:"positions"`
	Inconsistent []string          `json:"inconsistent,omitempty"`
	Exits        []string          `json:"exits,omitempty"`
	Pyramids     []string          `json:"pyramids,omitempty"`
	Errors       []string          `json:"errors,omitempty"`
}

// Engine runs one sequential pass over open positions per tick.
// Positions are recomputed from the ledger every pass; nothing is cached.
type Engine struct {
	deps   Deps
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	mu   sync.RWMutex // Used only for external reads of the last report
	last CycleReport
}

// NewEngine creates a new cycle engine.
func NewEngine(deps Deps, cfg Config) *Engine {
	if deps.Notifier == nil {
		deps.Notifier = event.Nop{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.DumpPath == "" {
		cfg.DumpPath = "panic_dump.json"
	}
	return &Engine{
		deps:   deps,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("module", "engine"),
	}
}

// Run evaluates immediately and then on every interval until ctx is done.
// This MUST be run in a single goroutine.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("🔁 Cycle engine started", "interval", e.cfg.Interval.String())

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			e.DumpState(e.cfg.DumpPath)
			// halt after dump
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		e.tick(ctx)
		select {
		case <-ctx.Done():
			e.logger.Info("Cycle engine stopping...")
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if _, err := e.RunCycle(ctx); err != nil {
		e.logger.Error("❌ Cycle finished with errors", "count", len(multierr.Errors(err)), "error", err)
	}
	if e.deps.Signals == nil || ctx.Err() != nil {
		return
	}
	signals, err := e.deps.Signals.Signals(ctx)
	if err != nil {
		e.logger.Warn("⚠️ Signal source error", "error", err)
	}
	for _, sig := range signals {
		if _, err := e.HandleSignal(ctx, sig); err != nil {
			e.logger.Error("❌ Signal handling failed", "ticker", sig.Ticker, "error", err)
		}
	}
}

// RunCycle reconciles and evaluates every open position once. Per-position
// errors are aggregated and never stop the pass.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{StartedAt: e.now(), Positions: make(map[string]string)}
	defer func() {
		report.Duration = e.now().Sub(report.StartedAt)
		e.mu.Lock()
		e.last = report
		e.mu.Unlock()
	}()

	tickers, err := e.deps.Ledger.OpenTickers(ctx)
	if err != nil {
		return report, fmt.Errorf("open tickers: %w", err)
	}

	var errs error
	positions := make([]domain.Position, 0, len(tickers))
	for _, ticker := range tickers {
		rec, err := e.deps.Validator.Reconcile(ctx, ticker)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !rec.Consistent {
			report.Inconsistent = append(report.Inconsistent, ticker+":"+rec.Reason)
		}
		if !rec.Position.Exists() {
			e.logger.Warn("⚠️ Ledger position not held on exchange, skipped", "ticker", ticker, "reason", rec.Reason)
			continue
		}
		positions = append(positions, rec.Position)
	}

	capital, err := e.capital(ctx, positions)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	report.Capital = capital.String()

	for _, pos := range positions {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		outcome, err := e.evaluate(ctx, pos, capital)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", pos.Ticker, err))
		}
		report.Positions[pos.Ticker] = outcome
		switch {
		case strings.HasPrefix(outcome, "exit:"):
			report.Exits = append(report.Exits, pos.Ticker)
		case strings.HasPrefix(outcome, "pyramid:"):
			report.Pyramids = append(report.Pyramids, pos.Ticker)
		}
	}

	for _, err := range multierr.Errors(errs) {
		report.Errors = append(report.Errors, err.Error())
	}
	e.deps.Metrics.RecordCycle(e.now().Sub(report.StartedAt), len(report.Errors), len(positions))
	e.logger.Info("✅ Cycle complete",
		"open", len(positions),
		"exits", len(report.Exits),
		"pyramids", len(report.Pyramids),
		"errors", len(report.Errors),
	)
	return report, errs
}

// evaluate runs the exit chain for one position and, when it holds, the
// pyramid gate. The returned outcome is recorded in the cycle report.
func (e *Engine) evaluate(ctx context.Context, pos domain.Position, capital decimal.Decimal) (string, error) {
	snap, err := e.deps.Snapshots.Snapshot(ctx, pos.Ticker, pos.EntryAt)
	if err != nil {
		return "error", err
	}
	ref := decimal.NewFromFloat(snap.Price)

	if d, ok := e.deps.Risk.Evaluate(pos, snap); ok {
		e.deps.Metrics.RecordExit(d.Type)
		e.deps.Notifier.Notify(ctx, event.Event{
			Ticker: pos.Ticker,
			Type:   event.TypeExitTriggered,
			Detail: d.String(),
			At:     e.now(),
		})
		e.logger.Info("🚪 Exit triggered", "ticker", pos.Ticker, "type", d.Type, "branch", d.Branch, "reason", d.Reason, "return_pct", pos.ReturnPct(snap.Price))

		res := e.deps.Orders.SubmitMarketOrder(ctx, domain.OrderRequest{
			Ticker:         pos.Ticker,
			Side:           domain.SideSell,
			Amount:         pos.TotalQuantity,
			Action:         domain.ActionSell,
			Reason:         d.Type,
			ReferencePrice: ref,
		})
		return "exit:" + d.Type + ":" + string(res.Status), orderErr("exit", res)
	}

	dec := e.deps.Sizer.CheckPyramid(pos, snap, capital)
	if !dec.Allowed {
		return "hold", nil
	}
	e.deps.Metrics.RecordPyramid()
	e.deps.Notifier.Notify(ctx, event.Event{
		Ticker: pos.Ticker,
		Type:   event.TypePyramidTriggered,
		Detail: fmt.Sprintf("%s level=%d amount=%s", dec.Path, pos.PyramidCount+1, dec.Amount.StringFixed(0)),
		At:     e.now(),
	})
	e.logger.Info("🔺 Pyramid triggered", "ticker", pos.Ticker, "path", dec.Path, "amount", dec.Amount.StringFixed(0))

	res := e.deps.Orders.SubmitMarketOrder(ctx, domain.OrderRequest{
		Ticker:         pos.Ticker,
		Side:           domain.SideBuy,
		Amount:         dec.Amount,
		Action:         domain.ActionPyramidBuy,
		Reason:         dec.Path,
		ReferencePrice: ref,
	})
	return "pyramid:" + dec.Path + ":" + string(res.Status), orderErr("pyramid", res)
}

// HandleSignal turns an entry or exit intent into a sized order.
// BUY on an open position is ignored; add-ons go through the pyramid gate.
func (e *Engine) HandleSignal(ctx context.Context, sig strategy.Signal) (domain.OrderResult, error) {
	records, err := e.deps.Ledger.ListByTicker(ctx, sig.Ticker)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("ledger read for %s: %w", sig.Ticker, err)
	}
	pos := domain.ProjectPosition(sig.Ticker, records)
	reason := sig.Reason
	if reason == "" {
		reason = "signal"
	}

	switch sig.Intent {
	case strategy.IntentBuy:
		if pos.Exists() {
			return e.ignore(sig, "position already open"), nil
		}
		open, err := e.openPositions(ctx)
		if err != nil {
			return domain.OrderResult{}, err
		}
		capital, err := e.capital(ctx, open)
		if err != nil {
			return domain.OrderResult{}, err
		}
		returns, err := e.deps.Ledger.ClosedReturns(ctx)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("closed returns: %w", err)
		}
		amount := e.deps.Sizer.EntryAmount(capital, returns)
		e.logger.Info("🛒 Entry signal", "ticker", sig.Ticker, "confidence", sig.Confidence, "amount", amount.StringFixed(0))

		res := e.deps.Orders.SubmitMarketOrder(ctx, domain.OrderRequest{
			Ticker:         sig.Ticker,
			Side:           domain.SideBuy,
			Amount:         amount,
			Action:         domain.ActionBuy,
			Reason:         reason,
			ReferencePrice: e.referencePrice(ctx, sig.Ticker),
		})
		return res, orderErr("entry", res)

	case strategy.IntentSell:
		if !pos.Exists() {
			return e.ignore(sig, "no open position"), nil
		}
		rec, err := e.deps.Validator.Reconcile(ctx, sig.Ticker)
		if err != nil {
			return domain.OrderResult{}, fmt.Errorf("reconcile %s: %w", sig.Ticker, err)
		}
		if !rec.Position.Exists() {
			return e.ignore(sig, "not held on exchange ("+rec.Reason+")"), nil
		}
		e.logger.Info("🚪 Exit signal", "ticker", sig.Ticker, "qty", rec.Position.TotalQuantity.String(), "consistent", rec.Consistent)

		res := e.deps.Orders.SubmitMarketOrder(ctx, domain.OrderRequest{
			Ticker:         sig.Ticker,
			Side:           domain.SideSell,
			Amount:         rec.Position.TotalQuantity,
			Action:         domain.ActionSell,
			Reason:         reason,
			ReferencePrice: e.referencePrice(ctx, sig.Ticker),
		})
		return res, orderErr("signal exit", res)
	}
	return domain.OrderResult{}, fmt.Errorf("unknown intent %v for %s", sig.Intent, sig.Ticker)
}

// ignore logs a signal that places no order.
func (e *Engine) ignore(sig strategy.Signal, why string) domain.OrderResult {
	e.logger.Info("⏭️ Signal ignored", "ticker", sig.Ticker, "intent", sig.Intent.String(), "reason", sig.Reason, "why", why)
	return domain.OrderResult{Status: domain.StatusSkipped, Kind: domain.KindInvalidOrder}
}

// referencePrice is the current price, or zero when it cannot be resolved.
// The executor then falls back to its own price lookup.
func (e *Engine) referencePrice(ctx context.Context, ticker string) decimal.Decimal {
	if e.deps.Prices == nil {
		return decimal.Zero
	}
	var price decimal.Decimal
	_, err := e.deps.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		price, err = e.deps.Prices.CurrentPrice(ctx, ticker)
		return err
	})
	if err != nil {
		e.logger.Warn("⚠️ No reference price for signal order", "ticker", ticker, "error", err)
		return decimal.Zero
	}
	return price
}

// openPositions projects every open ticker straight from the ledger.
func (e *Engine) openPositions(ctx context.Context) ([]domain.Position, error) {
	tickers, err := e.deps.Ledger.OpenTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("open tickers: %w", err)
	}
	out := make([]domain.Position, 0, len(tickers))
	for _, t := range tickers {
		recs, err := e.deps.Ledger.ListByTicker(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("ledger read for %s: %w", t, err)
		}
		out = append(out, domain.ProjectPosition(t, recs))
	}
	return out, nil
}

// capital is free KRW plus the cost basis of every open position.
func (e *Engine) capital(ctx context.Context, positions []domain.Position) (decimal.Decimal, error) {
	invested := decimal.Zero
	for _, p := range positions {
		invested = invested.Add(p.TotalInvestment)
	}
	var cash decimal.Decimal
	_, err := e.deps.Retry.Do(ctx, func(ctx context.Context) error {
		var err error
		cash, err = e.deps.Balances.GetBalance(ctx, "KRW")
		return err
	})
	if err != nil {
		return invested, fmt.Errorf("krw balance: %w", err)
	}
	return cash.Add(invested), nil
}

// LastCycle returns the report of the most recent pass (external read).
func (e *Engine) LastCycle() CycleReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

// DumpState writes the last cycle report to a file (for post-mortem).
func (e *Engine) DumpState(filename string) {
	e.logger.Info("Dumping cycle state...", slog.String("file", filename))

	e.mu.RLock()
	data := struct {
		DumpedAt time.Time   `json:"dumped_at"`
		Last     CycleReport `json:"last_cycle"`
	}{
		DumpedAt: e.now(),
		Last:     e.last,
	}
	b, err := json.MarshalIndent(data, "", "  ")
	e.mu.RUnlock()
	if err != nil {
		e.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		e.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}

var errOrderFailed = errors.New("order failed")

// orderErr surfaces FAILURE results and ledger write errors to the cycle.
func orderErr(what string, res domain.OrderResult) error {
	var errs error
	if res.Status == domain.StatusFailure {
		cause := res.Err
		if cause == nil {
			cause = errOrderFailed
		}
		errs = multierr.Append(errs, fmt.Errorf("%s order (%s): %w", what, res.Kind, cause))
	}
	if res.LedgerErr != nil {
		errs = multierr.Append(errs, fmt.Errorf("%s ledger write: %w", what, res.LedgerErr))
	}
	return errs
}
