package consistency

import (
	"context"
	"fmt"
	"log/slog"

	"spot_trader/internal/domain"
	"spot_trader/internal/infra"

	"github.com/shopspring/decimal"
)

// Mismatch reasons. They double as metric labels.
const (
	ReasonNone               = ""
	ReasonQuantityMismatch   = "quantity_mismatch"
	ReasonPriceMismatch      = "price_mismatch"
	ReasonMissingOnExchange  = "missing_on_exchange"
	ReasonManualIntervention = "manual_intervention_suspected"
)

// AccountSource reports exchange balances.
type AccountSource interface {
	GetAccounts(ctx context.Context) ([]domain.Account, error)
}

// View is one side's idea of a holding.
type View struct {
	AvgPrice decimal.Decimal
	Qty      decimal.Decimal
}

// Reconciliation is the outcome of a ledger vs exchange cross check.
// AvgPrice and TotalQty are the authoritative values: the ledger's when
// consistent, the exchange's otherwise.
type Reconciliation struct {
	Ticker       string
	Consistent   bool
	AvgPrice     decimal.Decimal
	TotalQty     decimal.Decimal
	PyramidCount int
	Reason       string
	Ledger       View
	Exchange     View
	// Position is the ledger projection with avg/qty replaced by the authoritative values.
	Position domain.Position
}

// Validator cross checks the ledger projection against exchange balances.
type Validator struct {
	ledger    domain.TradeLedger
	accounts  AccountSource
	tolerance decimal.Decimal // percent
	retry     domain.RetryPolicy
	metrics   *infra.Metrics
	logger    *slog.Logger
}

// NewValidator creates a validator with tolerancePct (1.0 = 1%).
func NewValidator(ledger domain.TradeLedger, accounts AccountSource, tolerancePct float64, retry domain.RetryPolicy, metrics *infra.Metrics) *Validator {
	return &Validator{
		ledger:    ledger,
		accounts:  accounts,
		tolerance: decimal.NewFromFloat(tolerancePct),
		retry:     retry,
		metrics:   metrics,
		logger:    slog.Default().With("module", "consistency"),
	}
}

// Reconcile compares ledger and exchange for one ticker.
// Errors are returned only when either side cannot be read.
func (v *Validator) Reconcile(ctx context.Context, ticker string) (Reconciliation, error) {
	records, err := v.ledger.ListByTicker(ctx, ticker)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("ledger read for %s: %w", ticker, err)
	}
	pos := domain.ProjectPosition(ticker, records)

	exchange, err := v.exchangeView(ctx, domain.Currency(ticker))
	if err != nil {
		return Reconciliation{}, fmt.Errorf("exchange balance for %s: %w", ticker, err)
	}

	rec := Reconciliation{
		Ticker:       ticker,
		PyramidCount: pos.PyramidCount,
		Ledger:       View{AvgPrice: pos.WeightedAvgPrice, Qty: pos.TotalQuantity},
		Exchange:     exchange,
	}
	rec.Reason = v.compare(rec.Ledger, rec.Exchange)
	rec.Consistent = rec.Reason == ReasonNone

	if rec.Consistent {
		rec.AvgPrice, rec.TotalQty = rec.Ledger.AvgPrice, rec.Ledger.Qty
		rec.Position = pos
		return rec, nil
	}

	rec.AvgPrice, rec.TotalQty = exchange.AvgPrice, exchange.Qty
	rec.Position = pos.WithExchangeView(exchange.AvgPrice, exchange.Qty)
	rec.Position.Ticker = ticker

	v.metrics.RecordInconsistency(rec.Reason)
	v.logger.Warn("⚠️ ledger/exchange mismatch, using exchange values",
		"ticker", ticker,
		"reason", rec.Reason,
		"ledger_avg", rec.Ledger.AvgPrice.String(),
		"ledger_qty", rec.Ledger.Qty.String(),
		"exchange_avg", exchange.AvgPrice.String(),
		"exchange_qty", exchange.Qty.String(),
	)
	return rec, nil
}

func (v *Validator) exchangeView(ctx context.Context, currency string) (View, error) {
	var accounts []domain.Account
	_, err := v.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		accounts, err = v.accounts.GetAccounts(ctx)
		return err
	})
	if err != nil {
		return View{}, err
	}
	for _, a := range accounts {
		if a.Currency == currency {
			qty := a.Total()
			if qty.LessThanOrEqual(domain.DustQty) {
				return View{AvgPrice: a.AvgBuyPrice, Qty: decimal.Zero}, nil
			}
			return View{AvgPrice: a.AvgBuyPrice, Qty: qty}, nil
		}
	}
	return View{AvgPrice: decimal.Zero, Qty: decimal.Zero}, nil
}

// compare returns the first mismatch reason, or ReasonNone.
func (v *Validator) compare(ledger, exchange View) string {
	ledgerHolds := ledger.Qty.GreaterThan(domain.DustQty)
	exchangeHolds := exchange.Qty.GreaterThan(domain.DustQty)

	switch {
	case !ledgerHolds && !exchangeHolds:
		return ReasonNone
	case ledgerHolds && !exchangeHolds:
		return ReasonMissingOnExchange
	case !ledgerHolds && exchangeHolds:
		return ReasonManualIntervention
	}

	if !v.within(ledger.Qty, exchange.Qty) {
		if exchange.Qty.GreaterThan(ledger.Qty) {
			return ReasonManualIntervention
		}
		return ReasonQuantityMismatch
	}
	if !v.within(ledger.AvgPrice, exchange.AvgPrice) {
		return ReasonPriceMismatch
	}
	return ReasonNone
}

// within reports |a-b|/a <= tolerance%.
func (v *Validator) within(ref, other decimal.Decimal) bool {
	if ref.IsZero() {
		return other.IsZero()
	}
	diffPct := ref.Sub(other).Abs().Div(ref.Abs()).Mul(decimal.NewFromInt(100))
	return diffPct.LessThanOrEqual(v.tolerance)
}
