package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderState is the executor-side lifecycle of an order.
type OrderState string

const (
	OrderStateSubmitted       OrderState = "SUBMITTED"
	OrderStateFilled          OrderState = "FILLED"
	OrderStatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderStateCancelled       OrderState = "CANCELLED"
	OrderStateFailed          OrderState = "FAILED"
	OrderStateSkipped         OrderState = "SKIPPED"
)

// Order represents a market order owned by the executor.
// RequestedAmount is KRW for BUY and coin quantity for SELL.
type Order struct {
	ID               string
	ClientOrderID    string
	Ticker           string
	Side             Side
	RequestedAmount  decimal.Decimal
	State            OrderState
	ExecutedQty      decimal.Decimal
	ExecutedAvgPrice decimal.Decimal
	CreatedAt        time.Time
}

// IsTerminal reports whether the order reached a final state.
// A cancellation is terminal only when nothing was filled.
func (o *Order) IsTerminal() bool {
	switch o.State {
	case OrderStateFilled, OrderStatePartiallyFilled, OrderStateFailed, OrderStateSkipped:
		return true
	case OrderStateCancelled:
		return o.ExecutedQty.IsZero()
	default:
		return false
	}
}

// OrderRequest is an execution intent that already carries its size.
type OrderRequest struct {
	Ticker string
	Side   Side
	// Amount is KRW for BUY and quantity for SELL.
	Amount decimal.Decimal
	Action TradeAction
	Reason string
	// ReferencePrice is the last known price, used for the sell notional
	// pre-check and as the fill-price fallback.
	ReferencePrice decimal.Decimal
}

// ResultStatus is the structured outcome of an order attempt.
type ResultStatus string

const (
	StatusSuccess        ResultStatus = "SUCCESS"
	StatusSuccessPartial ResultStatus = "SUCCESS_PARTIAL"
	StatusFailure        ResultStatus = "FAILURE"
	StatusSkipped        ResultStatus = "SKIPPED"
)

// Filled reports whether the status carries executed quantity.
func (s ResultStatus) Filled() bool {
	return s == StatusSuccess || s == StatusSuccessPartial
}

// OrderResult is returned for every order attempt; expected failures are
// described by Kind and Err instead of being returned as Go errors.
type OrderResult struct {
	Status ResultStatus
	Kind   ErrorKind
	Order  Order
	Err    error
	// Raw holds the exchange payload for postmortem on ambiguous states.
	Raw string
	// LedgerErr is set when the outcome could not be persisted.
	LedgerErr error
}

// Fill is a single trade reported for an exchange order.
type Fill struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// Exchange order states as reported by Upbit.
const (
	ExchangeStateWait   = "wait"
	ExchangeStateWatch  = "watch"
	ExchangeStateDone   = "done"
	ExchangeStateCancel = "cancel"
)

// ExchangeOrder is the exchange's view of an order.
type ExchangeOrder struct {
	ID             string
	State          string
	ExecutedVolume decimal.Decimal
	Fills          []Fill
	Raw            []byte
}

// AverageFillPrice returns the volume weighted fill price and the summed
// volume. ok is false when there are no usable fills.
func (o *ExchangeOrder) AverageFillPrice() (avg decimal.Decimal, volume decimal.Decimal, ok bool) {
	notional := decimal.Zero
	for _, f := range o.Fills {
		if !f.Volume.IsPositive() {
			continue
		}
		notional = notional.Add(f.Price.Mul(f.Volume))
		volume = volume.Add(f.Volume)
	}
	if !volume.IsPositive() {
		return decimal.Zero, decimal.Zero, false
	}
	return notional.Div(volume), volume, true
}

// Currency returns the coin part of a market code ("KRW-BTC" -> "BTC").
func Currency(ticker string) string {
	if i := strings.IndexByte(ticker, '-'); i >= 0 {
		return ticker[i+1:]
	}
	return ticker
}

// MarketCode normalizes a coin or market code to the KRW market code.
func MarketCode(symbol string) string {
	if strings.Contains(symbol, "-") {
		return symbol
	}
	return "KRW-" + symbol
}
