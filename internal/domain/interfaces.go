package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Account is one balance row reported by the exchange.
type Account struct {
	Currency    string
	Balance     decimal.Decimal
	Locked      decimal.Decimal
	AvgBuyPrice decimal.Decimal
}

// Total returns free plus locked balance.
func (a Account) Total() decimal.Decimal {
	return a.Balance.Add(a.Locked)
}

// ExchangeClient is the exchange boundary consumed by the core.
// For BUY amount is KRW, for SELL it is a coin quantity. identifier is the
// client order id; the exchange rejects a second order with the same one.
type ExchangeClient interface {
	SubmitMarketOrder(ctx context.Context, ticker string, side Side, amount decimal.Decimal, identifier string) (string, error)
	GetOrder(ctx context.Context, orderID string) (*ExchangeOrder, error)
	// GetOrderByIdentifier returns ErrOrderNotFound when no order carries identifier.
	GetOrderByIdentifier(ctx context.Context, identifier string) (*ExchangeOrder, error)
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	GetAccounts(ctx context.Context) ([]Account, error)
	GetCurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
	GetDailyCandles(ctx context.Context, ticker string, count int) ([]Candle, error)
}

// ExchangeWorker defines the interface for exchange WebSocket connectors
type ExchangeWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// TradeLedger is the append-only store of trade rows.
type TradeLedger interface {
	Append(ctx context.Context, rec *TradeRecord) error
	ListByTicker(ctx context.Context, ticker string) ([]TradeRecord, error)
	OpenTickers(ctx context.Context) ([]string, error)
}

// PriceSource resolves the current price of a ticker.
type PriceSource interface {
	CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}
