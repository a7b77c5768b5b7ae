package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction is the ledger action of a trade row.
type TradeAction string

const (
	ActionBuy        TradeAction = "buy"
	ActionPyramidBuy TradeAction = "pyramid_buy"
	ActionSell       TradeAction = "sell"
)

// IsBuy reports whether the action adds to a position.
func (a TradeAction) IsBuy() bool {
	return a == ActionBuy || a == ActionPyramidBuy
}

// TradeRecord is one append-only row of the trade ledger.
// Rows are written once per terminal order outcome and never updated.
type TradeRecord struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Ticker        string          `gorm:"index;not null" json:"ticker"`
	Action        TradeAction     `gorm:"type:varchar(16);not null" json:"action"`
	Qty           decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"qty"`
	Price         decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"price"`
	ExecutedAt    time.Time       `gorm:"index;not null" json:"executed_at"`
	Status        ResultStatus    `gorm:"type:varchar(20);not null" json:"status"`
	StrategyCombo string          `json:"strategy_combo"`
	OrderID       string          `gorm:"index" json:"order_id"`
	Detail        string          `json:"detail"`
}

// TableName keeps the ledger relation name stable.
func (TradeRecord) TableName() string {
	return "trade_log"
}

// Effective reports whether the row moved quantity.
func (r *TradeRecord) Effective() bool {
	return r.Status.Filled() && r.Qty.IsPositive()
}

// Notional returns qty * price.
func (r *TradeRecord) Notional() decimal.Decimal {
	return r.Qty.Mul(r.Price)
}
