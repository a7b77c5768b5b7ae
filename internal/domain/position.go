package domain

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DustQty is the quantity below which a holding is treated as closed.
var DustQty = decimal.New(1, -8)

// Position is a read-only projection of the ledger for one ticker.
// It covers the current holding episode only and is never persisted.
type Position struct {
	Ticker           string
	TotalQuantity    decimal.Decimal
	WeightedAvgPrice decimal.Decimal
	TotalInvestment  decimal.Decimal
	BuyCount         int
	PyramidCount     int
	HighWaterMark    decimal.Decimal
	LastPyramidPrice decimal.Decimal
	EntryAt          time.Time
	LastBuyAt        time.Time
}

// Exists reports whether the position holds more than dust.
func (p Position) Exists() bool {
	return p.TotalQuantity.GreaterThan(DustQty)
}

// ReturnPct is the unrealized return in percent at price.
func (p Position) ReturnPct(price float64) float64 {
	avg := p.WeightedAvgPrice.InexactFloat64()
	if avg <= 0 {
		return 0
	}
	return (price - avg) / avg * 100
}

// HoldingDays counts whole days since the episode's first buy.
func (p Position) HoldingDays(now time.Time) int {
	if p.EntryAt.IsZero() || now.Before(p.EntryAt) {
		return 0
	}
	return int(now.Sub(p.EntryAt).Hours() / 24)
}

// WithExchangeView replaces quantity and average price with exchange values,
// keeping the investment invariant.
func (p Position) WithExchangeView(avg, qty decimal.Decimal) Position {
	p.WeightedAvgPrice = avg
	p.TotalQuantity = qty
	p.TotalInvestment = avg.Mul(qty)
	return p
}

// CostBasisDrift returns |avg*qty - investment| which stays near zero while
// the projection is consistent.
func (p Position) CostBasisDrift() float64 {
	return math.Abs(p.WeightedAvgPrice.Mul(p.TotalQuantity).Sub(p.TotalInvestment).InexactFloat64())
}

type episode struct {
	pos          Position
	soldCost     decimal.Decimal
	soldProceeds decimal.Decimal
}

func (e *episode) apply(r TradeRecord) (closed bool) {
	switch {
	case r.Action.IsBuy():
		e.pos.TotalQuantity = e.pos.TotalQuantity.Add(r.Qty)
		e.pos.TotalInvestment = e.pos.TotalInvestment.Add(r.Notional())
		e.pos.WeightedAvgPrice = e.pos.TotalInvestment.Div(e.pos.TotalQuantity)
		if e.pos.EntryAt.IsZero() {
			e.pos.EntryAt = r.ExecutedAt
		}
		e.pos.LastBuyAt = r.ExecutedAt
		if r.Action == ActionPyramidBuy {
			e.pos.PyramidCount++
			e.pos.LastPyramidPrice = r.Price
		} else {
			e.pos.BuyCount++
		}
	case r.Action == ActionSell:
		if !e.pos.Exists() {
			return false
		}
		qty := decimal.Min(r.Qty, e.pos.TotalQuantity)
		cost := e.pos.WeightedAvgPrice.Mul(qty)
		e.soldCost = e.soldCost.Add(cost)
		e.soldProceeds = e.soldProceeds.Add(qty.Mul(r.Price))
		e.pos.TotalQuantity = e.pos.TotalQuantity.Sub(qty)
		e.pos.TotalInvestment = e.pos.WeightedAvgPrice.Mul(e.pos.TotalQuantity)
		if !e.pos.Exists() {
			return true
		}
	}
	if r.Price.GreaterThan(e.pos.HighWaterMark) {
		e.pos.HighWaterMark = r.Price
	}
	return false
}

func (e *episode) realizedReturn() (float64, bool) {
	if !e.soldCost.IsPositive() {
		return 0, false
	}
	return e.soldProceeds.Div(e.soldCost).Sub(decimal.NewFromInt(1)).InexactFloat64(), true
}

func sortedEffective(ticker string, records []TradeRecord) []TradeRecord {
	rows := make([]TradeRecord, 0, len(records))
	for _, r := range records {
		if r.Ticker == ticker && r.Effective() {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ExecutedAt.Equal(rows[j].ExecutedAt) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].ExecutedAt.Before(rows[j].ExecutedAt)
	})
	return rows
}

// ProjectPosition replays the ticker's successful ledger rows and returns the
// current holding episode. Failed and skipped rows are ignored.
func ProjectPosition(ticker string, records []TradeRecord) Position {
	ep := episode{pos: Position{Ticker: ticker}}
	for _, r := range sortedEffective(ticker, records) {
		if ep.apply(r) {
			ep = episode{pos: Position{Ticker: ticker}}
		}
	}
	if !ep.pos.Exists() {
		return Position{Ticker: ticker}
	}
	return ep.pos
}

// RealizedReturns returns the fractional return of every closed episode of
// ticker in chronological order (0.1 means +10%).
func RealizedReturns(ticker string, records []TradeRecord) []float64 {
	var out []float64
	ep := episode{pos: Position{Ticker: ticker}}
	for _, r := range sortedEffective(ticker, records) {
		if ep.apply(r) {
			if ret, ok := ep.realizedReturn(); ok {
				out = append(out, ret)
			}
			ep = episode{pos: Position{Ticker: ticker}}
		}
	}
	return out
}
