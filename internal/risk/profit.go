package risk

import (
	"math"

	"spot_trader/internal/domain"
)

// HighReturn takes profit at a flat return.
type HighReturn struct {
	Pct float64
}

func (c HighReturn) Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	if c.Pct <= 0 {
		return nil, false
	}
	if ret := pos.ReturnPct(snap.Price); ret >= c.Pct {
		return hit("high_return_exit", "return %.2f%% >= %.0f%%", ret, c.Pct)
	}
	return nil, false
}

// HoldingTarget takes profit at a target that depends on how long the
// position has been held. A tier with a non-positive target is off.
type HoldingTarget struct {
	ShortPct  float64 // <= 3 days
	MediumPct float64 // <= 7 days
	LongPct   float64
}

func (c HoldingTarget) Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	days := pos.HoldingDays(snap.Now)
	exitType, target := "long_term_exit", c.LongPct
	switch {
	case days <= 3:
		exitType, target = "short_term_exit", c.ShortPct
	case days <= 7:
		exitType, target = "medium_term_exit", c.MediumPct
	}
	if target <= 0 {
		return nil, false
	}
	if ret := pos.ReturnPct(snap.Price); ret >= target {
		return hit(exitType, "day %d return %.2f%% >= %.0f%%", days, ret, target)
	}
	return nil, false
}

// HighProfit locks in a large gain once momentum shows any sign of fading.
type HighProfit struct {
	Pct float64
}

func (c HighProfit) Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	if c.Pct <= 0 {
		return nil, false
	}
	ret := pos.ReturnPct(snap.Price)
	if ret < c.Pct {
		return nil, false
	}
	n := count(
		snap.MA20 > 0 && snap.Price < snap.MA20,
		snap.RSI > 70,
		snap.MACD < snap.MACDSignal,
	)
	if n >= 1 {
		return hit("high_profit_exit", "return %.2f%% with %d weakness signals", ret, n)
	}
	return nil, false
}

// TrailingStop follows the high-water mark once the position is up MinRisePct
// and has been held MinHoldDays. Young positions get a wider stop.
type TrailingStop struct {
	MinRisePct  float64
	MinHoldDays int
}

func holdingAdjustment(days int) float64 {
	switch {
	case days <= 3:
		return 2.0
	case days <= 7:
		return 1.5
	case days <= 14:
		return 1.2
	default:
		return 1.0
	}
}

// HighWaterMark is the highest price seen during the holding episode.
func HighWaterMark(pos domain.Position, snap domain.Snapshot) float64 {
	return math.Max(math.Max(pos.HighWaterMark.InexactFloat64(), snap.HighSinceEntry), snap.Price)
}

// StopPct is the allowed drawdown from the high-water mark in percent.
func (c TrailingStop) StopPct(days int, snap domain.Snapshot) float64 {
	return clamp(snap.ATRRatio()*100*volatilityMultiplier(snap)*holdingAdjustment(days), 3, 10)
}

func (c TrailingStop) Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	avg := pos.WeightedAvgPrice.InexactFloat64()
	days := pos.HoldingDays(snap.Now)
	hwm := HighWaterMark(pos, snap)
	if avg <= 0 || hwm <= avg*(1+c.MinRisePct/100) || days < c.MinHoldDays {
		return nil, false
	}
	stop := c.StopPct(days, snap)
	drawdown := (hwm - snap.Price) / hwm * 100
	if drawdown >= stop {
		return hit("trailing_stop", "drawdown %.2f%% from %.4g >= %.2f%%", drawdown, hwm, stop)
	}
	return nil, false
}
