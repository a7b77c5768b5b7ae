package sizing

import (
	"fmt"
	"math"

	"spot_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// Pyramid trigger paths.
const (
	PathBreakout = "breakout_volume"
	PathTrend    = "trend_advance"
)

// PyramidDecision says whether an add-on is permitted and how big it is.
type PyramidDecision struct {
	Allowed bool
	Path    string
	Amount  decimal.Decimal
	Reason  string
}

// Headroom is the KRW still allowed into the position under MaxTotalPositionPct.
func (s *Sizer) Headroom(pos domain.Position, capital decimal.Decimal) decimal.Decimal {
	h := pctOf(capital, s.policy.MaxTotalPositionPct).Sub(pos.TotalInvestment)
	if h.IsNegative() {
		return decimal.Zero
	}
	return h
}

// PyramidRatio is the add-on size relative to the initial entry size.
// Higher volatility and more prior add-ons shrink it.
func (s *Sizer) PyramidRatio(level int, snap domain.Snapshot) float64 {
	volAdj := 1.0
	if snap.ATR > 0 && snap.Price > 0 {
		vol := math.Min(snap.ATR/snap.Price*100, 10) / 10
		volAdj = 1 - 0.3*vol
	}
	decay := 1 / (1 + 0.3*float64(level))
	return clamp(s.policy.BaseAddOnRatio*volAdj*decay, 0.1, 1.0)
}

// PyramidAmount returns the KRW for the next add-on, capped by headroom.
func (s *Sizer) PyramidAmount(pos domain.Position, snap domain.Snapshot, capital decimal.Decimal) decimal.Decimal {
	p := s.policy
	pct := clamp(s.PyramidRatio(pos.PyramidCount, snap)*p.InitialPositionPct, p.MinPositionPct, p.MaxPositionPct)
	return decimal.Min(pctOf(capital, pct), s.Headroom(pos, capital))
}

// CheckPyramid evaluates the add-on gates and sizes the add-on when permitted.
func (s *Sizer) CheckPyramid(pos domain.Position, snap domain.Snapshot, capital decimal.Decimal) PyramidDecision {
	p := s.policy

	if !pos.Exists() {
		return PyramidDecision{Reason: "no position"}
	}
	if pos.PyramidCount >= p.MaxAddOns {
		return PyramidDecision{Reason: fmt.Sprintf("max add-ons reached (%d)", p.MaxAddOns)}
	}
	if s.Headroom(pos, capital).LessThan(p.MinPyramidKRW) {
		return PyramidDecision{Reason: "position at size cap"}
	}
	if snap.RSI >= p.MaxRSI {
		return PyramidDecision{Reason: fmt.Sprintf("rsi %.1f overbought", snap.RSI)}
	}

	path := ""
	switch {
	case snap.RecentHigh > 0 &&
		snap.Price > snap.RecentHigh*(1+p.BreakoutPct/100) &&
		snap.VolumeRatio > p.VolumeSurgeRatio:
		path = PathBreakout
	case snap.SupertrendBull && snap.ADX > p.MinADX && snap.Price > snap.MA20 &&
		s.advancePct(pos, snap.Price) >= p.PyramidThresholdPct:
		path = PathTrend
	default:
		return PyramidDecision{Reason: "no pyramid trigger"}
	}

	amount := s.PyramidAmount(pos, snap, capital)
	if amount.LessThan(p.MinPyramidKRW) {
		return PyramidDecision{Path: path, Amount: amount, Reason: "add-on below minimum"}
	}
	return PyramidDecision{Allowed: true, Path: path, Amount: amount, Reason: path}
}

// advancePct is the rise since the last add-on, or since the average entry when there is none.
func (s *Sizer) advancePct(pos domain.Position, price float64) float64 {
	ref := pos.LastPyramidPrice
	if !ref.IsPositive() {
		ref = pos.WeightedAvgPrice
	}
	r := ref.InexactFloat64()
	if r <= 0 {
		return 0
	}
	return (price - r) / r * 100
}
