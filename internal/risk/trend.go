package risk

import (
	"spot_trader/internal/domain"
)

// GapDown exits on a gap below yesterday's high. Longer holdings tolerate a
// wider gap.
type GapDown struct{}

func gapThreshold(days int) float64 {
	switch {
	case days <= 3:
		return 3
	case days <= 7:
		return 4
	case days <= 14:
		return 5
	default:
		return 6
	}
}

func (GapDown) Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	if snap.PrevHigh <= 0 || snap.TodayHigh <= 0 || snap.PrevHigh <= snap.TodayLow {
		return nil, false
	}
	gap := (snap.PrevHigh - snap.TodayHigh) / snap.PrevHigh * 100
	limit := gapThreshold(pos.HoldingDays(snap.Now))
	if gap >= limit {
		return hit("gap_down_exit", "gap %.2f%% >= %.0f%%", gap, limit)
	}
	return nil, false
}

// MABreakdown exits when price loses the long moving average on heavy volume.
type MABreakdown struct{}

func (MABreakdown) Evaluate(_ domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	if snap.MALong <= 0 {
		return nil, false
	}
	if snap.Price < snap.MALong && snap.VolumeRatio >= 2.0 {
		return hit("ma_breakdown_exit", "price %.4g < ma120 %.4g, volume x%.2f", snap.Price, snap.MALong, snap.VolumeRatio)
	}
	return nil, false
}

// CompositeBearish needs two of: oversold RSI with a MACD bear cross, a strong
// trend led by -DI, or a high-volume down close.
type CompositeBearish struct{}

func (CompositeBearish) Evaluate(_ domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	n := count(
		snap.RSI < 30 && snap.MACDCrossedDown(),
		snap.ADX > 25 && snap.MinusDI > snap.PlusDI,
		snap.VolumeRatio >= 2.0 && snap.PrevClose > 0 && snap.Price < snap.PrevClose,
	)
	if n >= 2 {
		return hit("composite_bearish_exit", "%d/3 bearish signals", n)
	}
	return nil, false
}

// Distribution exits when price hovers just under the long MA while down days
// carry more volume than up days.
type Distribution struct{}

func (Distribution) Evaluate(_ domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	if snap.MALong <= 0 {
		return nil, false
	}
	near := snap.Price >= snap.MALong*0.97 && snap.Price <= snap.MALong
	if near && snap.DownVolumeRatio >= 1.5 {
		return hit("distribution_exit", "down/up volume %.2f near ma120", snap.DownVolumeRatio)
	}
	return nil, false
}

// TechnicalBearish needs two of four classic weakness signals.
type TechnicalBearish struct{}

func (TechnicalBearish) Evaluate(_ domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	n := count(
		snap.RSI > 70,
		snap.MA20 > 0 && snap.Price < snap.MA20*0.98,
		snap.MACD < snap.MACDSignal && snap.MACD < 0,
		snap.BBLower > 0 && snap.Price < snap.BBLower,
	)
	if n >= 2 {
		return hit("technical_bearish", "%d/4 bearish signals", n)
	}
	return nil, false
}
