package risk

import (
	"spot_trader/internal/domain"
)

// BasicStopLoss exits once the loss reaches Pct percent.
type BasicStopLoss struct {
	Pct float64
}

func (c BasicStopLoss) Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	if c.Pct <= 0 {
		return nil, false
	}
	ret := pos.ReturnPct(snap.Price)
	if ret <= -c.Pct {
		return hit("basic_stop_loss", "return %.2f%% <= -%.2f%%", ret, c.Pct)
	}
	return nil, false
}

// ATRStopLoss places the stop a volatility-scaled number of ATRs below the
// average entry price, bounded to [2%, 10%].
type ATRStopLoss struct{}

func (ATRStopLoss) Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	avg := pos.WeightedAvgPrice.InexactFloat64()
	if snap.ATR <= 0 || avg <= 0 {
		return nil, false
	}
	stop := clamp(snap.ATR/avg*100*volatilityMultiplier(snap), 2, 10)
	ret := pos.ReturnPct(snap.Price)
	if ret <= -stop {
		return hit("atr_dynamic_stop_loss", "return %.2f%% <= -%.2f%% (atr %.4g)", ret, stop, snap.ATR)
	}
	return nil, false
}
