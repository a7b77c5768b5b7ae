package risk

import (
	"sort"

	"spot_trader/internal/domain"
	"spot_trader/internal/infra"
)

// Thresholds are the configurable exit levels, in percent.
// A non-positive value switches the tier off.
type Thresholds struct {
	BasicStopLossPct    float64
	BigWinnerPct        float64
	HighReturnPct       float64
	ShortTermPct        float64
	MediumTermPct       float64
	LongTermPct         float64
	HighProfitPct       float64
	TrailingMinRisePct  float64
	TrailingMinHoldDays int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		BasicStopLossPct:    8,
		BigWinnerPct:        100,
		HighReturnPct:       50,
		ShortTermPct:        15,
		MediumTermPct:       20,
		LongTermPct:         12,
		HighProfitPct:       25,
		TrailingMinRisePct:  8,
		TrailingMinHoldDays: 3,
	}
}

// ThresholdsFrom reads exit levels from the application config.
func ThresholdsFrom(cfg *infra.Config) Thresholds {
	r := cfg.Risk
	return Thresholds{
		BasicStopLossPct:    r.BasicStopLossPct,
		BigWinnerPct:        r.BigWinnerPct,
		HighReturnPct:       r.HighReturnPct,
		ShortTermPct:        r.ShortTermPct,
		MediumTermPct:       r.MediumTermPct,
		LongTermPct:         r.LongTermPct,
		HighProfitPct:       r.HighProfitBearPct,
		TrailingMinRisePct:  r.TrailingMinRisePct,
		TrailingMinHoldDays: r.TrailingMinHoldDays,
	}
}

// Engine runs the exit chain: stop-loss, then trend reversal, then profit
// taking. The first matching branch decides.
type Engine struct {
	branches []Branch
}

// NewEngine builds the standard chain.
func NewEngine(t Thresholds) *Engine {
	return NewEngineWithBranches(
		Branch{
			Name:       BranchStopLoss,
			Priority:   1,
			Conditions: []Condition{BasicStopLoss{Pct: t.BasicStopLossPct}, ATRStopLoss{}},
		},
		Branch{
			Name:     BranchTrendReversal,
			Priority: 2,
			Conditions: []Condition{
				GapDown{},
				MABreakdown{},
				CompositeBearish{},
				Distribution{},
				TechnicalBearish{},
			},
		},
		Branch{
			Name:     BranchProfitTaking,
			Priority: 3,
			Guard:    bigWinnerGuard(t.BigWinnerPct),
			Conditions: []Condition{
				HighReturn{Pct: t.HighReturnPct},
				HoldingTarget{ShortPct: t.ShortTermPct, MediumPct: t.MediumTermPct, LongPct: t.LongTermPct},
				HighProfit{Pct: t.HighProfitPct},
				TrailingStop{MinRisePct: t.TrailingMinRisePct, MinHoldDays: t.TrailingMinHoldDays},
			},
		},
	)
}

// NewEngineWithBranches orders the given branches by priority.
func NewEngineWithBranches(branches ...Branch) *Engine {
	sorted := append([]Branch(nil), branches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Engine{branches: sorted}
}

// Evaluate returns the first exit that applies, or false to keep holding.
func (e *Engine) Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	if !pos.Exists() || snap.Price <= 0 {
		return nil, false
	}
	for _, b := range e.branches {
		if d, ok := b.Evaluate(pos, snap); ok {
			return d, true
		}
	}
	return nil, false
}

// 큰 수익 포지션은 익절 대신 추세 이탈/손절에 맡긴다.
func bigWinnerGuard(pct float64) func(domain.Position, domain.Snapshot) bool {
	return func(pos domain.Position, snap domain.Snapshot) bool {
		return pct <= 0 || pos.ReturnPct(snap.Price) < pct
	}
}
