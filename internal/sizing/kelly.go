package sizing

import (
	"math"

	"spot_trader/internal/infra"

	"github.com/shopspring/decimal"
)

// Policy holds sizing and pyramiding limits. Percentages are of capital.
type Policy struct {
	MinPositionPct     float64
	MaxPositionPct     float64
	KellyScale         float64
	KellyMinSamples    int
	InitialPositionPct float64

	MaxAddOns           int
	BaseAddOnRatio      float64
	MaxTotalPositionPct float64
	PyramidThresholdPct float64
	BreakoutPct         float64
	VolumeSurgeRatio    float64
	MinADX              float64
	MaxRSI              float64

	MinPyramidKRW decimal.Decimal
}

// DefaultPolicy returns the stock limits.
func DefaultPolicy() Policy {
	return Policy{
		MinPositionPct:      1,
		MaxPositionPct:      8,
		KellyScale:          0.25,
		KellyMinSamples:     5,
		InitialPositionPct:  2,
		MaxAddOns:           3,
		BaseAddOnRatio:      0.5,
		MaxTotalPositionPct: 8,
		PyramidThresholdPct: 5,
		BreakoutPct:         1,
		VolumeSurgeRatio:    1.3,
		MinADX:              25,
		MaxRSI:              75,
		MinPyramidKRW:       decimal.NewFromInt(5000),
	}
}

// PolicyFrom reads the limits from the application config.
func PolicyFrom(cfg *infra.Config) Policy {
	return Policy{
		MinPositionPct:      cfg.Sizing.MinPositionPct,
		MaxPositionPct:      cfg.Sizing.MaxPositionPct,
		KellyScale:          cfg.Sizing.KellyScale,
		KellyMinSamples:     cfg.Sizing.KellyMinSamples,
		InitialPositionPct:  cfg.Sizing.InitialPositionPct,
		MaxAddOns:           cfg.Pyramid.MaxAddOns,
		BaseAddOnRatio:      cfg.Pyramid.BaseAddOnRatio,
		MaxTotalPositionPct: cfg.Pyramid.MaxTotalPositionPct,
		PyramidThresholdPct: cfg.Pyramid.PyramidThresholdPct,
		BreakoutPct:         cfg.Pyramid.BreakoutPct,
		VolumeSurgeRatio:    cfg.Pyramid.VolumeSurgeRatio,
		MinADX:              cfg.Pyramid.MinADX,
		MaxRSI:              cfg.Pyramid.MaxRSI,
		MinPyramidKRW:       cfg.Trading.MinPyramidKRW,
	}
}

// KellyEstimate summarizes realized returns and the resulting position fraction.
type KellyEstimate struct {
	Samples  int
	WinRate  float64
	AvgWin   float64
	AvgLoss  float64
	RawF     float64
	Fraction float64 // percent of capital, within [MinPositionPct, MaxPositionPct]
}

// Sizer computes entry and pyramid sizes.
type Sizer struct {
	policy Policy
}

func NewSizer(p Policy) *Sizer {
	return &Sizer{policy: p}
}

// Policy returns the limits in use.
func (s *Sizer) Policy() Policy {
	return s.policy
}

// EstimateKelly computes a scaled Kelly fraction from realized episode
// returns (0.1 = +10%).
func (s *Sizer) EstimateKelly(returns []float64) KellyEstimate {
	p := s.policy
	est := KellyEstimate{Samples: len(returns), Fraction: p.MinPositionPct}
	if len(returns) < p.KellyMinSamples || len(returns) == 0 {
		return est
	}

	var wins, losses int
	var sumWin, sumLoss float64
	for _, r := range returns {
		switch {
		case r > 0:
			wins++
			sumWin += r
		case r < 0:
			losses++
			sumLoss += -r
		}
	}

	est.WinRate = float64(wins) / float64(len(returns))
	if wins > 0 {
		est.AvgWin = sumWin / float64(wins)
	}
	if losses > 0 {
		est.AvgLoss = sumLoss / float64(losses)
	}

	switch {
	case losses == 0:
		est.RawF = est.WinRate
	case wins == 0:
		est.RawF = 0
	default:
		b := est.AvgWin / est.AvgLoss
		q := 1 - est.WinRate
		est.RawF = (b*est.WinRate - q) / b
	}

	est.Fraction = clamp(est.RawF*p.KellyScale*100, p.MinPositionPct, p.MaxPositionPct)
	return est
}

// EntryAmount returns the KRW to commit to a new position.
func (s *Sizer) EntryAmount(capital decimal.Decimal, returns []float64) decimal.Decimal {
	est := s.EstimateKelly(returns)
	return pctOf(capital, est.Fraction)
}

func pctOf(capital decimal.Decimal, pct float64) decimal.Decimal {
	return capital.Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100)).Floor()
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}
