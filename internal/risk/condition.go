package risk

import (
	"fmt"

	"spot_trader/internal/domain"
)

// ExitBranch names the link of the exit chain a decision came from.
type ExitBranch string

const (
	BranchStopLoss      ExitBranch = "stop_loss"
	BranchTrendReversal ExitBranch = "trend_reversal"
	BranchProfitTaking  ExitBranch = "profit_taking"
)

// ExitDecision is the outcome of a matched exit condition.
// Type is the rule that fired (basic_stop_loss, long_term_exit, ...) and
// Reason is the readable account of it. Lower Priority wins.
type ExitDecision struct {
	Type     string
	Reason   string
	Branch   ExitBranch
	Priority int
}

func (d ExitDecision) String() string {
	if d.Reason == "" {
		return fmt.Sprintf("%s/%s(p%d)", d.Branch, d.Type, d.Priority)
	}
	return fmt.Sprintf("%s/%s(p%d): %s", d.Branch, d.Type, d.Priority, d.Reason)
}

// Condition inspects a position against a market snapshot.
// Implementations must not fetch data or keep state between calls.
type Condition interface {
	Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool)
}

// ConditionFunc adapts a plain function to Condition.
type ConditionFunc func(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool)

func (f ConditionFunc) Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	return f(pos, snap)
}

// Branch is one link of the exit chain. Its conditions run in order and the
// first match is stamped with the branch name and priority. A Guard returning
// false short-circuits the whole branch.
type Branch struct {
	Name       ExitBranch
	Priority   int
	Guard      func(pos domain.Position, snap domain.Snapshot) bool
	Conditions []Condition
}

func (b Branch) Evaluate(pos domain.Position, snap domain.Snapshot) (*ExitDecision, bool) {
	if b.Guard != nil && !b.Guard(pos, snap) {
		return nil, false
	}
	for _, c := range b.Conditions {
		d, ok := c.Evaluate(pos, snap)
		if !ok {
			continue
		}
		d.Branch = b.Name
		d.Priority = b.Priority
		return d, true
	}
	return nil, false
}

func hit(exitType, format string, args ...any) (*ExitDecision, bool) {
	return &ExitDecision{Type: exitType, Reason: fmt.Sprintf(format, args...)}, true
}

// volatilityMultiplier buckets ATR/price: high volatility gets a tighter multiple.
func volatilityMultiplier(snap domain.Snapshot) float64 {
	switch r := snap.ATRRatio(); {
	case r > 0.05:
		return 1.5
	case r > 0.03:
		return 2.0
	default:
		return 2.5
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func count(conds ...bool) int {
	n := 0
	for _, c := range conds {
		if c {
			n++
		}
	}
	return n
}
