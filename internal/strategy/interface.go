package strategy

import (
	"context"
)

// Intent is the direction a signal asks for.
type Intent int

const (
	IntentBuy  Intent = iota + 1
	IntentSell // Sell
)

// String returns the string representation of Intent
func (i Intent) String() string {
	switch i {
	case IntentBuy:
		return "BUY"
	case IntentSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Signal is an entry or exit intent handed to the cycle engine.
// Confidence is in [0, 1]; sizing is decided downstream.
type Signal struct {
	Ticker     string
	Intent     Intent
	Confidence float64
	Reason     string
}

// Strategy consumes daily closes for one ticker.
// It is called synchronously and must be deterministic.
type Strategy interface {
	// OnClose is called once per completed bar and returns any signals.
	OnClose(close float64) []Signal
}

// Source produces the signals for the current cycle.
type Source interface {
	Signals(ctx context.Context) ([]Signal, error)
}
