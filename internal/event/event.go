package event

import (
	"context"
	"fmt"
	"time"
)

// Type identifies a notifier event.
type Type string

const (
	TypeOrderSuccess     Type = "ORDER_SUCCESS"
	TypeOrderPartial     Type = "ORDER_PARTIAL"
	TypeOrderFailure     Type = "ORDER_FAILURE"
	TypeExitTriggered    Type = "EXIT_TRIGGERED"
	TypePyramidTriggered Type = "PYRAMID_TRIGGERED"
)

// Event is a structured notification emitted by the executor and the cycle engine.
type Event struct {
	Ticker string    `json:"ticker"`
	Type   Type      `json:"type"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// String renders a one-line human summary.
func (e Event) String() string {
	return fmt.Sprintf("[%s] %s %s", e.Type, e.Ticker, e.Detail)
}

// Notifier delivers events. Implementations must not block the caller for long.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
