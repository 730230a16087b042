// risk/actions.go
package risk

import (
	"fmt"

	"scalp_guard_go/exchange"
)

// Action is a generic interface for any action returned by the risk manager.
type Action interface {
	Description() string
}

// === Specific Action Implementations ===

// ClosePositionAction closes a position at market.
type ClosePositionAction struct {
	PositionID string
	Symbol     string
	Direction  exchange.Direction
	Volume     float64
	Price      float64 // bid for longs, ask for shorts
	Profit     float64 // unrealised profit when the decision was taken
	Held       string
}

func (a *ClosePositionAction) Description() string {
	return fmt.Sprintf("Timeout close: %s %s %s, Volume: %.4f, Price: %.5f, Profit: %.2f, Held: %s",
		a.Direction, a.Symbol, a.PositionID, a.Volume, a.Price, a.Profit, a.Held)
}

// ProtectionKind tells which rule produced a ModifyProtectionAction.
type ProtectionKind string

const (
	BreakEven ProtectionKind = "break-even"
	Trailing  ProtectionKind = "trailing"
)

// ModifyProtectionAction replaces the stop and target of a position.
// TakeProfit == 0 removes the target.
type ModifyProtectionAction struct {
	Kind       ProtectionKind
	PositionID string
	Symbol     string
	Direction  exchange.Direction
	StopLoss   float64
	TakeProfit float64
	PrevStop   float64
	LockLevel  float64 // profit locked in, trailing only
}

func (a *ModifyProtectionAction) Description() string {
	if a.Kind == Trailing {
		return fmt.Sprintf("Trailing stop: %s %s %s, Stop: %.5f -> %.5f, Locked: %.2f",
			a.Direction, a.Symbol, a.PositionID, a.PrevStop, a.StopLoss, a.LockLevel)
	}
	return fmt.Sprintf("Break-even: %s %s %s, Stop: %.5f -> %.5f, target removed",
		a.Direction, a.Symbol, a.PositionID, a.PrevStop, a.StopLoss)
}
