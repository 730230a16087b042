// investment/gate.go
package investment

import (
	"fmt"
	"math"

	"scalp_guard_go/exchange"
	"scalp_guard_go/logs"
)

// Gate decides whether a new entry may be opened on the symbol.
type Gate struct {
	symbol          string
	volume          float64
	notionalLimit   float64
	isLimitExceeded bool
}

// NewGate creates a gate for entries of volume on symbol. limit caps the
// notional value of one entry; 0 means no cap.
func NewGate(symbol string, volume, limit float64) *Gate {
	return &Gate{symbol: symbol, volume: volume, notionalLimit: limit}
}

// CanEnter refuses an entry while any position on the symbol is open,
// whoever owns it, and when the entry notional at price would exceed the cap.
// reason is empty when the entry is allowed.
func (g *Gate) CanEnter(positions []exchange.Position, price float64) (ok bool, reason string) {
	if len(positions) > 0 {
		return false, fmt.Sprintf("position %s already open on %s", positions[0].ID, g.symbol)
	}

	if g.notionalLimit <= 0 {
		return true, ""
	}
	notional := math.Abs(g.volume * price)
	if notional > g.notionalLimit {
		if !g.isLimitExceeded {
			logs.Warnf("[Investment-Management-Warning] Entry notional %.4f has exceeded limit %.4f. Will prohibit new position opening.",
				notional, g.notionalLimit)
		}
		g.isLimitExceeded = true
		return false, fmt.Sprintf("entry notional %.2f exceeds limit %.2f", notional, g.notionalLimit)
	}
	if g.isLimitExceeded {
		logs.Infof("[Investment-Management-Restore] Entry notional %.4f is back within limit %.4f. Resuming position opening.",
			notional, g.notionalLimit)
	}
	g.isLimitExceeded = false
	return true, ""
}
