// risk/manager.go
package risk

import (
	"math"
	"time"

	"scalp_guard_go/exchange"
	"scalp_guard_go/utils"
)

// Settings are the protection parameters. Profit thresholds are in account
// currency; PointValue is the profit of a 1.0 price move for the traded volume.
type Settings struct {
	BreakEvenTrigger float64
	TrailStep        float64
	PointValue       float64
	TickSize         float64
	MaxTradeDuration time.Duration // 0 disables the timeout rule
}

// State holds the facts derived from one position snapshot. Nothing in it
// survives the cycle.
type State struct {
	ExitPrice       float64
	Age             time.Duration
	PastMaxDuration bool
	AtLoss          bool
	HitTakeProfit   bool
	LockSteps       int
	LockLevel       float64 // 0 while profit is below the trigger
	TrailingStop    float64 // tick-rounded candidate stop, 0 while below the trigger
}

// Manager turns a position snapshot into protective actions. It keeps no
// state between calls; re-running it on an unchanged snapshot after its
// actions were applied returns nothing.
type Manager struct {
	cfg Settings
}

func NewManager(cfg Settings) *Manager {
	return &Manager{cfg: cfg}
}

// Derive computes the State of pos against tick at now.
func (m *Manager) Derive(pos exchange.Position, tick exchange.Tick, now time.Time) State {
	st := State{
		ExitPrice: tick.ExitPrice(pos.Direction),
		AtLoss:    pos.UnrealizedProfit <= 0,
	}
	if !pos.OpenTime.IsZero() {
		st.Age = now.Sub(pos.OpenTime)
		st.PastMaxDuration = m.cfg.MaxTradeDuration > 0 && st.Age >= m.cfg.MaxTradeDuration
	}
	if pos.TakeProfit != 0 {
		if pos.Direction == exchange.Long {
			st.HitTakeProfit = st.ExitPrice >= pos.TakeProfit
		} else {
			st.HitTakeProfit = st.ExitPrice <= pos.TakeProfit
		}
	}

	if pos.UnrealizedProfit >= m.cfg.BreakEvenTrigger && m.cfg.PointValue > 0 {
		if m.cfg.TrailStep > 0 {
			st.LockSteps = int(math.Floor((pos.UnrealizedProfit-m.cfg.BreakEvenTrigger)/m.cfg.TrailStep + utils.Epsilon))
		}
		st.LockLevel = m.cfg.BreakEvenTrigger + float64(st.LockSteps)*m.cfg.TrailStep
		raw := pos.EntryPrice + pos.Direction.Sign()*st.LockLevel/m.cfg.PointValue
		st.TrailingStop = utils.AdjustPriceToTickSize(raw, m.cfg.TickSize)
	}
	return st
}

// Evaluate applies, in order: the timeout close (which ends evaluation for
// the position), break-even on a touched target, and the stepped trailing stop.
func (m *Manager) Evaluate(pos exchange.Position, tick exchange.Tick, now time.Time) []Action {
	st := m.Derive(pos, tick, now)

	if st.PastMaxDuration && st.AtLoss {
		return []Action{&ClosePositionAction{
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Direction:  pos.Direction,
			Volume:     pos.Volume,
			Price:      st.ExitPrice,
			Profit:     pos.UnrealizedProfit,
			Held:       st.Age.Truncate(time.Second).String(),
		}}
	}

	var actions []Action
	stop := pos.StopLoss

	if st.HitTakeProfit {
		entry := utils.AdjustPriceToTickSize(pos.EntryPrice, m.cfg.TickSize)
		newStop := entry
		// A stop already past entry is kept; only the target is removed.
		if stop != 0 && !improves(pos.Direction, stop, entry) {
			newStop = stop
		}
		actions = append(actions, &ModifyProtectionAction{
			Kind:       BreakEven,
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Direction:  pos.Direction,
			StopLoss:   newStop,
			TakeProfit: 0,
			PrevStop:   stop,
		})
		stop = newStop
	}

	if st.TrailingStop > 0 && improves(pos.Direction, stop, st.TrailingStop) {
		actions = append(actions, &ModifyProtectionAction{
			Kind:       Trailing,
			PositionID: pos.ID,
			Symbol:     pos.Symbol,
			Direction:  pos.Direction,
			StopLoss:   st.TrailingStop,
			TakeProfit: 0,
			PrevStop:   stop,
			LockLevel:  st.LockLevel,
		})
	}
	return actions
}

// improves reports whether candidate is a strictly tighter stop than current
// for dir. An unset stop (0) is improved by any candidate.
func improves(dir exchange.Direction, current, candidate float64) bool {
	if current == 0 {
		return true
	}
	if utils.FloatEquals(current, candidate) {
		return false
	}
	if dir == exchange.Long {
		return candidate > current
	}
	return candidate < current
}
