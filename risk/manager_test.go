package risk

import (
	"testing"
	"time"

	"scalp_guard_go/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func testManager() *Manager {
	return NewManager(Settings{
		BreakEvenTrigger: 2.0,
		TrailStep:        1.0,
		PointValue:       10,
		TickSize:         0.01,
		MaxTradeDuration: 10 * time.Minute,
	})
}

func longPos(profit, stop, target float64) exchange.Position {
	return exchange.Position{
		ID: "P1", Symbol: "XAUUSDT", Direction: exchange.Long,
		EntryPrice: 2000.0, Volume: 0.01,
		StopLoss: stop, TakeProfit: target,
		UnrealizedProfit: profit,
		OpenTime:         now.Add(-time.Minute),
	}
}

func shortPos(profit, stop, target float64) exchange.Position {
	p := longPos(profit, stop, target)
	p.Direction = exchange.Short
	return p
}

var flatTick = exchange.Tick{Bid: 2000.1, Ask: 2000.2}

func onlyModify(t *testing.T, actions []Action) *ModifyProtectionAction {
	t.Helper()
	require.Len(t, actions, 1)
	mod, ok := actions[0].(*ModifyProtectionAction)
	require.True(t, ok, "got %T", actions[0])
	return mod
}

func TestEvaluate_TrailingScenarios(t *testing.T) {
	m := testManager()

	t.Run("scenario C: profit equals trigger", func(t *testing.T) {
		mod := onlyModify(t, m.Evaluate(longPos(2.0, 1999.0, 0), flatTick, now))
		assert.Equal(t, Trailing, mod.Kind)
		assert.InDelta(t, 2000.2, mod.StopLoss, 1e-9)
		assert.Zero(t, mod.TakeProfit)
		assert.Equal(t, 2.0, mod.LockLevel)
	})

	t.Run("scenario C: stop already at candidate", func(t *testing.T) {
		assert.Empty(t, m.Evaluate(longPos(2.0, 2000.2, 0), flatTick, now))
	})

	t.Run("scenario C: stop beyond candidate", func(t *testing.T) {
		assert.Empty(t, m.Evaluate(longPos(2.0, 2000.25, 0), flatTick, now))
	})

	t.Run("scenario D: one full step", func(t *testing.T) {
		mod := onlyModify(t, m.Evaluate(longPos(3.4, 2000.2, 0), flatTick, now))
		assert.InDelta(t, 2000.3, mod.StopLoss, 1e-9)
		assert.Equal(t, 3.0, mod.LockLevel)
		assert.Equal(t, 2000.2, mod.PrevStop)
	})

	t.Run("below trigger does nothing", func(t *testing.T) {
		assert.Empty(t, m.Evaluate(longPos(1.99, 1999.0, 0), flatTick, now))
	})

	t.Run("short with unset stop", func(t *testing.T) {
		mod := onlyModify(t, m.Evaluate(shortPos(2.5, 0, 0), flatTick, now))
		assert.InDelta(t, 1999.8, mod.StopLoss, 1e-9)
	})

	t.Run("short tightens downward only", func(t *testing.T) {
		mod := onlyModify(t, m.Evaluate(shortPos(3.0, 1999.8, 0), flatTick, now))
		assert.InDelta(t, 1999.7, mod.StopLoss, 1e-9)
		assert.Empty(t, m.Evaluate(shortPos(3.0, 1999.6, 0), flatTick, now))
	})
}

func TestEvaluate_TrailingIsIdempotent(t *testing.T) {
	m := testManager()
	pos := longPos(4.7, 1999.0, 0)

	mod := onlyModify(t, m.Evaluate(pos, flatTick, now))
	pos.StopLoss = mod.StopLoss
	pos.TakeProfit = mod.TakeProfit
	assert.Empty(t, m.Evaluate(pos, flatTick, now))
}

func TestEvaluate_StopIsMonotonic(t *testing.T) {
	m := testManager()
	profits := []float64{2.0, 3.5, 2.1, 5.2, 4.0, 1.0, 6.0}

	t.Run("long", func(t *testing.T) {
		pos := longPos(0, 1999.0, 0)
		for _, p := range profits {
			pos.UnrealizedProfit = p
			for _, a := range m.Evaluate(pos, flatTick, now) {
				mod := a.(*ModifyProtectionAction)
				assert.Greater(t, mod.StopLoss, pos.StopLoss)
				pos.StopLoss = mod.StopLoss
			}
		}
		assert.InDelta(t, 2000.6, pos.StopLoss, 1e-9)
	})

	t.Run("short", func(t *testing.T) {
		pos := shortPos(0, 0, 0)
		for _, p := range profits {
			pos.UnrealizedProfit = p
			for _, a := range m.Evaluate(pos, flatTick, now) {
				mod := a.(*ModifyProtectionAction)
				if pos.StopLoss != 0 {
					assert.Less(t, mod.StopLoss, pos.StopLoss)
				}
				pos.StopLoss = mod.StopLoss
			}
		}
		assert.InDelta(t, 1999.4, pos.StopLoss, 1e-9)
	})
}

func TestEvaluate_Timeout(t *testing.T) {
	m := testManager()

	t.Run("scenario E: old losing position closes", func(t *testing.T) {
		pos := longPos(-0.5, 1999.0, 2002.0)
		pos.OpenTime = now.Add(-11 * time.Minute)
		actions := m.Evaluate(pos, flatTick, now)
		require.Len(t, actions, 1)
		closeAction, ok := actions[0].(*ClosePositionAction)
		require.True(t, ok)
		assert.Equal(t, 2000.1, closeAction.Price, "longs close at the bid")
		assert.Equal(t, 0.01, closeAction.Volume)
		assert.Equal(t, "11m0s", closeAction.Held)
	})

	t.Run("short closes at the ask", func(t *testing.T) {
		pos := shortPos(0, 2001.0, 0)
		pos.OpenTime = now.Add(-10 * time.Minute)
		actions := m.Evaluate(pos, flatTick, now)
		require.Len(t, actions, 1)
		assert.Equal(t, 2000.2, actions[0].(*ClosePositionAction).Price)
	})

	t.Run("skips the other rules", func(t *testing.T) {
		// target touched but profit reported at zero
		pos := longPos(0, 1999.0, 2000.0)
		pos.OpenTime = now.Add(-30 * time.Minute)
		actions := m.Evaluate(pos, flatTick, now)
		require.Len(t, actions, 1)
		assert.IsType(t, &ClosePositionAction{}, actions[0])
	})

	t.Run("profitable old position stays open", func(t *testing.T) {
		pos := longPos(0.5, 1999.0, 0)
		pos.OpenTime = now.Add(-30 * time.Minute)
		assert.Empty(t, m.Evaluate(pos, flatTick, now))
	})

	t.Run("young losing position stays open", func(t *testing.T) {
		pos := longPos(-3, 1999.0, 0)
		pos.OpenTime = now.Add(-9 * time.Minute)
		assert.Empty(t, m.Evaluate(pos, flatTick, now))
	})

	t.Run("unknown open time never times out", func(t *testing.T) {
		pos := longPos(-3, 1999.0, 0)
		pos.OpenTime = time.Time{}
		assert.Empty(t, m.Evaluate(pos, flatTick, now))
	})
}

func TestEvaluate_BreakEven(t *testing.T) {
	m := testManager()

	t.Run("long target touched", func(t *testing.T) {
		mod := onlyModify(t, m.Evaluate(longPos(1.0, 1999.0, 2000.1), flatTick, now))
		assert.Equal(t, BreakEven, mod.Kind)
		assert.Equal(t, 2000.0, mod.StopLoss)
		assert.Zero(t, mod.TakeProfit)
	})

	t.Run("long target not touched", func(t *testing.T) {
		assert.Empty(t, m.Evaluate(longPos(1.0, 1999.0, 2000.2), flatTick, now))
	})

	t.Run("short target touched at the ask", func(t *testing.T) {
		mod := onlyModify(t, m.Evaluate(shortPos(1.0, 2001.0, 2000.2), flatTick, now))
		assert.Equal(t, BreakEven, mod.Kind)
		assert.Equal(t, 2000.0, mod.StopLoss)
	})

	t.Run("no target means no break-even", func(t *testing.T) {
		assert.Empty(t, m.Evaluate(longPos(1.0, 1999.0, 0), flatTick, now))
	})

	t.Run("advanced stop is kept", func(t *testing.T) {
		mod := onlyModify(t, m.Evaluate(longPos(1.0, 2000.05, 2000.1), flatTick, now))
		assert.Equal(t, 2000.05, mod.StopLoss)
		assert.Zero(t, mod.TakeProfit)
	})

	t.Run("break-even then trailing in the same cycle", func(t *testing.T) {
		actions := m.Evaluate(longPos(3.0, 1999.0, 2000.1), flatTick, now)
		require.Len(t, actions, 2)
		be := actions[0].(*ModifyProtectionAction)
		trail := actions[1].(*ModifyProtectionAction)
		assert.Equal(t, BreakEven, be.Kind)
		assert.Equal(t, Trailing, trail.Kind)
		assert.Equal(t, 2000.0, trail.PrevStop)
		assert.InDelta(t, 2000.3, trail.StopLoss, 1e-9)
	})

	t.Run("idempotent once applied", func(t *testing.T) {
		pos := longPos(1.0, 1999.0, 2000.1)
		mod := onlyModify(t, m.Evaluate(pos, flatTick, now))
		pos.StopLoss, pos.TakeProfit = mod.StopLoss, mod.TakeProfit
		assert.Empty(t, m.Evaluate(pos, flatTick, now))
	})
}

func TestDerive(t *testing.T) {
	m := testManager()
	pos := longPos(3.4, 1999.0, 2000.05)
	pos.OpenTime = now.Add(-12 * time.Minute)

	st := m.Derive(pos, flatTick, now)
	assert.Equal(t, 2000.1, st.ExitPrice)
	assert.True(t, st.PastMaxDuration)
	assert.False(t, st.AtLoss)
	assert.True(t, st.HitTakeProfit)
	assert.Equal(t, 1, st.LockSteps)
	assert.Equal(t, 3.0, st.LockLevel)
	assert.InDelta(t, 2000.3, st.TrailingStop, 1e-9)
	assert.Equal(t, 12*time.Minute, st.Age)
}

func TestDerive_TimeoutDisabled(t *testing.T) {
	m := NewManager(Settings{BreakEvenTrigger: 2, TrailStep: 1, PointValue: 10})
	pos := longPos(-1, 1999, 0)
	pos.OpenTime = now.Add(-24 * time.Hour)
	assert.False(t, m.Derive(pos, flatTick, now).PastMaxDuration)
}

func TestActionDescriptions(t *testing.T) {
	closeAction := &ClosePositionAction{PositionID: "P1", Symbol: "XAUUSDT", Direction: exchange.Long, Volume: 0.01, Price: 2000.1, Profit: -0.5, Held: "11m0s"}
	assert.Contains(t, closeAction.Description(), "Timeout close")
	trail := &ModifyProtectionAction{Kind: Trailing, PositionID: "P1", StopLoss: 2000.3, PrevStop: 2000.2, LockLevel: 3}
	assert.Contains(t, trail.Description(), "Trailing stop")
	be := &ModifyProtectionAction{Kind: BreakEven, PositionID: "P1", StopLoss: 2000}
	assert.Contains(t, be.Description(), "Break-even")
}
