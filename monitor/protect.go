// monitor/protect.go
package monitor

import (
	"fmt"

	"scalp_guard_go/exchange"
	"scalp_guard_go/journal"
	"scalp_guard_go/risk"

	"github.com/sirupsen/logrus"
)

// protectionPass runs the risk manager over every position opened under our tag.
func (l *Loop) protectionPass(entry *logrus.Entry) error {
	ctx, cancel := l.callContext()
	positions, err := l.client.FetchOpenPositions(ctx, l.cfg.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	owned := exchange.OwnedBy(positions, l.cfg.OrderTag)
	if len(owned) == 0 {
		return nil
	}

	ctx, cancel = l.callContext()
	tick, err := l.client.FetchTick(ctx, l.cfg.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	now := l.now()
	var firstErr error
	for _, pos := range owned {
		for _, action := range l.risk.Evaluate(pos, tick, now) {
			if err := l.execute(entry, pos, action); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (l *Loop) execute(entry *logrus.Entry, pos exchange.Position, action risk.Action) error {
	entry.Infof("[Risk] %s", action.Description())

	switch act := action.(type) {
	case *risk.ClosePositionAction:
		ctx, cancel := l.callContext()
		err := l.client.ClosePosition(ctx, act.PositionID, act.Volume, act.Price)
		cancel()
		if err != nil {
			return l.actionFailed(entry, act.PositionID, err)
		}
		l.tally.RecordClose(act.Profit)
		l.notify(fmt.Sprintf("%s Trade Timeout", l.cfg.Symbol),
			fmt.Sprintf("Trade closed due to timeout: %s %s after %s at %.5f, profit %.2f", act.Direction, act.PositionID, act.Held, act.Price, act.Profit))

		ev := journal.NewEvent(journal.KindClose, l.cfg.Symbol)
		ev.PositionID = act.PositionID
		ev.Direction = string(act.Direction)
		ev.Price = act.Price
		ev.Profit = act.Profit
		ev.Detail = "held " + act.Held
		l.record(ev)

	case *risk.ModifyProtectionAction:
		ctx, cancel := l.callContext()
		err := l.client.ModifyProtection(ctx, act.PositionID, act.StopLoss, act.TakeProfit)
		cancel()
		if err != nil {
			return l.actionFailed(entry, act.PositionID, err)
		}

		kind := journal.KindTrailing
		subject := fmt.Sprintf("%s Trailing Stop", l.cfg.Symbol)
		body := fmt.Sprintf("Stop advanced to %.5f, locking %.2f", act.StopLoss, act.LockLevel)
		if act.Kind == risk.BreakEven {
			kind = journal.KindBreakEven
			subject = fmt.Sprintf("%s Break-even", l.cfg.Symbol)
			body = fmt.Sprintf("TP reached, break-even activated: stop %.5f, target removed", act.StopLoss)
			l.tally.RecordBreakEven()
		} else {
			l.tally.RecordTrailMove()
		}
		l.notify(subject, body)

		ev := journal.NewEvent(kind, l.cfg.Symbol)
		ev.PositionID = act.PositionID
		ev.Direction = string(act.Direction)
		ev.StopLoss = act.StopLoss
		ev.TakeProfit = act.TakeProfit
		ev.Profit = pos.UnrealizedProfit
		l.record(ev)

	default:
		entry.Warnf("[Monitor] Received unknown risk control instruction type: %T", act)
	}
	return nil
}

// actionFailed turns a venue refusal into a rejection record; any other error is a fault.
func (l *Loop) actionFailed(entry *logrus.Entry, positionID string, err error) error {
	if exchange.IsRejected(err) {
		l.rejected(entry, positionID, err)
		return nil
	}
	return fmt.Errorf("%s: %w", positionID, err)
}
