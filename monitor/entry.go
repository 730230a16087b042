// monitor/entry.go
package monitor

import (
	"errors"
	"fmt"

	"scalp_guard_go/exchange"
	"scalp_guard_go/indicator"
	"scalp_guard_go/journal"
	"scalp_guard_go/utils"

	"github.com/sirupsen/logrus"
)

// entryPass evaluates the signal and opens a position when it fires and the
// gate allows it. Missing market data skips the decision without a fault.
func (l *Loop) entryPass(entry *logrus.Entry) error {
	bars, err := l.fetchBars(l.cfg.Timeframe, l.cfg.BarsCount)
	if err != nil {
		return skipOnMissingData(entry, "bars", err)
	}
	frame, err := indicator.Compute(bars, l.indicators)
	if err != nil {
		return skipOnMissingData(entry, "indicators", err)
	}

	htfBars, htfErr := l.fetchBars(l.cfg.HigherTimeframe, l.cfg.HTFBarsCount)
	bias := l.trend.Classify(htfBars, htfErr)
	sig := l.signals.Evaluate(frame, bias)

	if last, ok := frame.Last(); ok {
		entry.Debugf("[Signal] fast=%.5f slow=%.5f rsi=%.2f trend=%s signal=%s", last.EMAFast, last.EMASlow, last.RSI, bias, sig)
	}
	dir, ok := sig.Direction()
	if !ok {
		return nil
	}

	ctx, cancel := l.callContext()
	positions, err := l.client.FetchOpenPositions(ctx, l.cfg.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("positions before entry: %w", err)
	}

	ctx, cancel = l.callContext()
	tick, err := l.client.FetchTick(ctx, l.cfg.Symbol)
	cancel()
	if err != nil {
		return skipOnMissingData(entry, "tick", err)
	}

	price := tick.EntryPrice(dir)
	if allowed, reason := l.gate.CanEnter(positions, price); !allowed {
		entry.Infof("[Monitor] %s signal ignored: %s", sig, reason)
		return nil
	}

	req := l.buildOrder(dir, price)
	ctx, cancel = l.callContext()
	res, err := l.client.SubmitOrder(ctx, req)
	cancel()
	if res == nil {
		if exchange.IsRejected(err) {
			l.rejected(entry, "", err)
			return nil
		}
		return fmt.Errorf("submit %s: %w", sig, err)
	}

	l.tally.RecordEntry()
	entry.Infof("[Monitor] Position opened: %s %.4f %s at %.5f (SL %.5f, TP %.5f)", sig, req.Volume, req.Symbol, res.FillPrice, req.StopLoss, req.TakeProfit)
	l.notify(fmt.Sprintf("%s Trade Opened", l.cfg.Symbol), fmt.Sprintf("Position opened: %s at %.5f", sig, res.FillPrice))

	ev := journal.NewEvent(journal.KindEntry, l.cfg.Symbol)
	ev.PositionID = res.PositionID
	ev.Direction = string(dir)
	ev.Price = res.FillPrice
	ev.StopLoss = req.StopLoss
	ev.TakeProfit = req.TakeProfit
	l.record(ev)

	if err != nil {
		// Filled, but the protective orders did not all go through.
		l.notify(fmt.Sprintf("%s Protection Incomplete", l.cfg.Symbol), err.Error())
		return fmt.Errorf("protect new position %s: %w", res.PositionID, err)
	}
	return nil
}

// buildOrder places the stop and target at fixed distances from the quote the
// entry is expected to fill at.
func (l *Loop) buildOrder(dir exchange.Direction, price float64) exchange.OrderRequest {
	sign := dir.Sign()
	return exchange.OrderRequest{
		Symbol:     l.cfg.Symbol,
		Direction:  dir,
		Volume:     l.cfg.Volume,
		Price:      price,
		StopLoss:   utils.AdjustPriceToTickSize(price-sign*l.cfg.StopDistance, l.cfg.TickSize),
		TakeProfit: utils.AdjustPriceToTickSize(price+sign*l.cfg.TakeProfitDistance, l.cfg.TickSize),
		Tag:        l.cfg.OrderTag,
	}
}

func (l *Loop) fetchBars(timeframe string, count int) ([]exchange.Bar, error) {
	ctx, cancel := l.callContext()
	defer cancel()
	return l.client.FetchBars(ctx, l.cfg.Symbol, timeframe, count)
}

func skipOnMissingData(entry *logrus.Entry, what string, err error) error {
	if errors.Is(err, exchange.ErrDataUnavailable) {
		entry.Warnf("[Monitor] Entry skipped, %s unavailable: %v", what, err)
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}

