// strategy/signal.go
package strategy

import (
	"math"

	"scalp_guard_go/exchange"
	"scalp_guard_go/indicator"
)

// Signal is the entry decision for one cycle.
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	}
	return "NONE"
}

// Direction maps BUY to Long and SELL to Short. ok is false for SignalNone.
func (s Signal) Direction() (d exchange.Direction, ok bool) {
	switch s {
	case SignalBuy:
		return exchange.Long, true
	case SignalSell:
		return exchange.Short, true
	}
	return "", false
}

// SignalGenerator detects an EMA crossover on the last two points, gated by
// RSI and by agreement with the higher-timeframe trend.
type SignalGenerator struct {
	overbought float64
	oversold   float64
}

func NewSignalGenerator(overbought, oversold float64) *SignalGenerator {
	return &SignalGenerator{overbought: overbought, oversold: oversold}
}

// Evaluate fails closed: short frames, undefined values and an unknown bias give SignalNone.
func (g *SignalGenerator) Evaluate(frame indicator.Frame, bias TrendBias) Signal {
	if bias == TrendUnknown || len(frame) < 2 {
		return SignalNone
	}
	if g.fires(frame, bias, 1) {
		return SignalBuy
	}
	if g.fires(frame, bias, -1) {
		return SignalSell
	}
	return SignalNone
}

// fires checks one side. sign is +1 for BUY and -1 for SELL; every comparison
// is written for BUY and mirrored by multiplying through with sign.
func (g *SignalGenerator) fires(frame indicator.Frame, bias TrendBias, sign float64) bool {
	want := TrendUp
	if sign < 0 {
		want = TrendDown
	}
	if bias != want || !crossed(frame, sign) {
		return false
	}

	rsi := frame[len(frame)-1].RSI
	if math.IsNaN(rsi) {
		return false
	}
	if sign > 0 {
		return rsi < g.overbought
	}
	return rsi > g.oversold
}

// crossed reports whether the fast average crossed the slow one in the
// direction of sign between the last two points. Equal values never count.
func crossed(frame indicator.Frame, sign float64) bool {
	prev, last := frame[len(frame)-2], frame[len(frame)-1]
	for _, v := range []float64{prev.EMAFast, prev.EMASlow, last.EMAFast, last.EMASlow} {
		if math.IsNaN(v) {
			return false
		}
	}
	return sign*(prev.EMAFast-prev.EMASlow) < 0 && sign*(last.EMAFast-last.EMASlow) > 0
}
