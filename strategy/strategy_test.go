package strategy

import (
	"errors"
	"math"
	"testing"

	"scalp_guard_go/exchange"
	"scalp_guard_go/indicator"

	"github.com/stretchr/testify/assert"
)

func crossFrame(prevFast, prevSlow, lastFast, lastSlow, rsi float64) indicator.Frame {
	return indicator.Frame{
		{EMAFast: prevFast, EMASlow: prevSlow, RSI: 50},
		{EMAFast: lastFast, EMASlow: lastSlow, RSI: rsi},
	}
}

func TestSignalGenerator_Evaluate(t *testing.T) {
	g := NewSignalGenerator(60, 40)
	upCross := crossFrame(1999.0, 2000.0, 2001.0, 2000.5, 55)
	downCross := crossFrame(2001.0, 2000.0, 1999.0, 1999.5, 45)

	tests := []struct {
		name  string
		frame indicator.Frame
		bias  TrendBias
		want  Signal
	}{
		{"scenario A: up cross, rsi 55, trend up", upCross, TrendUp, SignalBuy},
		{"scenario B: up cross against trend", upCross, TrendDown, SignalNone},
		{"up cross with unknown trend", upCross, TrendUnknown, SignalNone},
		{"up cross overbought", crossFrame(1999, 2000, 2001, 2000.5, 60), TrendUp, SignalNone},
		{"down cross, rsi 45, trend down", downCross, TrendDown, SignalSell},
		{"down cross against trend", downCross, TrendUp, SignalNone},
		{"down cross oversold", crossFrame(2001, 2000, 1999, 1999.5, 40), TrendDown, SignalNone},
		{"no cross, already above", crossFrame(2001, 2000, 2002, 2000, 50), TrendUp, SignalNone},
		{"touch is not a cross", crossFrame(2000, 2000, 2001, 2000, 50), TrendUp, SignalNone},
		{"nan rsi", crossFrame(1999, 2000, 2001, 2000.5, math.NaN()), TrendUp, SignalNone},
		{"nan ema", crossFrame(math.NaN(), 2000, 2001, 2000.5, 50), TrendUp, SignalNone},
		{"single point", indicator.Frame{{EMAFast: 2, EMASlow: 1, RSI: 50}}, TrendUp, SignalNone},
		{"empty frame", nil, TrendUp, SignalNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.Evaluate(tt.frame, tt.bias))
		})
	}
}

func TestSignalGenerator_UsesOnlyLastTwoPoints(t *testing.T) {
	g := NewSignalGenerator(60, 40)
	frame := indicator.Frame{
		{EMAFast: 1, EMASlow: 2, RSI: 50},
		{EMAFast: 3, EMASlow: 2, RSI: 50},
		{EMAFast: 4, EMASlow: 2, RSI: 50},
	}
	assert.Equal(t, SignalNone, g.Evaluate(frame, TrendUp), "cross one bar earlier is stale")
}

func TestSignal_Direction(t *testing.T) {
	d, ok := SignalBuy.Direction()
	assert.True(t, ok)
	assert.Equal(t, exchange.Long, d)
	d, ok = SignalSell.Direction()
	assert.True(t, ok)
	assert.Equal(t, exchange.Short, d)
	_, ok = SignalNone.Direction()
	assert.False(t, ok)
	assert.Equal(t, "BUY", SignalBuy.String())
}

func closes(values ...float64) []exchange.Bar {
	bars := make([]exchange.Bar, len(values))
	for i, v := range values {
		bars[i] = exchange.Bar{Close: v}
	}
	return bars
}

func ramp(from, step float64, n int) []exchange.Bar {
	values := make([]float64, n)
	for i := range values {
		values[i] = from + step*float64(i)
	}
	return closes(values...)
}

func TestTrendClassifier_Classify(t *testing.T) {
	params := indicator.Params{EMAFast: 3, EMASlow: 8, RSIPeriod: 5}
	c := NewTrendClassifier(params, 0)

	assert.Equal(t, TrendUp, c.Classify(ramp(2000, 1, 30), nil))
	assert.Equal(t, TrendDown, c.Classify(ramp(2000, -1, 30), nil))
	assert.Equal(t, TrendDown, c.Classify(ramp(2000, 0, 30), nil), "equal averages read as DOWN")
	assert.Equal(t, TrendUnknown, c.Classify(ramp(2000, 1, 30), errors.New("timeout")))
	assert.Equal(t, TrendUnknown, c.Classify(closes(2000), nil))
	assert.Equal(t, TrendUnknown, c.Classify(nil, exchange.ErrDataUnavailable))
}

func TestTrendClassifier_DeadBand(t *testing.T) {
	params := indicator.Params{EMAFast: 3, EMASlow: 8, RSIPeriod: 5}

	wide := NewTrendClassifier(params, 1000)
	assert.Equal(t, TrendUnknown, wide.Classify(ramp(2000, 1, 30), nil))
	assert.Equal(t, TrendUnknown, wide.Classify(ramp(2000, 0, 30), nil))

	narrow := NewTrendClassifier(params, 0.01)
	assert.Equal(t, TrendUp, narrow.Classify(ramp(2000, 1, 30), nil))
	assert.Equal(t, TrendDown, narrow.Classify(ramp(2000, -1, 30), nil))
}

func TestTrendBias_String(t *testing.T) {
	assert.Equal(t, "UP", TrendUp.String())
	assert.Equal(t, "DOWN", TrendDown.String())
	assert.Equal(t, "UNKNOWN", TrendUnknown.String())
}
