package indicator

import (
	"fmt"
	"math"

	"scalp_guard_go/exchange"
)

// Params holds the indicator periods.
type Params struct {
	EMAFast   int
	EMASlow   int
	RSIPeriod int
}

// MinBars is the smallest window for which the last point has every value defined.
func (p Params) MinBars() int {
	n := p.EMASlow
	if p.RSIPeriod > n {
		n = p.RSIPeriod
	}
	return n + 1
}

// Point is the set of indicator values at one bar.
// RSI is NaN until RSIPeriod price changes have been seen.
type Point struct {
	EMAFast float64
	EMASlow float64
	RSI     float64
}

// Frame is one Point per input bar, oldest first.
type Frame []Point

// Last returns the newest point and false when the frame is empty.
func (f Frame) Last() (Point, bool) {
	if len(f) == 0 {
		return Point{}, false
	}
	return f[len(f)-1], true
}

// Compute derives both EMAs and the RSI from closing prices.
// Both averages are seeded with the first close.
func Compute(bars []exchange.Bar, p Params) (Frame, error) {
	if len(bars) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 bars, got %d", exchange.ErrDataUnavailable, len(bars))
	}
	if p.EMAFast <= 0 || p.EMASlow <= 0 || p.RSIPeriod <= 0 {
		return nil, fmt.Errorf("invalid indicator periods fast=%d slow=%d rsi=%d", p.EMAFast, p.EMASlow, p.RSIPeriod)
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	fast := EMA(closes, p.EMAFast)
	slow := EMA(closes, p.EMASlow)
	rsi := RSI(closes, p.RSIPeriod)

	frame := make(Frame, len(bars))
	for i := range frame {
		frame[i] = Point{EMAFast: fast[i], EMASlow: slow[i], RSI: rsi[i]}
	}
	return frame, nil
}

// EMA is the exponential moving average with alpha = 2/(period+1), seeded with values[0].
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI uses simple rolling means of gains and losses over period changes.
// A window with no losses reads 100.
func RSI(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < period {
			out[i] = math.NaN()
			continue
		}
		var gain, loss float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - values[j-1]
			if d > 0 {
				gain += d
			} else {
				loss -= d
			}
		}
		if loss == 0 {
			out[i] = 100
			continue
		}
		avgGain := gain / float64(period)
		avgLoss := loss / float64(period)
		out[i] = 100 - 100/(1+avgGain/avgLoss)
	}
	return out
}
