// strategy/trend.go
package strategy

import (
	"math"

	"scalp_guard_go/exchange"
	"scalp_guard_go/indicator"
	"scalp_guard_go/logs"
)

// TrendBias is the higher-timeframe direction.
type TrendBias int

const (
	TrendUnknown TrendBias = iota // no usable data; blocks every entry
	TrendUp
	TrendDown
)

func (b TrendBias) String() string {
	switch b {
	case TrendUp:
		return "UP"
	case TrendDown:
		return "DOWN"
	}
	return "UNKNOWN"
}

// TrendClassifier reads the bias from the last point of the higher-timeframe EMAs.
type TrendClassifier struct {
	params   indicator.Params
	deadBand float64
}

// NewTrendClassifier creates a classifier. deadBand is in price units; with
// a positive band, a gap between the averages smaller than it is UNKNOWN.
func NewTrendClassifier(params indicator.Params, deadBand float64) *TrendClassifier {
	return &TrendClassifier{params: params, deadBand: deadBand}
}

// Classify returns the bias of bars. fetchErr is the error the bars were
// fetched with; any error yields TrendUnknown.
func (c *TrendClassifier) Classify(bars []exchange.Bar, fetchErr error) TrendBias {
	if fetchErr != nil {
		logs.Debugf("[Trend] Higher timeframe unavailable: %v", fetchErr)
		return TrendUnknown
	}
	frame, err := indicator.Compute(bars, c.params)
	if err != nil {
		logs.Debugf("[Trend] Higher timeframe indicators failed: %v", err)
		return TrendUnknown
	}
	last, _ := frame.Last()
	if math.IsNaN(last.EMAFast) || math.IsNaN(last.EMASlow) {
		return TrendUnknown
	}

	gap := last.EMAFast - last.EMASlow
	if c.deadBand > 0 && math.Abs(gap) < c.deadBand {
		return TrendUnknown
	}
	if gap > 0 {
		return TrendUp
	}
	return TrendDown
}
