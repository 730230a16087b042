// utils/math.go
package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

const Epsilon = 1e-9

// FloatEquals compares two floating-point numbers for near-equality.
func FloatEquals(a, b float64) bool {
	return math.Abs(a-b) < Epsilon
}

// AdjustPriceToTickSize snaps a price to the nearest multiple of tickSize.
// Decimal arithmetic keeps 2000.3 from turning into 2000.2999999.
func AdjustPriceToTickSize(price float64, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(tickSize)
	f, _ := decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick).Float64()
	return f
}

// FormatPrice renders a price for the REST API, snapped to tickSize and with
// no more decimals than the tick carries.
func FormatPrice(price, tickSize float64) string {
	if tickSize <= 0 {
		return decimal.NewFromFloat(price).String()
	}
	tick := decimal.NewFromFloat(tickSize)
	places := -tick.Exponent()
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick).StringFixed(places)
}

// FormatQuantity renders a quantity with at most eight decimals and no trailing zeros.
func FormatQuantity(qty float64) string {
	return decimal.NewFromFloat(qty).Round(8).String()
}
