// Package quant converts raw prices and quantities into venue-legal values.
// All rounding is toward zero: overshooting a lot step or tick is a hard
// rejection at the venue, undershooting is merely suboptimal. The arithmetic
// runs on decimals, not binary floats, so a step of 0.0001 is never surprised
// by float round-trip error at the grid boundary.
package quant

import (
	"github.com/shopspring/decimal"
)

// RoundQty floors value to the lot step grid, then raises it to min if the
// floored value is smaller. The bump can exceed what sizing intended; that
// is the venue-mandated floor and is accepted.
func RoundQty(value, step, min float64) float64 {
	floored := floorToStep(value, step)
	if floored.LessThan(decimal.NewFromFloat(min)) {
		return min
	}
	result, _ := floored.Float64()
	return result
}

// RoundPrice floors value to the tick grid
func RoundPrice(value, tick float64) float64 {
	result, _ := floorToStep(value, tick).Float64()
	return result
}

// QtyString floors value to the lot step, bumps to min, and renders it as
// the venue expects: plain decimal notation, no exponent, no more fractional
// digits than the grid implies.
func QtyString(value, step, min float64) string {
	floored := floorToStep(value, step)
	minDec := decimal.NewFromFloat(min)
	if floored.LessThan(minDec) {
		floored = minDec
	}
	return renderOnGrid(floored, step)
}

// PriceString floors value to the tick grid and renders it
func PriceString(value, tick float64) string {
	return renderOnGrid(floorToStep(value, tick), tick)
}

// FormatQty renders an already-legal quantity without re-rounding, trimming
// any float noise beyond the grid's precision.
func FormatQty(value, step float64) string {
	return QtyString(value, step, 0)
}

// renderOnGrid renders d with exactly the fractional digits the grid
// implies: step 0.001 yields "1.000", an integer step yields "42".
// Decimal's default String trims trailing zeros, which some venues treat
// as a precision mismatch.
func renderOnGrid(d decimal.Decimal, step float64) string {
	if step <= 0 {
		return d.String()
	}
	if exp := decimal.NewFromFloat(step).Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.StringFixed(0)
}

func floorToStep(value, step float64) decimal.Decimal {
	v := decimal.NewFromFloat(value)
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return v.Div(s).Floor().Mul(s)
}
