// Package sizing computes order quantities from trade intents. It is a pure
// function over its inputs; equity and last-price reads happen in the caller
// so the math stays testable without network access.
package sizing

import (
	"errors"
	"math"

	"tv-bybit-middleware/internal/bybit"
	"tv-bybit-middleware/internal/quant"
)

// ErrInvalidSizing is returned when neither an explicit quantity nor a valid
// (riskPct, stopPrice) pair is present, or when the stop distance is zero.
var ErrInvalidSizing = errors.New("sizing: riskPct and sl are required when qty is not provided")

// ErrZeroStopDistance guards the risk formula's division
var ErrZeroStopDistance = errors.New("sizing: invalid stop distance")

// Input describes how a trade wants to be sized
type Input struct {
	ExplicitQty *float64
	RiskPct     *float64
	StopPrice   *float64
}

// Compute returns the venue-legal order quantity for the intent. Explicit
// quantities are floored to the lot grid and raised to the minimum; the
// risk-percent path sizes so a stop-out loses roughly equity * riskPct/100.
func Compute(in Input, filters bybit.InstrumentFilters, equity, lastPrice float64) (float64, error) {
	if in.ExplicitQty != nil {
		return quant.RoundQty(*in.ExplicitQty, filters.LotStep, filters.MinQty), nil
	}

	if in.RiskPct == nil || in.StopPrice == nil {
		return 0, ErrInvalidSizing
	}

	stopDist := math.Abs(lastPrice - *in.StopPrice)
	if stopDist <= 0 {
		return 0, ErrZeroStopDistance
	}

	riskUsd := equity * (*in.RiskPct / 100.0)
	rawQty := riskUsd / stopDist
	return quant.RoundQty(rawQty, filters.LotStep, filters.MinQty), nil
}
