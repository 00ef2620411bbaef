package engine

import (
	"context"
	"fmt"

	"tv-bybit-middleware/internal/bybit"
	"tv-bybit-middleware/internal/events"
	"tv-bybit-middleware/internal/quant"
)

// requirePosition returns the open position for a symbol or ErrNoPosition.
// Every adjustment operates on venue state, so the snapshot is always
// re-read rather than cached.
func (e *Engine) requirePosition(ctx context.Context, symbol string) (bybit.PositionSnapshot, error) {
	pos, err := e.gw.GetPosition(ctx, symbol)
	if err != nil {
		return bybit.PositionSnapshot{}, err
	}
	if pos.Flat() {
		return bybit.PositionSnapshot{}, ErrNoPosition
	}
	return pos, nil
}

// Breakeven moves the position stop to the entry price shifted by
// offsetBp basis points in the position's favor (up for a long, down for
// a short).
func (e *Engine) Breakeven(ctx context.Context, symbol string, offsetBp int, posIdx *int) (AdjustResult, error) {
	lock := e.locks.get(symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.requirePosition(ctx, symbol)
	if err != nil {
		return AdjustResult{}, err
	}
	if pos.AvgPrice <= 0 {
		return AdjustResult{}, fmt.Errorf("%w: avgPrice missing", ErrValidation)
	}

	filters, err := e.gw.GetInstrumentFilters(ctx, symbol)
	if err != nil {
		return AdjustResult{}, err
	}

	offset := float64(offsetBp) / 10000.0
	bePrice := pos.AvgPrice * (1.0 + offset)
	if pos.Side == bybit.SideSell {
		bePrice = pos.AvgPrice * (1.0 - offset)
	}

	idx := pos.PositionIdx
	if posIdx != nil {
		idx = *posIdx
	}
	stopStr := quant.PriceString(bePrice, filters.TickSize)
	err = e.gw.SetTradingStop(ctx, bybit.TradingStopRequest{
		Symbol:      symbol,
		StopLoss:    stopStr,
		TriggerBy:   bybit.TriggerByMark,
		PositionIdx: idx,
	})
	if err != nil {
		return AdjustResult{}, err
	}

	e.logger.Info().Str("symbol", symbol).Str("stop", stopStr).Int("offset_bp", offsetBp).Msg("Breakeven stop set")
	e.publishAdjust(symbol, "be", stopStr)
	return AdjustResult{Symbol: symbol, Action: "be", StopPrice: stopStr, PositionIdx: idx, EntryPrice: pos.AvgPrice}, nil
}

// SetStop sets the position-level stop to an explicit price
func (e *Engine) SetStop(ctx context.Context, symbol string, price float64, posIdx *int) (AdjustResult, error) {
	lock := e.locks.get(symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.requirePosition(ctx, symbol)
	if err != nil {
		return AdjustResult{}, err
	}
	filters, err := e.gw.GetInstrumentFilters(ctx, symbol)
	if err != nil {
		return AdjustResult{}, err
	}

	idx := pos.PositionIdx
	if posIdx != nil {
		idx = *posIdx
	}
	stopStr := quant.PriceString(price, filters.TickSize)
	err = e.gw.SetTradingStop(ctx, bybit.TradingStopRequest{
		Symbol:      symbol,
		StopLoss:    stopStr,
		TriggerBy:   bybit.TriggerByMark,
		PositionIdx: idx,
	})
	if err != nil {
		return AdjustResult{}, err
	}

	e.logger.Info().Str("symbol", symbol).Str("stop", stopStr).Msg("Stop-loss set")
	e.publishAdjust(symbol, "set_sl", stopStr)
	return AdjustResult{Symbol: symbol, Action: "set_sl", StopPrice: stopStr, PositionIdx: idx}, nil
}

// CancelStop clears the position-level stop
func (e *Engine) CancelStop(ctx context.Context, symbol string, posIdx *int) (AdjustResult, error) {
	lock := e.locks.get(symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.requirePosition(ctx, symbol)
	if err != nil {
		return AdjustResult{}, err
	}

	idx := pos.PositionIdx
	if posIdx != nil {
		idx = *posIdx
	}
	err = e.gw.SetTradingStop(ctx, bybit.TradingStopRequest{
		Symbol:      symbol,
		StopLoss:    "0",
		TriggerBy:   bybit.TriggerByMark,
		PositionIdx: idx,
	})
	if err != nil {
		return AdjustResult{}, err
	}

	e.publishAdjust(symbol, "cancel_sl", "")
	return AdjustResult{Symbol: symbol, Action: "cancel_sl", PositionIdx: idx}, nil
}

// Trail sets a position-level trailing stop distance in absolute price
// units, optionally armed only once price reaches activation.
func (e *Engine) Trail(ctx context.Context, symbol string, distance float64, activation *float64, posIdx *int) (AdjustResult, error) {
	lock := e.locks.get(symbol)
	lock.Lock()
	defer lock.Unlock()

	if distance <= 0 {
		return AdjustResult{}, fmt.Errorf("%w: trail distance must be positive", ErrValidation)
	}

	pos, err := e.requirePosition(ctx, symbol)
	if err != nil {
		return AdjustResult{}, err
	}
	filters, err := e.gw.GetInstrumentFilters(ctx, symbol)
	if err != nil {
		return AdjustResult{}, err
	}

	idx := pos.PositionIdx
	if posIdx != nil {
		idx = *posIdx
	}
	req := bybit.TradingStopRequest{
		Symbol:       symbol,
		TrailingStop: quant.PriceString(distance, filters.TickSize),
		PositionIdx:  idx,
	}
	if activation != nil {
		req.ActivePrice = quant.PriceString(*activation, filters.TickSize)
	}
	if err := e.gw.SetTradingStop(ctx, req); err != nil {
		return AdjustResult{}, err
	}

	e.logger.Info().Str("symbol", symbol).Str("trail", req.TrailingStop).Msg("Trailing stop set")
	e.publishAdjust(symbol, "trail", "")
	return AdjustResult{Symbol: symbol, Action: "trail", TrailDist: req.TrailingStop, ActivePrice: req.ActivePrice, PositionIdx: idx}, nil
}

// CancelTrail clears the position-level trailing stop
func (e *Engine) CancelTrail(ctx context.Context, symbol string, posIdx *int) (AdjustResult, error) {
	lock := e.locks.get(symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.requirePosition(ctx, symbol)
	if err != nil {
		return AdjustResult{}, err
	}

	idx := pos.PositionIdx
	if posIdx != nil {
		idx = *posIdx
	}
	err = e.gw.SetTradingStop(ctx, bybit.TradingStopRequest{
		Symbol:       symbol,
		TrailingStop: "0",
		PositionIdx:  idx,
	})
	if err != nil {
		return AdjustResult{}, err
	}

	e.publishAdjust(symbol, "cancel_trail", "")
	return AdjustResult{Symbol: symbol, Action: "cancel_trail", PositionIdx: idx}, nil
}

func (e *Engine) publishAdjust(symbol, action, stop string) {
	e.publish(events.EventStopAdjusted, map[string]interface{}{
		"symbol": symbol, "action": action, "stop": stop,
	})
}
