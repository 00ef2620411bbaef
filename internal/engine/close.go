package engine

import (
	"context"
	"fmt"
	"strings"

	"tv-bybit-middleware/internal/bybit"
	"tv-bybit-middleware/internal/events"
	"tv-bybit-middleware/internal/quant"
)

// Close flattens the open position with one reduceOnly market order. The
// optional side filter ("long"/"short") rejects the request when the open
// position does not match, useful when a strategy only manages one side.
func (e *Engine) Close(ctx context.Context, symbol, sideFilter string) (CloseResult, error) {
	lock := e.locks.get(symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.requirePosition(ctx, symbol)
	if err != nil {
		return CloseResult{}, err
	}

	switch strings.ToLower(sideFilter) {
	case "", "all":
	case "long":
		if pos.Side != bybit.SideBuy {
			return CloseResult{}, ErrNoPosition
		}
	case "short":
		if pos.Side != bybit.SideSell {
			return CloseResult{}, ErrNoPosition
		}
	default:
		return CloseResult{}, fmt.Errorf("%w: unknown side filter %q", ErrValidation, sideFilter)
	}

	filters, err := e.gw.GetInstrumentFilters(ctx, symbol)
	if err != nil {
		return CloseResult{}, err
	}

	qtyStr := quant.QtyString(pos.Size, filters.LotStep, filters.MinQty)
	ack, err := e.gw.PlaceOrder(ctx, bybit.OrderRequest{
		Symbol:      symbol,
		Side:        pos.Side.Opposite(),
		Type:        bybit.OrderTypeMarket,
		Qty:         qtyStr,
		TimeInForce: bybit.TimeInForceIOC,
		ReduceOnly:  true,
	})
	if err != nil {
		return CloseResult{}, err
	}

	e.logger.Info().Str("symbol", symbol).Str("side", string(pos.Side)).
		Float64("size", pos.Size).Str("order_id", ack.OrderID).Msg("Position closed")
	e.publish(events.EventPositionClosed, map[string]interface{}{
		"symbol": symbol, "side": string(pos.Side), "size": pos.Size,
	})
	return CloseResult{Symbol: symbol, Side: string(pos.Side), Size: pos.Size, OrderID: ack.OrderID}, nil
}

// CancelAll cancels the symbol's open orders. filter may be empty, "Order"
// for active orders only, or "StopOrder" for conditional orders only.
func (e *Engine) CancelAll(ctx context.Context, symbol, filter string) error {
	if err := e.gw.CancelAllOrders(ctx, symbol, filter); err != nil {
		return err
	}
	e.publish(events.EventOrdersCancelled, map[string]interface{}{
		"symbol": symbol, "filter": filter,
	})
	return nil
}

// CancelOrder cancels one tracked order by venue id
func (e *Engine) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return e.gw.CancelOrder(ctx, symbol, orderID)
}

// SetLeverage forwards a leverage change to the venue
func (e *Engine) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage <= 0 {
		return fmt.Errorf("%w: leverage must be positive", ErrValidation)
	}
	return e.gw.SetLeverage(ctx, symbol, leverage)
}

// Position exposes the venue position snapshot to the API layer
func (e *Engine) Position(ctx context.Context, symbol string) (bybit.PositionSnapshot, error) {
	return e.gw.GetPosition(ctx, symbol)
}
