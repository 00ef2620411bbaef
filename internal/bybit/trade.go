package bybit

import (
	"context"
	"fmt"
	"strconv"
)

// ==================== TRADING ====================

// PlaceOrder submits an order and returns the venue's acknowledgement.
// An acknowledgement does not imply a fill; callers that need the position
// to exist must confirm it via GetPosition.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	body := map[string]interface{}{
		"category":  CategoryLinear,
		"symbol":    req.Symbol,
		"side":      string(req.Side),
		"orderType": string(req.Type),
		"qty":       req.Qty,
	}
	if req.Price != "" {
		body["price"] = req.Price
	}
	if req.TimeInForce != "" {
		body["timeInForce"] = string(req.TimeInForce)
	}
	body["reduceOnly"] = req.ReduceOnly
	if req.TriggerPrice != "" {
		body["triggerPrice"] = req.TriggerPrice
		body["triggerBy"] = string(req.TriggerBy)
		body["triggerDirection"] = req.TriggerDirection
	}
	if req.PositionIdx != nil {
		body["positionIdx"] = *req.PositionIdx
	}
	if req.OrderLinkID != "" {
		body["orderLinkId"] = req.OrderLinkID
	}

	var ack OrderAck
	if err := c.post(ctx, "/v5/order/create", body, &ack); err != nil {
		return OrderAck{}, err
	}
	return ack, nil
}

// SetTradingStop sets or clears position-level stop attributes
// (stop-loss price, trailing distance, activation price).
func (c *Client) SetTradingStop(ctx context.Context, req TradingStopRequest) error {
	body := map[string]interface{}{
		"category":    CategoryLinear,
		"symbol":      req.Symbol,
		"tpslMode":    "Full",
		"positionIdx": req.PositionIdx,
	}
	if req.StopLoss != "" {
		body["stopLoss"] = req.StopLoss
		body["slTriggerBy"] = string(req.TriggerBy)
	}
	if req.TrailingStop != "" {
		body["trailingStop"] = req.TrailingStop
	}
	if req.ActivePrice != "" {
		body["activePrice"] = req.ActivePrice
	}

	return c.post(ctx, "/v5/position/trading-stop", body, nil)
}

// CancelOrder cancels a single open order by venue order id
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	return c.post(ctx, "/v5/order/cancel", body, nil)
}

// CancelAllOrders cancels all open orders for a symbol. orderFilter may be
// empty, "Order" (active orders) or "StopOrder" (conditional orders).
func (c *Client) CancelAllOrders(ctx context.Context, symbol, orderFilter string) error {
	body := map[string]interface{}{
		"category": CategoryLinear,
		"symbol":   symbol,
	}
	if orderFilter != "" {
		body["orderFilter"] = orderFilter
	}
	return c.post(ctx, "/v5/order/cancel-all", body, nil)
}

// SetLeverage sets buy and sell leverage for a symbol
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	body := map[string]interface{}{
		"category":     CategoryLinear,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	err := c.post(ctx, "/v5/position/set-leverage", body, nil)
	if apiErr, ok := IsAPIError(err); ok && apiErr.Code == 110043 {
		// leverage not modified - already at the requested value
		return nil
	}
	if err != nil {
		return fmt.Errorf("error setting leverage: %w", err)
	}
	return nil
}
