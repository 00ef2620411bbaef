package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"tv-bybit-middleware/internal/bybit"
	"tv-bybit-middleware/internal/events"
	"tv-bybit-middleware/internal/orders"
	"tv-bybit-middleware/internal/quant"
)

// stopStrategy is one rung of the stop-loss fallback ladder. A feedVariant
// rung differs from its predecessor only in the trigger price feed; it is
// skipped once the venue rejects a rung for a reason unrelated to the feed.
type stopStrategy struct {
	name        string
	feedVariant bool
	apply       func(ctx context.Context) (StopMechanism, string, error)
}

// attachStop protects a confirmed position. The strategies run in order and
// the first success wins: position-level stop on mark price (survives
// partial fills, needs no inventory), position-level stop on last price,
// then a standalone reduceOnly conditional stop-market sized to the full
// filled quantity. All three failing is reported, never raised.
func (e *Engine) attachStop(ctx context.Context, intent TradeIntent, desired bybit.Side, filledSize float64, filters bybit.InstrumentFilters, baseID string, log zerolog.Logger) (StopMechanism, string, string) {
	slPrice := *intent.StopLoss
	posIdx := e.resolvePositionIdx(ctx, intent.Symbol, intent.PositionIdx)

	strategies := []stopStrategy{
		{
			name: "position-stop mark",
			apply: func(ctx context.Context) (StopMechanism, string, error) {
				err := e.gw.SetTradingStop(ctx, bybit.TradingStopRequest{
					Symbol:      intent.Symbol,
					StopLoss:    quant.PriceString(slPrice, filters.TickSize),
					TriggerBy:   bybit.TriggerByMark,
					PositionIdx: posIdx,
				})
				return StopMechanismPosition, "", err
			},
		},
		{
			name:        "position-stop last",
			feedVariant: true,
			apply: func(ctx context.Context) (StopMechanism, string, error) {
				err := e.gw.SetTradingStop(ctx, bybit.TradingStopRequest{
					Symbol:      intent.Symbol,
					StopLoss:    quant.PriceString(slPrice, filters.TickSize),
					TriggerBy:   bybit.TriggerByLast,
					PositionIdx: posIdx,
				})
				return StopMechanismPosition, "", err
			},
		},
		{
			name: "conditional stop-market",
			apply: func(ctx context.Context) (StopMechanism, string, error) {
				mech, leg := e.conditionalStop(ctx, intent.Symbol, desired, slPrice, filledSize, filters, baseID, log)
				if leg.Error != "" {
					return mech, "", fmt.Errorf("%s", leg.Error)
				}
				return mech, leg.OrderID, nil
			},
		},
	}

	var failures []string
	skipFeedVariants := false
	for _, s := range strategies {
		if s.feedVariant && skipFeedVariants {
			continue
		}
		mech, orderID, err := s.apply(ctx)
		if err == nil {
			log.Info().Str("strategy", s.name).Msg("Stop-loss attached")
			if mech == StopMechanismPosition {
				e.publish(events.EventStopAttached, map[string]interface{}{
					"symbol": intent.Symbol, "strategy": s.name,
				})
			}
			return mech, orderID, ""
		}
		failures = append(failures, fmt.Sprintf("%s: %v", s.name, err))
		// A venue rejection unrelated to the trigger feed will not be
		// cured by switching feeds; jump to the conditional order.
		if apiErr, ok := bybit.IsAPIError(err); ok && !apiErr.TriggerSourceRejected() {
			skipFeedVariants = true
		}
		log.Warn().Err(err).Str("strategy", s.name).Msg("Stop strategy failed, trying next")
	}

	aggregated := strings.Join(failures, "; ")
	log.Error().Str("failures", aggregated).Msg("Stop-loss failed on all mechanisms, position is unprotected")
	e.publish(events.EventStopFailed, map[string]interface{}{
		"symbol": intent.Symbol, "failures": aggregated,
	})
	return StopMechanismNone, "", aggregated
}

// conditionalStop places a standalone reduceOnly stop-market order. The
// trigger direction closes the position: a long closes on a downward break,
// a short on an upward break.
func (e *Engine) conditionalStop(ctx context.Context, symbol string, desired bybit.Side, slPrice, qty float64, filters bybit.InstrumentFilters, baseID string, log zerolog.Logger) (StopMechanism, LegResult) {
	linkID, err := orders.Related(baseID, orders.SuffixStopFallback)
	if err != nil {
		return StopMechanismNone, LegResult{Attempted: true, Error: err.Error()}
	}

	triggerDirection := bybit.TriggerDirectionFall
	if desired == bybit.SideSell {
		triggerDirection = bybit.TriggerDirectionRise
	}

	qtyStr := quant.QtyString(qty, filters.LotStep, filters.MinQty)
	ack, err := e.gw.PlaceOrder(ctx, bybit.OrderRequest{
		Symbol:           symbol,
		Side:             desired.Opposite(),
		Type:             bybit.OrderTypeMarket,
		Qty:              qtyStr,
		TimeInForce:      bybit.TimeInForceIOC,
		ReduceOnly:       true,
		TriggerPrice:     quant.PriceString(slPrice, filters.TickSize),
		TriggerBy:        bybit.TriggerByMark,
		TriggerDirection: triggerDirection,
		OrderLinkID:      linkID,
	})
	if err != nil {
		log.Error().Err(err).Str("link_id", linkID).Msg("Fallback stop-market rejected")
		return StopMechanismNone, LegResult{Attempted: true, Qty: qtyStr, LinkID: linkID, Error: err.Error()}
	}

	log.Info().Str("order_id", ack.OrderID).Str("link_id", linkID).Str("qty", qtyStr).
		Msg("Fallback stop-market placed")
	e.publish(events.EventStopFallback, map[string]interface{}{
		"symbol": symbol, "link_id": linkID, "qty": qtyStr,
	})
	return StopMechanismStopMarket, LegResult{Attempted: true, Placed: true, OrderID: ack.OrderID, LinkID: linkID, Qty: qtyStr}
}

// resolvePositionIdx auto-detects the hedge-mode position index unless the
// caller pinned one. One-way accounts always use 0, so a failed read is
// safe to default.
func (e *Engine) resolvePositionIdx(ctx context.Context, symbol string, explicit *int) int {
	if explicit != nil {
		return *explicit
	}
	pos, err := e.gw.GetPosition(ctx, symbol)
	if err != nil {
		return 0
	}
	return pos.PositionIdx
}
