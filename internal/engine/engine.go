// Package engine turns trade intents into exchange-compliant bracket order
// sequences: a market entry reconciled against the venue's lagging position
// view, partial take-profit legs, and a protective stop with a layered
// fallback strategy.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tv-bybit-middleware/internal/bybit"
	"tv-bybit-middleware/internal/dedup"
	"tv-bybit-middleware/internal/events"
	"tv-bybit-middleware/internal/guard"
	"tv-bybit-middleware/internal/orders"
	"tv-bybit-middleware/internal/quant"
	"tv-bybit-middleware/internal/sizing"
)

// Config tunes the orchestrator
type Config struct {
	// TP1SharePct is TP1's default share of the filled size in percent
	TP1SharePct float64
	// FillPollAttempts bounds the position confirmation loop
	FillPollAttempts int
	// FillPollInterval is the sleep between confirmation polls
	FillPollInterval time.Duration
}

// DefaultConfig mirrors the production tuning: 30% TP1 share and a
// 12 x 250ms confirmation window (~3s).
func DefaultConfig() Config {
	return Config{
		TP1SharePct:      30.0,
		FillPollAttempts: 12,
		FillPollInterval: 250 * time.Millisecond,
	}
}

// Engine is the bracket order execution engine
type Engine struct {
	gw      bybit.Gateway
	guard   *guard.Guard
	limiter *dedup.Limiter
	linkIDs *orders.LinkIDGenerator
	bus     *events.EventBus
	cfg     Config
	logger  zerolog.Logger
	locks   *symbolLocks

	// sleep is injectable so tests can run the poll loop with zero delay
	sleep func(time.Duration)
}

// New creates an Engine. Zero config fields fall back to DefaultConfig.
func New(gw bybit.Gateway, g *guard.Guard, limiter *dedup.Limiter, linkIDs *orders.LinkIDGenerator, bus *events.EventBus, cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.TP1SharePct <= 0 {
		cfg.TP1SharePct = def.TP1SharePct
	}
	if cfg.FillPollAttempts <= 0 {
		cfg.FillPollAttempts = def.FillPollAttempts
	}
	if cfg.FillPollInterval <= 0 {
		cfg.FillPollInterval = def.FillPollInterval
	}
	return &Engine{
		gw:      gw,
		guard:   g,
		limiter: limiter,
		linkIDs: linkIDs,
		bus:     bus,
		cfg:     cfg,
		logger:  logger.With().Str("component", "BracketEngine").Logger(),
		locks:   newSymbolLocks(),
		sleep:   time.Sleep,
	}
}

// Execute runs one bracket orchestration for the intent. Entry failure fails
// the whole request; after a successful entry everything downstream degrades
// gracefully, because a venue-side position now exists and must end up
// protected if at all possible.
func (e *Engine) Execute(ctx context.Context, intent TradeIntent) (BracketResult, error) {
	result := BracketResult{Symbol: intent.Symbol, Direction: intent.Direction}

	if err := intent.Validate(); err != nil {
		return result, err
	}

	log := e.logger.With().Str("symbol", intent.Symbol).Str("direction", string(intent.Direction)).Logger()

	if e.limiter != nil {
		if ok, reason := e.limiter.Admit(intent.Strategy, intent.Symbol, string(intent.Direction)); !ok {
			log.Warn().Str("reason", reason).Msg("Signal suppressed")
			e.publish(events.EventSignalSuppressed, map[string]interface{}{
				"symbol": intent.Symbol, "reason": reason,
			})
			return result, fmt.Errorf("%w: %s", ErrSuppressed, reason)
		}
	}

	// Guard evaluation happens-before sizing and entry submission
	if e.guard != nil {
		if verdict := e.guard.Evaluate(ctx); verdict.Blocked {
			log.Warn().Str("reason", verdict.Reason).Msg("Guard blocked entry")
			e.publish(events.EventGuardBlocked, map[string]interface{}{
				"symbol": intent.Symbol, "reason": verdict.Reason,
			})
			return result, fmt.Errorf("%w: %s", ErrGuardBlocked, verdict.Reason)
		}
	}

	filters, err := e.gw.GetInstrumentFilters(ctx, intent.Symbol)
	if err != nil {
		return result, err
	}
	log.Info().Float64("tick", filters.TickSize).Float64("lot", filters.LotStep).
		Float64("min_qty", filters.MinQty).Msg("Instrument filters")

	qty, err := e.size(ctx, intent, filters, log)
	if err != nil {
		return result, err
	}
	result.RequestedQty = qty

	// Per-symbol serialization starts before flip detection and holds
	// through the stop step: a concurrent run on the same symbol would
	// read a stale position and over-size the flip.
	lock := e.locks.get(intent.Symbol)
	lock.Lock()
	defer lock.Unlock()

	desired := intent.Direction.VenueSide()

	submittedQty, flipped, err := e.flipAdjust(ctx, intent.Symbol, desired, qty, filters)
	if err != nil {
		return result, err
	}
	result.SubmittedQty = submittedQty
	result.Flipped = flipped

	baseID, err := e.linkIDs.Generate(ctx, intent.Symbol)
	if err != nil {
		return result, err
	}
	result.LinkID = baseID

	entryQtyStr := quant.QtyString(submittedQty, filters.LotStep, filters.MinQty)
	entryAck, err := e.gw.PlaceOrder(ctx, bybit.OrderRequest{
		Symbol:      intent.Symbol,
		Side:        desired,
		Type:        bybit.OrderTypeMarket,
		Qty:         entryQtyStr,
		TimeInForce: bybit.TimeInForceIOC,
		ReduceOnly:  false,
		OrderLinkID: baseID,
	})
	result.Entry.Attempted = true
	result.Entry.Qty = entryQtyStr
	if err != nil {
		// Entry failure is fatal to the run; nothing exists venue-side yet
		result.Entry.Error = err.Error()
		log.Error().Err(err).Str("link_id", baseID).Msg("Entry order rejected")
		return result, err
	}
	result.Entry.Placed = true
	result.Entry.OrderID = entryAck.OrderID
	result.Entry.LinkID = baseID
	log.Info().Str("order_id", entryAck.OrderID).Str("link_id", baseID).
		Str("qty", entryQtyStr).Msg("Entry order placed")
	e.publish(events.EventEntryPlaced, map[string]interface{}{
		"symbol": intent.Symbol, "side": string(desired), "qty": entryQtyStr,
		"order_id": entryAck.OrderID, "link_id": baseID,
	})

	if e.limiter != nil {
		e.limiter.MarkEntry(intent.Symbol)
	}

	filledSize, confirmed := e.awaitFill(ctx, intent.Symbol, desired, log)
	result.FillConfirmed = confirmed
	result.FilledSize = filledSize

	if !confirmed {
		// The venue does not yet show a net position in the desired
		// direction; reduceOnly TP legs would be rejected. Degrade to a
		// best-effort protective stop sized to the originally intended
		// quantity and report partial success.
		log.Warn().Msg("No net position in desired direction after entry; skipping TP placement")
		e.publish(events.EventFillTimeout, map[string]interface{}{
			"symbol": intent.Symbol, "link_id": baseID,
		})
		if intent.StopLoss != nil {
			mech, stopLeg := e.conditionalStop(ctx, intent.Symbol, desired, *intent.StopLoss, qty, filters, baseID, log)
			result.StopMechanism = mech
			result.StopOrderID = stopLeg.OrderID
			result.StopError = stopLeg.Error
		}
		result.Message = "entry ok, but no net position in desired direction; tp/sl skipped"
		return result, nil
	}

	e.publish(events.EventEntryFilled, map[string]interface{}{
		"symbol": intent.Symbol, "size": filledSize, "link_id": baseID,
	})

	tp1Share := e.cfg.TP1SharePct
	if intent.TP1SharePct != nil {
		tp1Share = *intent.TP1SharePct
	}
	plan := BuildBracketPlan(filledSize, tp1Share, filters.LotStep, filters.MinQty)
	log.Info().Float64("tp1_qty", plan.TP1Qty).Float64("tp2_qty", plan.TP2Qty).Msg("Bracket plan")

	// TP legs place independently; one rejection never aborts the other
	// leg or the stop step.
	result.TP1 = e.placeTP(ctx, intent.Symbol, desired, intent.TP1, plan.TP1Qty, filters, baseID, orders.SuffixTP1, log)
	result.TP2 = e.placeTP(ctx, intent.Symbol, desired, intent.TP2, plan.TP2Qty, filters, baseID, orders.SuffixTP2, log)

	if intent.StopLoss != nil {
		mech, stopOrderID, stopErr := e.attachStop(ctx, intent, desired, filledSize, filters, baseID, log)
		result.StopMechanism = mech
		result.StopOrderID = stopOrderID
		result.StopError = stopErr
	}

	result.Message = "entry+tp/sl processed"
	return result, nil
}

// size resolves the order quantity, reading equity and last price only when
// the risk-percent path needs them.
func (e *Engine) size(ctx context.Context, intent TradeIntent, filters bybit.InstrumentFilters, log zerolog.Logger) (float64, error) {
	in := sizing.Input{ExplicitQty: intent.Qty, RiskPct: intent.RiskPct, StopPrice: intent.StopLoss}

	if intent.Qty != nil {
		qty, err := sizing.Compute(in, filters, 0, 0)
		if err != nil {
			return 0, err
		}
		log.Info().Float64("qty_in", *intent.Qty).Float64("qty_rounded", qty).Msg("Sizing: explicit")
		return qty, nil
	}

	equity, err := e.gw.GetEquity(ctx)
	if err != nil {
		return 0, fmt.Errorf("error reading equity for sizing: %w", err)
	}
	lastPrice, err := e.gw.GetLastPrice(ctx, intent.Symbol)
	if err != nil {
		return 0, err
	}

	qty, err := sizing.Compute(in, filters, equity, lastPrice)
	if err != nil {
		return 0, err
	}
	log.Info().Float64("equity", equity).Float64("risk_pct", *intent.RiskPct).
		Float64("last_price", lastPrice).Float64("sl", *intent.StopLoss).
		Float64("qty_rounded", qty).Msg("Sizing: riskPct")
	return qty, nil
}

// flipAdjust checks the current position and, when it opposes the requested
// direction, grows the entry so one market order both closes the old
// position and opens the new one (the venue nets fills in one-way mode).
// This must happen before submission, not after.
func (e *Engine) flipAdjust(ctx context.Context, symbol string, desired bybit.Side, qty float64, filters bybit.InstrumentFilters) (float64, bool, error) {
	pos, err := e.gw.GetPosition(ctx, symbol)
	if err != nil {
		return 0, false, err
	}
	if pos.Flat() || pos.Side == desired {
		return qty, false, nil
	}

	flipQty := quant.RoundQty(pos.Size+qty, filters.LotStep, filters.MinQty)
	e.logger.Info().Str("symbol", symbol).Str("existing_side", string(pos.Side)).
		Float64("existing_size", pos.Size).Str("desired_side", string(desired)).
		Float64("flip_qty", flipQty).Msg("Direction flip: closing old position in the same order")
	return flipQty, true, nil
}

// awaitFill polls the position snapshot until it shows the requested side
// with non-zero size, bounded by the configured attempts. The bound exists
// because reduceOnly children are rejected until the venue sees the
// position; polling trades latency for correctness and never blocks
// indefinitely.
func (e *Engine) awaitFill(ctx context.Context, symbol string, desired bybit.Side, log zerolog.Logger) (float64, bool) {
	for i := 0; i < e.cfg.FillPollAttempts; i++ {
		e.sleep(e.cfg.FillPollInterval)
		pos, err := e.gw.GetPosition(ctx, symbol)
		if err != nil {
			log.Warn().Err(err).Int("attempt", i+1).Msg("Position poll failed")
			continue
		}
		log.Debug().Int("attempt", i+1).Int("max", e.cfg.FillPollAttempts).
			Str("side", string(pos.Side)).Float64("size", pos.Size).Msg("Position poll")
		if pos.Size > 0 && pos.Side == desired {
			return pos.Size, true
		}
		if ctx.Err() != nil {
			break
		}
	}
	return 0, false
}

// placeTP submits one reduceOnly limit take-profit leg. A zero planned
// quantity or missing price skips the leg; a venue rejection is recorded
// and swallowed.
func (e *Engine) placeTP(ctx context.Context, symbol string, desired bybit.Side, price *float64, qty float64, filters bybit.InstrumentFilters, baseID, suffix string, log zerolog.Logger) LegResult {
	if qty <= 0 || price == nil {
		return LegResult{}
	}

	linkID, err := orders.Related(baseID, suffix)
	if err != nil {
		return LegResult{Attempted: true, Error: err.Error()}
	}

	qtyStr := quant.FormatQty(qty, filters.LotStep)
	priceStr := quant.PriceString(*price, filters.TickSize)
	ack, err := e.gw.PlaceOrder(ctx, bybit.OrderRequest{
		Symbol:      symbol,
		Side:        desired.Opposite(),
		Type:        bybit.OrderTypeLimit,
		Qty:         qtyStr,
		Price:       priceStr,
		TimeInForce: bybit.TimeInForceGTC,
		ReduceOnly:  true,
		OrderLinkID: linkID,
	})
	if err != nil {
		log.Error().Err(err).Str("link_id", linkID).Msg("TP leg rejected")
		e.publish(events.EventTPRejected, map[string]interface{}{
			"symbol": symbol, "link_id": linkID, "error": err.Error(),
		})
		return LegResult{Attempted: true, Qty: qtyStr, LinkID: linkID, Error: err.Error()}
	}

	log.Info().Str("order_id", ack.OrderID).Str("link_id", linkID).
		Str("qty", qtyStr).Str("price", priceStr).Msg("TP leg placed")
	e.publish(events.EventTPPlaced, map[string]interface{}{
		"symbol": symbol, "link_id": linkID, "qty": qtyStr, "price": priceStr,
	})
	return LegResult{Attempted: true, Placed: true, OrderID: ack.OrderID, LinkID: linkID, Qty: qtyStr}
}

func (e *Engine) publish(eventType events.EventType, data map[string]interface{}) {
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: eventType, Data: data})
	}
}
