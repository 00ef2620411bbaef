package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tv-bybit-middleware/internal/bybit"
	"tv-bybit-middleware/internal/dedup"
	"tv-bybit-middleware/internal/guard"
	"tv-bybit-middleware/internal/orders"
)

func ptr(v float64) *float64 { return &v }

func newTestMock() *bybit.MockGateway {
	mock := bybit.NewMockGateway(10000)
	mock.SetFilters(bybit.InstrumentFilters{
		Symbol:   "BTCUSDT",
		TickSize: 0.1,
		LotStep:  0.001,
		MinQty:   0.001,
	})
	mock.SetLastPrice("BTCUSDT", 50000)
	return mock
}

func newTestEngine(gw bybit.Gateway, cfg Config) *Engine {
	linkIDs := orders.NewLinkIDGenerator(nil, nil, zerolog.Nop())
	e := New(gw, nil, nil, linkIDs, nil, cfg, zerolog.Nop())
	e.sleep = func(time.Duration) {}
	return e
}

func TestExecutePlacesFullBracket(t *testing.T) {
	mock := newTestMock()
	e := newTestEngine(mock, Config{})

	result, err := e.Execute(context.Background(), TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Qty:       ptr(1.0),
		StopLoss:  ptr(49000.0),
		TP1:       ptr(51000.0),
		TP2:       ptr(52000.0),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !result.FillConfirmed {
		t.Fatal("fill not confirmed")
	}
	if result.FilledSize != 1.0 {
		t.Errorf("filled size = %v, want 1.0", result.FilledSize)
	}
	if result.Message != "entry+tp/sl processed" {
		t.Errorf("message = %q", result.Message)
	}

	// Entry: market IOC buy, not reduceOnly
	if len(mock.PlacedOrders) != 3 {
		t.Fatalf("placed %d orders, want 3 (entry + 2 TPs)", len(mock.PlacedOrders))
	}
	entry := mock.PlacedOrders[0]
	if entry.Side != bybit.SideBuy || entry.Type != bybit.OrderTypeMarket || entry.ReduceOnly {
		t.Errorf("unexpected entry order: %+v", entry)
	}
	if entry.Qty != "1.000" {
		t.Errorf("entry qty = %q, want 1.000", entry.Qty)
	}

	// TP legs: 30/70 split, reduceOnly limit sells
	tp1s := mock.OrdersByLinkSuffix("-" + orders.SuffixTP1)
	tp2s := mock.OrdersByLinkSuffix("-" + orders.SuffixTP2)
	if len(tp1s) != 1 || len(tp2s) != 1 {
		t.Fatalf("tp1 orders = %d, tp2 orders = %d, want 1 each", len(tp1s), len(tp2s))
	}
	if tp1s[0].Qty != "0.300" || tp1s[0].Price != "51000.0" {
		t.Errorf("tp1 = %+v", tp1s[0])
	}
	if tp2s[0].Qty != "0.700" || tp2s[0].Price != "52000.0" {
		t.Errorf("tp2 = %+v", tp2s[0])
	}
	for _, tp := range append(tp1s, tp2s...) {
		if tp.Side != bybit.SideSell || !tp.ReduceOnly || tp.Type != bybit.OrderTypeLimit {
			t.Errorf("TP leg not a reduceOnly limit sell: %+v", tp)
		}
	}

	// Stop: position-level stop on mark price succeeded first
	if result.StopMechanism != StopMechanismPosition {
		t.Errorf("stop mechanism = %q, want %q", result.StopMechanism, StopMechanismPosition)
	}
	if len(mock.TradingStops) != 1 {
		t.Fatalf("trading stops = %d, want 1", len(mock.TradingStops))
	}
	stop := mock.TradingStops[0]
	if stop.StopLoss != "49000.0" || stop.TriggerBy != bybit.TriggerByMark {
		t.Errorf("stop = %+v", stop)
	}

	// All children share the entry's base link id
	base := result.LinkID
	if base == "" || entry.OrderLinkID != base {
		t.Errorf("entry link id %q, base %q", entry.OrderLinkID, base)
	}
	if tp1s[0].OrderLinkID != base+"-"+orders.SuffixTP1 {
		t.Errorf("tp1 link id = %q", tp1s[0].OrderLinkID)
	}
}

func TestExecuteTinyTP1FoldsIntoTP2(t *testing.T) {
	mock := bybit.NewMockGateway(10000)
	mock.SetFilters(bybit.InstrumentFilters{
		Symbol:   "BTCUSDT",
		TickSize: 0.1,
		LotStep:  0.01,
		MinQty:   0.01,
	})
	mock.SetLastPrice("BTCUSDT", 50000)
	e := newTestEngine(mock, Config{})

	result, err := e.Execute(context.Background(), TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Qty:       ptr(0.02),
		TP1:       ptr(51000.0),
		TP2:       ptr(52000.0),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.TP1.Attempted {
		t.Error("tp1 leg should be skipped when it rounds below min qty")
	}
	tp2s := mock.OrdersByLinkSuffix("-" + orders.SuffixTP2)
	if len(tp2s) != 1 || tp2s[0].Qty != "0.02" {
		t.Errorf("tp2 orders = %+v, want one leg of 0.02", tp2s)
	}
}

func TestExecuteFlipGrowsEntry(t *testing.T) {
	mock := newTestMock()
	mock.SetPosition(bybit.PositionSnapshot{
		Symbol: "BTCUSDT", Side: bybit.SideSell, Size: 5, AvgPrice: 50100,
	})
	e := newTestEngine(mock, Config{})

	result, err := e.Execute(context.Background(), TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Qty:       ptr(3.0),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !result.Flipped {
		t.Error("flip not detected")
	}
	if result.SubmittedQty != 8.0 {
		t.Errorf("submitted qty = %v, want 8 (5 to close + 3 to open)", result.SubmittedQty)
	}
	if mock.PlacedOrders[0].Qty != "8.000" {
		t.Errorf("entry qty = %q, want 8.000", mock.PlacedOrders[0].Qty)
	}
	// Venue nets the fill: the final position is 3 long
	if !result.FillConfirmed || result.FilledSize != 3.0 {
		t.Errorf("confirmed=%v filled=%v, want confirmed 3 long", result.FillConfirmed, result.FilledSize)
	}
}

func TestExecuteFillTimeoutDegrades(t *testing.T) {
	mock := newTestMock()
	mock.FillAfterPolls = 100 // position never becomes visible in the window
	e := newTestEngine(mock, Config{FillPollAttempts: 3})

	result, err := e.Execute(context.Background(), TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Qty:       ptr(1.0),
		StopLoss:  ptr(49000.0),
		TP1:       ptr(51000.0),
	})
	if err != nil {
		t.Fatalf("fill timeout must not be an error: %v", err)
	}

	if result.FillConfirmed {
		t.Fatal("fill should not be confirmed")
	}
	if result.Message != "entry ok, but no net position in desired direction; tp/sl skipped" {
		t.Errorf("message = %q", result.Message)
	}
	if len(mock.OrdersByLinkSuffix("-"+orders.SuffixTP1)) != 0 {
		t.Error("TP legs must be skipped on fill timeout")
	}

	// Best-effort protective stop sized to the intended quantity
	stops := mock.OrdersByLinkSuffix("-" + orders.SuffixStopFallback)
	if len(stops) != 1 {
		t.Fatalf("fallback stops = %d, want 1", len(stops))
	}
	if stops[0].Qty != "1.000" || stops[0].TriggerPrice != "49000.0" || !stops[0].ReduceOnly {
		t.Errorf("fallback stop = %+v", stops[0])
	}
	if stops[0].TriggerDirection != bybit.TriggerDirectionFall {
		t.Errorf("trigger direction = %d, want fall for a long close", stops[0].TriggerDirection)
	}
	if result.StopMechanism != StopMechanismStopMarket {
		t.Errorf("stop mechanism = %q", result.StopMechanism)
	}
}

func TestStopFallbackReachesConditionalOrder(t *testing.T) {
	mock := newTestMock()
	mock.StopErrBySource = map[bybit.TriggerSource]error{
		bybit.TriggerByMark: errors.New("trigger source rejected"),
		bybit.TriggerByLast: errors.New("trigger source rejected"),
	}
	e := newTestEngine(mock, Config{})

	result, err := e.Execute(context.Background(), TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: Short,
		Qty:       ptr(1.0),
		StopLoss:  ptr(51000.0),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.StopMechanism != StopMechanismStopMarket {
		t.Fatalf("stop mechanism = %q, want %q", result.StopMechanism, StopMechanismStopMarket)
	}
	stops := mock.OrdersByLinkSuffix("-" + orders.SuffixStopFallback)
	if len(stops) != 1 {
		t.Fatalf("fallback stops = %d, want 1", len(stops))
	}
	// A short closes on an upward break
	if stops[0].TriggerDirection != bybit.TriggerDirectionRise {
		t.Errorf("trigger direction = %d, want rise for a short close", stops[0].TriggerDirection)
	}
	if stops[0].Side != bybit.SideBuy {
		t.Errorf("fallback stop side = %q, want Buy", stops[0].Side)
	}
}

func TestStopFallbackAggregatesAllFailures(t *testing.T) {
	mock := newTestMock()
	mock.StopErrBySource = map[bybit.TriggerSource]error{
		bybit.TriggerByMark: errors.New("mark rejected"),
		bybit.TriggerByLast: errors.New("last rejected"),
	}
	mock.OrderErrFor = func(req bybit.OrderRequest) error {
		if req.TriggerPrice != "" {
			return errors.New("conditional rejected")
		}
		return nil
	}
	e := newTestEngine(mock, Config{})

	result, err := e.Execute(context.Background(), TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Qty:       ptr(1.0),
		StopLoss:  ptr(49000.0),
	})
	if err != nil {
		t.Fatalf("unprotected position is reported, not raised: %v", err)
	}

	if result.StopMechanism != StopMechanismNone {
		t.Errorf("stop mechanism = %q, want %q", result.StopMechanism, StopMechanismNone)
	}
	for _, want := range []string{"position-stop mark", "position-stop last", "conditional stop-market"} {
		if !strings.Contains(result.StopError, want) {
			t.Errorf("stop error %q missing %q", result.StopError, want)
		}
	}
}

func TestStopFallbackSkipsLastFeedOnUnrelatedRejection(t *testing.T) {
	mock := newTestMock()
	// Insufficient balance has nothing to do with the trigger feed, so the
	// ladder must not waste a rung on the last-price variant.
	mock.StopErrBySource = map[bybit.TriggerSource]error{
		bybit.TriggerByMark: &bybit.APIError{Code: 110007, Msg: "ab not enough for new order"},
	}
	e := newTestEngine(mock, Config{})

	result, err := e.Execute(context.Background(), TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Qty:       ptr(1.0),
		StopLoss:  ptr(49000.0),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.StopMechanism != StopMechanismStopMarket {
		t.Fatalf("stop mechanism = %q, want %q", result.StopMechanism, StopMechanismStopMarket)
	}
	if len(mock.TradingStops) != 0 {
		t.Errorf("position stops = %d, want none after an unrelated rejection", len(mock.TradingStops))
	}
	if stops := mock.OrdersByLinkSuffix("-" + orders.SuffixStopFallback); len(stops) != 1 {
		t.Fatalf("fallback stops = %d, want 1", len(stops))
	}
}

func TestStopFallbackRetriesLastFeedOnTriggerRejection(t *testing.T) {
	mock := newTestMock()
	mock.StopErrBySource = map[bybit.TriggerSource]error{
		bybit.TriggerByMark: &bybit.APIError{Code: 110092, Msg: "sl trigger price invalid for trigger source"},
	}
	e := newTestEngine(mock, Config{})

	result, err := e.Execute(context.Background(), TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: Long,
		Qty:       ptr(1.0),
		StopLoss:  ptr(49000.0),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.StopMechanism != StopMechanismPosition {
		t.Fatalf("stop mechanism = %q, want %q", result.StopMechanism, StopMechanismPosition)
	}
	if len(mock.TradingStops) != 1 || mock.TradingStops[0].TriggerBy != bybit.TriggerByLast {
		t.Fatalf("trading stops = %+v, want one on the last-price feed", mock.TradingStops)
	}
}

func TestExecuteRejectsDuplicateSignal(t *testing.T) {
	mock := newTestMock()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter := dedup.New(15*time.Second, 0, func() time.Time { return now })
	linkIDs := orders.NewLinkIDGenerator(nil, nil, zerolog.Nop())
	e := New(mock, nil, limiter, linkIDs, nil, Config{}, zerolog.Nop())
	e.sleep = func(time.Duration) {}

	intent := TradeIntent{Symbol: "BTCUSDT", Direction: Long, Qty: ptr(1.0)}
	if _, err := e.Execute(context.Background(), intent); err != nil {
		t.Fatalf("first signal: %v", err)
	}

	_, err := e.Execute(context.Background(), intent)
	if !errors.Is(err, ErrSuppressed) {
		t.Fatalf("err = %v, want ErrSuppressed", err)
	}
	if len(mock.PlacedOrders) != 1 {
		t.Errorf("suppressed signal still placed orders: %d", len(mock.PlacedOrders))
	}
}

func TestExecuteBlockedByGuard(t *testing.T) {
	mock := newTestMock()
	mock.EquityErr = errors.New("venue timeout") // guard fails closed
	g := guard.New(mock.GetEquity, nil, zerolog.Nop())
	g.Configure(guard.Limits{Enabled: true, LimitPct: ptr(5.0)})

	linkIDs := orders.NewLinkIDGenerator(nil, nil, zerolog.Nop())
	e := New(mock, g, nil, linkIDs, nil, Config{}, zerolog.Nop())
	e.sleep = func(time.Duration) {}

	_, err := e.Execute(context.Background(), TradeIntent{
		Symbol: "BTCUSDT", Direction: Long, Qty: ptr(1.0),
	})
	if !errors.Is(err, ErrGuardBlocked) {
		t.Fatalf("err = %v, want ErrGuardBlocked", err)
	}
	// A fail-closed equity failure must not masquerade as a loss-limit hit
	if !strings.Contains(err.Error(), "equity query failed") {
		t.Errorf("err = %v, want the guard's verdict reason attached", err)
	}
	if len(mock.PlacedOrders) != 0 {
		t.Error("guard-blocked signal must not reach the venue")
	}
}

func TestExecuteValidation(t *testing.T) {
	e := newTestEngine(newTestMock(), Config{})

	_, err := e.Execute(context.Background(), TradeIntent{
		Symbol:    "BTCUSDT",
		Direction: Long,
		// neither qty nor (riskPct, sl)
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestExecuteRiskPctSizing(t *testing.T) {
	mock := bybit.NewMockGateway(10000)
	mock.SetFilters(bybit.InstrumentFilters{
		Symbol:   "XRPUSDT",
		TickSize: 0.0001,
		LotStep:  0.001,
		MinQty:   0.001,
	})
	mock.SetLastPrice("XRPUSDT", 100)
	e := newTestEngine(mock, Config{})

	result, err := e.Execute(context.Background(), TradeIntent{
		Symbol:    "XRPUSDT",
		Direction: Long,
		RiskPct:   ptr(1.0),
		StopLoss:  ptr(99.0),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// 1% of 10000 equity over a 1 USD stop distance
	if result.RequestedQty != 100.0 {
		t.Errorf("requested qty = %v, want 100", result.RequestedQty)
	}
	if mock.PlacedOrders[0].Qty != "100.000" {
		t.Errorf("entry qty = %q, want 100.000", mock.PlacedOrders[0].Qty)
	}
}
