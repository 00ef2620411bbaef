package engine

import (
	"errors"
	"fmt"

	"tv-bybit-middleware/internal/bybit"
)

// Direction is the requested trade direction
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// ParseDirection accepts the webhook's side spelling (case-insensitive)
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "LONG", "long", "Long":
		return Long, nil
	case "SHORT", "short", "Short":
		return Short, nil
	default:
		return "", fmt.Errorf("%w: invalid side %q", ErrValidation, s)
	}
}

// VenueSide maps a direction to the venue's order side
func (d Direction) VenueSide() bybit.Side {
	if d == Long {
		return bybit.SideBuy
	}
	return bybit.SideSell
}

// TradeIntent is one directional trade alert, immutable once accepted and
// consumed by exactly one orchestration run. Sizing is either explicit (Qty)
// or risk-based (RiskPct with StopLoss as the distance anchor).
type TradeIntent struct {
	Strategy  string
	Symbol    string
	Direction Direction

	Qty     *float64
	RiskPct *float64

	StopLoss *float64
	TP1      *float64
	TP2      *float64

	// TP1SharePct overrides the configured TP1 share for this request
	TP1SharePct *float64

	// PositionIdx pins the hedge-mode position index; nil auto-detects
	PositionIdx *int
}

// Validate rejects malformed intents before any venue call
func (t TradeIntent) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	if t.Direction != Long && t.Direction != Short {
		return fmt.Errorf("%w: invalid direction %q", ErrValidation, t.Direction)
	}
	if t.Qty == nil && (t.RiskPct == nil || t.StopLoss == nil) {
		return fmt.Errorf("%w: riskPct and sl are required when qty is not provided", ErrValidation)
	}
	if t.TP1SharePct != nil && (*t.TP1SharePct < 0 || *t.TP1SharePct > 100) {
		return fmt.Errorf("%w: tp1 share must be within [0,100]", ErrValidation)
	}
	return nil
}

// StopMechanism records which stop-loss mechanism ended up protecting the
// position after the fallback chain ran.
type StopMechanism string

const (
	StopMechanismPosition   StopMechanism = "position"
	StopMechanismStopMarket StopMechanism = "stopMarket"
	StopMechanismNone       StopMechanism = "none"
)

// LegResult is the outcome of one child order attempt. Partial bracket
// completion is a first-class outcome, so every leg reports independently.
type LegResult struct {
	Attempted bool   `json:"attempted"`
	Placed    bool   `json:"placed"`
	OrderID   string `json:"order_id,omitempty"`
	LinkID    string `json:"link_id,omitempty"`
	Qty       string `json:"qty,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BracketResult is the terminal state of one orchestration run
type BracketResult struct {
	Symbol        string        `json:"symbol"`
	Direction     Direction     `json:"direction"`
	LinkID        string        `json:"link_id"`
	RequestedQty  float64       `json:"requested_qty"`
	SubmittedQty  float64       `json:"submitted_qty"`
	Flipped       bool          `json:"flipped"`
	Entry         LegResult     `json:"entry"`
	FillConfirmed bool          `json:"fill_confirmed"`
	FilledSize    float64       `json:"filled_size"`
	TP1           LegResult     `json:"tp1"`
	TP2           LegResult     `json:"tp2"`
	StopMechanism StopMechanism `json:"stop_mechanism,omitempty"`
	StopOrderID   string        `json:"stop_order_id,omitempty"`
	StopError     string        `json:"stop_error,omitempty"`
	Message       string        `json:"message"`
}

// AdjustResult reports a post-entry mutation
type AdjustResult struct {
	Symbol      string  `json:"symbol"`
	Action      string  `json:"action"`
	StopPrice   string  `json:"stop_price,omitempty"`
	TrailDist   string  `json:"trail_dist,omitempty"`
	ActivePrice string  `json:"active_price,omitempty"`
	PositionIdx int     `json:"position_idx"`
	EntryPrice  float64 `json:"entry_price,omitempty"`
}

// CloseResult reports a flatten operation
type CloseResult struct {
	Symbol  string  `json:"symbol"`
	Side    string  `json:"side"`
	Size    float64 `json:"size"`
	OrderID string  `json:"order_id"`
}

// Error taxonomy. Everything upstream of entry submission rejects the whole
// request; everything downstream of a successful entry degrades instead.
var (
	ErrValidation   = errors.New("validation error")
	ErrGuardBlocked = errors.New("guard: daily loss limit reached, blocking new orders")
	ErrSuppressed   = errors.New("signal suppressed")
	ErrNoPosition   = errors.New("no open position")
)
