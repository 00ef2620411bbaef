package api

import (
	"errors"
	"net/http"
	"strings"

	"tv-bybit-middleware/internal/engine"
	"tv-bybit-middleware/internal/events"
	"tv-bybit-middleware/internal/guard"

	"github.com/gin-gonic/gin"
)

// webhookPayload is the TradingView alert body. Numeric fields arrive as JSON
// numbers or are absent, never as strings.
type webhookPayload struct {
	Type     string `json:"type,omitempty"`
	Secret   string `json:"secret,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Strategy string `json:"strategy,omitempty"`

	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	OrderType string `json:"orderType,omitempty"`

	Qty     *float64 `json:"qty,omitempty"`
	RiskPct *float64 `json:"riskPct,omitempty"`

	SL          *float64 `json:"sl,omitempty"`
	TP1         *float64 `json:"tp1,omitempty"`
	TP2         *float64 `json:"tp2,omitempty"`
	TP1SharePct *float64 `json:"tp1SharePct,omitempty"`

	PositionIdx *int `json:"positionIdx,omitempty"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8",
		[]byte("<h3>TV Webhook / Bybit middleware: OK</h3>"))
}

func (s *Server) handleWebhook(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid JSON")
		return
	}

	// TradingView connectivity pings carry no order fields
	if payload.Type == "ping" {
		s.logger.Info().Msg("Webhook ping received")
		okResponse(c, gin.H{"msg": "pong"})
		return
	}

	if !s.verifySecret(c, payload.Secret) {
		errorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if payload.Exchange != "" && strings.ToLower(payload.Exchange) != "bybit" {
		errorResponse(c, http.StatusBadRequest, "only `bybit` exchange supported")
		return
	}
	if payload.OrderType != "" && payload.OrderType != "Market" {
		errorResponse(c, http.StatusBadRequest, "currently only Market entries are supported")
		return
	}

	direction, err := engine.ParseDirection(payload.Side)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	intent := engine.TradeIntent{
		Strategy:    payload.Strategy,
		Symbol:      payload.Symbol,
		Direction:   direction,
		Qty:         payload.Qty,
		RiskPct:     payload.RiskPct,
		StopLoss:    payload.SL,
		TP1:         payload.TP1,
		TP2:         payload.TP2,
		TP1SharePct: payload.TP1SharePct,
		PositionIdx: payload.PositionIdx,
	}
	s.eventBus.Publish(events.Event{Type: events.EventSignalReceived, Data: map[string]interface{}{
		"symbol": payload.Symbol, "side": payload.Side, "strategy": payload.Strategy,
	}})

	result, err := s.engine.Execute(c.Request.Context(), intent)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrSuppressed):
			// Duplicate alert, answer 200 so TradingView does not retry
			okResponse(c, gin.H{"suppressed": true, "reason": err.Error()})
		case errors.Is(err, engine.ErrValidation):
			errorResponse(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, engine.ErrGuardBlocked):
			errorResponse(c, http.StatusBadRequest, err.Error())
		default:
			errorResponse(c, http.StatusBadGateway, err.Error())
		}
		return
	}

	okResponse(c, gin.H{"result": result})
}

func (s *Server) handleGuardStatus(c *gin.Context) {
	if !s.verifySecret(c, "") {
		errorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	okResponse(c, gin.H{"status": s.guard.Status()})
}

func (s *Server) handleGuardSet(c *gin.Context) {
	var body struct {
		Secret   string   `json:"secret,omitempty"`
		Enable   bool     `json:"enable"`
		LimitPct *float64 `json:"limit_pct,omitempty"`
		LimitUsd *float64 `json:"limit_usd,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !s.verifySecret(c, body.Secret) {
		errorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	s.guard.Configure(guard.Limits{
		Enabled:  body.Enable,
		LimitPct: body.LimitPct,
		LimitUsd: body.LimitUsd,
	})
	okResponse(c, gin.H{"msg": "guard updated"})
}

func (s *Server) handleGuardReset(c *gin.Context) {
	var body struct {
		Secret string `json:"secret,omitempty"`
	}
	_ = c.ShouldBindJSON(&body)
	if !s.verifySecret(c, body.Secret) {
		errorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	s.guard.Reset()
	okResponse(c, gin.H{"msg": "guard reset"})
}

func (s *Server) handlePosition(c *gin.Context) {
	if !s.verifySecret(c, "") {
		errorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	symbol := c.Query("symbol")
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	pos, err := s.engine.Position(c.Request.Context(), symbol)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, err.Error())
		return
	}
	okResponse(c, gin.H{"position": pos})
}

func (s *Server) handleSetLeverage(c *gin.Context) {
	var body struct {
		Secret   string `json:"secret,omitempty"`
		Symbol   string `json:"symbol"`
		Leverage int    `json:"leverage"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !s.verifySecret(c, body.Secret) {
		errorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := s.engine.SetLeverage(c.Request.Context(), body.Symbol, body.Leverage); err != nil {
		s.respondEngineError(c, err)
		return
	}
	okResponse(c, gin.H{"msg": "leverage set"})
}

func (s *Server) handleAdjust(c *gin.Context) {
	var body struct {
		Secret string `json:"secret,omitempty"`
		Symbol string `json:"symbol"`
		Action string `json:"action"`

		BeOffsetBp  int      `json:"be_offset_bp,omitempty"`
		SL          *float64 `json:"sl,omitempty"`
		TrailDist   *float64 `json:"trail_dist,omitempty"`
		ActivePrice *float64 `json:"active_price,omitempty"`
		PositionIdx *int     `json:"positionIdx,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !s.verifySecret(c, body.Secret) {
		errorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	if body.Symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	ctx := c.Request.Context()
	var (
		result engine.AdjustResult
		err    error
	)
	switch body.Action {
	case "be":
		result, err = s.engine.Breakeven(ctx, body.Symbol, body.BeOffsetBp, body.PositionIdx)
	case "set_sl":
		if body.SL == nil {
			errorResponse(c, http.StatusBadRequest, "sl is required for set_sl")
			return
		}
		result, err = s.engine.SetStop(ctx, body.Symbol, *body.SL, body.PositionIdx)
	case "cancel_sl":
		result, err = s.engine.CancelStop(ctx, body.Symbol, body.PositionIdx)
	case "trail":
		if body.TrailDist == nil {
			errorResponse(c, http.StatusBadRequest, "trail_dist is required for trail")
			return
		}
		result, err = s.engine.Trail(ctx, body.Symbol, *body.TrailDist, body.ActivePrice, body.PositionIdx)
	case "cancel_trail":
		result, err = s.engine.CancelTrail(ctx, body.Symbol, body.PositionIdx)
	default:
		errorResponse(c, http.StatusBadRequest, "unknown action: "+body.Action)
		return
	}

	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	okResponse(c, gin.H{"result": result})
}

func (s *Server) handleClose(c *gin.Context) {
	var body struct {
		Secret string `json:"secret,omitempty"`
		Symbol string `json:"symbol"`
		Which  string `json:"which,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !s.verifySecret(c, body.Secret) {
		errorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	if body.Symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	result, err := s.engine.Close(c.Request.Context(), body.Symbol, body.Which)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	okResponse(c, gin.H{"result": result})
}

func (s *Server) handleCancel(c *gin.Context) {
	var body struct {
		Secret string `json:"secret,omitempty"`
		Symbol string `json:"symbol"`
		Filter string `json:"filter,omitempty"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !s.verifySecret(c, body.Secret) {
		errorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}
	if body.Symbol == "" {
		errorResponse(c, http.StatusBadRequest, "symbol is required")
		return
	}

	if err := s.engine.CancelAll(c.Request.Context(), body.Symbol, body.Filter); err != nil {
		s.respondEngineError(c, err)
		return
	}
	okResponse(c, gin.H{"msg": "orders cancelled"})
}

func (s *Server) respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrValidation), errors.Is(err, engine.ErrNoPosition):
		errorResponse(c, http.StatusBadRequest, err.Error())
	default:
		s.eventBus.Publish(events.Event{Type: events.EventError, Data: map[string]interface{}{
			"path": c.FullPath(), "error": err.Error(),
		}})
		errorResponse(c, http.StatusBadGateway, err.Error())
	}
}
