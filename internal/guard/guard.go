// Package guard blocks new entries once the account's daily drawdown
// exceeds a configured percentage or absolute limit. It never interferes
// with adjustments or closes, only with taking on new risk.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EquityFunc reads the current account equity in USD
type EquityFunc func(ctx context.Context) (float64, error)

// Limits configures the guard. A nil limit is not enforced.
type Limits struct {
	Enabled  bool
	LimitPct *float64
	LimitUsd *float64
}

// Verdict is the outcome of one evaluation
type Verdict struct {
	Blocked bool
	Reason  string
}

// Status is a read-only snapshot of guard state
type Status struct {
	Enabled     bool     `json:"enabled"`
	LimitPct    *float64 `json:"limit_pct"`
	LimitUsd    *float64 `json:"limit_usd"`
	Baseline    float64  `json:"baseline"`
	EquityNow   float64  `json:"equity_now"`
	DrawdownUsd float64  `json:"drawdown_usd"`
	DrawdownPct float64  `json:"drawdown_pct"`
	Blocked     bool     `json:"block"`
	WindowStart string   `json:"start_date"`
}

// Guard tracks a rolling baseline equity per UTC trading day
type Guard struct {
	mu     sync.Mutex
	logger zerolog.Logger
	equity EquityFunc
	now    func() time.Time

	enabled     bool
	limitPct    *float64
	limitUsd    *float64
	baseline    float64
	baselineSet bool
	equityNow   float64
	drawdownUsd float64
	drawdownPct float64
	blocked     bool
	windowStart time.Time
}

// New creates a Guard. The clock is injectable for deterministic tests;
// pass nil to use time.Now.
func New(equity EquityFunc, now func() time.Time, logger zerolog.Logger) *Guard {
	if now == nil {
		now = time.Now
	}
	return &Guard{
		equity: equity,
		now:    now,
		logger: logger.With().Str("component", "DrawdownGuard").Logger(),
	}
}

// Configure applies new limits. Disabling clears the block immediately but
// keeps the baseline; re-enabling re-baselines on the next evaluation.
func (g *Guard) Configure(limits Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if limits.Enabled && !g.enabled {
		g.baselineSet = false
	}
	g.enabled = limits.Enabled
	g.limitPct = limits.LimitPct
	g.limitUsd = limits.LimitUsd
	if !g.enabled {
		g.blocked = false
	}

	g.logger.Info().Bool("enabled", g.enabled).
		Interface("limit_pct", g.limitPct).Interface("limit_usd", g.limitUsd).
		Msg("Guard configured")
}

// Reset drops the baseline and clears the block; the next evaluation
// re-reads equity as the new baseline.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.baselineSet = false
	g.blocked = false
	g.drawdownUsd = 0
	g.drawdownPct = 0
	g.logger.Info().Msg("Guard reset")
}

// Evaluate decides whether new risk may be taken on. If the equity query
// fails the guard fails closed: silently permitting risk when the account
// state is unknown is worse than rejecting a signal.
func (g *Guard) Evaluate(ctx context.Context) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled {
		return Verdict{}
	}

	now := g.now().UTC()
	if g.baselineSet && !sameUTCDay(g.windowStart, now) {
		// New UTC trading day: automatic baseline reset clears the block
		g.baselineSet = false
		g.blocked = false
	}

	eq, err := g.equity(ctx)
	if err != nil {
		g.logger.Error().Err(err).Msg("Equity query failed, failing closed")
		return Verdict{Blocked: true, Reason: "guard: equity query failed"}
	}

	if !g.baselineSet {
		g.baseline = eq
		g.baselineSet = true
		g.windowStart = now
		g.logger.Info().Float64("baseline", eq).Msg("Guard baseline captured")
	}

	g.equityNow = eq
	ddUsd := g.baseline - eq
	ddPct := 0.0
	if g.baseline > 0 {
		ddPct = ddUsd / g.baseline * 100.0
	}
	g.drawdownUsd = max0(ddUsd)
	g.drawdownPct = max0(ddPct)

	if g.limitPct != nil && ddPct >= *g.limitPct {
		g.blocked = true
	}
	if g.limitUsd != nil && ddUsd >= *g.limitUsd {
		g.blocked = true
	}

	if g.blocked {
		g.logger.Warn().Float64("drawdown_usd", g.drawdownUsd).
			Float64("drawdown_pct", g.drawdownPct).
			Msg("Daily loss limit reached, blocking new orders")
		return Verdict{Blocked: true, Reason: "guard: daily loss limit reached"}
	}
	return Verdict{}
}

// Status returns a snapshot for the status endpoint
func (g *Guard) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	start := ""
	if g.baselineSet {
		start = g.windowStart.Format("2006-01-02")
	}
	return Status{
		Enabled:     g.enabled,
		LimitPct:    g.limitPct,
		LimitUsd:    g.limitUsd,
		Baseline:    g.baseline,
		EquityNow:   g.equityNow,
		DrawdownUsd: g.drawdownUsd,
		DrawdownPct: g.drawdownPct,
		Blocked:     g.blocked,
		WindowStart: start,
	}
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
