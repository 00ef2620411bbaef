package engine

import "tv-bybit-middleware/internal/quant"

// BracketPlan splits a confirmed filled size into take-profit legs. The
// invariant is tp1 + tp2 <= filled size; a leg that rounds below the
// minimum tradable size is zeroed and its quantity folds into the other leg.
type BracketPlan struct {
	TP1Qty float64
	TP2Qty float64
}

// BuildBracketPlan computes the TP split for a filled size. tp1SharePct is
// TP1's share of the position in percent. If TP1 rounds below minQty all
// quantity routes to TP2; if the whole position is below minQty both legs
// are zero and the bracket degrades to stop-only.
func BuildBracketPlan(filledSize, tp1SharePct, lotStep, minQty float64) BracketPlan {
	tp1 := quant.RoundQty(filledSize*(tp1SharePct/100.0), lotStep, 0)
	if tp1 < minQty {
		tp1 = 0
	}

	tp2 := quant.RoundQty(filledSize-tp1, lotStep, 0)
	if tp2 < minQty {
		// Rounding cut the remainder below tradable size: route everything
		// to a single TP2 leg instead.
		tp1 = 0
		tp2 = quant.RoundQty(filledSize, lotStep, 0)
		if tp2 < minQty {
			tp2 = 0
		}
	}

	return BracketPlan{TP1Qty: tp1, TP2Qty: tp2}
}
