package bybit

import (
	"context"
	"fmt"
	"strconv"
)

// ==================== ACCOUNT ====================

// GetEquity returns the USDT equity of the unified trading account
func (c *Client) GetEquity(ctx context.Context) (float64, error) {
	var result listResult[walletAccount]
	err := c.get(ctx, "/v5/account/wallet-balance", map[string]string{
		"accountType": "UNIFIED",
		"coin":        "USDT",
	}, &result)
	if err != nil {
		return 0, fmt.Errorf("error fetching wallet balance: %w", err)
	}
	if len(result.List) == 0 {
		return 0, nil
	}

	for _, coin := range result.List[0].Coin {
		if coin.Coin != "USDT" {
			continue
		}
		if coin.Equity == "" {
			return 0, nil
		}
		equity, err := strconv.ParseFloat(coin.Equity, 64)
		if err != nil {
			return 0, fmt.Errorf("error parsing equity %q: %w", coin.Equity, err)
		}
		return equity, nil
	}
	return 0, nil
}

// GetPosition returns the position snapshot for a symbol. In one-way mode
// the list usually holds a single entry with positionIdx 0; in hedge mode
// the entry with the largest absolute size is taken as the net view.
func (c *Client) GetPosition(ctx context.Context, symbol string) (PositionSnapshot, error) {
	var result listResult[positionInfo]
	err := c.get(ctx, "/v5/position/list", map[string]string{
		"category": CategoryLinear,
		"symbol":   symbol,
	}, &result)
	if err != nil {
		return PositionSnapshot{}, fmt.Errorf("error fetching position: %w", err)
	}
	if len(result.List) == 0 {
		return PositionSnapshot{Symbol: symbol}, nil
	}

	best := result.List[0]
	maxSize := 0.0
	for _, p := range result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size < 0 {
			size = -size
		}
		if size > maxSize {
			best = p
			maxSize = size
		}
	}

	size, _ := strconv.ParseFloat(best.Size, 64)
	avgPrice, _ := strconv.ParseFloat(best.AvgPrice, 64)
	return PositionSnapshot{
		Symbol:      symbol,
		Side:        Side(best.Side),
		Size:        size,
		AvgPrice:    avgPrice,
		PositionIdx: best.PositionIdx,
	}, nil
}
