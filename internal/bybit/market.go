package bybit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// filtersCache is a read-mostly TTL cache for instrument filters. Venues
// change tick/lot grids rarely, so a bounded staleness is acceptable.
type filtersCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]filtersEntry
}

func newFiltersCache(ttl time.Duration) *filtersCache {
	return &filtersCache{
		ttl:     ttl,
		entries: make(map[string]filtersEntry),
	}
}

func (fc *filtersCache) get(symbol string) (InstrumentFilters, bool) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	entry, ok := fc.entries[symbol]
	if !ok || time.Since(entry.fetched) > fc.ttl {
		return InstrumentFilters{}, false
	}
	return entry.filters, true
}

func (fc *filtersCache) put(filters InstrumentFilters) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.entries[filters.Symbol] = filtersEntry{filters: filters, fetched: time.Now()}
}

// ==================== MARKET DATA ====================

// GetInstrumentFilters returns the tick size, lot step and minimum order
// quantity for a linear perpetual symbol. Results are cached for 5 minutes.
func (c *Client) GetInstrumentFilters(ctx context.Context, symbol string) (InstrumentFilters, error) {
	if cached, ok := c.filters.get(symbol); ok {
		return cached, nil
	}

	var result listResult[instrumentInfo]
	err := c.get(ctx, "/v5/market/instruments-info", map[string]string{
		"category": CategoryLinear,
		"symbol":   symbol,
	}, &result)
	if err != nil {
		return InstrumentFilters{}, fmt.Errorf("error fetching instrument info: %w", err)
	}
	if len(result.List) == 0 {
		return InstrumentFilters{}, fmt.Errorf("symbol not found: %s", symbol)
	}

	it := result.List[0]
	tick, err := strconv.ParseFloat(it.PriceFilter.TickSize, 64)
	if err != nil {
		return InstrumentFilters{}, fmt.Errorf("error parsing tickSize %q: %w", it.PriceFilter.TickSize, err)
	}
	step, err := strconv.ParseFloat(it.LotSizeFilter.QtyStep, 64)
	if err != nil {
		return InstrumentFilters{}, fmt.Errorf("error parsing qtyStep %q: %w", it.LotSizeFilter.QtyStep, err)
	}
	minQty, err := strconv.ParseFloat(it.LotSizeFilter.MinOrderQty, 64)
	if err != nil {
		return InstrumentFilters{}, fmt.Errorf("error parsing minOrderQty %q: %w", it.LotSizeFilter.MinOrderQty, err)
	}

	filters := InstrumentFilters{
		Symbol:   symbol,
		TickSize: tick,
		LotStep:  step,
		MinQty:   minQty,
	}
	c.filters.put(filters)
	return filters, nil
}

// GetLastPrice returns the last traded price for a symbol
func (c *Client) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	var result listResult[tickerInfo]
	err := c.get(ctx, "/v5/market/tickers", map[string]string{
		"category": CategoryLinear,
		"symbol":   symbol,
	}, &result)
	if err != nil {
		return 0, fmt.Errorf("error fetching ticker: %w", err)
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}

	price, err := strconv.ParseFloat(result.List[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("error parsing lastPrice %q: %w", result.List[0].LastPrice, err)
	}
	return price, nil
}
