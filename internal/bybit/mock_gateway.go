package bybit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// MockGateway implements the Gateway interface in-memory for dry-run mode
// and tests. Market orders net against the existing position the way the
// venue does in one-way mode; the position view can be made to lag order
// acknowledgement via FillAfterPolls.
type MockGateway struct {
	mu        sync.RWMutex
	equity    float64
	filters   map[string]InstrumentFilters
	lastPrice map[string]float64
	positions map[string]PositionSnapshot

	nextOrderID  int64
	PlacedOrders []OrderRequest
	TradingStops []TradingStopRequest
	Cancelled    []string
	Leverage     map[string]int

	// FillAfterPolls delays position visibility: after a market entry the
	// next N GetPosition calls still return the previous snapshot.
	FillAfterPolls int
	pendingPolls   int
	pendingPos     *PositionSnapshot

	// Failure injection
	EquityErr       error
	StopErrBySource map[TriggerSource]error
	OrderErrFor     func(req OrderRequest) error
}

// NewMockGateway creates a MockGateway with the given starting equity
func NewMockGateway(equity float64) *MockGateway {
	return &MockGateway{
		equity:      equity,
		filters:     make(map[string]InstrumentFilters),
		lastPrice:   make(map[string]float64),
		positions:   make(map[string]PositionSnapshot),
		Leverage:    make(map[string]int),
		nextOrderID: 1000,
	}
}

// SetFilters seeds instrument filters for a symbol
func (m *MockGateway) SetFilters(f InstrumentFilters) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[f.Symbol] = f
}

// SetLastPrice seeds the ticker price for a symbol
func (m *MockGateway) SetLastPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPrice[symbol] = price
}

// SetPosition seeds the current position snapshot for a symbol
func (m *MockGateway) SetPosition(p PositionSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
}

// SetEquity replaces the account equity
func (m *MockGateway) SetEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
}

func (m *MockGateway) GetInstrumentFilters(ctx context.Context, symbol string) (InstrumentFilters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.filters[symbol]
	if !ok {
		return InstrumentFilters{}, fmt.Errorf("symbol not found: %s", symbol)
	}
	return f, nil
}

func (m *MockGateway) GetLastPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.lastPrice[symbol]
	if !ok {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	return price, nil
}

func (m *MockGateway) GetEquity(ctx context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.EquityErr != nil {
		return 0, m.EquityErr
	}
	return m.equity, nil
}

func (m *MockGateway) GetPosition(ctx context.Context, symbol string) (PositionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pendingPos != nil && m.pendingPos.Symbol == symbol {
		if m.pendingPolls > 0 {
			m.pendingPolls--
		} else {
			m.positions[symbol] = *m.pendingPos
			m.pendingPos = nil
		}
	}

	pos, ok := m.positions[symbol]
	if !ok {
		return PositionSnapshot{Symbol: symbol}, nil
	}
	return pos, nil
}

func (m *MockGateway) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OrderErrFor != nil {
		if err := m.OrderErrFor(req); err != nil {
			return OrderAck{}, err
		}
	}

	m.nextOrderID++
	m.PlacedOrders = append(m.PlacedOrders, req)
	ack := OrderAck{
		OrderID:     strconv.FormatInt(m.nextOrderID, 10),
		OrderLinkID: req.OrderLinkID,
	}

	// Only non-conditional market orders move the simulated position
	if req.Type == OrderTypeMarket && req.TriggerPrice == "" {
		qty, err := strconv.ParseFloat(req.Qty, 64)
		if err != nil {
			return OrderAck{}, fmt.Errorf("error parsing qty %q: %w", req.Qty, err)
		}
		next := m.netFill(req.Symbol, req.Side, qty, req.ReduceOnly)
		if m.FillAfterPolls > 0 {
			m.pendingPolls = m.FillAfterPolls
			m.pendingPos = &next
		} else {
			m.positions[req.Symbol] = next
		}
	}

	return ack, nil
}

// netFill applies a market fill against the current position, one-way style
func (m *MockGateway) netFill(symbol string, side Side, qty float64, reduceOnly bool) PositionSnapshot {
	cur := m.positions[symbol]
	price := m.lastPrice[symbol]

	if cur.Flat() {
		if reduceOnly {
			return PositionSnapshot{Symbol: symbol}
		}
		return PositionSnapshot{Symbol: symbol, Side: side, Size: qty, AvgPrice: price}
	}

	if cur.Side == side {
		cur.Size += qty
		return cur
	}

	// Opposing fill nets down, flattens, or flips
	switch {
	case qty < cur.Size:
		cur.Size -= qty
		return cur
	case qty == cur.Size:
		return PositionSnapshot{Symbol: symbol}
	default:
		if reduceOnly {
			return PositionSnapshot{Symbol: symbol}
		}
		return PositionSnapshot{Symbol: symbol, Side: side, Size: qty - cur.Size, AvgPrice: price}
	}
}

func (m *MockGateway) SetTradingStop(ctx context.Context, req TradingStopRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StopErrBySource != nil {
		if err, ok := m.StopErrBySource[req.TriggerBy]; ok && err != nil {
			return err
		}
	}
	m.TradingStops = append(m.TradingStops, req)
	return nil
}

func (m *MockGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, orderID)
	return nil
}

func (m *MockGateway) CancelAllOrders(ctx context.Context, symbol, orderFilter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cancelled = append(m.Cancelled, strings.TrimSpace(symbol+" "+orderFilter))
	return nil
}

func (m *MockGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Leverage[symbol] = leverage
	return nil
}

// OrdersByLinkSuffix returns placed orders whose link id ends with suffix
func (m *MockGateway) OrdersByLinkSuffix(suffix string) []OrderRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OrderRequest
	for _, o := range m.PlacedOrders {
		if strings.HasSuffix(o.OrderLinkID, suffix) {
			out = append(out, o)
		}
	}
	return out
}

var _ Gateway = (*MockGateway)(nil)
