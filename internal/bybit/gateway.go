package bybit

import "context"

// Gateway is the venue capability surface the execution engine consumes.
// *Client implements it against the live API; MockGateway implements it
// in-memory for tests and dry-run mode.
type Gateway interface {
	GetInstrumentFilters(ctx context.Context, symbol string) (InstrumentFilters, error)
	GetLastPrice(ctx context.Context, symbol string) (float64, error)
	GetEquity(ctx context.Context) (float64, error)
	GetPosition(ctx context.Context, symbol string) (PositionSnapshot, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	SetTradingStop(ctx context.Context, req TradingStopRequest) error
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol, orderFilter string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

var _ Gateway = (*Client)(nil)
