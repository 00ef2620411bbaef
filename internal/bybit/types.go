package bybit

import (
	"encoding/json"
	"time"
)

const (
	// BaseURL is the production Bybit v5 API URL
	BaseURL = "https://api.bybit.com"
	// TestnetURL is the testnet Bybit v5 API URL
	TestnetURL = "https://api-testnet.bybit.com"

	// CategoryLinear is the product category for USDT perpetuals
	CategoryLinear = "linear"
)

// Side is the order side as the venue spells it
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the closing side for a position held on this side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the venue order type
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// TimeInForce values accepted by the venue
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
)

// TriggerSource is the price feed a conditional order or position stop watches
type TriggerSource string

const (
	TriggerByMark  TriggerSource = "MarkPrice"
	TriggerByLast  TriggerSource = "LastPrice"
	TriggerByIndex TriggerSource = "IndexPrice"
)

// Trigger directions for conditional orders: 1 = triggers when price rises
// to triggerPrice, 2 = triggers when price falls to triggerPrice.
const (
	TriggerDirectionRise = 1
	TriggerDirectionFall = 2
)

// InstrumentFilters holds the venue's price/quantity grid for a symbol.
// All prices and quantities submitted for the symbol must be exact
// multiples of the grid and at least MinQty.
type InstrumentFilters struct {
	Symbol   string
	TickSize float64
	LotStep  float64
	MinQty   float64
}

// PositionSnapshot is a read-only view of the venue's position for a symbol.
// Side is empty when flat. PositionIdx disambiguates hedge-mode positions
// (0 for one-way accounts).
type PositionSnapshot struct {
	Symbol      string
	Side        Side
	Size        float64
	AvgPrice    float64
	PositionIdx int
}

// Flat reports whether the snapshot carries no open position
func (p PositionSnapshot) Flat() bool {
	return p.Side == "" || p.Size <= 0
}

// OrderRequest describes an order submission. Quantity and prices are
// pre-quantized strings; the gateway never re-rounds them.
type OrderRequest struct {
	Symbol           string
	Side             Side
	Type             OrderType
	Qty              string
	Price            string // limit orders only
	TimeInForce      TimeInForce
	ReduceOnly       bool
	TriggerPrice     string // conditional orders only
	TriggerBy        TriggerSource
	TriggerDirection int
	PositionIdx      *int
	OrderLinkID      string
}

// OrderAck is the venue's acknowledgement of an order submission
type OrderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// TradingStopRequest sets position-level stop attributes. Empty strings
// leave the corresponding attribute untouched; "0" clears it.
type TradingStopRequest struct {
	Symbol       string
	StopLoss     string
	TriggerBy    TriggerSource
	TrailingStop string
	ActivePrice  string
	PositionIdx  int
}

// ---- wire types ----

type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type instrumentInfo struct {
	Symbol      string `json:"symbol"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
	LotSizeFilter struct {
		QtyStep     string `json:"qtyStep"`
		MinOrderQty string `json:"minOrderQty"`
	} `json:"lotSizeFilter"`
}

type tickerInfo struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
}

type walletCoin struct {
	Coin   string `json:"coin"`
	Equity string `json:"equity"`
}

type walletAccount struct {
	AccountType string       `json:"accountType"`
	Coin        []walletCoin `json:"coin"`
}

type positionInfo struct {
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Size        string `json:"size"`
	AvgPrice    string `json:"avgPrice"`
	PositionIdx int    `json:"positionIdx"`
}

type listResult[T any] struct {
	List []T `json:"list"`
}

// filtersEntry is a cached instrument filter set with its fetch time
type filtersEntry struct {
	filters InstrumentFilters
	fetched time.Time
}
