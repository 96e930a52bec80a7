// Package exchange provides derivatives exchange connectivity.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpdesk/perpdesk/internal/types"
)

// Instrument is one entry of the exchange's contract listing.
type Instrument struct {
	InstrumentID  string          `json:"instId"`
	ContractValue decimal.Decimal `json:"ctVal"`
}

// OrderAck is the exchange's acknowledgment of a placed entry order.
type OrderAck struct {
	OrderID string
	// OutTime is when the request left the exchange gateway,
	// microsecond precision.
	OutTime time.Time
}

// OrderDetail is the exchange's view of an existing order.
type OrderDetail struct {
	OrderID      string
	State        string
	AvgFillPrice decimal.Decimal
}

// PlaceOrderRequest describes an entry order submission.
type PlaceOrderRequest struct {
	Instrument    string
	MarginMode    string
	Side          types.Side
	Type          types.OrderType
	Size          decimal.Decimal
	LimitPrice    decimal.Decimal // limit orders only
	ClientOrderID string
}

// AlgoOrderRequest describes a conditional stop-loss or take-profit
// order attached to a live position.
type AlgoOrderRequest struct {
	Instrument   string
	MarginMode   string
	Side         types.Side
	Size         decimal.Decimal
	TriggerPrice decimal.Decimal
	TakeProfit   bool // false places a stop-loss trigger
}

// Exchange is the boundary to the derivatives exchange. Every call is a
// single blocking network round trip; a non-success result envelope is
// returned as *types.ExchangeError.
type Exchange interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	SetLeverage(ctx context.Context, instrument string, leverage int, marginMode string) error
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderAck, error)
	PlaceAlgoOrder(ctx context.Context, req AlgoOrderRequest) (string, error)
	GetOrder(ctx context.Context, instrument, orderID string) (*OrderDetail, error)
	GetInstruments(ctx context.Context) ([]Instrument, error)
	GetTicker(ctx context.Context, instrument string) (decimal.Decimal, error)
	GetCandles(ctx context.Context, instrument, timeframe string, limit int) ([]types.PriceRow, error)
}
