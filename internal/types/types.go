// Package types defines shared types used across the trading system.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a position.
type Side int

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "flat"
	}
}

// EntryOrderSide returns the exchange order side that opens a position
// on this side.
func (s Side) EntryOrderSide() string {
	if s == SideShort {
		return "sell"
	}
	return "buy"
}

// CloseOrderSide returns the exchange order side that closes a position
// on this side. Conditional stop/target orders are placed on this side.
func (s Side) CloseOrderSide() string {
	if s == SideShort {
		return "buy"
	}
	return "sell"
}

// ParseSide parses a position side string.
func ParseSide(s string) (Side, error) {
	switch s {
	case "long":
		return SideLong, nil
	case "short":
		return SideShort, nil
	default:
		return SideFlat, ErrInvalidSide
	}
}

// OrderType represents the entry order type.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

func (t OrderType) String() string {
	if t == OrderTypeLimit {
		return "limit"
	}
	return "market"
}

// OrderRequest describes one execution cycle. It is immutable once
// submitted to the execution engine.
type OrderRequest struct {
	Instrument      string
	Timeframe       string
	Side            Side
	Type            OrderType
	LimitPrice      decimal.Decimal // required for limit orders
	StopLossPrice   decimal.Decimal // zero means not configured
	TakeProfitPrice decimal.Decimal // zero means not configured
}

// HasStopLoss reports whether a stop-loss price is configured.
func (r OrderRequest) HasStopLoss() bool {
	return r.StopLossPrice.IsPositive()
}

// HasTakeProfit reports whether a take-profit price is configured.
func (r OrderRequest) HasTakeProfit() bool {
	return r.TakeProfitPrice.IsPositive()
}

// TradeRecord is the persisted result of one execution cycle. Created
// once per successfully placed entry order; settlement logic appends to
// History later, nothing deletes it.
type TradeRecord struct {
	OrderID         string
	OrderType       string
	Status          bool // true once the fill is confirmed
	OrderVolume     decimal.Decimal
	Balance         decimal.Decimal
	Instrument      string
	Timeframe       string
	Leverage        int
	Side            Side
	EnterPrice      decimal.Decimal
	OpenTime        time.Time
	TakeProfitID    string
	TakeProfitPrice decimal.Decimal
	StopLossID      string
	StopLossPrice   decimal.Decimal
	History         *TradeHistory
}

// TradeHistory is the free-form trade history payload stored in the
// JSON column of the trades table. The schema is fixed; writes are
// validated against it before they reach the database.
type TradeHistory struct {
	ClosePrice decimal.Decimal `json:"close_price"`
	CloseTime  time.Time       `json:"close_time"`
	Fee        decimal.Decimal `json:"fee"`
	Income     decimal.Decimal `json:"income"`
	Note       string          `json:"note,omitempty"`
}

// PriceRow is one candle persisted for an (instrument, timeframe) pair.
type PriceRow struct {
	Timestamp   time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	VolumeQuote decimal.Decimal
}
