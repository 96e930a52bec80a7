package types

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSideOrderSides(t *testing.T) {
	tests := []struct {
		side      Side
		wantEntry string
		wantClose string
	}{
		{SideLong, "buy", "sell"},
		{SideShort, "sell", "buy"},
	}

	for _, tt := range tests {
		t.Run(tt.side.String(), func(t *testing.T) {
			if got := tt.side.EntryOrderSide(); got != tt.wantEntry {
				t.Errorf("entry side = %q, want %q", got, tt.wantEntry)
			}
			if got := tt.side.CloseOrderSide(); got != tt.wantClose {
				t.Errorf("close side = %q, want %q", got, tt.wantClose)
			}
		})
	}
}

func TestParseSide(t *testing.T) {
	tests := []struct {
		input   string
		want    Side
		wantErr bool
	}{
		{"long", SideLong, false},
		{"short", SideShort, false},
		{"flat", SideFlat, true},
		{"LONG", SideFlat, true},
		{"", SideFlat, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSide(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSide) {
					t.Fatalf("err = %v, want ErrInvalidSide", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("side = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderTypeString(t *testing.T) {
	if got := OrderTypeMarket.String(); got != "market" {
		t.Errorf("market order type = %q", got)
	}
	if got := OrderTypeLimit.String(); got != "limit" {
		t.Errorf("limit order type = %q", got)
	}
}

func TestOrderRequestConditionalFlags(t *testing.T) {
	req := OrderRequest{}
	if req.HasStopLoss() || req.HasTakeProfit() {
		t.Error("zero prices must read as not configured")
	}

	req.StopLossPrice = decimal.RequireFromString("59950")
	req.TakeProfitPrice = decimal.RequireFromString("60500")
	if !req.HasStopLoss() || !req.HasTakeProfit() {
		t.Error("positive prices must read as configured")
	}

	req.StopLossPrice = decimal.RequireFromString("-1")
	if req.HasStopLoss() {
		t.Error("negative stop-loss price must read as not configured")
	}
}
