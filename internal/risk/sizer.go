// Package risk provides position sizing from account risk parameters.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/perpdesk/perpdesk/internal/types"
)

// PositionSizer calculates order size from balance, leverage, risk
// fraction and stop distance. It performs no rounding or lot-size
// adjustment; quantizing to the instrument's minimum increment is the
// exchange boundary's job.
type PositionSizer struct{}

// NewPositionSizer creates a position sizer.
func NewPositionSizer() *PositionSizer {
	return &PositionSizer{}
}

// Size determines the position size.
//
// Formula:
//
//	size = (balance * leverage * riskFraction) / stopDistance
//
// stopDistance is the absolute price distance to the stop-loss. A
// stop-loss is mandatory for risk-bounded sizing, so a zero or negative
// distance fails rather than defaulting.
func (p *PositionSizer) Size(
	balance decimal.Decimal,
	leverage int,
	riskFraction decimal.Decimal,
	stopDistance decimal.Decimal,
) (decimal.Decimal, error) {
	if stopDistance.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, types.ErrMissingStopLoss
	}
	if balance.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("sizing: balance must be positive, got %s", balance)
	}
	if leverage <= 0 {
		return decimal.Zero, fmt.Errorf("sizing: leverage must be positive, got %d", leverage)
	}
	if riskFraction.LessThanOrEqual(decimal.Zero) || riskFraction.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("sizing: risk fraction must be in (0, 1], got %s", riskFraction)
	}

	capitalAtRisk := balance.Mul(decimal.NewFromInt(int64(leverage))).Mul(riskFraction)
	return capitalAtRisk.Div(stopDistance), nil
}

// StopDistance returns the absolute price distance between a reference
// price and the stop-loss price.
func StopDistance(reference, stopLoss decimal.Decimal) decimal.Decimal {
	return reference.Sub(stopLoss).Abs()
}
