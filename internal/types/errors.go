package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the trading system.
var (
	// Codec errors
	ErrAuthentication = errors.New("payload failed authentication")

	// Cache errors
	ErrCacheMiss     = errors.New("cache entry not found")
	ErrNotFound      = errors.New("instrument not found")
	ErrInvalidFormat = errors.New("invalid payload format")

	// Execution errors
	ErrMissingStopLoss = errors.New("stop-loss price is required for sizing")
	ErrUnconfirmedFill = errors.New("timed out waiting for fill confirmation")
	ErrInvalidSide     = errors.New("invalid position side")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ExchangeError is a non-success result envelope returned by the
// exchange API. It is never retried automatically.
type ExchangeError struct {
	Code    string
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange rejected request: code=%s msg=%q", e.Code, e.Message)
}

// IsExchangeRejected reports whether err is an exchange rejection.
func IsExchangeRejected(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee)
}
