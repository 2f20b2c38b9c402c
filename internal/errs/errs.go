// Package errs defines the error taxonomy shared across the trading engine.
//
// "No signal" / "no position" outcomes are represented by nil values at the
// call sites, never by errors from this package.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection marks a failure to establish or keep the broker channel.
	ErrConnection = errors.New("connection failure")

	// ErrAuth marks a rejected login on the broker channel.
	ErrAuth = errors.New("authentication failure")

	// ErrTimeout marks an I/O deadline expiry. Always recoverable.
	ErrTimeout = errors.New("timeout")

	// ErrOrderRejected marks a broker-side order rejection. Never retried
	// automatically, to avoid duplicate fills.
	ErrOrderRejected = errors.New("order rejected")

	// ErrInsufficientFunds is a pre-trade sizing/gating decision. It is never
	// sent to the broker.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDataValidation marks unusable market data: non-positive price,
	// insufficient bars. Aborts evaluation of one instrument for one tick.
	ErrDataValidation = errors.New("data validation")
)

// Connection wraps err as a connection failure.
func Connection(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConnection, fmt.Sprintf(format, args...))
}

// Auth wraps err as an authentication failure.
func Auth(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuth, fmt.Sprintf(format, args...))
}

// Timeout wraps err as a recoverable timeout.
func Timeout(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
}

// Validation wraps a data-validation failure.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataValidation, fmt.Sprintf(format, args...))
}

// OrderRejection carries the broker's return code and message for a rejected
// order.
type OrderRejection struct {
	Code    string
	RetCode int
	Message string
}

func (e *OrderRejection) Error() string {
	return fmt.Sprintf("order rejected: %s: broker code %d: %s", e.Code, e.RetCode, e.Message)
}

func (e *OrderRejection) Unwrap() error { return ErrOrderRejected }

// IsRetryable reports whether err may be retried on an idempotent read.
// Order placement must never consult this.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection)
}
