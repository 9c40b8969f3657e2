package orderbook

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrderSide  = errors.New("invalid order side")
	ErrInvalidOrderType  = errors.New("invalid order type")
	ErrInvalidOrderPrice = errors.New("invalid order price")
	ErrInvalidOrderQty   = errors.New("invalid order quantity")
)

// ValidationError is returned for a submission that must never reach the
// book. Err is one of the ErrInvalid* sentinels.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks a submission before it is sequenced. Price is only
// checked for LIMIT orders.
func Validate(side Side, typ OrderType, price decimal.Decimal, qty int64) error {
	if !side.Valid() {
		return &ValidationError{Field: "side", Err: ErrInvalidOrderSide}
	}
	if !typ.Valid() {
		return &ValidationError{Field: "type", Err: ErrInvalidOrderType}
	}
	if qty <= 0 {
		return &ValidationError{Field: "quantity", Err: ErrInvalidOrderQty}
	}
	if typ == LIMIT && !price.IsPositive() {
		return &ValidationError{Field: "price", Err: ErrInvalidOrderPrice}
	}
	return nil
}
