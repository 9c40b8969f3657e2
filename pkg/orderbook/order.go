package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the side an order of s matches against.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

func (s Side) Valid() bool {
	return s == BUY || s == SELL
}

type OrderType string

const (
	LIMIT  OrderType = "LIMIT"
	MARKET OrderType = "MARKET"
)

func (t OrderType) Valid() bool {
	return t == LIMIT || t == MARKET
}

// Order is a resting or incoming order. Everything except Qty is fixed at
// admission; Qty only ever goes down and the order is dropped from the book
// as soon as it reaches zero.
type Order struct {
	ID        uint64
	Sequence  uint64
	Side      Side
	Type      OrderType
	Price     decimal.Decimal // ignored for MARKET
	Qty       int64           // remaining
	OrigQty   int64
	CreatedAt time.Time

	level *PriceLevel // set while resting
}

// Filled returns how much of the order has traded so far.
func (o *Order) Filled() int64 {
	return o.OrigQty - o.Qty
}

// crosses reports whether o can trade against a resting order at price.
// Market orders cross any price.
func (o *Order) crosses(price decimal.Decimal) bool {
	if o.Type == MARKET {
		return true
	}
	if o.Side == BUY {
		return o.Price.GreaterThanOrEqual(price)
	}
	return o.Price.LessThanOrEqual(price)
}

// Copy returns a detached copy of o that is safe to hand to other
// goroutines.
func (o *Order) Copy() Order {
	cp := *o
	cp.level = nil
	return cp
}
