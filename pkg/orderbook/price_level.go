package orderbook

import (
	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
)

// PriceLevel is the FIFO queue of resting orders at one price on one side.
type PriceLevel struct {
	Side   Side
	Price  decimal.Decimal
	orders deque.Deque[*Order]
	total  int64
}

func newPriceLevel(side Side, price decimal.Decimal) *PriceLevel {
	return &PriceLevel{Side: side, Price: price}
}

func (l *PriceLevel) Len() int {
	return l.orders.Len()
}

// TotalQty is the sum of the remaining quantity of every order at the level.
func (l *PriceLevel) TotalQty() int64 {
	return l.total
}

func (l *PriceLevel) front() *Order {
	if l.orders.Len() == 0 {
		return nil
	}
	return l.orders.Front()
}

func (l *PriceLevel) pushBack(o *Order) {
	l.orders.PushBack(o)
	l.total += o.Qty
	o.level = l
}

func (l *PriceLevel) popFront() *Order {
	o := l.orders.PopFront()
	l.total -= o.Qty
	o.level = nil
	return o
}

// Orders returns copies of the resting orders, oldest first.
func (l *PriceLevel) Orders() []Order {
	out := make([]Order, 0, l.orders.Len())
	for i := 0; i < l.orders.Len(); i++ {
		out = append(out, l.orders.At(i).Copy())
	}
	return out
}
