package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one fill between an incoming order and a resting one. Price is
// always the resting order's price. Sequence is the admission sequence of
// the incoming order and Match numbers the fills produced while matching it,
// so (Sequence, Match) orders every trade the engine ever emits.
type Trade struct {
	// RunID names the engine run that produced the trade. Sequence numbers
	// start again at 1 in every run.
	RunID       string
	BuyOrderID  uint64
	SellOrderID uint64
	Price       decimal.Decimal
	Qty         int64
	Sequence    uint64
	Match       uint32
	TakerSide   Side
	Timestamp   time.Time
}

// MakerOrderID returns the id of the resting side of the trade.
func (t Trade) MakerOrderID() uint64 {
	if t.TakerSide == BUY {
		return t.SellOrderID
	}
	return t.BuyOrderID
}

// TakerOrderID returns the id of the order that caused the trade.
func (t Trade) TakerOrderID() uint64 {
	if t.TakerSide == BUY {
		return t.BuyOrderID
	}
	return t.SellOrderID
}
