package orderbook

import (
	"fmt"
	"time"
)

// Result is what one matching step did with an incoming order.
type Result struct {
	Trades    []Trade
	Rested    bool  // LIMIT remainder added to the book
	Discarded int64 // MARKET remainder dropped
}

// Matcher runs the price/time matching algorithm against a Book it owns.
// It is not safe for concurrent use; the engine drives it from a single
// goroutine.
type Matcher struct {
	book *Book
	now  func() time.Time
}

type MatcherOption func(*Matcher)

// WithClock overrides the trade timestamp source.
func WithClock(now func() time.Time) MatcherOption {
	return func(m *Matcher) {
		m.now = now
	}
}

func NewMatcher(book *Book, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		book: book,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Matcher) Book() *Book {
	return m.book
}

// Match runs o to completion: it trades against the opposite side while
// prices cross, then rests a LIMIT remainder at the back of its level or
// discards a MARKET remainder.
func (m *Matcher) Match(o *Order) Result {
	if o.Qty <= 0 {
		panic(fmt.Sprintf("orderbook: match of order %d with qty %d", o.ID, o.Qty))
	}

	res := Result{Trades: m.matchOrder(o)}

	if o.Qty > 0 {
		switch o.Type {
		case LIMIT:
			m.book.Insert(o)
			res.Rested = true
		case MARKET:
			res.Discarded = o.Qty
		}
	}

	return res
}

func (m *Matcher) matchOrder(o *Order) []Trade {
	var trades []Trade

	for o.Qty > 0 {
		best, ok := m.book.BestOpposite(o.Side)
		if !ok || !o.crosses(best.Price) {
			break
		}

		resting := m.book.PeekFront(best)
		matchQty := min(o.Qty, resting.Qty)

		trade := Trade{
			Price:     best.Price,
			Qty:       matchQty,
			Sequence:  o.Sequence,
			Match:     uint32(len(trades)),
			TakerSide: o.Side,
			Timestamp: m.now(),
		}
		if o.Side == BUY {
			trade.BuyOrderID, trade.SellOrderID = o.ID, resting.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = resting.ID, o.ID
		}
		trades = append(trades, trade)

		m.book.Reduce(o, matchQty)
		m.book.Reduce(resting, matchQty)
		if resting.Qty == 0 {
			m.book.PopFront(best)
		}
	}

	return trades
}
