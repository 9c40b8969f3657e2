package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

var testEpoch = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

type testBook struct {
	*Matcher
	seq uint64
}

func newTestBook() *testBook {
	return &testBook{
		Matcher: NewMatcher(NewBook(), WithClock(func() time.Time { return testEpoch })),
	}
}

func px(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (tb *testBook) newOrder(side Side, typ OrderType, price string, qty int64) *Order {
	tb.seq++
	o := &Order{
		ID:        tb.seq,
		Sequence:  tb.seq,
		Side:      side,
		Type:      typ,
		Qty:       qty,
		OrigQty:   qty,
		CreatedAt: testEpoch,
	}
	if price != "" {
		o.Price = px(price)
	}
	return o
}

func (tb *testBook) limit(side Side, price string, qty int64) Result {
	return tb.Match(tb.newOrder(side, LIMIT, price, qty))
}

func (tb *testBook) market(side Side, qty int64) Result {
	return tb.Match(tb.newOrder(side, MARKET, "", qty))
}
