package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"
)

type genOrder struct {
	side  Side
	typ   OrderType
	ticks int64
	qty   int64
}

func drawOrders(t *rapid.T) []genOrder {
	return rapid.SliceOfN(rapid.Custom(func(t *rapid.T) genOrder {
		o := genOrder{
			side:  rapid.SampledFrom([]Side{BUY, SELL}).Draw(t, "side"),
			typ:   LIMIT,
			ticks: rapid.Int64Range(990, 1010).Draw(t, "ticks"),
			qty:   rapid.Int64Range(1, 50).Draw(t, "qty"),
		}
		if rapid.IntRange(0, 9).Draw(t, "market") == 0 {
			o.typ = MARKET
		}
		return o
	}), 1, 200).Draw(t, "orders")
}

func (g genOrder) price() string {
	if g.typ == MARKET {
		return ""
	}
	return decimal.New(g.ticks, -1).String()
}

func replay(orders []genOrder) (*testBook, []Trade) {
	tb := newTestBook()
	var trades []Trade
	for _, g := range orders {
		res := tb.Match(tb.newOrder(g.side, g.typ, g.price(), g.qty))
		trades = append(trades, res.Trades...)
	}
	return tb, trades
}

func TestPropertyBookNeverCrossedAndQuantitiesConserved(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		orders := drawOrders(t)
		tb := newTestBook()

		for _, g := range orders {
			o := tb.newOrder(g.side, g.typ, g.price(), g.qty)
			res := tb.Match(o)

			if tb.Book().Crossed() {
				t.Fatalf("book crossed after order %d", o.ID)
			}

			var traded int64
			for _, tr := range res.Trades {
				if tr.Qty <= 0 {
					t.Fatalf("non-positive trade qty %+v", tr)
				}
				traded += tr.Qty
			}
			if traded > g.qty {
				t.Fatalf("traded %d of an order for %d", traded, g.qty)
			}
			if o.Qty < 0 {
				t.Fatalf("negative remaining %d", o.Qty)
			}

			var rested int64
			if res.Rested {
				rested = o.Qty
			}
			if traded+rested+res.Discarded != g.qty {
				t.Fatalf("traded %d + rested %d + discarded %d != %d", traded, rested, res.Discarded, g.qty)
			}
			if o.Type == MARKET && res.Rested {
				t.Fatalf("market order rested")
			}
		}

		for _, side := range []Side{BUY, SELL} {
			tb.Book().Walk(side, func(l *PriceLevel) bool {
				if l.Len() == 0 {
					t.Fatalf("empty level %s on %s", l.Price, side)
				}
				var sum int64
				for _, o := range l.Orders() {
					if o.Qty <= 0 {
						t.Fatalf("resting order %d with qty %d", o.ID, o.Qty)
					}
					sum += o.Qty
				}
				if sum != l.TotalQty() {
					t.Fatalf("level total %d != %d", l.TotalQty(), sum)
				}
				return true
			})
		}
	})
}

func TestPropertyDeterministicReplay(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		orders := drawOrders(t)

		_, first := replay(orders)
		_, second := replay(orders)

		if len(first) != len(second) {
			t.Fatalf("replay produced %d trades, then %d", len(first), len(second))
		}
		for i := range first {
			a, b := first[i], second[i]
			if a.BuyOrderID != b.BuyOrderID || a.SellOrderID != b.SellOrderID || a.Qty != b.Qty ||
				!a.Price.Equal(b.Price) || a.Sequence != b.Sequence || a.Match != b.Match {
				t.Fatalf("trade %d differs: %+v vs %+v", i, a, b)
			}
		}
	})
}

// refOrder and refMatch are a deliberately naive price/time matcher: a flat
// slice scanned for the best price, earliest sequence. The btree book must
// agree with it trade for trade.
type refOrder struct {
	id    uint64
	side  Side
	ticks int64
	qty   int64
}

func refMatch(orders []genOrder) []Trade {
	var resting []*refOrder
	var trades []Trade

	for i, g := range orders {
		id := uint64(i + 1)
		qty := g.qty
		for qty > 0 {
			var best *refOrder
			for _, r := range resting {
				if r.side == g.side || r.qty == 0 {
					continue
				}
				if g.typ == LIMIT {
					if g.side == BUY && g.ticks < r.ticks {
						continue
					}
					if g.side == SELL && g.ticks > r.ticks {
						continue
					}
				}
				if best == nil ||
					(g.side == BUY && r.ticks < best.ticks) ||
					(g.side == SELL && r.ticks > best.ticks) ||
					(r.ticks == best.ticks && r.id < best.id) {
					best = r
				}
			}
			if best == nil {
				break
			}
			m := min(qty, best.qty)
			qty -= m
			best.qty -= m
			tr := Trade{Price: decimal.New(best.ticks, -1), Qty: m, Sequence: id}
			if g.side == BUY {
				tr.BuyOrderID, tr.SellOrderID = id, best.id
			} else {
				tr.BuyOrderID, tr.SellOrderID = best.id, id
			}
			trades = append(trades, tr)
		}
		if qty > 0 && g.typ == LIMIT {
			resting = append(resting, &refOrder{id: id, side: g.side, ticks: g.ticks, qty: qty})
		}
	}
	return trades
}

func TestPropertyPriceTimePriorityMatchesReference(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		orders := drawOrders(t)

		_, got := replay(orders)
		want := refMatch(orders)

		if len(got) != len(want) {
			t.Fatalf("got %d trades, reference has %d", len(got), len(want))
		}
		for i := range got {
			g, w := got[i], want[i]
			if g.BuyOrderID != w.BuyOrderID || g.SellOrderID != w.SellOrderID || g.Qty != w.Qty || !g.Price.Equal(w.Price) {
				t.Fatalf("trade %d: got %+v, reference %+v", i, g, w)
			}
		}
	})
}
