package orderbook

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// LevelView is a read-only copy of one price level. Quantity is the
// remaining quantity of the order at the front of the queue; Total and
// Orders describe the whole level.
type LevelView struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Total    int64           `json:"total"`
	Orders   int             `json:"orders"`
}

// Snapshot is a point-in-time copy of the book, best levels first.
type Snapshot struct {
	Bids []LevelView `json:"bids"`
	Asks []LevelView `json:"asks"`
}

// TopOfBook is the best price on each side. A nil price means the side is
// empty.
type TopOfBook struct {
	BidPrice *decimal.Decimal `json:"bid_price,omitempty"`
	BidQty   int64            `json:"bid_qty"`
	AskPrice *decimal.Decimal `json:"ask_price,omitempty"`
	AskQty   int64            `json:"ask_qty"`
}

// Snapshot copies at most depth levels per side; depth <= 0 copies all of
// them.
func (b *Book) Snapshot(depth int) Snapshot {
	return Snapshot{
		Bids: b.view(BUY, depth),
		Asks: b.view(SELL, depth),
	}
}

func (b *Book) view(side Side, depth int) []LevelView {
	n := b.Depth(side)
	if depth > 0 && depth < n {
		n = depth
	}
	out := make([]LevelView, 0, n)
	b.Walk(side, func(lvl *PriceLevel) bool {
		out = append(out, LevelView{
			Price:    lvl.Price,
			Quantity: lvl.front().Qty,
			Total:    lvl.TotalQty(),
			Orders:   lvl.Len(),
		})
		return depth <= 0 || len(out) < depth
	})
	return out
}

// Top returns the best bid and ask.
func (b *Book) Top() TopOfBook {
	var top TopOfBook
	if lvl, ok := b.Best(BUY); ok {
		p := lvl.Price
		top.BidPrice, top.BidQty = &p, lvl.TotalQty()
	}
	if lvl, ok := b.Best(SELL); ok {
		p := lvl.Price
		top.AskPrice, top.AskQty = &p, lvl.TotalQty()
	}
	return top
}

// String prints the book the way an operator console shows it.
func (s Snapshot) String() string {
	var sb strings.Builder
	sb.WriteString("Buy Orders:\n")
	for _, l := range s.Bids {
		fmt.Fprintf(&sb, "Price: %s, Quantity: %d\n", l.Price.String(), l.Quantity)
	}
	sb.WriteString("Sell Orders:\n")
	for _, l := range s.Asks {
		fmt.Fprintf(&sb, "Price: %s, Quantity: %d\n", l.Price.String(), l.Quantity)
	}
	return sb.String()
}
