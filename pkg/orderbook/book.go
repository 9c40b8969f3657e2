package orderbook

import (
	"fmt"

	"github.com/google/btree"
)

const btreeDegree = 32

// Book holds both sides of a single instrument. Each side is a btree of
// price levels ordered best first, so Min() is always the top of the side.
//
// Book is single-writer: it has no locks and must only be touched by the
// goroutine that owns it.
type Book struct {
	bids   *btree.BTreeG[*PriceLevel]
	asks   *btree.BTreeG[*PriceLevel]
	orders int
}

func NewBook() *Book {
	return &Book{
		bids: btree.NewG(btreeDegree, func(a, b *PriceLevel) bool { return a.Price.GreaterThan(b.Price) }), // highest first
		asks: btree.NewG(btreeDegree, func(a, b *PriceLevel) bool { return a.Price.LessThan(b.Price) }),    // lowest first
	}
}

func (b *Book) levels(side Side) *btree.BTreeG[*PriceLevel] {
	if side == BUY {
		return b.bids
	}
	return b.asks
}

// Insert appends o to the back of the level at its price, creating the level
// when needed.
func (b *Book) Insert(o *Order) {
	if o.Qty <= 0 {
		panic(fmt.Sprintf("orderbook: insert of order %d with qty %d", o.ID, o.Qty))
	}

	tree := b.levels(o.Side)
	lvl, ok := tree.Get(&PriceLevel{Price: o.Price})
	if !ok {
		lvl = newPriceLevel(o.Side, o.Price)
		tree.ReplaceOrInsert(lvl)
	}
	lvl.pushBack(o)
	b.orders++
}

// Best returns the best level on side, or false when the side is empty.
func (b *Book) Best(side Side) (*PriceLevel, bool) {
	return b.levels(side).Min()
}

// BestOpposite returns the best level an order on side would match against.
func (b *Book) BestOpposite(side Side) (*PriceLevel, bool) {
	return b.Best(side.Opposite())
}

// PeekFront returns the oldest order at lvl.
func (b *Book) PeekFront(lvl *PriceLevel) *Order {
	return lvl.front()
}

// PopFront removes the oldest order at lvl and prunes the level once it is
// empty.
func (b *Book) PopFront(lvl *PriceLevel) *Order {
	o := lvl.popFront()
	b.orders--
	if lvl.Len() == 0 {
		b.levels(lvl.Side).Delete(lvl)
	}
	return o
}

// Reduce takes amount off the remaining quantity of o. The caller pops o
// once it reaches zero.
func (b *Book) Reduce(o *Order, amount int64) {
	if amount <= 0 || amount > o.Qty {
		panic(fmt.Sprintf("orderbook: reduce order %d by %d with %d remaining", o.ID, amount, o.Qty))
	}
	o.Qty -= amount
	if o.level != nil {
		o.level.total -= amount
	}
}

// Crossed reports whether best bid >= best ask. It must be false whenever
// the book is not in the middle of a matching step.
func (b *Book) Crossed() bool {
	bid, ok := b.Best(BUY)
	if !ok {
		return false
	}
	ask, ok := b.Best(SELL)
	if !ok {
		return false
	}
	return bid.Price.GreaterThanOrEqual(ask.Price)
}

// Depth returns the number of price levels on side.
func (b *Book) Depth(side Side) int {
	return b.levels(side).Len()
}

// Orders returns the number of resting orders on both sides.
func (b *Book) Orders() int {
	return b.orders
}

// Walk visits the levels of side best first until fn returns false.
func (b *Book) Walk(side Side, fn func(*PriceLevel) bool) {
	b.levels(side).Ascend(func(lvl *PriceLevel) bool {
		return fn(lvl)
	})
}
