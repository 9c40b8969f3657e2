// Package marketdata forwards engine events to external consumers: trades
// and top-of-book to Kafka and to Redis.
package marketdata

import (
	"fmt"
	"time"

	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// TradeMessage is the wire form of a trade.
type TradeMessage struct {
	TradeID     string          `json:"trade_id"`
	Instrument  string          `json:"instrument"`
	RunID       string          `json:"run_id"`
	Sequence    uint64          `json:"sequence"`
	Match       uint32          `json:"match"`
	BuyOrderID  uint64          `json:"buy_order_id"`
	SellOrderID uint64          `json:"sell_order_id"`
	Price       decimal.Decimal `json:"price"`
	Qty         int64           `json:"qty"`
	TakerSide   orderbook.Side  `json:"taker_side"`
	Timestamp   time.Time       `json:"timestamp"`
}

// TradeID is unique per trade within one engine run and sorts in emission
// order within one sequence. Across runs a trade is named by its run id as
// well.
func TradeID(seq uint64, match uint32) string {
	return fmt.Sprintf("%d-%d", seq, match)
}

func NewTradeMessage(instrument string, t orderbook.Trade) TradeMessage {
	return TradeMessage{
		TradeID:     TradeID(t.Sequence, t.Match),
		Instrument:  instrument,
		RunID:       t.RunID,
		Sequence:    t.Sequence,
		Match:       t.Match,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Price:       t.Price,
		Qty:         t.Qty,
		TakerSide:   t.TakerSide,
		Timestamp:   t.Timestamp,
	}
}

// TopMessage is the wire form of the top of book after a matching step.
type TopMessage struct {
	Instrument string           `json:"instrument"`
	Sequence   uint64           `json:"sequence"`
	BidPrice   *decimal.Decimal `json:"bid_price,omitempty"`
	BidQty     int64            `json:"bid_qty"`
	AskPrice   *decimal.Decimal `json:"ask_price,omitempty"`
	AskQty     int64            `json:"ask_qty"`
}

func NewTopMessage(instrument string, seq uint64, top orderbook.TopOfBook) TopMessage {
	return TopMessage{
		Instrument: instrument,
		Sequence:   seq,
		BidPrice:   top.BidPrice,
		BidQty:     top.BidQty,
		AskPrice:   top.AskPrice,
		AskQty:     top.AskQty,
	}
}
