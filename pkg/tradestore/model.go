package tradestore

import (
	"time"

	"github.com/joripage/matching-engine/pkg/marketdata"
	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// TradeRecord is one row of the trade journal. Sequence numbers restart with
// every engine run, so a row is keyed by instrument, run, sequence and match.
type TradeRecord struct {
	Instrument  string          `gorm:"column:instrument;primaryKey"`
	RunID       string          `gorm:"column:run_id;primaryKey"`
	Sequence    uint64          `gorm:"column:sequence;primaryKey"`
	Match       uint32          `gorm:"column:match;primaryKey"`
	TradeID     string          `gorm:"column:trade_id"`
	BuyOrderID  uint64          `gorm:"column:buy_order_id"`
	SellOrderID uint64          `gorm:"column:sell_order_id"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(20,8)"`
	Qty         int64           `gorm:"column:qty"`
	TakerSide   string          `gorm:"column:taker_side"`
	ExecutedAt  time.Time       `gorm:"column:executed_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (TradeRecord) TableName() string {
	return "trades"
}

func NewTradeRecord(m marketdata.TradeMessage) *TradeRecord {
	return &TradeRecord{
		TradeID:     m.TradeID,
		Instrument:  m.Instrument,
		RunID:       m.RunID,
		Sequence:    m.Sequence,
		Match:       m.Match,
		BuyOrderID:  m.BuyOrderID,
		SellOrderID: m.SellOrderID,
		Price:       m.Price,
		Qty:         m.Qty,
		TakerSide:   string(m.TakerSide),
		ExecutedAt:  m.Timestamp,
	}
}

// Trade converts the row back to the engine's trade type.
func (r *TradeRecord) Trade() orderbook.Trade {
	return orderbook.Trade{
		RunID:       r.RunID,
		BuyOrderID:  r.BuyOrderID,
		SellOrderID: r.SellOrderID,
		Price:       r.Price,
		Qty:         r.Qty,
		Sequence:    r.Sequence,
		Match:       r.Match,
		TakerSide:   orderbook.Side(r.TakerSide),
		Timestamp:   r.ExecutedAt,
	}
}
