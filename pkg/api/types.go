package api

import (
	"time"

	"github.com/joripage/matching-engine/pkg/marketdata"
	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// SubmitOrderRequest is the body of POST /api/v1/orders. Price is ignored
// for MARKET orders.
type SubmitOrderRequest struct {
	Side     orderbook.Side      `json:"side"`
	Type     orderbook.OrderType `json:"type"`
	Price    decimal.Decimal     `json:"price"`
	Quantity int64               `json:"quantity"`
}

type SubmitOrderResponse struct {
	Sequence uint64 `json:"sequence"`
}

type BookResponse struct {
	Instrument   string                `json:"instrument"`
	LastSequence uint64                `json:"last_sequence"`
	Bids         []orderbook.LevelView `json:"bids"`
	Asks         []orderbook.LevelView `json:"asks"`
	Timestamp    int64                 `json:"timestamp"`
}

type StatsResponse struct {
	LastSequence uint64 `json:"last_sequence"`
	Processed    uint64 `json:"processed"`
	Trades       uint64 `json:"trades"`
	Volume       int64  `json:"volume"`
	Discarded    int64  `json:"discarded"`
	Resting      int64  `json:"resting"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// OrderMessage is the wire form of a rested or discarded order.
type OrderMessage struct {
	ID        uint64              `json:"id"`
	Side      orderbook.Side      `json:"side"`
	Type      orderbook.OrderType `json:"type"`
	Price     decimal.Decimal     `json:"price"`
	Remaining int64               `json:"remaining"`
	Original  int64               `json:"original"`
	CreatedAt time.Time           `json:"created_at"`
}

// WSMessage is one frame sent to a websocket client. Exactly one payload is
// set.
type WSMessage struct {
	Type     string                   `json:"type"`
	Sequence uint64                   `json:"sequence"`
	Trade    *marketdata.TradeMessage `json:"trade,omitempty"`
	Order    *OrderMessage            `json:"order,omitempty"`
	Top      *marketdata.TopMessage   `json:"top,omitempty"`
	Dropped  uint64                   `json:"dropped,omitempty"`
}
