package fixgateway

import (
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
)

// NewOrderSingle holds the fields of a 35=D the gateway acts on.
type NewOrderSingle struct {
	SessionID quickfix.SessionID

	Account      string
	ClOrdID      string
	Symbol       string
	OrdType      enum.OrdType
	Price        decimal.Decimal
	Side         enum.Side
	TransactTime time.Time
	OrderQty     decimal.Decimal
}

// orderState tracks one accepted order until it is done, so trades can be
// reported back to the session that sent it.
type orderState struct {
	sessionID quickfix.SessionID
	seq       uint64
	clOrdID   string
	account   string
	symbol    string
	side      enum.Side
	ordType   enum.OrdType
	price     decimal.Decimal
	orderQty  int64
	cumQty    int64
	notional  decimal.Decimal
}

func (o *orderState) leavesQty() int64 {
	return o.orderQty - o.cumQty
}

func (o *orderState) avgPx() decimal.Decimal {
	if o.cumQty == 0 {
		return decimal.Zero
	}
	return o.notional.Div(decimal.NewFromInt(o.cumQty))
}

func (o *orderState) fill(qty int64, px decimal.Decimal) {
	o.cumQty += qty
	o.notional = o.notional.Add(px.Mul(decimal.NewFromInt(qty)))
}
