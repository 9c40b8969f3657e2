package fixgateway

import (
	"fmt"
	"strconv"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/shopspring/decimal"
)

const (
	qtyScale = 0
	pxScale  = 8
)

// newExecutionReport fills the fields every report carries. A done order
// has no leaves quantity regardless of what was filled.
func newExecutionReport(o *orderState, execID string, execType enum.ExecType, status enum.OrdStatus, done bool, now time.Time) executionreport.ExecutionReport {
	leaves := o.leavesQty()
	if done {
		leaves = 0
	}
	orderID := ""
	if o.seq > 0 {
		orderID = strconv.FormatUint(o.seq, 10)
	}
	msg := executionreport.New(
		field.NewOrderID(orderID),
		field.NewExecID(execID),
		field.NewExecType(execType),
		field.NewOrdStatus(status),
		field.NewSide(o.side),
		field.NewLeavesQty(decimal.NewFromInt(leaves), qtyScale),
		field.NewCumQty(decimal.NewFromInt(o.cumQty), qtyScale),
		field.NewAvgPx(o.avgPx(), pxScale),
	)
	msg.SetClOrdID(o.clOrdID)
	if o.account != "" {
		msg.SetAccount(o.account)
	}
	if o.symbol != "" {
		msg.SetSymbol(o.symbol)
	}
	msg.SetOrdType(o.ordType)
	msg.SetOrderQty(decimal.NewFromInt(o.orderQty), qtyScale)
	if o.ordType == enum.OrdType_LIMIT {
		msg.SetPrice(o.price, pxScale)
	}
	msg.SetTransactTime(now)
	return msg
}

// newAckReport confirms the order was admitted.
func newAckReport(o *orderState, now time.Time) executionreport.ExecutionReport {
	return newExecutionReport(o, fmt.Sprintf("%d-N", o.seq), enum.ExecType_NEW, enum.OrdStatus_NEW, false, now)
}

// newRejectReport refuses an order that never got a sequence number.
func newRejectReport(o *orderState, reason enum.OrdRejReason, text string, now time.Time) executionreport.ExecutionReport {
	msg := newExecutionReport(o, "R-"+o.clOrdID, enum.ExecType_REJECTED, enum.OrdStatus_REJECTED, true, now)
	msg.SetOrdRejReason(reason)
	msg.SetText(text)
	return msg
}

// newFillReport reports one trade against o. o must already include the
// fill.
func newFillReport(o *orderState, tradeSeq uint64, match uint32, qty int64, px decimal.Decimal, now time.Time) executionreport.ExecutionReport {
	status := enum.OrdStatus_PARTIALLY_FILLED
	if o.leavesQty() == 0 {
		status = enum.OrdStatus_FILLED
	}
	execID := fmt.Sprintf("%d-%d-%d", tradeSeq, match, o.seq)
	msg := newExecutionReport(o, execID, enum.ExecType_TRADE, status, false, now)
	msg.SetLastQty(decimal.NewFromInt(qty), qtyScale)
	msg.SetLastPx(px, pxScale)
	return msg
}

// newCanceledReport reports the unfilled remainder of a market order that
// found no more liquidity.
func newCanceledReport(o *orderState, now time.Time) executionreport.ExecutionReport {
	msg := newExecutionReport(o, fmt.Sprintf("%d-C", o.seq), enum.ExecType_CANCELED, enum.OrdStatus_CANCELED, true, now)
	msg.SetText(fmt.Sprintf("%d unfilled, no liquidity", o.leavesQty()))
	return msg
}
