package fixgateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joripage/matching-engine/pkg/engine"
	"github.com/joripage/matching-engine/pkg/fanout"
	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu      sync.Mutex
	reports []executionreport.ExecutionReport
}

func (o *outbox) send(m quickfix.Messagable, _ quickfix.SessionID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, executionreport.FromMessage(m.ToMessage()))
	return nil
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.reports)
}

func (o *outbox) at(i int) executionreport.ExecutionReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.reports[i]
}

var session = quickfix.SessionID{BeginString: quickfix.BeginStringFIX44, SenderCompID: "ENGINE", TargetCompID: "CLIENT"}

func newTestGateway(t *testing.T) (*FixGateway, *outbox, *engine.Engine) {
	t.Helper()
	eng := engine.New(engine.Config{QueueSize: 64, AdmitTimeout: time.Second, CheckInvariants: true})
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)

	out := &outbox{}
	g := NewFixGateway(&FixGatewayConfig{Instrument: "XYZ"}, eng, nil)
	g.send = out.send
	g.now = func() time.Time { return time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC) }
	g.sub = eng.Subscribe(fanout.EventTrade, fanout.EventOrderDiscarded)
	go g.runReports(context.Background())
	t.Cleanup(func() { g.sub.Close() })
	return g, out, eng
}

func nos(clOrdID string, side enum.Side, ordType enum.OrdType, price string, qty string) *NewOrderSingle {
	m := &NewOrderSingle{
		SessionID: session,
		ClOrdID:   clOrdID,
		Symbol:    "XYZ",
		Side:      side,
		OrdType:   ordType,
		OrderQty:  decimal.RequireFromString(qty),
	}
	if price != "" {
		m.Price = decimal.RequireFromString(price)
	}
	return m
}

type reportView struct {
	clOrdID  string
	execType enum.ExecType
	status   enum.OrdStatus
	cum      int64
	leaves   int64
}

func view(t *testing.T, r executionreport.ExecutionReport) reportView {
	t.Helper()
	clOrdID, err := r.GetClOrdID()
	require.Nil(t, err)
	execType, err := r.GetExecType()
	require.Nil(t, err)
	status, err := r.GetOrdStatus()
	require.Nil(t, err)
	cum, err := r.GetCumQty()
	require.Nil(t, err)
	leaves, err := r.GetLeavesQty()
	require.Nil(t, err)
	return reportView{clOrdID, execType, status, cum.IntPart(), leaves.IntPart()}
}

func TestOrderLifecycleReports(t *testing.T) {
	g, out, _ := newTestGateway(t)
	ctx := context.Background()

	g.AddOrder(ctx, nos("S1", enum.Side_SELL, enum.OrdType_LIMIT, "100.5", "10"))
	g.AddOrder(ctx, nos("B1", enum.Side_BUY, enum.OrdType_MARKET, "", "15"))

	require.Eventually(t, func() bool { return out.len() == 5 }, 2*time.Second, time.Millisecond)

	want := []reportView{
		{"S1", enum.ExecType_NEW, enum.OrdStatus_NEW, 0, 10},
		{"B1", enum.ExecType_NEW, enum.OrdStatus_NEW, 0, 15},
		{"B1", enum.ExecType_TRADE, enum.OrdStatus_PARTIALLY_FILLED, 10, 5},
		{"S1", enum.ExecType_TRADE, enum.OrdStatus_FILLED, 10, 0},
		{"B1", enum.ExecType_CANCELED, enum.OrdStatus_CANCELED, 10, 0},
	}
	for i, w := range want {
		assert.Equal(t, w, view(t, out.at(i)), "report %d", i)
	}

	lastPx, err := out.at(2).GetLastPx()
	require.Nil(t, err)
	assert.True(t, lastPx.Equal(decimal.RequireFromString("100.5")))
	avgPx, err := out.at(3).GetAvgPx()
	require.Nil(t, err)
	assert.True(t, avgPx.Equal(decimal.RequireFromString("100.5")))

	orderID, err := out.at(1).GetOrderID()
	require.Nil(t, err)
	assert.Equal(t, "2", orderID)
	assert.Zero(t, g.Open())
}

func TestRestingOrderStaysOpen(t *testing.T) {
	g, out, _ := newTestGateway(t)
	g.AddOrder(context.Background(), nos("B1", enum.Side_BUY, enum.OrdType_LIMIT, "99", "3"))

	require.Equal(t, 1, out.len())
	assert.Equal(t, 1, g.Open())
}

func TestRejects(t *testing.T) {
	g, out, eng := newTestGateway(t)
	ctx := context.Background()

	badSymbol := nos("X1", enum.Side_BUY, enum.OrdType_LIMIT, "100", "1")
	badSymbol.Symbol = "ABC"

	cases := []struct {
		order  *NewOrderSingle
		reason enum.OrdRejReason
	}{
		{badSymbol, enum.OrdRejReason_UNKNOWN_SYMBOL},
		{nos("X2", enum.Side_BUY, enum.OrdType_LIMIT, "100", "1.5"), enum.OrdRejReason_INCORRECT_QUANTITY},
		{nos("X3", enum.Side_SELL, enum.OrdType_LIMIT, "0", "1"), enum.OrdRejReason_OTHER},
		{nos("X4", enum.Side_BUY, enum.OrdType_STOP, "100", "1"), enum.OrdRejReason_UNSUPPORTED_ORDER_CHARACTERISTIC},
		{nos("X5", enum.Side_BUY, enum.OrdType_LIMIT, "100", "0"), enum.OrdRejReason_INCORRECT_QUANTITY},
	}
	for i, c := range cases {
		g.AddOrder(ctx, c.order)
		require.Equal(t, i+1, out.len())
		r := out.at(i)
		v := view(t, r)
		assert.Equal(t, enum.ExecType_REJECTED, v.execType, c.order.ClOrdID)
		assert.Zero(t, v.leaves)
		reason, err := r.GetOrdRejReason()
		require.Nil(t, err)
		assert.Equal(t, c.reason, reason, c.order.ClOrdID)
	}
	assert.Zero(t, eng.LastSequence())

	eng.Stop()
	g.AddOrder(ctx, nos("X6", enum.Side_BUY, enum.OrdType_LIMIT, "100", "1"))
	reason, err := out.at(out.len() - 1).GetOrdRejReason()
	require.Nil(t, err)
	assert.Equal(t, enum.OrdRejReason_EXCHANGE_CLOSED, reason)
}

// fastEngine publishes the fill of every order before Submit returns, and
// only returns once the gateway has seen that fill.
type fastEngine struct {
	bus *fanout.Broadcaster
	g   *FixGateway
}

func (e *fastEngine) Subscribe(types ...fanout.EventType) *fanout.Subscription {
	return e.bus.Subscribe(types...)
}

func (e *fastEngine) Submit(_ context.Context, req engine.SubmitRequest) (uint64, error) {
	e.bus.Publish(fanout.Event{Type: fanout.EventTrade, Sequence: 1, Trade: &orderbook.Trade{
		BuyOrderID:  1,
		SellOrderID: 99,
		Price:       req.Price,
		Qty:         req.Qty,
		Sequence:    1,
		TakerSide:   orderbook.BUY,
	}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.g.mu.Lock()
		parked := len(e.g.early[1])
		e.g.mu.Unlock()
		if parked > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	return 1, nil
}

func TestFillBeforeAckIsReportedAfterAck(t *testing.T) {
	eng := &fastEngine{bus: fanout.NewBroadcaster(16, nil)}
	t.Cleanup(eng.bus.Close)

	out := &outbox{}
	g := NewFixGateway(&FixGatewayConfig{Instrument: "XYZ"}, eng, nil)
	eng.g = g
	g.send = out.send
	g.sub = eng.Subscribe(fanout.EventTrade, fanout.EventOrderDiscarded)
	go g.runReports(context.Background())
	t.Cleanup(func() { g.sub.Close() })

	start := time.Now()
	g.AddOrder(context.Background(), nos("B1", enum.Side_BUY, enum.OrdType_LIMIT, "100", "3"))
	assert.Less(t, time.Since(start), time.Second)

	require.Equal(t, 2, out.len())
	assert.Equal(t, reportView{"B1", enum.ExecType_NEW, enum.OrdStatus_NEW, 0, 3}, view(t, out.at(0)))
	assert.Equal(t, reportView{"B1", enum.ExecType_TRADE, enum.OrdStatus_FILLED, 3, 0}, view(t, out.at(1)))
	assert.Zero(t, g.Open())
	assert.Nil(t, g.early)
}
