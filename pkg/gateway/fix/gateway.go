// Package fixgateway accepts FIX 4.4 NewOrderSingle messages, submits them
// to the engine and reports acks, fills and rejects as ExecutionReports.
package fixgateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joripage/matching-engine/pkg/engine"
	"github.com/joripage/matching-engine/pkg/fanout"
	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"
)

// Engine is the part of the matching engine the gateway drives.
type Engine interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (uint64, error)
	Subscribe(types ...fanout.EventType) *fanout.Subscription
}

type FixGatewayConfig struct {
	ConfigFilepath string
	// Instrument, when set, is the only Symbol accepted.
	Instrument string
}

type sendFunc func(m quickfix.Messagable, sessionID quickfix.SessionID) error

type FixGateway struct {
	cfg    *FixGatewayConfig
	engine Engine
	logger *zap.Logger
	send   sendFunc
	now    func() time.Time

	app      *Application
	acceptor *quickfix.Acceptor

	submitMu sync.Mutex

	mu     sync.Mutex
	orders map[uint64]*orderState
	// While a Submit is in flight, events for orders the gateway does not
	// know yet are parked in early. The in-flight order's own events are
	// replayed once it is registered.
	pending bool
	early   map[uint64][]fanout.Event

	sub  *fanout.Subscription
	done chan struct{}
}

func NewFixGateway(cfg *FixGatewayConfig, eng Engine, logger *zap.Logger) *FixGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FixGateway{
		cfg:    cfg,
		engine: eng,
		logger: logger.Named("fix"),
		send:   quickfix.SendToTarget,
		now:    time.Now,
		orders: make(map[uint64]*orderState),
		done:   make(chan struct{}),
	}
}

// Start subscribes to engine events and starts the acceptor.
func (g *FixGateway) Start(ctx context.Context) error {
	g.sub = g.engine.Subscribe(fanout.EventTrade, fanout.EventOrderDiscarded)
	go g.runReports(ctx)

	app, acceptor, err := startApp(g.cfg.ConfigFilepath, g)
	if err != nil {
		g.sub.Close()
		g.logger.Error("start fix acceptor failed", zap.Error(err))
		return err
	}
	g.app, g.acceptor = app, acceptor
	g.logger.Info("fix acceptor started", zap.String("settings", g.cfg.ConfigFilepath))
	return nil
}

func (g *FixGateway) Stop() {
	if g.acceptor != nil {
		g.acceptor.Stop()
	}
	if g.app != nil {
		g.app.close()
	}
	if g.sub != nil {
		g.sub.Close()
		<-g.done
	}
}

// AddOrder submits nos and answers with a NEW or REJECTED report. Fills
// that race ahead of the ack are held back, so the ack always goes out
// before any fill of the same order.
func (g *FixGateway) AddOrder(ctx context.Context, nos *NewOrderSingle) {
	st := &orderState{
		sessionID: nos.SessionID,
		clOrdID:   nos.ClOrdID,
		account:   nos.Account,
		symbol:    nos.Symbol,
		side:      nos.Side,
		ordType:   nos.OrdType,
		price:     nos.Price,
		orderQty:  nos.OrderQty.IntPart(),
	}

	req, reason, err := g.toSubmitRequest(nos)
	if err != nil {
		g.reply(newRejectReport(st, reason, err.Error(), g.now()), st.sessionID)
		return
	}

	g.submitMu.Lock()
	defer g.submitMu.Unlock()

	g.mu.Lock()
	g.pending = true
	g.mu.Unlock()

	seq, err := g.engine.Submit(ctx, req)

	g.mu.Lock()
	defer g.mu.Unlock()
	early := g.early
	g.pending, g.early = false, nil

	if err != nil {
		reason := enum.OrdRejReason_OTHER
		if errors.Is(err, engine.ErrQueueFull) || errors.Is(err, engine.ErrEngineClosed) {
			reason = enum.OrdRejReason_EXCHANGE_CLOSED
		}
		g.reply(newRejectReport(st, reason, err.Error(), g.now()), st.sessionID)
		return
	}

	st.seq = seq
	g.orders[seq] = st
	g.reply(newAckReport(st, g.now()), st.sessionID)

	for _, ev := range early[seq] {
		if st, ok := g.orders[seq]; ok {
			g.apply(seq, st, ev)
		}
	}
}

func (g *FixGateway) toSubmitRequest(nos *NewOrderSingle) (engine.SubmitRequest, enum.OrdRejReason, error) {
	var req engine.SubmitRequest

	if g.cfg.Instrument != "" && nos.Symbol != g.cfg.Instrument {
		return req, enum.OrdRejReason_UNKNOWN_SYMBOL, fmt.Errorf("unknown symbol %q", nos.Symbol)
	}

	switch nos.Side {
	case enum.Side_BUY:
		req.Side = orderbook.BUY
	case enum.Side_SELL:
		req.Side = orderbook.SELL
	default:
		return req, enum.OrdRejReason_UNSUPPORTED_ORDER_CHARACTERISTIC, fmt.Errorf("unsupported side %q", nos.Side)
	}

	switch nos.OrdType {
	case enum.OrdType_LIMIT:
		req.Type = orderbook.LIMIT
		req.Price = nos.Price
	case enum.OrdType_MARKET:
		req.Type = orderbook.MARKET
	default:
		return req, enum.OrdRejReason_UNSUPPORTED_ORDER_CHARACTERISTIC, fmt.Errorf("unsupported order type %q", nos.OrdType)
	}

	if !nos.OrderQty.Equal(nos.OrderQty.Truncate(0)) {
		return req, enum.OrdRejReason_INCORRECT_QUANTITY, fmt.Errorf("fractional quantity %s", nos.OrderQty)
	}
	req.Qty = nos.OrderQty.IntPart()

	if err := orderbook.Validate(req.Side, req.Type, req.Price, req.Qty); err != nil {
		reason := enum.OrdRejReason_OTHER
		if errors.Is(err, orderbook.ErrInvalidOrderQty) {
			reason = enum.OrdRejReason_INCORRECT_QUANTITY
		}
		return req, reason, err
	}
	return req, "", nil
}

func (g *FixGateway) runReports(ctx context.Context) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-g.sub.C():
			if !ok {
				if n := g.sub.Dropped(); n > 0 {
					g.logger.Warn("execution reports lost", zap.Uint64("dropped_events", n))
				}
				return
			}
			g.handleEvent(ev)
		}
	}
}

func (g *FixGateway) handleEvent(ev fanout.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ids []uint64
	switch ev.Type {
	case fanout.EventTrade:
		ids = []uint64{ev.Trade.BuyOrderID, ev.Trade.SellOrderID}
	case fanout.EventOrderDiscarded:
		ids = []uint64{ev.Order.ID}
	}

	for _, id := range ids {
		if st, ok := g.orders[id]; ok {
			g.apply(id, st, ev)
			continue
		}
		if g.pending {
			if g.early == nil {
				g.early = make(map[uint64][]fanout.Event)
			}
			g.early[id] = append(g.early[id], ev)
		}
	}
}

// apply reports ev to the owner of order id. Caller holds g.mu.
func (g *FixGateway) apply(id uint64, st *orderState, ev fanout.Event) {
	switch ev.Type {
	case fanout.EventTrade:
		t := ev.Trade
		st.fill(t.Qty, t.Price)
		g.reply(newFillReport(st, t.Sequence, t.Match, t.Qty, t.Price, g.now()), st.sessionID)
		if st.leavesQty() == 0 {
			delete(g.orders, id)
		}
	case fanout.EventOrderDiscarded:
		g.reply(newCanceledReport(st, g.now()), st.sessionID)
		delete(g.orders, id)
	}
}

// Open returns the number of orders still awaiting fills.
func (g *FixGateway) Open() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

func (g *FixGateway) reply(m quickfix.Messagable, sessionID quickfix.SessionID) {
	if err := g.send(m, sessionID); err != nil {
		g.logger.Warn("send execution report failed",
			zap.String("session", sessionID.String()),
			zap.Error(err))
	}
}
