package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/matching-engine/pkg/fanout"
	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config tunes the engine. A zero AdmitTimeout makes Submit fail with
// ErrQueueFull as soon as the queue is full.
type Config struct {
	QueueSize        int           `yaml:"queue_size"`
	AdmitTimeout     time.Duration `yaml:"admit_timeout"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	CheckInvariants  bool          `yaml:"check_invariants"`
}

const defaultQueueSize = 4096

// SubmitRequest is an order as a client sends it. Price is ignored for
// MARKET orders.
type SubmitRequest struct {
	Side  orderbook.Side
	Type  orderbook.OrderType
	Price decimal.Decimal
	Qty   int64
}

// Stats are running totals kept by the matching loop.
type Stats struct {
	Processed uint64
	Trades    uint64
	Volume    int64
	Discarded int64
	Resting   int64
}

type query struct {
	depth int
	resp  chan orderbook.Snapshot
}

// Engine owns one order book. Any number of goroutines may Submit; a single
// run loop matches admitted orders one at a time, in sequence order, and
// publishes what happened to the broadcaster.
type Engine struct {
	cfg     Config
	runID   string
	seq     *sequencer
	book    *orderbook.Book
	matcher *orderbook.Matcher
	bus     *fanout.Broadcaster
	logger  *zap.Logger

	queries chan query
	done    chan struct{}

	started  atomic.Bool
	stopOnce sync.Once

	lastSeq uint64 // run loop only

	processed atomic.Uint64
	trades    atomic.Uint64
	volume    atomic.Int64
	discarded atomic.Int64
	resting   atomic.Int64
}

type Option func(*engineOptions)

type engineOptions struct {
	logger *zap.Logger
	now    func() time.Time
	runID  string
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithClock sets the time source for order and trade timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) {
		o.now = now
	}
}

// WithRunID fixes the run identifier stamped on every trade. By default each
// engine gets a fresh uuid.
func WithRunID(id string) Option {
	return func(o *engineOptions) {
		o.runID = id
	}
}

func New(cfg Config, opts ...Option) *Engine {
	options := engineOptions{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.runID == "" {
		options.runID = uuid.NewString()
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.AdmitTimeout < 0 {
		cfg.AdmitTimeout = 0
	}

	book := orderbook.NewBook()
	logger := options.logger.Named("engine").With(zap.String("run_id", options.runID))
	return &Engine{
		cfg:     cfg,
		runID:   options.runID,
		seq:     newSequencer(cfg.QueueSize, cfg.AdmitTimeout, options.now),
		book:    book,
		matcher: orderbook.NewMatcher(book, orderbook.WithClock(options.now)),
		bus:     fanout.NewBroadcaster(cfg.SubscriberBuffer, logger.Named("fanout")),
		logger:  logger,
		queries: make(chan query),
		done:    make(chan struct{}),
	}
}

// Start launches the matching loop. The engine stops when ctx is cancelled
// or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.run()
	go func() {
		select {
		case <-ctx.Done():
			e.Stop()
		case <-e.done:
		}
	}()
	e.logger.Info("engine started",
		zap.Int("queue_size", e.cfg.QueueSize),
		zap.Duration("admit_timeout", e.cfg.AdmitTimeout))
}

// Stop closes admission, lets the loop finish every order already admitted
// and then closes all subscriptions. It returns once the loop has exited.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.seq.close()
		if e.started.CompareAndSwap(false, true) {
			e.bus.Close()
			close(e.done)
			return
		}
	})
	<-e.done
}

// Submit validates req, assigns it the next sequence number and queues it
// for matching. It returns as soon as the order is queued; the outcome is
// reported through Subscribe.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (uint64, error) {
	if err := orderbook.Validate(req.Side, req.Type, req.Price, req.Qty); err != nil {
		return 0, err
	}

	o := &orderbook.Order{
		Side:    req.Side,
		Type:    req.Type,
		Qty:     req.Qty,
		OrigQty: req.Qty,
	}
	if req.Type == orderbook.LIMIT {
		o.Price = req.Price
	}

	seq, err := e.seq.admit(ctx, o)
	if err != nil {
		e.logger.Debug("order not admitted", zap.String("side", string(req.Side)), zap.Error(err))
		return 0, err
	}
	return seq, nil
}

// Subscribe returns a subscription to events published from now on.
func (e *Engine) Subscribe(types ...fanout.EventType) *fanout.Subscription {
	return e.bus.Subscribe(types...)
}

// Snapshot returns the book as it stood between two matching steps.
func (e *Engine) Snapshot(ctx context.Context, depth int) (orderbook.Snapshot, error) {
	q := query{depth: depth, resp: make(chan orderbook.Snapshot, 1)}

	select {
	case e.queries <- q:
	case <-e.done:
		return orderbook.Snapshot{}, ErrEngineClosed
	case <-ctx.Done():
		return orderbook.Snapshot{}, ctx.Err()
	}

	select {
	case snap := <-q.resp:
		return snap, nil
	case <-ctx.Done():
		return orderbook.Snapshot{}, ctx.Err()
	}
}

// RunID identifies this engine instance. Together with a trade's sequence
// and match index it names the trade uniquely across restarts.
func (e *Engine) RunID() string {
	return e.runID
}

// LastSequence returns the highest sequence number assigned so far.
func (e *Engine) LastSequence() uint64 {
	return e.seq.lastAssigned()
}

func (e *Engine) Stats() Stats {
	return Stats{
		Processed: e.processed.Load(),
		Trades:    e.trades.Load(),
		Volume:    e.volume.Load(),
		Discarded: e.discarded.Load(),
		Resting:   e.resting.Load(),
	}
}

func (e *Engine) run() {
	defer close(e.done)
	defer e.bus.Close()

	for {
		select {
		case o, ok := <-e.seq.out:
			if !ok {
				e.logger.Info("engine stopped",
					zap.Uint64("last_seq", e.lastSeq),
					zap.Uint64("trades", e.trades.Load()))
				return
			}
			e.seq.release()
			e.step(o)
		case q := <-e.queries:
			q.resp <- e.book.Snapshot(q.depth)
		}
	}
}

func (e *Engine) step(o *orderbook.Order) {
	if o.Sequence != e.lastSeq+1 {
		panic(fmt.Sprintf("engine: order %d arrived after %d", o.Sequence, e.lastSeq))
	}
	e.lastSeq = o.Sequence

	res := e.matcher.Match(o)

	for i := range res.Trades {
		t := res.Trades[i]
		t.RunID = e.runID
		e.volume.Add(t.Qty)
		e.bus.Publish(fanout.Event{Type: fanout.EventTrade, Sequence: o.Sequence, Trade: &t})
	}
	e.trades.Add(uint64(len(res.Trades)))

	if res.Rested {
		cp := o.Copy()
		e.bus.Publish(fanout.Event{Type: fanout.EventOrderRested, Sequence: o.Sequence, Order: &cp})
	}
	if res.Discarded > 0 {
		e.discarded.Add(res.Discarded)
		cp := o.Copy()
		e.bus.Publish(fanout.Event{Type: fanout.EventOrderDiscarded, Sequence: o.Sequence, Order: &cp})
	}
	if res.Rested || len(res.Trades) > 0 {
		top := e.book.Top()
		e.bus.Publish(fanout.Event{Type: fanout.EventBookTop, Sequence: o.Sequence, Top: &top})
	}

	e.resting.Store(int64(e.book.Orders()))
	e.processed.Add(1)

	if e.cfg.CheckInvariants && e.book.Crossed() {
		panic(fmt.Sprintf("engine: book crossed after order %d", o.Sequence))
	}

	if ce := e.logger.Check(zap.DebugLevel, "order processed"); ce != nil {
		ce.Write(
			zap.Uint64("seq", o.Sequence),
			zap.String("side", string(o.Side)),
			zap.String("type", string(o.Type)),
			zap.Int("trades", len(res.Trades)),
			zap.Bool("rested", res.Rested),
			zap.Int64("discarded", res.Discarded))
	}
}
