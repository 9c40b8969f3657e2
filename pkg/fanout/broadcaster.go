package fanout

import (
	"sync"
	"sync/atomic"

	"github.com/joripage/matching-engine/pkg/orderbook"
	"go.uber.org/zap"
)

type EventType string

const (
	EventTrade          EventType = "trade"
	EventOrderRested    EventType = "order_rested"
	EventOrderDiscarded EventType = "order_discarded"
	EventBookTop        EventType = "book_top"
)

// Event is one notification out of the matching engine. Exactly one of the
// payload fields is set, according to Type. Payloads are copies; nothing in
// an Event points into the book.
type Event struct {
	Type     EventType
	Sequence uint64

	Trade *orderbook.Trade
	Order *orderbook.Order
	Top   *orderbook.TopOfBook
}

const defaultBufferSize = 256

// Broadcaster delivers events to an open set of subscriptions. Publish
// never blocks: every subscription has its own bounded buffer and loses its
// oldest event when the buffer is full.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	bufSize int
	closed  bool
	logger  *zap.Logger
}

func NewBroadcaster(bufSize int, logger *zap.Logger) *Broadcaster {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		subs:    make(map[uint64]*Subscription),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Subscribe registers a new subscription for the given event types, or for
// every type when none are given. It only sees events published after it
// returns. Subscribing to a closed broadcaster returns an already closed
// subscription.
func (b *Broadcaster) Subscribe(types ...EventType) *Subscription {
	sub := &Subscription{
		ch: make(chan Event, b.bufSize),
		b:  b,
	}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}

	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.logger.Debug("subscriber joined", zap.Uint64("subscriber", sub.id), zap.Int("total", len(b.subs)))
	return sub
}

// Publish hands ev to every interested subscription.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.wants(ev.Type) {
			sub.deliver(ev)
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Their channels are closed once any
// buffered events have been read.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.closed = true
		close(sub.ch)
	}
}

func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	delete(b.subs, sub.id)
	sub.closed = true
	close(sub.ch)
	b.logger.Debug("subscriber left",
		zap.Uint64("subscriber", sub.id),
		zap.Uint64("dropped", sub.dropped.Load()),
		zap.Int("total", len(b.subs)))
}

// Subscription is one subscriber's view of the event stream.
type Subscription struct {
	id      uint64
	ch      chan Event
	b       *Broadcaster
	types   map[EventType]struct{}
	dropped atomic.Uint64

	closed bool // guarded by b.mu
}

// C returns the event channel. It is closed when the subscription or the
// broadcaster is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because the subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.b.remove(s)
}

func (s *Subscription) wants(t EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// deliver is called with b.mu held for reading, so ch cannot be closed
// underneath it.
func (s *Subscription) deliver(ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}

		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}
