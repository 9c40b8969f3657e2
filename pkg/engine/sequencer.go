package engine

import (
	"context"
	"sync"
	"time"

	"github.com/joripage/matching-engine/pkg/orderbook"
)

// sequencer numbers admitted orders and hands them to the matching loop.
//
// A submitter first reserves a queue slot, waiting at most timeout for one
// without holding any lock. Numbering and enqueueing then happen under mu,
// so the loop receives orders in exactly the order their numbers were
// assigned and a failed admission leaves no gap. A reserved slot guarantees
// the send on out never blocks while mu is held.
type sequencer struct {
	mu     sync.Mutex
	last   uint64
	closed bool
	out    chan *orderbook.Order

	// slots holds one token per order reserved or queued but not yet
	// taken by the loop.
	slots   chan struct{}
	done    chan struct{}
	timeout time.Duration
	now     func() time.Time
}

func newSequencer(queueSize int, timeout time.Duration, now func() time.Time) *sequencer {
	return &sequencer{
		out:     make(chan *orderbook.Order, queueSize),
		slots:   make(chan struct{}, queueSize),
		done:    make(chan struct{}),
		timeout: timeout,
		now:     now,
	}
}

func (s *sequencer) admit(ctx context.Context, o *orderbook.Order) (uint64, error) {
	if err := s.reserve(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.release()
		return 0, ErrEngineClosed
	}

	seq := s.last + 1
	o.ID, o.Sequence = seq, seq
	o.CreatedAt = s.now()
	s.out <- o
	s.last = seq
	return seq, nil
}

// reserve takes a queue slot, waiting up to timeout for the loop to free
// one.
func (s *sequencer) reserve(ctx context.Context) error {
	select {
	case <-s.done:
		return ErrEngineClosed
	default:
	}

	select {
	case s.slots <- struct{}{}:
		return nil
	default:
	}

	if s.timeout <= 0 {
		return ErrQueueFull
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.slots <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrQueueFull
	case <-s.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release frees the slot of an order the loop has taken off the queue.
func (s *sequencer) release() {
	<-s.slots
}

// lastAssigned returns the highest sequence number handed out so far.
func (s *sequencer) lastAssigned() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *sequencer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.out)
}
