// Package textproto serves the plain-text order protocol: clients send
// "<side> <price> <quantity>" triples (side 0 buys, 1 sells, always limit
// orders) and every connected client hears about every trade.
package textproto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joripage/matching-engine/pkg/engine"
	"github.com/joripage/matching-engine/pkg/fanout"
	"github.com/joripage/matching-engine/pkg/logging"
	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxLineBytes = 4096
	writeTimeout = 5 * time.Second

	msgInvalidFormat = "Invalid order format."
)

type Engine interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (uint64, error)
	Subscribe(types ...fanout.EventType) *fanout.Subscription
}

type Server struct {
	addr   string
	engine Engine
	logger *zap.Logger

	ln     net.Listener
	mu     sync.Mutex
	closed bool
	conns  map[*conn]struct{}
	wg     sync.WaitGroup
}

func NewServer(addr string, eng Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:   addr,
		engine: eng,
		logger: logger.Named("textproto"),
		conns:  make(map[*conn]struct{}),
	}
}

// Start listens and accepts connections in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info("text gateway listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Addr returns the bound address once Start has returned.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Stop closes the listener and every client connection and waits for their
// goroutines to exit.
func (s *Server) Stop() {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Lock()
	s.closed = true
	for c := range s.conns {
		c.close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		if !s.register(ctx, nc) {
			_ = nc.Close()
			return
		}
	}
}

// register starts serving nc unless Stop has already run.
func (s *Server) register(ctx context.Context, nc net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	c := &conn{
		Conn: nc,
		sub:  s.engine.Subscribe(fanout.EventTrade),
		id:   logging.NewRequestID(),
	}
	s.conns[c] = struct{}{}

	s.wg.Add(2)
	go s.broadcastLoop(c)
	go s.serve(ctx, c)
	return true
}

type conn struct {
	net.Conn
	sub *fanout.Subscription
	id  string

	wmu       sync.Mutex
	closeOnce sync.Once
}

func (c *conn) writeLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.Write([]byte(line + "\n"))
	return err
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.sub.Close()
		_ = c.Conn.Close()
	})
}

func (s *Server) serve(ctx context.Context, c *conn) {
	defer s.wg.Done()
	defer func() {
		c.close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	ctx = logging.WithRequestID(ctx, c.id)
	log, ctx := logging.GetLogger(ctx, s.logger.With(zap.String("remote", c.RemoteAddr().String())))
	log.Info(ctx, "client connected")

	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, 256), maxLineBytes)
	for sc.Scan() {
		for _, reply := range s.handleLine(ctx, sc.Text()) {
			if err := c.writeLine(reply); err != nil {
				log.Warn(ctx, "write failed", zap.Error(err))
				return
			}
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.Warn(ctx, "read failed", zap.Error(err))
	}
	log.Info(ctx, "client disconnected")
}

// handleLine submits every order on line and returns the replies, one per
// order, or a single format error when the line does not parse.
func (s *Server) handleLine(ctx context.Context, line string) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	reqs, err := ParseOrders(fields)
	if err != nil {
		return []string{msgInvalidFormat}
	}

	replies := make([]string, 0, len(reqs))
	for i, req := range reqs {
		triple := strings.Join(fields[3*i:3*i+3], " ")
		seq, err := s.engine.Submit(ctx, req)
		if err != nil {
			replies = append(replies, fmt.Sprintf("Order rejected: %s (%v)", triple, err))
			continue
		}
		replies = append(replies, fmt.Sprintf("Order added: %s (id %d)", triple, seq))
	}
	return replies
}

func (s *Server) broadcastLoop(c *conn) {
	defer s.wg.Done()
	for ev := range c.sub.C() {
		if err := c.writeLine(FormatTrade(ev.Trade)); err != nil {
			c.close()
			return
		}
	}
}

// ParseOrders reads fields as consecutive side/price/quantity triples.
func ParseOrders(fields []string) ([]engine.SubmitRequest, error) {
	if len(fields) == 0 || len(fields)%3 != 0 {
		return nil, fmt.Errorf("want side/price/quantity triples, got %d fields", len(fields))
	}

	out := make([]engine.SubmitRequest, 0, len(fields)/3)
	for i := 0; i < len(fields); i += 3 {
		var req engine.SubmitRequest
		switch fields[i] {
		case "0":
			req.Side = orderbook.BUY
		case "1":
			req.Side = orderbook.SELL
		default:
			return nil, fmt.Errorf("bad side %q", fields[i])
		}

		price, err := decimal.NewFromString(fields[i+1])
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", fields[i+1], err)
		}

		qty, err := strconv.ParseInt(fields[i+2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad quantity %q: %w", fields[i+2], err)
		}

		req.Type = orderbook.LIMIT
		req.Price = price
		req.Qty = qty
		out = append(out, req)
	}
	return out, nil
}

func FormatTrade(t *orderbook.Trade) string {
	return fmt.Sprintf("Orders Matched: %d @ %s", t.Qty, t.Price.String())
}
