package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joripage/matching-engine/pkg/fanout"
	"github.com/joripage/matching-engine/pkg/logging"
	"github.com/joripage/matching-engine/pkg/marketdata"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origin policy lives in the CORS handler
		return true
	},
}

// wsClient streams one engine subscription to one websocket connection.
// Events published while the client is slow are dropped oldest first; the
// next frame carries the running drop count so the client can tell.
type wsClient struct {
	conn       *websocket.Conn
	sub        *fanout.Subscription
	instrument string
	logger     *zap.Logger
}

// handleWebSocket upgrades the connection and streams events of the types
// listed in ?types=trade,book_top (all types when omitted).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	types, err := parseEventTypes(r.URL.Query().Get("types"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid types", err.Error())
		return
	}

	// subscribe before the handshake completes so the client sees every
	// event published after its dial returns
	sub := s.engine.Subscribe(types...)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &wsClient{
		conn:       conn,
		sub:        sub,
		instrument: s.cfg.Instrument,
		logger: s.logger.With(
			zap.String("request_id", logging.RequestID(r.Context())),
			zap.String("remote", conn.RemoteAddr().String())),
	}
	c.logger.Info("websocket client connected")

	go c.writePump()
	go c.readPump()
}

func parseEventTypes(raw string) ([]fanout.EventType, error) {
	if raw == "" {
		return nil, nil
	}
	var out []fanout.EventType
	for _, part := range strings.Split(raw, ",") {
		t := fanout.EventType(strings.TrimSpace(part))
		switch t {
		case fanout.EventTrade, fanout.EventOrderRested, fanout.EventOrderDiscarded, fanout.EventBookTop:
			out = append(out, t)
		default:
			return nil, fmt.Errorf("unknown event type %q", t)
		}
	}
	return out, nil
}

// readPump only watches for the client going away; clients send nothing
// but control frames.
func (c *wsClient) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Info("websocket client disconnected", zap.Uint64("dropped", c.sub.Dropped()))
	}()

	var reported uint64
	for {
		select {
		case ev, ok := <-c.sub.C():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}

			msg := toWSMessage(c.instrument, ev)
			if d := c.sub.Dropped(); d != reported {
				msg.Dropped, reported = d, d
			}
			raw, err := json.Marshal(msg)
			if err != nil {
				c.logger.Error("marshal event", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toWSMessage(instrument string, ev fanout.Event) WSMessage {
	msg := WSMessage{Type: string(ev.Type), Sequence: ev.Sequence}
	switch {
	case ev.Trade != nil:
		tm := marketdata.NewTradeMessage(instrument, *ev.Trade)
		msg.Trade = &tm
	case ev.Order != nil:
		o := ev.Order
		msg.Order = &OrderMessage{
			ID:        o.ID,
			Side:      o.Side,
			Type:      o.Type,
			Price:     o.Price,
			Remaining: o.Qty,
			Original:  o.OrigQty,
			CreatedAt: o.CreatedAt,
		}
	case ev.Top != nil:
		top := marketdata.NewTopMessage(instrument, ev.Sequence, *ev.Top)
		msg.Top = &top
	}
	return msg
}
