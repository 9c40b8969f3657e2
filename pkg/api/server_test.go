package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joripage/matching-engine/pkg/engine"
	"github.com/joripage/matching-engine/pkg/fanout"
	"github.com/joripage/matching-engine/pkg/marketdata"
	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/joripage/matching-engine/pkg/tradestore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, opts ...Option) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(engine.Config{QueueSize: 64, AdmitTimeout: time.Second, CheckInvariants: true})
	eng.Start(context.Background())

	s := NewServer(Config{Instrument: "XYZ", AllowedOrigins: []string{"*"}}, eng, nil, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		eng.Stop()
	})
	return ts, eng
}

func postOrder(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/orders", "application/json", bytes.NewBufferString(body))
	require.Nil(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.Nil(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	ts, _ := newTestAPI(t)
	resp, err := http.Get(ts.URL + "/health")
	require.Nil(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestSubmitOrder(t *testing.T) {
	ts, eng := newTestAPI(t)

	resp := postOrder(t, ts, `{"side":"SELL","type":"LIMIT","price":"100.5","quantity":10}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, uint64(1), decode[SubmitOrderResponse](t, resp).Sequence)

	bad := []string{
		`{"side":"SELL","type":"LIMIT","price":"100.5","quantity":0}`,
		`{"side":"HOLD","type":"LIMIT","price":"100.5","quantity":1}`,
		`{"side":"BUY","type":"LIMIT","price":"-1","quantity":1}`,
		`{"side":"BUY","type":"LIMIT","price":"1","quantity":1,"tif":"IOC"}`,
		`not json`,
	}
	for _, body := range bad {
		resp := postOrder(t, ts, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Equal(t, uint64(1), eng.LastSequence())
}

func TestSubmitAfterStop(t *testing.T) {
	ts, eng := newTestAPI(t)
	eng.Stop()

	resp := postOrder(t, ts, `{"side":"BUY","type":"MARKET","quantity":1}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "engine closed", decode[ErrorResponse](t, resp).Error)
}

func TestGetBook(t *testing.T) {
	ts, eng := newTestAPI(t)

	postOrder(t, ts, `{"side":"BUY","type":"LIMIT","price":"99","quantity":5}`)
	postOrder(t, ts, `{"side":"BUY","type":"LIMIT","price":"98","quantity":7}`)
	postOrder(t, ts, `{"side":"SELL","type":"LIMIT","price":"101","quantity":3}`)
	require.Eventually(t, func() bool { return eng.Stats().Processed == 3 }, 2*time.Second, time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/v1/book?depth=1")
	require.Nil(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	book := decode[BookResponse](t, resp)
	assert.Equal(t, "XYZ", book.Instrument)
	assert.Equal(t, uint64(3), book.LastSequence)
	require.Len(t, book.Bids, 1)
	require.Len(t, book.Asks, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(99)))
	assert.Equal(t, int64(5), book.Bids[0].Quantity)
	assert.True(t, book.Asks[0].Price.Equal(decimal.NewFromInt(101)))

	resp2, err := http.Get(ts.URL + "/api/v1/book?depth=-2")
	require.Nil(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestGetStats(t *testing.T) {
	ts, eng := newTestAPI(t)

	postOrder(t, ts, `{"side":"SELL","type":"LIMIT","price":"10","quantity":4}`)
	postOrder(t, ts, `{"side":"BUY","type":"MARKET","quantity":6}`)
	require.Eventually(t, func() bool { return eng.Stats().Processed == 2 }, 2*time.Second, time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/v1/stats")
	require.Nil(t, err)
	defer resp.Body.Close()

	st := decode[StatsResponse](t, resp)
	assert.Equal(t, StatsResponse{LastSequence: 2, Processed: 2, Trades: 1, Volume: 4, Discarded: 2}, st)
}

func TestCORS(t *testing.T) {
	ts, _ := newTestAPI(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.Nil(t, err)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func wsURL(ts *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
}

func TestWebSocketStreamsTrades(t *testing.T) {
	ts, eng := newTestAPI(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "?types=trade"), nil)
	require.Nil(t, err)
	defer conn.Close()

	postOrder(t, ts, `{"side":"SELL","type":"LIMIT","price":"100.5","quantity":10}`)
	postOrder(t, ts, `{"side":"BUY","type":"LIMIT","price":"101","quantity":4}`)

	require.Nil(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.Nil(t, conn.ReadJSON(&msg))

	assert.Equal(t, string(fanout.EventTrade), msg.Type)
	assert.Equal(t, uint64(2), msg.Sequence)
	require.NotNil(t, msg.Trade)
	assert.Equal(t, "2-0", msg.Trade.TradeID)
	assert.Equal(t, eng.RunID(), msg.Trade.RunID)
	assert.Equal(t, "XYZ", msg.Trade.Instrument)
	assert.Equal(t, int64(4), msg.Trade.Qty)
	assert.True(t, msg.Trade.Price.Equal(decimal.RequireFromString("100.5")))
	assert.Equal(t, uint64(1), msg.Trade.SellOrderID)
	assert.Equal(t, uint64(2), msg.Trade.BuyOrderID)
}

func TestWebSocketClosedWithEngine(t *testing.T) {
	ts, eng := newTestAPI(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, ""), nil)
	require.Nil(t, err)
	defer conn.Close()

	eng.Stop()

	require.Nil(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "%v", err)
}

func TestWebSocketRejectsUnknownType(t *testing.T) {
	ts, _ := newTestAPI(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "?types=quotes"), nil)
	require.NotNil(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type memHistory struct {
	records []*tradestore.TradeRecord

	mu    sync.Mutex
	limit int
}

func (m *memHistory) lastLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}

func (m *memHistory) ListRecent(_ context.Context, instrument string, limit int) ([]*tradestore.TradeRecord, error) {
	m.mu.Lock()
	m.limit = limit
	m.mu.Unlock()
	var out []*tradestore.TradeRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].Instrument == instrument {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memHistory) ListByOrder(_ context.Context, runID string, orderID uint64) ([]*tradestore.TradeRecord, error) {
	var out []*tradestore.TradeRecord
	for _, r := range m.records {
		if r.RunID == runID && (r.BuyOrderID == orderID || r.SellOrderID == orderID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func record(runID string, seq uint64, match uint32, buy, sell uint64, px string, qty int64) *tradestore.TradeRecord {
	return tradestore.NewTradeRecord(marketdata.NewTradeMessage("XYZ", orderbook.Trade{
		RunID:       runID,
		BuyOrderID:  buy,
		SellOrderID: sell,
		Price:       decimal.RequireFromString(px),
		Qty:         qty,
		Sequence:    seq,
		Match:       match,
		TakerSide:   orderbook.BUY,
	}))
}

func TestTradeHistory(t *testing.T) {
	hist := &memHistory{}
	ts, eng := newTestAPI(t, WithTradeHistory(hist))
	hist.records = []*tradestore.TradeRecord{
		record("earlier-run", 2, 0, 2, 1, "99", 7),
		record(eng.RunID(), 2, 0, 2, 1, "100.5", 4),
		record(eng.RunID(), 3, 0, 3, 1, "100.5", 6),
		record(eng.RunID(), 5, 0, 5, 4, "101", 1),
	}

	resp, err := http.Get(ts.URL + "/api/v1/trades?limit=2")
	require.Nil(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	recent := decode[[]marketdata.TradeMessage](t, resp)
	require.Len(t, recent, 2)
	assert.Equal(t, "5-0", recent[0].TradeID)
	assert.Equal(t, "3-0", recent[1].TradeID)

	resp2, err := http.Get(ts.URL + "/api/v1/trades?limit=100000")
	require.Nil(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, maxTradeLimit, hist.lastLimit())

	resp3, err := http.Get(ts.URL + "/api/v1/orders/1/trades")
	require.Nil(t, err)
	defer resp3.Body.Close()
	byOrder := decode[[]marketdata.TradeMessage](t, resp3)
	require.Len(t, byOrder, 2)
	assert.Equal(t, int64(4), byOrder[0].Qty)
	assert.Equal(t, int64(6), byOrder[1].Qty)

	resp5, err := http.Get(ts.URL + "/api/v1/orders/1/trades?run_id=earlier-run")
	require.Nil(t, err)
	defer resp5.Body.Close()
	earlier := decode[[]marketdata.TradeMessage](t, resp5)
	require.Len(t, earlier, 1)
	assert.Equal(t, "earlier-run", earlier[0].RunID)
	assert.Equal(t, int64(7), earlier[0].Qty)

	resp4, err := http.Get(ts.URL + "/api/v1/trades?limit=0")
	require.Nil(t, err)
	defer resp4.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp4.StatusCode)
}

func TestTradeHistoryDisabled(t *testing.T) {
	ts, _ := newTestAPI(t)
	resp, err := http.Get(ts.URL + "/api/v1/trades")
	require.Nil(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
