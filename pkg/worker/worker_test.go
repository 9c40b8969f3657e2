package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkawrapper "github.com/joripage/matching-engine/pkg/kafka_wrapper"
	"github.com/joripage/matching-engine/pkg/marketdata"
	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/joripage/matching-engine/pkg/tradestore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tradeKey struct {
	instrument, runID string
	seq               uint64
	match             uint32
}

// memTrades keeps the first row per primary key, like the repo's
// insert-or-ignore.
type memTrades struct {
	rows []*tradestore.TradeRecord
	seen map[tradeKey]bool
	err  error
}

func (m *memTrades) Create(ctx context.Context, r *tradestore.TradeRecord) (*tradestore.TradeRecord, error) {
	_, err := m.BulkCreate(ctx, []*tradestore.TradeRecord{r})
	return r, err
}

func (m *memTrades) BulkCreate(_ context.Context, rs []*tradestore.TradeRecord) ([]*tradestore.TradeRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.seen == nil {
		m.seen = make(map[tradeKey]bool)
	}
	for _, r := range rs {
		k := tradeKey{r.Instrument, r.RunID, r.Sequence, r.Match}
		if m.seen[k] {
			continue
		}
		m.seen[k] = true
		m.rows = append(m.rows, r)
	}
	return rs, nil
}

func (m *memTrades) ListRecent(context.Context, string, int) ([]*tradestore.TradeRecord, error) {
	return m.rows, nil
}

func (m *memTrades) ListByOrder(context.Context, string, uint64) ([]*tradestore.TradeRecord, error) {
	return nil, nil
}

func tradeMsg(t *testing.T, runID string, seq uint64, match uint32) kafkawrapper.Message {
	t.Helper()
	b, err := json.Marshal(marketdata.NewTradeMessage("XYZ", orderbook.Trade{
		RunID:       runID,
		BuyOrderID:  seq,
		SellOrderID: 1,
		Price:       decimal.NewFromInt(100),
		Qty:         5,
		Sequence:    seq,
		Match:       match,
		TakerSide:   orderbook.BUY,
		Timestamp:   time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
	}))
	require.NoError(t, err)
	return kafkawrapper.Message{Value: b, Headers: map[string]string{"type": "trade"}}
}

func TestHandleBatch(t *testing.T) {
	store := &memTrades{}
	w := NewWorker(store, nil)

	msgs := []kafkawrapper.Message{
		tradeMsg(t, "run-a", 2, 0),
		{Value: []byte("not json"), Offset: 11},
		{Value: []byte(`{}`), Headers: map[string]string{"type": "book_top"}},
		{Value: []byte(`{"qty": 1}`)},
		tradeMsg(t, "run-a", 2, 1),
	}
	require.NoError(t, w.HandleBatch(context.Background(), msgs))

	require.Len(t, store.rows, 2)
	assert.Equal(t, "2-0", store.rows[0].TradeID)
	assert.Equal(t, "2-1", store.rows[1].TradeID)
	assert.True(t, store.rows[0].Price.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "run-a", store.rows[0].RunID)
}

func TestHandleBatchKeepsTradesOfEveryRun(t *testing.T) {
	store := &memTrades{}
	w := NewWorker(store, nil)
	ctx := context.Background()

	// a restarted engine numbers its trades from the start again
	require.NoError(t, w.HandleBatch(ctx, []kafkawrapper.Message{tradeMsg(t, "run-a", 2, 0)}))
	require.NoError(t, w.HandleBatch(ctx, []kafkawrapper.Message{tradeMsg(t, "run-b", 2, 0)}))
	// redelivery of an already journaled trade
	require.NoError(t, w.HandleBatch(ctx, []kafkawrapper.Message{tradeMsg(t, "run-a", 2, 0)}))

	require.Len(t, store.rows, 2)
	assert.Equal(t, "run-a", store.rows[0].RunID)
	assert.Equal(t, "run-b", store.rows[1].RunID)
	assert.Equal(t, store.rows[0].TradeID, store.rows[1].TradeID)
}

func TestHandleBatchStoreError(t *testing.T) {
	boom := errors.New("db down")
	w := NewWorker(&memTrades{err: boom}, nil)
	err := w.HandleBatch(context.Background(), []kafkawrapper.Message{tradeMsg(t, "run-a", 1, 0)})
	assert.ErrorIs(t, err, boom)
}
