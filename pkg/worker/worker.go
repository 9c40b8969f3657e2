package worker

import (
	"context"
	"encoding/json"

	kafkawrapper "github.com/joripage/matching-engine/pkg/kafka_wrapper"
	"github.com/joripage/matching-engine/pkg/marketdata"
	"github.com/joripage/matching-engine/pkg/tradestore"
	"go.uber.org/zap"
)

// Worker journals trades read from Kafka into the trade store.
type Worker struct {
	trades tradestore.ITrade
	logger *zap.Logger
}

func NewWorker(trades tradestore.ITrade, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		trades: trades,
		logger: logger.Named("worker"),
	}
}

// Run consumes cg until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, cg *kafkawrapper.ConsumerGroup) error {
	return cg.Run(ctx, w.HandleBatch)
}

// HandleBatch writes every decodable trade in msgs in one insert. Messages
// that are not trades or cannot be decoded are logged and skipped; a
// database error fails the whole batch so it is retried.
func (w *Worker) HandleBatch(ctx context.Context, msgs []kafkawrapper.Message) error {
	records := make([]*tradestore.TradeRecord, 0, len(msgs))
	for _, m := range msgs {
		if t, ok := m.Headers["type"]; ok && t != "trade" {
			continue
		}
		var tm marketdata.TradeMessage
		if err := json.Unmarshal(m.Value, &tm); err != nil {
			w.logger.Warn("unmarshal trade failed",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			continue
		}
		if tm.TradeID == "" {
			w.logger.Warn("trade without id", zap.Int64("offset", m.Offset))
			continue
		}
		records = append(records, tradestore.NewTradeRecord(tm))
	}

	if _, err := w.trades.BulkCreate(ctx, records); err != nil {
		return err
	}
	if len(records) > 0 {
		w.logger.Debug("trades journaled",
			zap.Int("count", len(records)),
			zap.String("last", records[len(records)-1].TradeID))
	}
	return nil
}
