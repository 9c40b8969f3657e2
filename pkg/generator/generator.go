// Package generator feeds the engine random limit orders on a timer, the
// way a demo exchange keeps its book moving without real clients.
package generator

import (
	"context"
	"math/rand"
	"time"

	"github.com/joripage/matching-engine/pkg/engine"
	"github.com/joripage/matching-engine/pkg/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	basePrice = 100.0
	priceStep = 2000 // tenths above basePrice
	maxQty    = 100
)

type Submitter interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (uint64, error)
}

type Generator struct {
	engine   Submitter
	interval time.Duration
	rnd      *rand.Rand
	logger   *zap.Logger
}

// New returns a generator submitting one order per interval. A zero seed
// seeds from the clock.
func New(eng Submitter, interval time.Duration, seed int64, logger *zap.Logger) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		engine:   eng,
		interval: interval,
		rnd:      rand.New(rand.NewSource(seed)),
		logger:   logger.Named("generator"),
	}
}

// Next draws one order: either side, a price in [100.0, 299.9] in steps of
// 0.1 and a quantity in [1, 100].
func (g *Generator) Next() engine.SubmitRequest {
	side := orderbook.BUY
	if g.rnd.Intn(2) == 1 {
		side = orderbook.SELL
	}
	tenths := g.rnd.Intn(priceStep)
	return engine.SubmitRequest{
		Side:  side,
		Type:  orderbook.LIMIT,
		Price: decimal.NewFromFloat(basePrice).Add(decimal.New(int64(tenths), -1)),
		Qty:   int64(g.rnd.Intn(maxQty) + 1),
	}
}

// Run submits orders until ctx is done. Rejected submissions are logged and
// skipped.
func (g *Generator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	g.logger.Info("generator started", zap.Duration("interval", g.interval))
	for {
		select {
		case <-ctx.Done():
			g.logger.Info("generator stopped")
			return
		case <-ticker.C:
			req := g.Next()
			seq, err := g.engine.Submit(ctx, req)
			if err != nil {
				g.logger.Warn("generated order not admitted", zap.Error(err))
				continue
			}
			g.logger.Debug("generated order",
				zap.Uint64("seq", seq),
				zap.String("side", string(req.Side)),
				zap.String("price", req.Price.String()),
				zap.Int64("qty", req.Qty))
		}
	}
}
