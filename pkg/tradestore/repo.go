package tradestore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ITrade interface {
	Create(ctx context.Context, record *TradeRecord) (*TradeRecord, error)
	BulkCreate(ctx context.Context, records []*TradeRecord) ([]*TradeRecord, error)
	ListRecent(ctx context.Context, instrument string, limit int) ([]*TradeRecord, error)
	ListByOrder(ctx context.Context, runID string, orderID uint64) ([]*TradeRecord, error)
}

type TradeSQLRepo struct {
	db *gorm.DB
}

func NewTradeSQLRepo(db *gorm.DB) *TradeSQLRepo {
	return &TradeSQLRepo{
		db: db,
	}
}

func (r *TradeSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Create and BulkCreate ignore rows that already exist, so replaying a
// batch is harmless.
func (r *TradeSQLRepo) Create(ctx context.Context, record *TradeRecord) (*TradeRecord, error) {
	return record, r.dbWithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error
}

func (r *TradeSQLRepo) BulkCreate(ctx context.Context, records []*TradeRecord) ([]*TradeRecord, error) {
	if len(records) == 0 {
		return records, nil
	}
	return records, r.dbWithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(records).Error
}

// ListRecent returns the latest trades of instrument across all runs, newest
// first.
func (r *TradeSQLRepo) ListRecent(ctx context.Context, instrument string, limit int) ([]*TradeRecord, error) {
	var out []*TradeRecord
	err := r.dbWithContext(ctx).
		Where("instrument = ?", instrument).
		Order("executed_at DESC, sequence DESC, match DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListByOrder returns the trades of one order. Order ids are only unique
// within a run.
func (r *TradeSQLRepo) ListByOrder(ctx context.Context, runID string, orderID uint64) ([]*TradeRecord, error) {
	var out []*TradeRecord
	err := r.dbWithContext(ctx).
		Where("run_id = ?", runID).
		Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Order("sequence, match").
		Find(&out).Error
	return out, err
}
