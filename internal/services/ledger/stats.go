package ledger

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"offcut-ledger-backend/internal/models"
	"offcut-ledger-backend/internal/repository"
)

const recentBatchCount = 5

type RecentBatch struct {
	BatchCode string `json:"batch_code"`
	BatchDate string `json:"batch_date"`
	LineItems int64  `json:"line_items"`
}

type Stats struct {
	TotalBatches     int64         `json:"total_batches"`
	TotalLineItems   int64         `json:"total_line_items"`
	TotalOffcuts     int64         `json:"total_offcuts"`
	AvailableOffcuts int64         `json:"available_offcuts"`
	ConsumedOffcuts  int64         `json:"consumed_offcuts"`
	AvailableLength  int64         `json:"available_length_mm"`
	RecentBatches    []RecentBatch `json:"recent_batches"`
}

// statsTxOptions pins every read in Stats to one snapshot. READ COMMITTED
// would let a commit land between the counts.
var statsTxOptions = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

type availabilityRow struct {
	Available bool
	Count     int64
	Length    int64
}

// Stats is computed on demand in a single repeatable-read transaction so the
// counts agree with each other.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batches := l.batches.WithTx(tx)

		var err error
		if stats.TotalBatches, err = batches.Count(ctx); err != nil {
			return err
		}
		if stats.TotalLineItems, err = batches.CountLineItems(ctx); err != nil {
			return err
		}

		var rows []availabilityRow
		err = tx.WithContext(ctx).Model(&models.Offcut{}).
			Select("available, COUNT(*) AS count, COALESCE(SUM(length_mm), 0) AS length").
			Group("available").
			Scan(&rows).Error
		if err != nil {
			return err
		}
		for _, r := range rows {
			stats.TotalOffcuts += r.Count
			if r.Available {
				stats.AvailableOffcuts = r.Count
				stats.AvailableLength = r.Length
			} else {
				stats.ConsumedOffcuts = r.Count
			}
		}

		recent, err := batches.Recent(ctx, recentBatchCount)
		if err != nil {
			return err
		}
		stats.RecentBatches = make([]RecentBatch, 0, len(recent))
		for _, b := range recent {
			var n int64
			if err := tx.WithContext(ctx).Model(&models.BatchLineItem{}).
				Where("batch_id = ?", b.ID).Count(&n).Error; err != nil {
				return err
			}
			stats.RecentBatches = append(stats.RecentBatches, RecentBatch{
				BatchCode: b.BatchCode,
				BatchDate: b.BatchDate.Format("2006-01-02"),
				LineItems: n,
			})
		}
		return nil
	}, statsTxOptions)
	return stats, err
}

func (l *Ledger) Inventory(ctx context.Context) ([]repository.InventoryRow, error) {
	rows, err := l.offcuts.Inventory(ctx)
	if rows == nil {
		rows = []repository.InventoryRow{}
	}
	return rows, err
}

// Summary aggregates usage and waste per item across every committed batch.
func (l *Ledger) Summary(ctx context.Context) ([]repository.ItemSummaryRow, error) {
	rows, err := l.batches.ItemSummary(ctx)
	if rows == nil {
		rows = []repository.ItemSummaryRow{}
	}
	return rows, err
}
