package repository

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"

	"offcut-ledger-backend/internal/apperror"
	"offcut-ledger-backend/internal/models"
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) DB() *gorm.DB {
	return r.db
}

// WithTx returns a copy bound to a running transaction.
func (r *BatchRepository) WithTx(tx *gorm.DB) *BatchRepository {
	return &BatchRepository{db: tx}
}

// ExistingCodes returns which of the given codes are already persisted, sorted.
func (r *BatchRepository) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	var existing []string
	err := r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("batch_code IN ?", codes).
		Pluck("batch_code", &existing).Error
	if err != nil {
		return nil, err
	}
	sort.Strings(existing)
	return existing, nil
}

func (r *BatchRepository) FindByCode(ctx context.Context, code string) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.WithContext(ctx).First(&batch, "batch_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *BatchRepository) LineItems(ctx context.Context, batchID uint) ([]models.BatchLineItem, error) {
	var items []models.BatchLineItem
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("line_number ASC, id ASC").
		Find(&items).Error
	return items, err
}

// Create inserts the batch together with its line items.
func (r *BatchRepository) Create(ctx context.Context, batch *models.Batch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// List pages through batches by id, newest last.
func (r *BatchRepository) List(ctx context.Context, cursor uint, limit int) ([]models.Batch, uint, bool, error) {
	var batches []models.Batch
	query := r.db.WithContext(ctx).Order("id ASC").Limit(limit + 1)
	if cursor > 0 {
		query = query.Where("id > ?", cursor)
	}
	if err := query.Find(&batches).Error; err != nil {
		return nil, 0, false, err
	}

	hasMore := false
	var next uint
	if len(batches) > limit {
		hasMore = true
		batches = batches[:limit]
		next = batches[limit-1].ID
	}
	return batches, next, hasMore, nil
}

func (r *BatchRepository) Recent(ctx context.Context, n int) ([]models.Batch, error) {
	var batches []models.Batch
	err := r.db.WithContext(ctx).
		Order("batch_date DESC, id DESC").
		Limit(n).
		Find(&batches).Error
	return batches, err
}

func (r *BatchRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Batch{}).Count(&n).Error
	return n, err
}

func (r *BatchRepository) CountLineItems(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.BatchLineItem{}).Count(&n).Error
	return n, err
}

type ItemSummaryRow struct {
	ItemDescription   string  `json:"item_description"`
	ItemCode          string  `json:"item_code"`
	TotalInputLength  float64 `json:"total_input_length"`
	TotalUsedLength   float64 `json:"total_used_length"`
	TotalOffcutLength float64 `json:"total_offcut_length"`
	AvgEfficiency     float64 `json:"avg_efficiency"`
	AvgWaste          float64 `json:"avg_waste"`
}

// ItemSummary aggregates material usage per item across every batch.
func (r *BatchRepository) ItemSummary(ctx context.Context) ([]ItemSummaryRow, error) {
	var rows []ItemSummaryRow
	err := r.db.WithContext(ctx).Model(&models.BatchLineItem{}).
		Select(`item_description, item_code,
			COALESCE(SUM(bar_length), 0) AS total_input_length,
			COALESCE(SUM(used_length * quantity), 0) AS total_used_length,
			COALESCE(SUM(offcut_length * quantity), 0) AS total_offcut_length,
			COALESCE(AVG(efficiency), 0) AS avg_efficiency,
			COALESCE(AVG(waste_percentage), 0) AS avg_waste`).
		Group("item_description, item_code").
		Order("item_description ASC, item_code ASC").
		Scan(&rows).Error
	return rows, err
}
