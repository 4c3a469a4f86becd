package ledger

import (
	"context"

	"offcut-ledger-backend/internal/batchcode"
	"offcut-ledger-backend/internal/models"
)

type BatchPage struct {
	Items      []models.Batch `json:"items"`
	NextCursor uint           `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

func (l *Ledger) ListBatches(ctx context.Context, cursor uint, limit int) (BatchPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	items, next, hasMore, err := l.batches.List(ctx, cursor, limit)
	if err != nil {
		return BatchPage{}, err
	}
	if items == nil {
		items = []models.Batch{}
	}
	return BatchPage{Items: items, NextCursor: next, HasMore: hasMore}, nil
}

// Batch returns a committed batch with its line items in cut-list order.
func (l *Ledger) Batch(ctx context.Context, rawCode string) (*models.Batch, error) {
	code, err := batchcode.Normalize(rawCode)
	if err != nil {
		return nil, err
	}
	batch, err := l.batches.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if batch.LineItems, err = l.batches.LineItems(ctx, batch.ID); err != nil {
		return nil, err
	}
	return batch, nil
}
