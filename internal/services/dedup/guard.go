// Package dedup implements the duplicate guard: the read-only check that
// keeps a batch code from being committed twice.
package dedup

import (
	"context"

	"gorm.io/gorm"

	"offcut-ledger-backend/internal/apperror"
	"offcut-ledger-backend/internal/batchcode"
	"offcut-ledger-backend/internal/repository"
)

type Result struct {
	Conflict      bool     `json:"conflict"`
	ExistingCodes []string `json:"existing_codes,omitempty"`
}

// Err converts a conflicting result into a DuplicateConflict.
func (r Result) Err() error {
	if !r.Conflict {
		return nil
	}
	return &apperror.DuplicateConflict{ExistingCodes: r.ExistingCodes}
}

type Guard struct {
	batches *repository.BatchRepository
}

func NewGuard(batches *repository.BatchRepository) *Guard {
	return &Guard{batches: batches}
}

// CheckDuplicates reports every code in the set that already belongs to a
// committed batch.
func (g *Guard) CheckDuplicates(ctx context.Context, codes []string) (Result, error) {
	return check(ctx, g.batches, codes)
}

// CheckDuplicatesTx runs the same check inside the caller's transaction so
// the pre-commit recheck sees the same snapshot as the insert.
func (g *Guard) CheckDuplicatesTx(ctx context.Context, tx *gorm.DB, codes []string) (Result, error) {
	return check(ctx, g.batches.WithTx(tx), codes)
}

// Exists is the batch-existence lookup used by the ledger and the recommender.
func (g *Guard) Exists(ctx context.Context, code string) (bool, error) {
	res, err := g.CheckDuplicates(ctx, []string{code})
	if err != nil {
		return false, err
	}
	return res.Conflict, nil
}

func check(ctx context.Context, batches *repository.BatchRepository, codes []string) (Result, error) {
	normalized, err := batchcode.NormalizeAll(codes)
	if err != nil {
		return Result{}, err
	}
	existing, err := batches.ExistingCodes(ctx, normalized)
	if err != nil {
		return Result{}, err
	}
	if len(existing) == 0 {
		return Result{}, nil
	}
	return Result{Conflict: true, ExistingCodes: existing}, nil
}
