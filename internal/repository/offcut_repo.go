package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"offcut-ledger-backend/internal/apperror"
	"offcut-ledger-backend/internal/models"
)

type OffcutRepository struct {
	db *gorm.DB
}

func NewOffcutRepository(db *gorm.DB) *OffcutRepository {
	return &OffcutRepository{db: db}
}

func (r *OffcutRepository) DB() *gorm.DB {
	return r.db
}

func (r *OffcutRepository) WithTx(tx *gorm.DB) *OffcutRepository {
	return &OffcutRepository{db: tx}
}

// OffcutFilter narrows offcut listings. Zero values mean "no filter".
type OffcutFilter struct {
	AvailableOnly   bool
	Profile         string
	Profiles        []string
	MinLength       int
	ExcludeDetailID []uint
	Cursor          uint
	Limit           int
}

func (r *OffcutRepository) Create(ctx context.Context, o *models.Offcut) error {
	return r.db.WithContext(ctx).Create(o).Error
}

func (r *OffcutRepository) GetByID(ctx context.Context, id uint) (*models.Offcut, error) {
	var o models.Offcut
	err := r.db.WithContext(ctx).First(&o, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.ErrOffcutNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Find returns offcuts ordered by id. When f.Limit > 0 one extra row is
// fetched so callers can tell whether another page exists.
func (r *OffcutRepository) Find(ctx context.Context, f OffcutFilter) ([]models.Offcut, error) {
	query := r.db.WithContext(ctx).Model(&models.Offcut{}).Order("id ASC")

	if f.AvailableOnly {
		query = query.Where("available = ?", true)
	}
	if f.Profile != "" {
		query = query.Where("material_profile = ?", f.Profile)
	}
	if len(f.Profiles) > 0 {
		query = query.Where("material_profile IN ?", f.Profiles)
	}
	if f.MinLength > 0 {
		query = query.Where("length_mm >= ?", f.MinLength)
	}
	if len(f.ExcludeDetailID) > 0 {
		query = query.Where("created_in_batch_detail_id NOT IN ?", f.ExcludeDetailID)
	}
	if f.Cursor > 0 {
		query = query.Where("id > ?", f.Cursor)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit + 1)
	}

	var offcuts []models.Offcut
	err := query.Find(&offcuts).Error
	return offcuts, err
}

// LockByIDs loads the given offcuts with a row lock for the rest of the
// transaction. Missing ids are simply absent from the result.
func (r *OffcutRepository) LockByIDs(ctx context.Context, ids []uint) ([]models.Offcut, error) {
	var offcuts []models.Offcut
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&offcuts).Error
	return offcuts, err
}

func (r *OffcutRepository) ByIDs(ctx context.Context, ids []uint) ([]models.Offcut, error) {
	var offcuts []models.Offcut
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&offcuts).Error
	return offcuts, err
}

// FirstAvailableByLegacyID picks the lowest system id among available
// offcuts carrying the legacy number; legacy numbers are not unique.
func (r *OffcutRepository) FirstAvailableByLegacyID(ctx context.Context, legacyID int) (*models.Offcut, error) {
	var o models.Offcut
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("legacy_offcut_id = ? AND available = ?", legacyID, true).
		Order("id ASC").
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// MarkConsumed bumps reuse_count and flips the pieces unavailable.
func (r *OffcutRepository) MarkConsumed(ctx context.Context, ids []uint) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Offcut{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"reuse_count": gorm.Expr("reuse_count + 1"),
			"available":   false,
		})
	return result.RowsAffected, result.Error
}

func (r *OffcutRepository) CreateUsages(ctx context.Context, usages []models.OffcutUsage) error {
	if len(usages) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&usages).Error
}

func (r *OffcutRepository) Usages(ctx context.Context, offcutID uint) ([]models.OffcutUsage, error) {
	var usages []models.OffcutUsage
	err := r.db.WithContext(ctx).
		Where("offcut_id = ?", offcutID).
		Order("created_at ASC").
		Find(&usages).Error
	return usages, err
}

func (r *OffcutRepository) Count(ctx context.Context, availableOnly bool) (int64, error) {
	var n int64
	query := r.db.WithContext(ctx).Model(&models.Offcut{})
	if availableOnly {
		query = query.Where("available = ?", true)
	}
	err := query.Count(&n).Error
	return n, err
}

type InventoryRow struct {
	MaterialProfile string `json:"material_profile"`
	LengthMM        int    `json:"length_mm"`
	Quantity        int64  `json:"quantity"`
}

// Inventory groups available offcuts by profile and length.
func (r *OffcutRepository) Inventory(ctx context.Context) ([]InventoryRow, error) {
	var rows []InventoryRow
	err := r.db.WithContext(ctx).Model(&models.Offcut{}).
		Select("material_profile, length_mm, COUNT(id) AS quantity").
		Where("available = ?", true).
		Group("material_profile, length_mm").
		Order("material_profile ASC, length_mm DESC").
		Scan(&rows).Error
	return rows, err
}
