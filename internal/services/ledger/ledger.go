// Package ledger is the authoritative inventory of offcuts: creation on
// batch commit, consumption through usage records, and the read-only
// aggregations the reporting views are built on.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"offcut-ledger-backend/internal/apperror"
	"offcut-ledger-backend/internal/batchcode"
	"offcut-ledger-backend/internal/models"
	"offcut-ledger-backend/internal/repository"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Usage sources recorded in the audit details.
const (
	SourceManual  = "manual"
	SourceCutList = "cut_list"
)

type Ledger struct {
	db      *gorm.DB
	batches *repository.BatchRepository
	offcuts *repository.OffcutRepository
	logger  *zap.Logger
}

func NewLedger(batches *repository.BatchRepository, offcuts *repository.OffcutRepository, logger *zap.Logger) *Ledger {
	return &Ledger{
		db:      offcuts.DB(),
		batches: batches,
		offcuts: offcuts,
		logger:  logger.Named("ledger"),
	}
}

type NewOffcut struct {
	BatchDetailID   uint
	Profile         string
	LengthMM        int
	LegacyID        *int
	RelatedLegacyID *int
}

// RecordOffcut stores a freshly produced offcut inside the commit
// transaction. A non-positive length is a caller bug.
func (l *Ledger) RecordOffcut(ctx context.Context, tx *gorm.DB, in NewOffcut) (uint, error) {
	if in.LengthMM <= 0 {
		return 0, fmt.Errorf("line item %d: %w", in.BatchDetailID, apperror.ErrInvalidOffcutLength)
	}
	o := &models.Offcut{
		LegacyOffcutID:         in.LegacyID,
		RelatedLegacyOffcutID:  in.RelatedLegacyID,
		MaterialProfile:        in.Profile,
		LengthMM:               in.LengthMM,
		CreatedInBatchDetailID: in.BatchDetailID,
		Available:              true,
	}
	if err := l.offcuts.WithTx(tx).Create(ctx, o); err != nil {
		return 0, err
	}
	return o.ID, nil
}

type ListFilter struct {
	Profile   string
	MinLength int
	Cursor    uint
	Limit     int
}

type Page struct {
	Items      []models.Offcut `json:"items"`
	NextCursor uint            `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

// ListAvailable returns available offcuts ordered by id.
func (l *Ledger) ListAvailable(ctx context.Context, f ListFilter) (Page, error) {
	return l.page(ctx, f, true)
}

// List returns every offcut, consumed ones included.
func (l *Ledger) List(ctx context.Context, f ListFilter) (Page, error) {
	return l.page(ctx, f, false)
}

func (l *Ledger) page(ctx context.Context, f ListFilter, availableOnly bool) (Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	items, err := l.offcuts.Find(ctx, repository.OffcutFilter{
		AvailableOnly: availableOnly,
		Profile:       f.Profile,
		MinLength:     f.MinLength,
		Cursor:        f.Cursor,
		Limit:         limit,
	})
	if err != nil {
		return Page{}, err
	}

	page := Page{Items: items}
	if len(items) > limit {
		page.HasMore = true
		page.Items = items[:limit]
		page.NextCursor = page.Items[limit-1].ID
	}
	if page.Items == nil {
		page.Items = []models.Offcut{}
	}
	return page, nil
}

// Available returns every available offcut of the given profiles, skipping
// pieces produced by the excluded line items.
func (l *Ledger) Available(ctx context.Context, profiles []string, excludeDetailIDs []uint) ([]models.Offcut, error) {
	if len(profiles) == 0 {
		return nil, nil
	}
	return l.offcuts.Find(ctx, repository.OffcutFilter{
		AvailableOnly:   true,
		Profiles:        profiles,
		ExcludeDetailID: excludeDetailIDs,
	})
}

func (l *Ledger) Get(ctx context.Context, id uint) (*models.Offcut, error) {
	return l.offcuts.GetByID(ctx, id)
}

func (l *Ledger) History(ctx context.Context, id uint) ([]models.OffcutUsage, error) {
	if _, err := l.offcuts.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return l.offcuts.Usages(ctx, id)
}

type UsageRequest struct {
	OffcutIDs   []uint
	BatchCode   string
	ReuseDate   time.Time
	PerformedBy string
	Note        string
}

type UsageResult struct {
	BatchCode string          `json:"batch_code"`
	ReuseDate string          `json:"reuse_date"`
	Offcuts   []models.Offcut `json:"offcuts"`
}

type usageDetails struct {
	ConsumingBatchCode string `json:"consuming_batch_code"`
	Source             string `json:"source"`
	LegacyOffcutID     *int   `json:"legacy_offcut_id,omitempty"`
	WasAvailable       bool   `json:"was_available"`
	Note               string `json:"note,omitempty"`
}

// RecordUsage marks the offcuts as consumed by the batch. Either every id
// is updated or none is.
func (l *Ledger) RecordUsage(ctx context.Context, req UsageRequest) (*UsageResult, error) {
	if len(req.OffcutIDs) == 0 {
		return nil, apperror.Validation("offcut_ids", "at least one offcut id is required")
	}
	seen := make(map[uint]struct{}, len(req.OffcutIDs))
	for _, id := range req.OffcutIDs {
		if _, dup := seen[id]; dup {
			return nil, apperror.Validation("offcut_ids", "offcut %d listed more than once", id)
		}
		seen[id] = struct{}{}
	}

	code, err := batchcode.Normalize(req.BatchCode)
	if err != nil {
		return nil, err
	}
	batch, err := l.batches.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	reuseDate := req.ReuseDate
	if reuseDate.IsZero() {
		reuseDate = time.Now()
	}
	reuseDate = truncateDay(reuseDate)

	var updated []models.Offcut
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := l.offcuts.WithTx(tx)

		locked, err := repo.LockByIDs(ctx, req.OffcutIDs)
		if err != nil {
			return err
		}
		found := make(map[uint]models.Offcut, len(locked))
		for _, o := range locked {
			found[o.ID] = o
		}

		var unknown, consumed []uint
		for _, id := range req.OffcutIDs {
			o, ok := found[id]
			switch {
			case !ok:
				unknown = append(unknown, id)
			case !o.Available:
				consumed = append(consumed, id)
			}
		}
		if len(unknown) > 0 {
			return &apperror.UnknownOffcutError{IDs: unknown}
		}
		if len(consumed) > 0 {
			return &apperror.OffcutUnavailableError{IDs: consumed}
		}

		if _, err := repo.MarkConsumed(ctx, req.OffcutIDs); err != nil {
			return err
		}

		usages := make([]models.OffcutUsage, 0, len(locked))
		for _, o := range locked {
			usages = append(usages, newUsage(o, batch, reuseDate, req.PerformedBy, usageDetails{
				ConsumingBatchCode: batch.BatchCode,
				Source:             SourceManual,
				LegacyOffcutID:     o.LegacyOffcutID,
				WasAvailable:       o.Available,
				Note:               req.Note,
			}))
		}
		if err := repo.CreateUsages(ctx, usages); err != nil {
			return err
		}

		updated, err = repo.ByIDs(ctx, req.OffcutIDs)
		return err
	})
	if err != nil {
		l.logger.Warn("usage update rolled back",
			zap.String("batch_code", code),
			zap.Uints("offcut_ids", req.OffcutIDs),
			zap.Error(err))
		return nil, err
	}

	l.logger.Info("offcut usage recorded",
		zap.String("batch_code", code),
		zap.Uints("offcut_ids", req.OffcutIDs),
		zap.String("performed_by", req.PerformedBy))

	return &UsageResult{
		BatchCode: batch.BatchCode,
		ReuseDate: reuseDate.Format("2006-01-02"),
		Offcuts:   updated,
	}, nil
}

// ConsumeLegacy applies the "use offcut" instructions printed on a cut list
// while the batch is being committed. Legacy numbers with no available
// offcut are skipped and reported back.
func (l *Ledger) ConsumeLegacy(ctx context.Context, tx *gorm.DB, batch *models.Batch, legacyIDs []int, actor string) (consumed []uint, skipped []int, err error) {
	repo := l.offcuts.WithTx(tx)
	reuseDate := truncateDay(batch.BatchDate)

	for _, legacyID := range legacyIDs {
		o, err := repo.FirstAvailableByLegacyID(ctx, legacyID)
		if err != nil {
			return nil, nil, err
		}
		if o == nil {
			skipped = append(skipped, legacyID)
			continue
		}
		if _, err := repo.MarkConsumed(ctx, []uint{o.ID}); err != nil {
			return nil, nil, err
		}
		usage := newUsage(*o, batch, reuseDate, actor, usageDetails{
			ConsumingBatchCode: batch.BatchCode,
			Source:             SourceCutList,
			LegacyOffcutID:     o.LegacyOffcutID,
			WasAvailable:       o.Available,
		})
		if err := repo.CreateUsages(ctx, []models.OffcutUsage{usage}); err != nil {
			return nil, nil, err
		}
		consumed = append(consumed, o.ID)
	}
	return consumed, skipped, nil
}

func newUsage(o models.Offcut, batch *models.Batch, reuseDate time.Time, actor string, details usageDetails) models.OffcutUsage {
	detailsJSON, _ := json.Marshal(details)
	return models.OffcutUsage{
		ID:           uuid.New(),
		OffcutID:     o.ID,
		BatchID:      batch.ID,
		ReuseDate:    reuseDate,
		ReuseSuccess: true,
		PerformedBy:  actor,
		Details:      detailsJSON,
		CreatedAt:    time.Now(),
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
