package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"offcut-ledger-backend/internal/apperror"
	"offcut-ledger-backend/internal/config"
	"offcut-ledger-backend/internal/models"
	"offcut-ledger-backend/internal/parser"
	"offcut-ledger-backend/internal/repository"
	"offcut-ledger-backend/internal/services/dedup"
	"offcut-ledger-backend/internal/services/ledger"
	"offcut-ledger-backend/internal/session"
	"offcut-ledger-backend/internal/testutil"
)

const cutList = `
BAR OPTIMISING
BATCH: 3643
Saw: Alu Saw 1

Product Code: RHS5025
Description: RHS 50x25
Bar Length: 6500
Use Offcut: 88
Total Used: 5980
Save Offcut: 101

Product Code: SHS4040
Description: SHS 40x40
Bar Length: 6500
*** Double Cut Bars ***
Total Used: 6100
Save Offcuts: 102 & 103

BAR OPTIMISING
Saw: Steel Saw

Product Code: FLT5006
Description: Flat 50x6
Bar Length: 6000
Total Used: 5200
`

type fakeArchive struct {
	keys    []string
	removed []string
}

func (f *fakeArchive) Put(_ context.Context, token, filename string, _ []byte) (string, error) {
	key := "cutlists/" + token + "/" + filename
	f.keys = append(f.keys, key)
	return key, nil
}

func (f *fakeArchive) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

type testEnv struct {
	pipeline *Pipeline
	db       *gorm.DB
	mr       *miniredis.Miniredis
	locker   *session.Locker
	archive  *fakeArchive
}

func newTestEnv(t *testing.T) *testEnv {
	db := testutil.SetupTestDB(t)
	rdb, mr := testutil.SetupRedis(t)
	logger := testutil.Logger(t)

	batches := repository.NewBatchRepository(db)
	archive := &fakeArchive{}
	cfg := config.IngestionConfig{
		SessionTTL:     time.Hour,
		LockTTL:        30 * time.Second,
		MaxUploadBytes: 1 << 20,
		ExcludedSaws:   []string{"Steel Saw"},
	}
	p := NewPipeline(Deps{
		Store:    session.NewStore(rdb, cfg.SessionTTL),
		Locker:   session.NewLocker(rdb, cfg.LockTTL),
		Parsers:  parser.NewRegistry(),
		Guard:    dedup.NewGuard(batches),
		Batches:  batches,
		Ledger:   ledger.NewLedger(batches, repository.NewOffcutRepository(db), logger),
		Archiver: archive,
	}, cfg, logger)

	return &testEnv{
		pipeline: p,
		db:       db,
		mr:       mr,
		locker:   session.NewLocker(rdb, cfg.LockTTL),
		archive:  archive,
	}
}

func (e *testEnv) count(t *testing.T, model interface{}) int64 {
	var n int64
	require.NoError(t, e.db.Model(model).Count(&n).Error)
	return n
}

func TestUploadRejectsBadFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	var uerr *apperror.UploadError

	_, err := env.pipeline.Upload(ctx, "cutlist.txt", nil)
	assert.True(t, errors.As(err, &uerr))

	_, err = env.pipeline.Upload(ctx, "", []byte("x"))
	assert.True(t, errors.As(err, &uerr))

	_, err = env.pipeline.Upload(ctx, "cutlist.pdf", []byte("%PDF"))
	require.True(t, errors.As(err, &uerr))
	assert.Contains(t, uerr.Reason, ".txt")

	_, err = env.pipeline.Upload(ctx, "cutlist.txt", make([]byte, 2<<20))
	assert.True(t, errors.As(err, &uerr))
}

func TestFullIngestion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	used := testutil.SeedOffcut(t, env.db, "RHS 50x25", 700, 88)

	token, err := env.pipeline.Upload(ctx, "BO003643.txt", []byte(cutList))
	require.NoError(t, err)

	preview, err := env.pipeline.Process(ctx, token, "2024-03-09")
	require.NoError(t, err)
	assert.Equal(t, "preview_ready", preview.State)
	assert.Equal(t, []string{"BO003643"}, preview.BatchCodes)
	assert.Equal(t, 1, preview.ExcludedRows)
	require.Len(t, preview.Lines, 2)

	first, second := preview.Lines[0], preview.Lines[1]
	assert.Equal(t, 1, first.LineNumber)
	assert.Equal(t, 520, first.OffcutLength)
	assert.Equal(t, 1, first.Quantity)
	assert.True(t, decimal.RequireFromString("8").Equal(first.WastePercentage))
	assert.True(t, decimal.RequireFromString("92").Equal(first.Efficiency))
	assert.Equal(t, 2, second.LineNumber)
	assert.Equal(t, 2, second.Quantity)
	assert.Equal(t, 13000, second.BarLength)
	assert.True(t, decimal.RequireFromString("6.15").Equal(second.WastePercentage))
	assert.Equal(t, 2, preview.Totals.OffcutsToCreate)

	// Nothing is written before commit.
	assert.Zero(t, env.count(t, &models.Batch{}))

	result, err := env.pipeline.Ingest(ctx, token, "planner@test")
	require.NoError(t, err)
	assert.Equal(t, "committed", result.State)
	require.Len(t, result.Batches, 1)
	assert.Equal(t, "BO003643", result.Batches[0].BatchCode)
	assert.Equal(t, 2, result.Batches[0].LineItems)
	assert.Equal(t, 2, result.OffcutsCreated)
	assert.Equal(t, []uint{used.ID}, result.OffcutsConsumed)
	assert.Equal(t, []string{"cutlists/" + token + "/BO003643.txt"}, env.archive.keys)
	assert.Empty(t, env.archive.removed)

	var batch models.Batch
	require.NoError(t, env.db.Preload("LineItems", func(db *gorm.DB) *gorm.DB {
		return db.Order("line_number")
	}).First(&batch, "batch_code = ?", "BO003643").Error)
	assert.Equal(t, "planner@test", batch.CommittedBy)
	assert.Equal(t, result.SourceObjectKey, batch.SourceObjectKey)
	require.Len(t, batch.LineItems, 2)
	assert.Equal(t, "102 & 103", batch.LineItems[1].SavedOffcutIDs)

	var spawned []models.Offcut
	require.NoError(t, env.db.Where("id IN ?", result.Batches[0].OffcutIDs).Order("id").Find(&spawned).Error)
	require.Len(t, spawned, 2)
	assert.Equal(t, 520, spawned[0].LengthMM)
	assert.Equal(t, "RHS 50x25", spawned[0].MaterialProfile)
	assert.Equal(t, 101, *spawned[0].LegacyOffcutID)
	assert.Nil(t, spawned[0].RelatedLegacyOffcutID)
	assert.Equal(t, 400, spawned[1].LengthMM)
	assert.Equal(t, 102, *spawned[1].LegacyOffcutID)
	assert.Equal(t, 103, *spawned[1].RelatedLegacyOffcutID)
	assert.Equal(t, batch.LineItems[1].ID, spawned[1].CreatedInBatchDetailID)

	var consumed models.Offcut
	require.NoError(t, env.db.First(&consumed, used.ID).Error)
	assert.False(t, consumed.Available)
	assert.Equal(t, 1, consumed.ReuseCount)
}

func TestSecondIngestIsStateError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte(cutList))
	require.NoError(t, err)
	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	require.NoError(t, err)
	_, err = env.pipeline.Ingest(ctx, token, "planner@test")
	require.NoError(t, err)

	_, err = env.pipeline.Ingest(ctx, token, "planner@test")
	var serr *apperror.StateError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "committed", serr.State)
	assert.Equal(t, int64(1), env.count(t, &models.Batch{}))
	assert.Equal(t, int64(2), env.count(t, &models.Offcut{}))

	err = env.pipeline.Discard(ctx, token)
	assert.True(t, errors.As(err, &serr))
}

func TestDuplicateConflictPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	testutil.SeedBatch(t, env.db, "BO003643")

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte(cutList))
	require.NoError(t, err)

	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	var conflict *apperror.DuplicateConflict
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"BO003643"}, conflict.ExistingCodes)

	assert.Equal(t, int64(1), env.count(t, &models.Batch{}))
	assert.Zero(t, env.count(t, &models.BatchLineItem{}))
	assert.Zero(t, env.count(t, &models.Offcut{}))

	// Parsed sessions can be processed again, but not committed.
	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	assert.True(t, errors.As(err, &conflict))

	_, err = env.pipeline.Ingest(ctx, token, "planner@test")
	var serr *apperror.StateError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "parsed", serr.State)
}

func TestReuploadAfterConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	testutil.SeedBatch(t, env.db, "BO003643")

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte(cutList))
	require.NoError(t, err)
	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	require.Error(t, err)

	csv := "batch;item code;description;bar length;total used\n3644;RHS5025;RHS 50x25;6500;6000\n"
	require.NoError(t, env.pipeline.Reupload(ctx, token, "cutlist.csv", []byte(csv)))

	preview, err := env.pipeline.Process(ctx, token, "2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"BO003644"}, preview.BatchCodes)
}

func TestCommitRechecksDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte(cutList))
	require.NoError(t, err)
	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	require.NoError(t, err)

	// Another session commits the same code in between.
	testutil.SeedBatch(t, env.db, "BO003643")

	_, err = env.pipeline.Ingest(ctx, token, "planner@test")
	var conflict *apperror.DuplicateConflict
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"BO003643"}, conflict.ExistingCodes)
	assert.Zero(t, env.count(t, &models.BatchLineItem{}))
	assert.Zero(t, env.count(t, &models.Offcut{}))
	require.Len(t, env.archive.keys, 1)
	assert.Equal(t, env.archive.keys, env.archive.removed)

	// Still preview-ready: a retry reports the conflict again.
	_, err = env.pipeline.Ingest(ctx, token, "planner@test")
	assert.True(t, errors.As(err, &conflict))
}

func TestParseFailureRejectsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte("this is not a cut list"))
	require.NoError(t, err)

	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	var perr *apperror.ParseError
	require.True(t, errors.As(err, &perr))

	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	var serr *apperror.StateError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "rejected", serr.State)
}

func TestOnlyExcludedSawsIsParseError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	report := "BAR OPTIMISING\nBATCH: 12\nSaw: Steel Saw\n\nProduct Code: FLT\nDescription: Flat\nBar Length: 6000\nTotal Used: 5000\n"

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte(report))
	require.NoError(t, err)

	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	var perr *apperror.ParseError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, parser.ErrNoRows)
}

func TestProcessRequiresBatchDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte(cutList))
	require.NoError(t, err)

	var verr *apperror.ValidationError
	_, err = env.pipeline.Process(ctx, token, "")
	assert.True(t, errors.As(err, &verr))
	_, err = env.pipeline.Process(ctx, token, "09/03/2024")
	assert.True(t, errors.As(err, &verr))

	// The session is untouched and can still be processed.
	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	assert.NoError(t, err)
}

func TestUnknownTokenIsStateError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	var serr *apperror.StateError

	_, err := env.pipeline.Process(ctx, "missing", "2024-03-09")
	require.True(t, errors.As(err, &serr))
	assert.Empty(t, serr.State)

	_, err = env.pipeline.Ingest(ctx, "missing", "planner@test")
	assert.True(t, errors.As(err, &serr))

	assert.True(t, errors.As(env.pipeline.Discard(ctx, "missing"), &serr))
}

func TestIngestBeforeProcess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte(cutList))
	require.NoError(t, err)

	_, err = env.pipeline.Ingest(ctx, token, "planner@test")
	var serr *apperror.StateError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "uploaded", serr.State)
}

func TestBusySessionFailsFast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte(cutList))
	require.NoError(t, err)

	release, err := env.locker.Acquire(ctx, token)
	require.NoError(t, err)

	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	assert.ErrorIs(t, err, apperror.ErrSessionBusy)

	release()
	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	assert.NoError(t, err)
}

func TestDiscardRemovesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte(cutList))
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Discard(ctx, token))

	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	var serr *apperror.StateError
	assert.True(t, errors.As(err, &serr))
}

func TestSessionExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token, err := env.pipeline.Upload(ctx, "cutlist.txt", []byte(cutList))
	require.NoError(t, err)
	env.mr.FastForward(2 * time.Hour)

	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	var serr *apperror.StateError
	assert.True(t, errors.As(err, &serr))
}

func TestRelatedLegacyIDIsNotConsumable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	testutil.SeedOffcut(t, env.db, "RHS 50x25", 700, 88)

	token, err := env.pipeline.Upload(ctx, "BO003643.txt", []byte(cutList))
	require.NoError(t, err)
	_, err = env.pipeline.Process(ctx, token, "2024-03-09")
	require.NoError(t, err)
	first, err := env.pipeline.Ingest(ctx, token, "planner@test")
	require.NoError(t, err)
	doubleCut := first.Batches[0].OffcutIDs[1]

	// A double-cut line spawns one offcut: 102 is its legacy id, 103 only
	// rides along as the related id.
	const followUp = `
BAR OPTIMISING
BATCH: 3644
Saw: Alu Saw 1

Product Code: SHS4040
Description: SHS 40x40
Bar Length: 6500
Use Offcut: 103
Total Used: 6500

Product Code: SHS4040
Description: SHS 40x40
Bar Length: 6500
Use Offcut: 102
Total Used: 6500
`
	token, err = env.pipeline.Upload(ctx, "BO003644.txt", []byte(followUp))
	require.NoError(t, err)
	_, err = env.pipeline.Process(ctx, token, "2024-03-10")
	require.NoError(t, err)
	second, err := env.pipeline.Ingest(ctx, token, "planner@test")
	require.NoError(t, err)

	assert.Equal(t, []uint{doubleCut}, second.OffcutsConsumed)
	assert.Equal(t, []int{103}, second.SkippedLegacyIDs)
	assert.Zero(t, second.OffcutsCreated)
}
