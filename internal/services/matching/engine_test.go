package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offcut-ledger-backend/internal/apperror"
	"offcut-ledger-backend/internal/models"
	"offcut-ledger-backend/internal/repository"
	"offcut-ledger-backend/internal/services/ledger"
	"offcut-ledger-backend/internal/testutil"
)

var defaultCfg = Config{DoubleCutWasteThreshold: DefaultDoubleCutWasteThreshold}

func offcut(id uint, profile string, length int) models.Offcut {
	legacy := int(id) + 1000
	return models.Offcut{ID: id, LegacyOffcutID: &legacy, MaterialProfile: profile, LengthMM: length, Available: true}
}

func line(id uint, n int, profile string, used int) models.BatchLineItem {
	return models.BatchLineItem{ID: id, LineNumber: n, ItemDescription: profile, Quantity: 1, InputLength: 6500, UsedLength: used}
}

func TestMatchPrefersBestFitSingle(t *testing.T) {
	pool := []models.Offcut{offcut(1, "P1", 520), offcut(2, "P1", 300)}

	got := Match([]models.BatchLineItem{line(10, 1, "P1", 500)}, pool, defaultCfg)

	require.Len(t, got, 1)
	c := got[0]
	assert.Equal(t, uint(1), c.OffcutID)
	assert.False(t, c.IsDoubleCut)
	assert.Equal(t, 20, c.WasteMM)
	assert.Equal(t, 520, c.SuggestedLength)
	assert.Equal(t, "best fit with waste 20 mm", c.Reasoning)
	assert.Nil(t, c.RelatedOffcutID)
	assert.Equal(t, uint(10), c.BatchLineItemID)
	assert.Equal(t, "P1", c.MatchedProfile)
}

func TestMatchPairsWhenNothingIsLongEnough(t *testing.T) {
	pool := []models.Offcut{offcut(1, "P1", 250), offcut(2, "P1", 260)}

	got := Match([]models.BatchLineItem{line(10, 1, "P1", 500)}, pool, defaultCfg)

	require.Len(t, got, 1)
	c := got[0]
	assert.True(t, c.IsDoubleCut)
	assert.Equal(t, uint(2), c.OffcutID, "longer piece is primary")
	require.NotNil(t, c.RelatedOffcutID)
	assert.Equal(t, uint(1), *c.RelatedOffcutID)
	require.NotNil(t, c.RelatedLegacyOffcutID)
	assert.Equal(t, 1001, *c.RelatedLegacyOffcutID)
	assert.Equal(t, 10, c.WasteMM)
	assert.Equal(t, 510, c.SuggestedLength)
	assert.Equal(t, "double-cut pairing of 260 mm and 250 mm, waste 10 mm", c.Reasoning)
}

func TestMatchExactFit(t *testing.T) {
	got := Match([]models.BatchLineItem{line(10, 1, "P1", 500)}, []models.Offcut{offcut(1, "P1", 500)}, defaultCfg)
	require.Len(t, got, 1)
	assert.Equal(t, "exact fit", got[0].Reasoning)
	assert.Zero(t, got[0].WasteMM)
}

func TestMatchTieBreaksByLowestID(t *testing.T) {
	pool := []models.Offcut{offcut(7, "P1", 520), offcut(3, "P1", 520), offcut(5, "P1", 520)}
	got := Match([]models.BatchLineItem{line(10, 1, "P1", 500)}, pool, defaultCfg)
	require.Len(t, got, 1)
	assert.Equal(t, uint(3), got[0].OffcutID)
}

func TestMatchEqualLengthPairKeepsLowerIDPrimary(t *testing.T) {
	pool := []models.Offcut{offcut(9, "P1", 260), offcut(4, "P1", 260)}
	got := Match([]models.BatchLineItem{line(10, 1, "P1", 500)}, pool, defaultCfg)
	require.Len(t, got, 1)
	assert.Equal(t, uint(4), got[0].OffcutID)
	assert.Equal(t, uint(9), *got[0].RelatedOffcutID)
}

func TestMatchThresholdControlsPairSearch(t *testing.T) {
	pool := []models.Offcut{offcut(1, "P1", 700), offcut(2, "P1", 260), offcut(3, "P1", 250)}
	items := []models.BatchLineItem{line(10, 1, "P1", 500)}

	// 200/700 is above 0.25: the 510 mm pair wastes less.
	got := Match(items, pool, defaultCfg)
	require.Len(t, got, 1)
	assert.True(t, got[0].IsDoubleCut)
	assert.Equal(t, 10, got[0].WasteMM)

	got = Match(items, pool, Config{DoubleCutWasteThreshold: 0.5})
	require.Len(t, got, 1)
	assert.False(t, got[0].IsDoubleCut)
	assert.Equal(t, uint(1), got[0].OffcutID)
}

func TestMatchPairMustBeatSingle(t *testing.T) {
	// Single wastes 200 (above threshold) but the only pair wastes 300.
	pool := []models.Offcut{offcut(1, "P1", 700), offcut(2, "P1", 100)}
	got := Match([]models.BatchLineItem{line(10, 1, "P1", 500)}, pool, defaultCfg)
	require.Len(t, got, 1)
	assert.False(t, got[0].IsDoubleCut)
	assert.Equal(t, uint(1), got[0].OffcutID)
}

func TestMatchDoesNotOfferAPieceTwice(t *testing.T) {
	pool := []models.Offcut{offcut(1, "P1", 520), offcut(2, "P1", 600)}
	item := line(10, 1, "P1", 500)
	item.Quantity = 2

	got := Match([]models.BatchLineItem{item, line(11, 2, "P1", 500)}, pool, Config{DoubleCutWasteThreshold: 1})
	require.Len(t, got, 2)
	assert.Equal(t, uint(1), got[0].OffcutID)
	assert.Equal(t, uint(2), got[1].OffcutID)
	assert.Equal(t, 1, got[1].LineNumber)
}

func TestMatchRespectsProfileAndOrdering(t *testing.T) {
	pool := []models.Offcut{
		offcut(1, "P2", 900),
		offcut(2, "P1", 650),
		offcut(3, "P1", 410),
	}
	items := []models.BatchLineItem{line(21, 2, "P1", 400), line(20, 1, "P2", 800), line(22, 3, "P3", 100)}

	got := Match(items, pool, Config{DoubleCutWasteThreshold: 1})
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].LineNumber)
	assert.Equal(t, uint(1), got[0].OffcutID)
	assert.Equal(t, 2, got[1].LineNumber)
	assert.Equal(t, uint(3), got[1].OffcutID)
}

func TestRequiredLengthIsUsedLengthNotBarLength(t *testing.T) {
	item := models.BatchLineItem{ID: 1, LineNumber: 1, ItemDescription: "P1", Quantity: 1, InputLength: 6500, UsedLength: 480}
	assert.Equal(t, 480, RequiredLength(item))

	got := Match([]models.BatchLineItem{item}, []models.Offcut{offcut(1, "P1", 500)}, defaultCfg)
	require.Len(t, got, 1)
	assert.Equal(t, uint(1), got[0].OffcutID)
	assert.Equal(t, 20, got[0].WasteMM)
}

func TestMatchFallsBackToInputLength(t *testing.T) {
	item := models.BatchLineItem{ID: 1, LineNumber: 1, ItemDescription: "P1", Quantity: 1, InputLength: 480}
	got := Match([]models.BatchLineItem{item}, []models.Offcut{offcut(1, "P1", 500)}, defaultCfg)
	require.Len(t, got, 1)
	assert.Equal(t, 480, got[0].RequiredLength)
}

func TestMatchIsDeterministic(t *testing.T) {
	pool := []models.Offcut{offcut(5, "P1", 300), offcut(1, "P1", 260), offcut(2, "P1", 250), offcut(4, "P1", 520)}
	items := []models.BatchLineItem{line(10, 1, "P1", 500), line(11, 2, "P1", 500)}

	first := Match(items, pool, defaultCfg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Match(items, pool, defaultCfg))
	}
}

func TestRecommendAgainstLedger(t *testing.T) {
	db := testutil.SetupTestDB(t)
	batches := repository.NewBatchRepository(db)
	l := ledger.NewLedger(batches, repository.NewOffcutRepository(db), testutil.Logger(t))
	engine := NewEngine(batches, l, defaultCfg, testutil.Logger(t))

	batch := testutil.SeedBatch(t, db, "BO000001", models.BatchLineItem{ItemDescription: "P1", InputLength: 6500, UsedLength: 500})
	testutil.SeedOffcut(t, db, "P1", 520, 1)
	testutil.SeedOffcut(t, db, "P1", 300, 2)

	// Produced by the target batch itself: never offered back.
	own := testutil.SeedOffcut(t, db, "P1", 505, 3)
	require.NoError(t, db.Model(own).Update("created_in_batch_detail_id", batch.LineItems[0].ID).Error)

	consumed := testutil.SeedOffcut(t, db, "P1", 500, 4)
	require.NoError(t, db.Model(consumed).Update("available", false).Error)

	got, err := engine.Recommend(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 520, got[0].SuggestedLength)
	assert.Equal(t, 1, *got[0].LegacyOffcutID)

	again, err := engine.Recommend(context.Background(), "BO000001")
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestRecommendUnknownBatch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	batches := repository.NewBatchRepository(db)
	l := ledger.NewLedger(batches, repository.NewOffcutRepository(db), testutil.Logger(t))
	engine := NewEngine(batches, l, defaultCfg, testutil.Logger(t))

	_, err := engine.Recommend(context.Background(), "BO123456")
	assert.ErrorIs(t, err, apperror.ErrBatchNotFound)

	_, err = engine.Recommend(context.Background(), "nope")
	var verr *apperror.ValidationError
	assert.True(t, errors.As(err, &verr))
}
