// Package matching recommends existing offcuts for the cuts a batch needs.
// It never writes: a recommendation becomes a usage record only when the
// caller confirms it through the ledger.
package matching

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"offcut-ledger-backend/internal/batchcode"
	"offcut-ledger-backend/internal/models"
	"offcut-ledger-backend/internal/repository"
	"offcut-ledger-backend/internal/services/ledger"
)

const DefaultDoubleCutWasteThreshold = 0.25

type Config struct {
	// DoubleCutWasteThreshold is the waste fraction (waste / piece length)
	// above which a pair of offcuts is tried instead of a single piece.
	DoubleCutWasteThreshold float64
}

// Candidate is one proposed offcut (or pair) for one required cut.
type Candidate struct {
	BatchLineItemID       uint   `json:"batch_detail_id"`
	LineNumber            int    `json:"line_number"`
	RequiredLength        int    `json:"required_length"`
	IsDoubleCut           bool   `json:"is_double_cut"`
	MatchedProfile        string `json:"matched_profile"`
	OffcutID              uint   `json:"offcut_id"`
	LegacyOffcutID        *int   `json:"legacy_offcut_id"`
	RelatedOffcutID       *uint  `json:"related_offcut_id,omitempty"`
	RelatedLegacyOffcutID *int   `json:"related_legacy_offcut_id,omitempty"`
	SuggestedLength       int    `json:"suggested_length"`
	WasteMM               int    `json:"waste_mm"`
	Reasoning             string `json:"reasoning"`
}

type Engine struct {
	batches *repository.BatchRepository
	ledger  *ledger.Ledger
	cfg     Config
	logger  *zap.Logger
}

func NewEngine(batches *repository.BatchRepository, l *ledger.Ledger, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{batches: batches, ledger: l, cfg: cfg, logger: logger.Named("matching")}
}

// Recommend proposes offcuts for every cut of the batch, ordered by line
// number, then waste, then offcut id.
func (e *Engine) Recommend(ctx context.Context, rawCode string) ([]Candidate, error) {
	code, err := batchcode.Normalize(rawCode)
	if err != nil {
		return nil, err
	}
	batch, err := e.batches.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	items, err := e.batches.LineItems(ctx, batch.ID)
	if err != nil {
		return nil, err
	}

	var profiles []string
	seen := make(map[string]bool)
	detailIDs := make([]uint, 0, len(items))
	for _, item := range items {
		detailIDs = append(detailIDs, item.ID)
		if p := item.MaterialProfile(); !seen[p] {
			seen[p] = true
			profiles = append(profiles, p)
		}
	}

	pool, err := e.ledger.Available(ctx, profiles, detailIDs)
	if err != nil {
		return nil, err
	}

	candidates := Match(items, pool, e.cfg)
	e.logger.Info("recommendations computed",
		zap.String("batch_code", code),
		zap.Int("line_items", len(items)),
		zap.Int("pool", len(pool)),
		zap.Int("candidates", len(candidates)))
	return candidates, nil
}

// RequiredLength is the cut length a line item asks for. It is the used
// length, not the input bar length: an offcut only has to cover the cut
// itself, so a piece shorter than the stock bar still qualifies. Lines with
// no recorded used length fall back to the input length.
func RequiredLength(item models.BatchLineItem) int {
	if item.UsedLength > 0 {
		return item.UsedLength
	}
	return item.InputLength
}

// Match runs best-fit matching over an in-memory pool. Each line item asks
// for Quantity cuts; a piece is offered to at most one cut.
func Match(items []models.BatchLineItem, pool []models.Offcut, cfg Config) []Candidate {
	ordered := make([]models.BatchLineItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].LineNumber != ordered[j].LineNumber {
			return ordered[i].LineNumber < ordered[j].LineNumber
		}
		return ordered[i].ID < ordered[j].ID
	})

	byProfile := make(map[string][]*models.Offcut)
	for i := range pool {
		o := &pool[i]
		if !o.Available || o.LengthMM <= 0 {
			continue
		}
		byProfile[o.MaterialProfile] = append(byProfile[o.MaterialProfile], o)
	}
	for _, pieces := range byProfile {
		sort.Slice(pieces, func(i, j int) bool { return pieces[i].ID < pieces[j].ID })
	}

	claimed := make(map[uint]bool)
	var out []Candidate

	for _, item := range ordered {
		required := RequiredLength(item)
		if required <= 0 {
			continue
		}
		units := item.Quantity
		if units < 1 {
			units = 1
		}

		for u := 0; u < units; u++ {
			var free []*models.Offcut
			for _, o := range byProfile[item.MaterialProfile()] {
				if !claimed[o.ID] {
					free = append(free, o)
				}
			}

			c, ok := bestCandidate(free, required, cfg)
			if !ok {
				continue
			}
			c.BatchLineItemID = item.ID
			c.LineNumber = item.LineNumber
			c.MatchedProfile = item.MaterialProfile()

			claimed[c.OffcutID] = true
			if c.RelatedOffcutID != nil {
				claimed[*c.RelatedOffcutID] = true
			}
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LineNumber != b.LineNumber {
			return a.LineNumber < b.LineNumber
		}
		if a.WasteMM != b.WasteMM {
			return a.WasteMM < b.WasteMM
		}
		return a.OffcutID < b.OffcutID
	})
	return out
}

// bestCandidate expects pieces sorted by id.
func bestCandidate(pieces []*models.Offcut, required int, cfg Config) (Candidate, bool) {
	// 1. Single best fit
	var single *models.Offcut
	for _, o := range pieces {
		if o.LengthMM < required {
			continue
		}
		if single == nil || o.LengthMM-required < single.LengthMM-required {
			single = o
		}
	}

	// 2. Decide whether a pair is worth looking for
	tryPair := single == nil
	if single != nil {
		waste := single.LengthMM - required
		tryPair = float64(waste)/float64(single.LengthMM) > cfg.DoubleCutWasteThreshold
	}

	// 3. Pair search
	if tryPair {
		var first, second *models.Offcut
		pairWaste := -1
		for i := 0; i < len(pieces); i++ {
			for j := i + 1; j < len(pieces); j++ {
				sum := pieces[i].LengthMM + pieces[j].LengthMM
				if sum < required {
					continue
				}
				if pairWaste < 0 || sum-required < pairWaste {
					first, second, pairWaste = pieces[i], pieces[j], sum-required
				}
			}
		}
		if first != nil && (single == nil || pairWaste < single.LengthMM-required) {
			return pairCandidate(first, second, required, pairWaste), true
		}
	}

	if single == nil {
		return Candidate{}, false
	}
	return singleCandidate(single, required), true
}

func singleCandidate(o *models.Offcut, required int) Candidate {
	waste := o.LengthMM - required
	reasoning := fmt.Sprintf("best fit with waste %d mm", waste)
	if waste == 0 {
		reasoning = "exact fit"
	}
	return Candidate{
		RequiredLength:  required,
		OffcutID:        o.ID,
		LegacyOffcutID:  o.LegacyOffcutID,
		SuggestedLength: o.LengthMM,
		WasteMM:         waste,
		Reasoning:       reasoning,
	}
}

// pairCandidate makes the longer piece primary; equal lengths keep the
// lower id primary.
func pairCandidate(a, b *models.Offcut, required, waste int) Candidate {
	primary, related := a, b
	if b.LengthMM > a.LengthMM {
		primary, related = b, a
	}
	relatedID := related.ID
	return Candidate{
		RequiredLength:        required,
		IsDoubleCut:           true,
		OffcutID:              primary.ID,
		LegacyOffcutID:        primary.LegacyOffcutID,
		RelatedOffcutID:       &relatedID,
		RelatedLegacyOffcutID: related.LegacyOffcutID,
		SuggestedLength:       primary.LengthMM + related.LengthMM,
		WasteMM:               waste,
		Reasoning: fmt.Sprintf("double-cut pairing of %d mm and %d mm, waste %d mm",
			primary.LengthMM, related.LengthMM, waste),
	}
}
