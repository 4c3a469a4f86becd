package ingestion

import (
	"github.com/shopspring/decimal"

	"offcut-ledger-backend/internal/models"
	"offcut-ledger-backend/internal/parser"
)

var hundred = decimal.NewFromInt(100)

// PreviewLine is a parsed row with its derived measures, as it will be
// stored on commit.
type PreviewLine struct {
	BatchCode          string          `json:"batch_code"`
	LineNumber         int             `json:"line_number"`
	SawName            string          `json:"saw_name"`
	ItemCode           string          `json:"item_code"`
	ItemDescription    string          `json:"item_description"`
	Quantity           int             `json:"quantity"`
	InputLength        int             `json:"input_length"`
	BarLength          int             `json:"bar_length"`
	UsedLength         int             `json:"used_length"`
	OffcutLength       int             `json:"offcut_length"`
	DoubleCut          bool            `json:"double_cut"`
	WastePercentage    decimal.Decimal `json:"waste_percentage"`
	Efficiency         decimal.Decimal `json:"efficiency"`
	SuggestedOffcutIDs []int           `json:"suggested_offcut_ids"`
	SavedOffcutIDs     []int           `json:"saved_offcut_ids"`
}

type Totals struct {
	Lines           int `json:"lines"`
	InputLength     int `json:"input_length"`
	UsedLength      int `json:"used_length"`
	OffcutLength    int `json:"offcut_length"`
	OffcutsToCreate int `json:"offcuts_to_create"`
}

type Preview struct {
	Token        string        `json:"token"`
	Filename     string        `json:"filename"`
	State        string        `json:"state"`
	BatchDate    string        `json:"batch_date"`
	BatchCodes   []string      `json:"batch_codes"`
	ExcludedRows int           `json:"excluded_rows"`
	Lines        []PreviewLine `json:"lines"`
	Totals       Totals        `json:"totals"`
}

// deriveLines numbers rows per batch in file order and computes the
// per-line measures. Rows must already carry normalised batch codes.
func deriveLines(rows []parser.Row) []PreviewLine {
	lines := make([]PreviewLine, 0, len(rows))
	next := make(map[string]int)

	for _, r := range rows {
		next[r.BatchCode]++
		quantity := 1
		if r.DoubleCut {
			quantity = 2
		}
		offcut := r.InputLength - r.UsedLength

		lines = append(lines, PreviewLine{
			BatchCode:          r.BatchCode,
			LineNumber:         next[r.BatchCode],
			SawName:            r.SawName,
			ItemCode:           r.ItemCode,
			ItemDescription:    r.ItemDescription,
			Quantity:           quantity,
			InputLength:        r.InputLength,
			BarLength:          r.InputLength * quantity,
			UsedLength:         r.UsedLength,
			OffcutLength:       offcut,
			DoubleCut:          r.DoubleCut,
			WastePercentage:    percent(offcut, r.InputLength),
			Efficiency:         percent(r.UsedLength, r.InputLength),
			SuggestedOffcutIDs: r.SuggestedOffcutIDs,
			SavedOffcutIDs:     r.SavedOffcutIDs,
		})
	}
	return lines
}

func percent(part, whole int) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Mul(hundred).Div(decimal.NewFromInt(int64(whole))).Round(2)
}

func totals(lines []PreviewLine) Totals {
	t := Totals{Lines: len(lines)}
	for _, l := range lines {
		t.InputLength += l.BarLength
		t.UsedLength += l.UsedLength * l.Quantity
		t.OffcutLength += l.OffcutLength * l.Quantity
		if l.OffcutLength > 0 {
			t.OffcutsToCreate++
		}
	}
	return t
}

// batchCodes lists codes in order of first appearance.
func batchCodes(lines []PreviewLine) []string {
	var codes []string
	seen := make(map[string]bool)
	for _, l := range lines {
		if !seen[l.BatchCode] {
			seen[l.BatchCode] = true
			codes = append(codes, l.BatchCode)
		}
	}
	return codes
}

func (l PreviewLine) lineItem() models.BatchLineItem {
	return models.BatchLineItem{
		LineNumber:         l.LineNumber,
		ItemCode:           l.ItemCode,
		ItemDescription:    l.ItemDescription,
		SawName:            l.SawName,
		Quantity:           l.Quantity,
		InputLength:        l.InputLength,
		BarLength:          l.BarLength,
		UsedLength:         l.UsedLength,
		OffcutLength:       l.OffcutLength,
		DoubleCut:          l.DoubleCut,
		WastePercentage:    l.WastePercentage,
		Efficiency:         l.Efficiency,
		SuggestedOffcutIDs: parser.FormatIDList(l.SuggestedOffcutIDs),
		SavedOffcutIDs:     parser.FormatIDList(l.SavedOffcutIDs),
	}
}
