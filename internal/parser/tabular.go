package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Column roles a tabular cut list can carry.
const (
	colBatch       = "batch"
	colSaw         = "saw"
	colItemCode    = "item_code"
	colDescription = "description"
	colInputLength = "input_length"
	colUsedLength  = "used_length"
	colDoubleCut   = "double_cut"
	colSuggested   = "suggested"
	colSaved       = "saved"
)

// headerAliases maps column roles to their accepted header names (lowercase).
var headerAliases = map[string][]string{
	colBatch:       {"batch", "batch no", "batch code", "batch_code", "batch number"},
	colSaw:         {"saw", "saw name", "saw_name"},
	colItemCode:    {"item code", "item_code", "product code", "code"},
	colDescription: {"item description", "item_description", "description", "product description", "profile", "material profile"},
	colInputLength: {"input bar length", "input_length", "input length", "bar length"},
	colUsedLength:  {"bar length used", "used_length", "used length", "total used"},
	colDoubleCut:   {"double cut", "double_cut"},
	colSuggested:   {"suggested offcut id(s)", "suggested_offcut_ids", "use offcut", "use offcuts"},
	colSaved:       {"offcut id(s) created", "saved_offcut_ids", "save offcut", "save offcuts"},
}

var requiredColumns = []string{colBatch, colItemCode, colDescription, colInputLength, colUsedLength}

// CSV reads comma, semicolon, tab or pipe separated cut lists with a header row.
type CSV struct{}

func (CSV) Parse(content []byte) ([]Row, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, errors.New("file is empty")
	}
	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = DetectCSVDelimiter(content)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("cannot read CSV: %w", err)
	}
	return rowsFromTable(records, "line")
}

// XLSX reads the first sheet of an Excel workbook.
type XLSX struct{}

func (XLSX) Parse(content []byte) ([]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("cannot open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("cannot read sheet %q: %w", sheets[0], err)
	}
	return rowsFromTable(records, "row")
}

// DetectCSVDelimiter picks the delimiter giving the most consistent column
// count across lines.
func DetectCSVDelimiter(data []byte) rune {
	best, bestScore := ',', 0
	for _, delim := range []rune{',', ';', '\t', '|'} {
		reader := csv.NewReader(bytes.NewReader(data))
		reader.Comma = delim
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		records, err := reader.ReadAll()
		if err != nil || len(records) == 0 || len(records[0]) < 2 {
			continue
		}
		score := 0
		for _, rec := range records {
			if len(rec) == len(records[0]) {
				score++
			}
		}
		if weighted := score*10 + len(records[0]); weighted > bestScore {
			best, bestScore = delim, weighted
		}
	}
	return best
}

// detectColumns maps roles to column indexes from the header row.
func detectColumns(header []string) map[string]int {
	cols := make(map[string]int)
	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		for role, aliases := range headerAliases {
			if _, seen := cols[role]; seen {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					cols[role] = i
					break
				}
			}
		}
	}
	return cols
}

func rowsFromTable(records [][]string, prefix string) ([]Row, error) {
	if len(records) == 0 {
		return nil, errors.New("no header row")
	}
	cols := detectColumns(records[0])

	var missing []string
	for _, role := range requiredColumns {
		if _, ok := cols[role]; !ok {
			missing = append(missing, role)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required columns not found in header: %s", strings.Join(missing, ", "))
	}

	cell := func(rec []string, role string) string {
		idx, ok := cols[role]
		if !ok || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}

	var rows []Row
	for i := 1; i < len(records); i++ {
		rec := records[i]
		if isEmptyRecord(rec) {
			continue
		}
		label := fmt.Sprintf("%s %d", prefix, i+1)

		input, err := parseLength(cell(rec, colInputLength))
		if err != nil {
			return nil, fmt.Errorf("%s: input length: %w", label, err)
		}
		used, err := parseLength(cell(rec, colUsedLength))
		if err != nil {
			return nil, fmt.Errorf("%s: used length: %w", label, err)
		}
		suggested, err := ParseIDList(cell(rec, colSuggested))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
		saved, err := ParseIDList(cell(rec, colSaved))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}

		rows = append(rows, Row{
			BatchCode:          cell(rec, colBatch),
			SawName:            cell(rec, colSaw),
			ItemCode:           cell(rec, colItemCode),
			ItemDescription:    cell(rec, colDescription),
			InputLength:        input,
			UsedLength:         used,
			DoubleCut:          parseBool(cell(rec, colDoubleCut)),
			SuggestedOffcutIDs: suggested,
			SavedOffcutIDs:     saved,
		})
	}
	return rows, nil
}

// parseLength accepts whole millimetres, tolerating a trailing ".0" from
// spreadsheet exports.
func parseLength(s string) (int, error) {
	if s == "" {
		return 0, errors.New("missing value")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return int(f), nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "y", "true", "1":
		return true
	}
	return false
}

func isEmptyRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
