// Package parser turns an uploaded cut-list file into normalized cutting
// instruction rows. Each supported file type has its own adapter; callers
// pick one through a Registry keyed by file extension.
package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"offcut-ledger-backend/internal/apperror"
)

var ErrNoRows = errors.New("no cutting instructions found")

// Row is one cutting instruction as printed on the cut list. Lengths are
// per bar, in millimetres.
type Row struct {
	BatchCode          string `json:"batch_code" validate:"required"`
	SawName            string `json:"saw_name"`
	ItemCode           string `json:"item_code" validate:"required"`
	ItemDescription    string `json:"item_description" validate:"required"`
	InputLength        int    `json:"input_length" validate:"gt=0"`
	UsedLength         int    `json:"used_length" validate:"gte=0,ltefield=InputLength"`
	DoubleCut          bool   `json:"double_cut"`
	SuggestedOffcutIDs []int  `json:"suggested_offcut_ids,omitempty" validate:"dive,gt=0"`
	SavedOffcutIDs     []int  `json:"saved_offcut_ids,omitempty" validate:"dive,gt=0"`
}

type Parser interface {
	Parse(content []byte) ([]Row, error)
}

type Registry struct {
	parsers  map[string]Parser
	validate *validator.Validate
}

// NewRegistry returns a registry with the text report and tabular adapters.
func NewRegistry() *Registry {
	r := &Registry{
		parsers:  make(map[string]Parser),
		validate: validator.New(),
	}
	r.Register(".txt", TextReport{})
	r.Register(".csv", CSV{})
	r.Register(".xlsx", XLSX{})
	return r
}

func (r *Registry) Register(ext string, p Parser) {
	r.parsers[strings.ToLower(ext)] = p
}

func (r *Registry) Supported(filename string) bool {
	_, ok := r.parsers[strings.ToLower(filepath.Ext(filename))]
	return ok
}

func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse runs the adapter for the file's extension and validates every row.
// Any failure is reported as a *apperror.ParseError.
func (r *Registry) Parse(filename string, content []byte) ([]Row, error) {
	p, ok := r.parsers[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		return nil, &apperror.ParseError{Filename: filename, Err: fmt.Errorf("unsupported file type %q", filepath.Ext(filename))}
	}

	rows, err := p.Parse(content)
	if err != nil {
		return nil, &apperror.ParseError{Filename: filename, Err: err}
	}
	if len(rows) == 0 {
		return nil, &apperror.ParseError{Filename: filename, Err: ErrNoRows}
	}

	for i := range rows {
		if err := r.validate.Struct(rows[i]); err != nil {
			return nil, &apperror.ParseError{Filename: filename, Err: rowError(i+1, err)}
		}
	}
	return rows, nil
}

func rowError(n int, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("row %d: %w", n, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return &apperror.ValidationError{
		Field:   fmt.Sprintf("row %d", n),
		Message: "invalid " + strings.Join(fields, ", "),
	}
}

// ParseIDList reads legacy offcut numbers written as "12 & 13". Blank and
// "None" yield nil.
func ParseIDList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	var ids []int
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '&' || r == ',' || r == ';' }) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid offcut id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FormatIDList is the inverse of ParseIDList.
func FormatIDList(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " & ")
}
