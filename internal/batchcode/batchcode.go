package batchcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"offcut-ledger-backend/internal/apperror"
)

const Prefix = "BO"

var (
	pattern = regexp.MustCompile(`^BO\d{6}$`)
	digits  = regexp.MustCompile(`^\d{1,6}$`)
)

// Normalize returns the canonical form of a batch code. A bare number is
// left-padded to six digits and prefixed with BO.
func Normalize(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if digits.MatchString(code) {
		n, _ := strconv.Atoi(code)
		code = fmt.Sprintf("%s%06d", Prefix, n)
	}
	if !pattern.MatchString(code) {
		return "", apperror.Validation("batch_code", "malformed batch code %q, expected BO followed by 6 digits", raw)
	}
	return code, nil
}

func Valid(code string) bool {
	return pattern.MatchString(code)
}

// NormalizeAll normalizes and de-duplicates codes, keeping first-seen order.
func NormalizeAll(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		code, err := Normalize(r)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out, nil
}
