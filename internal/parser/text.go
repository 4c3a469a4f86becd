package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const doubleCutMarker = "*** Double Cut Bars ***"

var (
	sectionSep     = regexp.MustCompile(`\s*BAR OPTIMISING\s*`)
	batchRe        = regexp.MustCompile(`BATCH:\s*(\S+)`)
	sawRe          = regexp.MustCompile(`Saw:[ \t]*(\S.*)`)
	productCodeRe  = regexp.MustCompile(`Product Code:[ \t]*(\S+)`)
	descriptionRe  = regexp.MustCompile(`Description:[ \t]*(\S.*)`)
	barLengthRe    = regexp.MustCompile(`Bar Length:[ \t]*(\d+)`)
	totalUsedRe    = regexp.MustCompile(`Total Used:[ \t]*(\d+)`)
	useOffcutRe    = regexp.MustCompile(`Use Offcuts?:[ \t]*([\d \t&]*)`)
	saveOffcutRe   = regexp.MustCompile(`Save Offcuts?:[ \t]*([\d \t&]*)`)
	productStartRe = regexp.MustCompile(`Product Code:`)
)

// TextReport reads the saw optimiser's "BAR OPTIMISING" text report. The
// batch and saw headers carry over into later sections until replaced.
type TextReport struct{}

func (TextReport) Parse(content []byte) ([]Row, error) {
	var (
		rows    []Row
		batch   string
		sawName string
	)

	for _, section := range sectionSep.Split(string(content), -1) {
		if m := batchRe.FindStringSubmatch(section); m != nil {
			batch = m[1]
		}
		if m := sawRe.FindStringSubmatch(section); m != nil {
			sawName = strings.TrimSpace(m[1])
		}

		for _, product := range splitProducts(section) {
			row, err := parseProduct(product)
			if err != nil {
				return nil, fmt.Errorf("product %d: %w", len(rows)+1, err)
			}
			row.BatchCode = batch
			row.SawName = sawName
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func splitProducts(section string) []string {
	starts := productStartRe.FindAllStringIndex(section, -1)
	products := make([]string, 0, len(starts))
	for i, loc := range starts {
		end := len(section)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		products = append(products, section[loc[0]:end])
	}
	return products
}

func parseProduct(product string) (Row, error) {
	var row Row
	var err error

	row.ItemCode = firstMatch(productCodeRe, product)
	row.ItemDescription = firstMatch(descriptionRe, product)
	row.DoubleCut = strings.Contains(product, doubleCutMarker)

	if s := firstMatch(barLengthRe, product); s != "" {
		row.InputLength, _ = strconv.Atoi(s)
	}
	if s := firstMatch(totalUsedRe, product); s != "" {
		row.UsedLength, _ = strconv.Atoi(s)
	}

	if row.SuggestedOffcutIDs, err = ParseIDList(firstMatch(useOffcutRe, product)); err != nil {
		return Row{}, err
	}
	if row.SavedOffcutIDs, err = ParseIDList(firstMatch(saveOffcutRe, product)); err != nil {
		return Row{}, err
	}
	return row, nil
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
