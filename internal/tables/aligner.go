/**
 * Table Aligner
 *
 * Turns a raw cell matrix into a typed table: rows are padded to a common
 * width, headers are cleaned and de-duplicated, each column's type is voted
 * from its cells and every cell is parsed accordingly. Parse failures are
 * advisory and recorded alongside the table.
 */

package tables

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
)

var (
	currencyPattern   = regexp.MustCompile(`^[$£€¥]?\s*-?[\d,]+\.?\d*$`)
	percentagePattern = regexp.MustCompile(`^-?[\d.]+\s*%$`)
	datePatterns      = []*regexp.Regexp{
		regexp.MustCompile(`^\d{1,2}[/-]\d{1,2}[/-]\d{2,4}$`),
		regexp.MustCompile(`^\d{4}[/-]\d{1,2}[/-]\d{1,2}$`),
		regexp.MustCompile(`(?i)^(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+\d{1,2},?\s+\d{4}$`),
	}

	whitespaceRun  = regexp.MustCompile(`\s+`)
	headerStrip    = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	nonCurrencyNum = regexp.MustCompile(`[^\d.-]`)
)

// typePriority breaks ties in the column type vote
var typePriority = []document.ColumnType{
	document.ColumnCurrency,
	document.ColumnPercentage,
	document.ColumnDate,
	document.ColumnNumber,
	document.ColumnText,
}

// Aligner aligns and validates table data. It holds only compiled
// patterns and is safe for concurrent use.
type Aligner struct {
	logger *logging.Logger
}

// NewAligner creates a table aligner
func NewAligner() *Aligner {
	return &Aligner{logger: logging.NewLogger("TableAligner")}
}

// AlignGrid aligns the grid's matrix using its header flag
func (a *Aligner) AlignGrid(grid *document.TableGrid) document.AlignedTable {
	return a.Align(grid.Matrix(), grid.HasHeader)
}

// Align normalizes, types and parses a raw cell matrix
func (a *Aligner) Align(matrix [][]string, hasHeader bool) document.AlignedTable {
	if len(matrix) == 0 {
		return document.AlignedTable{
			Headers:          []string{},
			Rows:             [][]interface{}{},
			ColumnTypes:      []document.ColumnType{},
			ValidationErrors: []document.ValidationError{},
			Normalized:       true,
		}
	}

	matrix = NormalizeRows(matrix)
	width := len(matrix[0])

	var headers []string
	data := matrix
	if hasHeader {
		headers = make([]string, width)
		for i, h := range matrix[0] {
			headers[i] = strings.TrimSpace(h)
		}
		data = matrix[1:]
	} else {
		headers = make([]string, width)
		for i := range headers {
			headers[i] = fmt.Sprintf("Column %d", i+1)
		}
	}
	headers = CleanHeaders(headers)

	types := make([]document.ColumnType, width)
	for c := range types {
		column := make([]string, len(data))
		for r, row := range data {
			column[r] = row[c]
		}
		types[c] = InferColumnType(column)
	}

	rows := make([][]interface{}, len(data))
	validationErrors := []document.ValidationError{}
	for r, row := range data {
		rows[r] = make([]interface{}, width)
		for c, raw := range row {
			value := strings.TrimSpace(raw)
			parsed, err := ParseValue(value, types[c])
			if err != nil {
				validationErrors = append(validationErrors, document.ValidationError{
					Row:          r,
					Col:          c,
					Value:        value,
					ExpectedType: types[c],
					Message:      err.Error(),
				})
				rows[r][c] = value
				continue
			}
			rows[r][c] = parsed
		}
	}

	a.logger.Debug("Table aligned", "rows", len(rows), "cols", width, "errors", len(validationErrors))
	return document.AlignedTable{
		Headers:          headers,
		Rows:             rows,
		ColumnTypes:      types,
		ValidationErrors: validationErrors,
		Normalized:       true,
	}
}

// NormalizeRows pads every row with empty strings to the widest row.
// The input is not modified.
func NormalizeRows(matrix [][]string) [][]string {
	width := 0
	for _, row := range matrix {
		width = max(width, len(row))
	}
	out := make([][]string, len(matrix))
	for i, row := range matrix {
		out[i] = make([]string, width)
		copy(out[i], row)
	}
	return out
}

// CleanHeaders trims, strips punctuation, fills blanks with "Column N" and
// suffixes case-insensitive duplicates with _1, _2, ...
func CleanHeaders(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	out := make([]string, len(headers))
	for i, h := range headers {
		clean := whitespaceRun.ReplaceAllString(strings.TrimSpace(h), " ")
		clean = strings.TrimSpace(headerStrip.ReplaceAllString(clean, ""))
		if clean == "" {
			clean = fmt.Sprintf("Column %d", i+1)
		}

		base := clean
		for n := 1; seen[strings.ToLower(clean)]; n++ {
			clean = fmt.Sprintf("%s_%d", base, n)
		}
		seen[strings.ToLower(clean)] = true
		out[i] = clean
	}
	return out
}

// ClassifyValue returns the type class of a single non-empty value
func ClassifyValue(value string) document.ColumnType {
	switch {
	case currencyPattern.MatchString(value):
		return document.ColumnCurrency
	case percentagePattern.MatchString(value):
		return document.ColumnPercentage
	case isDate(value):
		return document.ColumnDate
	case isNumber(value):
		return document.ColumnNumber
	default:
		return document.ColumnText
	}
}

// InferColumnType votes a column type from its non-empty values
func InferColumnType(values []string) document.ColumnType {
	counts := make(map[document.ColumnType]int)
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		counts[ClassifyValue(v)]++
	}

	best, bestCount := document.ColumnText, 0
	for _, t := range typePriority {
		if counts[t] > bestCount {
			best, bestCount = t, counts[t]
		}
	}
	return best
}

// ParseValue converts a trimmed cell value to the column's type. Empty
// values are nil.
func ParseValue(value string, columnType document.ColumnType) (interface{}, error) {
	if value == "" {
		return nil, nil
	}

	switch columnType {
	case document.ColumnCurrency:
		clean := nonCurrencyNum.ReplaceAllString(value, "")
		if clean == "" {
			return 0.0, nil
		}
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid currency value %q", value)
		}
		return f, nil

	case document.ColumnPercentage:
		clean := strings.TrimSpace(strings.ReplaceAll(value, "%", ""))
		if clean == "" {
			return 0.0, nil
		}
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid percentage value %q", value)
		}
		return f / 100, nil

	case document.ColumnNumber:
		clean := numberCleaner.Replace(value)
		if strings.Contains(clean, ".") {
			f, err := strconv.ParseFloat(clean, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", value)
			}
			return f, nil
		}
		n, err := strconv.ParseInt(clean, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", value)
		}
		return n, nil

	default:
		// dates stay strings until a consumer parses them
		return value, nil
	}
}

var numberCleaner = strings.NewReplacer(",", "", " ", "")

func isDate(value string) bool {
	for _, p := range datePatterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

func isNumber(value string) bool {
	_, err := strconv.ParseFloat(numberCleaner.Replace(value), 64)
	return err == nil
}
