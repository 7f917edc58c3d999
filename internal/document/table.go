package document

import (
	"fmt"
	"strconv"
)

// TableCell represents one logical cell of a table grid
type TableCell struct {
	Row        int         `json:"row"`
	Col        int         `json:"col"`
	RowSpan    int         `json:"row_span"`
	ColSpan    int         `json:"col_span"`
	Text       string      `json:"text"`
	BBox       BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	IsHeader   bool        `json:"is_header"`
}

// TableGrid represents a reconstructed table
type TableGrid struct {
	BBox       BoundingBox `json:"bbox"`
	Cells      []TableCell `json:"cells"`
	NumRows    int         `json:"num_rows"`
	NumCols    int         `json:"num_cols"`
	Confidence float64     `json:"confidence"`
	HasHeader  bool        `json:"has_header"`
}

// Validate checks that every (row,col) is covered by exactly one cell span
func (t *TableGrid) Validate() error {
	if t.NumRows < 0 || t.NumCols < 0 {
		return fieldError("table.dimensions", fmt.Sprintf("negative size %dx%d", t.NumRows, t.NumCols))
	}
	covered := make([]int, t.NumRows*t.NumCols)
	for i, c := range t.Cells {
		field := fmt.Sprintf("table.cells[%d]", i)
		if c.RowSpan < 1 || c.ColSpan < 1 {
			return fieldError(field+".span", fmt.Sprintf("spans must be >= 1, got %dx%d", c.RowSpan, c.ColSpan))
		}
		if c.Row < 0 || c.Col < 0 || c.Row+c.RowSpan > t.NumRows || c.Col+c.ColSpan > t.NumCols {
			return fieldError(field, fmt.Sprintf("span (%d,%d)+(%d,%d) exceeds %dx%d grid",
				c.Row, c.Col, c.RowSpan, c.ColSpan, t.NumRows, t.NumCols))
		}
		for r := c.Row; r < c.Row+c.RowSpan; r++ {
			for col := c.Col; col < c.Col+c.ColSpan; col++ {
				covered[r*t.NumCols+col]++
			}
		}
	}
	for idx, n := range covered {
		if n != 1 {
			return fieldError("table.cells", fmt.Sprintf("position (%d,%d) covered %d times",
				idx/t.NumCols, idx%t.NumCols, n))
		}
	}
	return nil
}

// Matrix expands the grid into NumRows x NumCols strings; spanned positions
// other than the top-left stay empty.
func (t *TableGrid) Matrix() [][]string {
	m := make([][]string, t.NumRows)
	for r := range m {
		m[r] = make([]string, t.NumCols)
	}
	for _, c := range t.Cells {
		if c.Row >= 0 && c.Row < t.NumRows && c.Col >= 0 && c.Col < t.NumCols {
			m[c.Row][c.Col] = c.Text
		}
	}
	return m
}

// Clone deep-copies the grid
func (t TableGrid) Clone() TableGrid {
	c := t
	c.Cells = append([]TableCell(nil), t.Cells...)
	return c
}

// ColumnType is the inferred type of an aligned table column
type ColumnType string

const (
	ColumnText       ColumnType = "text"
	ColumnNumber     ColumnType = "number"
	ColumnCurrency   ColumnType = "currency"
	ColumnDate       ColumnType = "date"
	ColumnPercentage ColumnType = "percentage"
)

// ValidationError is an advisory cell parse failure
type ValidationError struct {
	Row          int        `json:"row"`
	Col          int        `json:"col"`
	Value        string     `json:"value"`
	ExpectedType ColumnType `json:"expected_type"`
	Message      string     `json:"error"`
}

// AlignedTable is a validated, typed table. Cell values are nil, string,
// int64 or float64.
type AlignedTable struct {
	Headers          []string          `json:"headers"`
	Rows             [][]interface{}   `json:"rows"`
	ColumnTypes      []ColumnType      `json:"column_types"`
	ValidationErrors []ValidationError `json:"validation_errors"`
	Normalized       bool              `json:"normalized"`
}

// Records converts rows into header-keyed maps; cells beyond the headers
// are keyed column_<i>.
func (a *AlignedTable) Records() []map[string]interface{} {
	records := make([]map[string]interface{}, 0, len(a.Rows))
	for _, row := range a.Rows {
		rec := make(map[string]interface{}, len(row))
		for i, v := range row {
			key := "column_" + strconv.Itoa(i)
			if i < len(a.Headers) {
				key = a.Headers[i]
			}
			rec[key] = v
		}
		records = append(records, rec)
	}
	return records
}

// Clone deep-copies the aligned table
func (a AlignedTable) Clone() AlignedTable {
	c := a
	c.Headers = append([]string(nil), a.Headers...)
	c.ColumnTypes = append([]ColumnType(nil), a.ColumnTypes...)
	c.ValidationErrors = append([]ValidationError(nil), a.ValidationErrors...)
	c.Rows = make([][]interface{}, len(a.Rows))
	for i, r := range a.Rows {
		c.Rows[i] = append([]interface{}(nil), r...)
	}
	return c
}
