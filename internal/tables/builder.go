package tables

import (
	"github.com/Sireeshreddy01/structa-ai/internal/document"
)

// gridBuilder lays out cells reported row by row (with spans) onto a grid.
// Each cell takes the first free column of its row; spans that would run
// into an occupied position are shortened, and positions left uncovered are
// filled with empty cells, so the result always satisfies the coverage
// invariant.
type gridBuilder struct {
	occupied map[[2]int]bool
	cells    []document.TableCell
	numRows  int
	numCols  int
}

func newGridBuilder() *gridBuilder {
	return &gridBuilder{occupied: make(map[[2]int]bool)}
}

// add places cell in row; Row and Col of the cell are assigned here
func (b *gridBuilder) add(row int, cell document.TableCell) {
	col := 0
	for b.occupied[[2]int{row, col}] {
		col++
	}
	rowSpan, colSpan := max(cell.RowSpan, 1), max(cell.ColSpan, 1)
	for c := 1; c < colSpan; c++ {
		if b.occupied[[2]int{row, col + c}] {
			colSpan = c
			break
		}
	}
	for r := 1; r < rowSpan; r++ {
		if b.spanBlocked(row+r, col, colSpan) {
			rowSpan = r
			break
		}
	}

	cell.Row, cell.Col = row, col
	cell.RowSpan, cell.ColSpan = rowSpan, colSpan
	for r := row; r < row+rowSpan; r++ {
		for c := col; c < col+colSpan; c++ {
			b.occupied[[2]int{r, c}] = true
		}
	}
	b.cells = append(b.cells, cell)
	b.numRows = max(b.numRows, row+rowSpan)
	b.numCols = max(b.numCols, col+colSpan)
}

func (b *gridBuilder) spanBlocked(row, col, colSpan int) bool {
	for c := col; c < col+colSpan; c++ {
		if b.occupied[[2]int{row, c}] {
			return true
		}
	}
	return false
}

// build completes the grid, padding uncovered positions with empty cells
func (b *gridBuilder) build(bbox document.BoundingBox, confidence float64, hasHeader bool) document.TableGrid {
	for r := 0; r < b.numRows; r++ {
		for c := 0; c < b.numCols; c++ {
			if b.occupied[[2]int{r, c}] {
				continue
			}
			b.cells = append(b.cells, document.TableCell{
				Row:        r,
				Col:        c,
				RowSpan:    1,
				ColSpan:    1,
				BBox:       bbox,
				Confidence: confidence,
				IsHeader:   hasHeader && r == 0,
			})
		}
	}
	return document.TableGrid{
		BBox:       bbox,
		Cells:      b.cells,
		NumRows:    b.numRows,
		NumCols:    b.numCols,
		Confidence: confidence,
		HasHeader:  hasHeader,
	}
}
