package tables

import (
	"strings"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
)

// delimiters in detection priority order
var delimiters = []string{"|", "\t", ","}

// delimitedRun is a run of consecutive lines sharing a delimiter
type delimitedRun struct {
	start, end int
	delimiter  string
}

// DelimitedTable reconstructs a grid from the text lines of a table region
// that has no ruling lines, e.g. pipe or tab separated text. The longest run
// of at least two consecutive lines sharing a delimiter (with a column count
// varying by at most one) becomes the table; its cells carry bbox. Returns
// false when no such run exists.
func DelimitedTable(lines []string, bbox document.BoundingBox) (document.TableGrid, bool) {
	runs := detectDelimitedRuns(lines)
	if len(runs) == 0 {
		return document.TableGrid{}, false
	}
	best := runs[0]
	for _, r := range runs[1:] {
		if r.end-r.start > best.end-best.start {
			best = r
		}
	}

	b := newGridBuilder()
	row := 0
	for _, line := range lines[best.start:best.end] {
		cells := splitCells(line, best.delimiter)
		if len(cells) == 0 {
			continue
		}
		for _, text := range cells {
			b.add(row, document.TableCell{
				RowSpan:    1,
				ColSpan:    1,
				Text:       strings.TrimSpace(text),
				BBox:       bbox,
				Confidence: HeuristicConfidence,
				IsHeader:   row == 0,
			})
		}
		row++
	}
	if row < 2 {
		return document.TableGrid{}, false
	}
	return b.build(bbox, HeuristicConfidence, true), true
}

// detectDelimitedRuns finds runs of 2+ lines with the same delimiter
func detectDelimitedRuns(lines []string) []delimitedRun {
	var runs []delimitedRun
	i := 0
	for i < len(lines) {
		delimiter := detectDelimiter(lines[i])
		if delimiter == "" {
			i++
			continue
		}

		start := i
		expected := strings.Count(lines[i], delimiter)
		i++
		for i < len(lines) && detectDelimiter(lines[i]) == delimiter {
			// irregular tables vary by a column
			if abs(strings.Count(lines[i], delimiter)-expected) > 1 {
				break
			}
			i++
		}

		if i-start >= 2 {
			runs = append(runs, delimitedRun{start: start, end: i, delimiter: delimiter})
		}
	}
	return runs
}

// detectDelimiter returns the first delimiter occurring at least twice
func detectDelimiter(line string) string {
	for _, d := range delimiters {
		if strings.Count(line, d) >= 2 {
			return d
		}
	}
	return ""
}

func splitCells(line, delimiter string) []string {
	cells := strings.Split(line, delimiter)
	if delimiter == "|" {
		// leading and trailing pipes frame the row
		if len(cells) > 0 && strings.TrimSpace(cells[0]) == "" {
			cells = cells[1:]
		}
		if len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
			cells = cells[:len(cells)-1]
		}
	}
	return cells
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
