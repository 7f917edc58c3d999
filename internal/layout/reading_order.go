package layout

import (
	"sort"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
)

// AssignReadingOrder groups regions into rows of vertically overlapping
// boxes and reads rows top to bottom, each left to right. It returns copies
// of the regions with Order set, sorted by Order, and the reading order as
// indices into the input slice.
func AssignReadingOrder(regions []document.Region) ([]document.Region, []int) {
	if len(regions) == 0 {
		return nil, nil
	}

	byY := make([]int, len(regions))
	for i := range byY {
		byY[i] = i
	}
	sort.SliceStable(byY, func(a, b int) bool {
		return regions[byY[a]].BBox.Y < regions[byY[b]].BBox.Y
	})

	var rows [][]int
	var row []int
	for _, idx := range byY {
		if len(row) > 0 {
			last := regions[row[len(row)-1]]
			if !regions[idx].BBox.VerticalOverlap(last.BBox) {
				rows = append(rows, row)
				row = nil
			}
		}
		row = append(row, idx)
	}
	rows = append(rows, row)

	order := make([]int, 0, len(regions))
	for _, r := range rows {
		sort.SliceStable(r, func(a, b int) bool {
			return regions[r[a]].BBox.X < regions[r[b]].BBox.X
		})
		order = append(order, r...)
	}

	out := make([]document.Region, len(order))
	for pos, idx := range order {
		out[pos] = regions[idx].Clone()
		out[pos].Order = pos
	}
	return out, order
}
