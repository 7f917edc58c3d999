/**
 * Table Grid Extraction
 *
 * Reconstructs ruled tables from a table region of the page. Horizontal and
 * vertical rules are isolated by directional opening; consecutive rule
 * positions bound the rows and columns of a regular grid whose cells are
 * read with the recognition engine.
 */

package tables

import (
	"context"
	"sort"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
)

// Extraction strategies selectable with TABLE_ENGINE
const (
	SourceHeuristic  = "heuristic"
	SourceMageAgent  = "mageagent"
	SourceDocumentAI = "documentai"
)

// HeuristicConfidence is assigned to grids and cells found from rule lines
const HeuristicConfidence = 0.6

// ruleLength is the minimum run, in pixels, that counts as a table rule
const ruleLength = 40

// GridExtractor reconstructs the tables inside a region of the page.
// Returned grids use page coordinates.
type GridExtractor interface {
	Name() string
	Extract(ctx context.Context, page *imaging.Raster, region document.BoundingBox) ([]document.TableGrid, error)
}

// CellReader recognizes the text of a single cropped cell
type CellReader interface {
	ReadCell(ctx context.Context, cell *imaging.Raster) (string, error)
}

// HeuristicExtractor finds ruled grids with morphology
type HeuristicExtractor struct {
	reader CellReader
	logger *logging.Logger
}

// NewHeuristicExtractor creates the rule-line extractor; reader may be nil,
// in which case cell text stays empty.
func NewHeuristicExtractor(reader CellReader) *HeuristicExtractor {
	return &HeuristicExtractor{
		reader: reader,
		logger: logging.NewLogger("TableExtractor"),
	}
}

// Name implements GridExtractor
func (e *HeuristicExtractor) Name() string {
	return SourceHeuristic
}

// Extract implements GridExtractor
func (e *HeuristicExtractor) Extract(ctx context.Context, page *imaging.Raster, region document.BoundingBox) ([]document.TableGrid, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	region = region.ClampTo(page.Width, page.Height)
	if region.Empty() {
		return nil, errors.NewInvalidInputError("region", "table region lies outside the page")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	crop := page.Crop(region)
	rows, cols := RulePositions(crop)
	if len(rows) < 2 || len(cols) < 2 {
		e.logger.Debug("No ruled grid found", "horizontal", len(rows), "vertical", len(cols))
		return nil, nil
	}

	grid := document.TableGrid{
		NumRows:    len(rows) - 1,
		NumCols:    len(cols) - 1,
		Confidence: HeuristicConfidence,
		HasHeader:  true,
	}
	boxes := make([]document.BoundingBox, 0, grid.NumRows*grid.NumCols)
	for r := 0; r < grid.NumRows; r++ {
		for c := 0; c < grid.NumCols; c++ {
			local := document.NewBoundingBoxFromCorners(cols[c], rows[r], cols[c+1], rows[r+1])
			grid.Cells = append(grid.Cells, document.TableCell{
				Row:        r,
				Col:        c,
				RowSpan:    1,
				ColSpan:    1,
				Text:       e.readCell(ctx, crop, local),
				BBox:       local.Offset(region.X, region.Y),
				Confidence: HeuristicConfidence,
				IsHeader:   r == 0,
			})
			boxes = append(boxes, local)
		}
	}
	grid.BBox = document.UnionAll(boxes).Offset(region.X, region.Y)

	e.logger.Info("Extracted ruled table", "rows", grid.NumRows, "cols", grid.NumCols)
	return []document.TableGrid{grid}, nil
}

func (e *HeuristicExtractor) readCell(ctx context.Context, crop *imaging.Raster, box document.BoundingBox) string {
	if e.reader == nil || box.Empty() {
		return ""
	}
	text, err := e.reader.ReadCell(ctx, crop.Crop(box))
	if err != nil {
		e.logger.Debug("Cell read failed", "bbox", box, "error", err)
		return ""
	}
	return text
}

// RulePositions returns the distinct sorted y positions of horizontal rules
// and x positions of vertical rules in img.
func RulePositions(img *imaging.Raster) (rows, cols []int) {
	ink := imaging.BinarizeOtsu(img, true)
	horizontal := imaging.Open(ink, ruleLength, 1)
	vertical := imaging.Open(ink, 1, ruleLength)

	for _, c := range imaging.LabelComponents(horizontal).External() {
		rows = append(rows, c.BBox.Y)
	}
	for _, c := range imaging.LabelComponents(vertical).External() {
		cols = append(cols, c.BBox.X)
	}
	return distinctSorted(rows), distinctSorted(cols)
}

func distinctSorted(v []int) []int {
	sort.Ints(v)
	var out []int
	for _, x := range v {
		if len(out) == 0 || x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}
