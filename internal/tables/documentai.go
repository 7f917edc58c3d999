package tables

import (
	"context"
	"fmt"

	"cloud.google.com/go/documentai/apiv1/documentaipb"

	"github.com/Sireeshreddy01/structa-ai/internal/clients"
	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
)

// DocumentProcessor is the part of the Document AI client used here
type DocumentProcessor interface {
	ProcessImage(ctx context.Context, png []byte) (*documentaipb.Document, error)
}

// DocumentAIExtractor reads table structure from Document AI. Header rows
// come first in each grid; body rows follow.
type DocumentAIExtractor struct {
	processor DocumentProcessor
	fallback  GridExtractor
	logger    *logging.Logger
}

// NewDocumentAIExtractor creates a Document AI backed extractor
func NewDocumentAIExtractor(processor DocumentProcessor, fallback GridExtractor) *DocumentAIExtractor {
	return &DocumentAIExtractor{
		processor: processor,
		fallback:  fallback,
		logger:    logging.NewLogger("DocumentAITables"),
	}
}

// Name implements GridExtractor
func (e *DocumentAIExtractor) Name() string {
	return SourceDocumentAI
}

// Extract implements GridExtractor
func (e *DocumentAIExtractor) Extract(ctx context.Context, page *imaging.Raster, region document.BoundingBox) ([]document.TableGrid, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	region = region.ClampTo(page.Width, page.Height)
	if region.Empty() {
		return nil, errors.NewInvalidInputError("region", "table region lies outside the page")
	}

	grids, err := e.extract(ctx, page.Crop(region), region)
	if err != nil || len(grids) == 0 {
		if err != nil {
			e.logger.Warn("Document AI table extraction failed, using rule-line heuristic", "error", err)
		}
		if e.fallback == nil {
			return nil, err
		}
		return e.fallback.Extract(ctx, page, region)
	}
	return grids, nil
}

func (e *DocumentAIExtractor) extract(ctx context.Context, crop *imaging.Raster, region document.BoundingBox) ([]document.TableGrid, error) {
	data, err := crop.EncodePNG()
	if err != nil {
		return nil, fmt.Errorf("failed to encode table region: %w", err)
	}
	doc, err := e.processor.ProcessImage(ctx, data)
	if err != nil {
		return nil, errors.NewTableExtractionFailedError("", SourceDocumentAI, err)
	}
	if len(doc.GetPages()) == 0 {
		return nil, nil
	}

	var grids []document.TableGrid
	for _, t := range doc.GetPages()[0].GetTables() {
		grid, ok := convertTable(t, doc.GetText(), region)
		if ok {
			grids = append(grids, grid)
		}
	}
	e.logger.Info("Document AI tables extracted", "tables", len(grids))
	return grids, nil
}

func convertTable(t *documentaipb.Document_Page_Table, text string, region document.BoundingBox) (document.TableGrid, bool) {
	bbox := region
	if box, ok := clients.LayoutBox(t.GetLayout(), region.Width, region.Height); ok {
		bbox = box.Offset(region.X, region.Y)
	}

	rows := append(append([]*documentaipb.Document_Page_Table_TableRow(nil), t.GetHeaderRows()...), t.GetBodyRows()...)
	numHeader := len(t.GetHeaderRows())

	b := newGridBuilder()
	for r, row := range rows {
		for _, c := range row.GetCells() {
			box := bbox
			if cb, ok := clients.LayoutBox(c.GetLayout(), region.Width, region.Height); ok {
				box = cb.Offset(region.X, region.Y)
			}
			b.add(r, document.TableCell{
				RowSpan:    int(c.GetRowSpan()),
				ColSpan:    int(c.GetColSpan()),
				Text:       clients.LayoutText(c.GetLayout(), text),
				BBox:       box,
				Confidence: float64(c.GetLayout().GetConfidence()),
				IsHeader:   r < numHeader,
			})
		}
	}
	if b.numRows == 0 || b.numCols == 0 {
		return document.TableGrid{}, false
	}
	return b.build(bbox, float64(t.GetLayout().GetConfidence()), numHeader > 0), true
}
