package layout

import (
	"context"
	"fmt"

	"cloud.google.com/go/documentai/apiv1/documentaipb"

	"github.com/Sireeshreddy01/structa-ai/internal/clients"
	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
)

// DocumentProcessor is the part of the Document AI client used here
type DocumentProcessor interface {
	ProcessImage(ctx context.Context, png []byte) (*documentaipb.Document, error)
}

// DocumentAISegmenter maps Document AI page structure onto regions:
// blocks become paragraphs, tables become tables, visual elements become
// figures (or equations for math formulas).
type DocumentAISegmenter struct {
	processor DocumentProcessor
}

// NewDocumentAISegmenter creates a Document AI backed segmenter
func NewDocumentAISegmenter(processor DocumentProcessor) *DocumentAISegmenter {
	return &DocumentAISegmenter{processor: processor}
}

// Name implements Segmenter
func (s *DocumentAISegmenter) Name() string {
	return SourceDocumentAI
}

// Segment implements Segmenter
func (s *DocumentAISegmenter) Segment(ctx context.Context, img *imaging.Raster) ([]document.Region, error) {
	data, err := img.EncodePNG()
	if err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	doc, err := s.processor.ProcessImage(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(doc.GetPages()) == 0 {
		return nil, nil
	}
	return pageRegions(doc.GetPages()[0], doc.GetText(), img.Width, img.Height), nil
}

func pageRegions(page *documentaipb.Document_Page, text string, w, h int) []document.Region {
	var regions []document.Region
	var tableBoxes []document.BoundingBox

	for _, t := range page.GetTables() {
		box, ok := clients.LayoutBox(t.GetLayout(), w, h)
		if !ok {
			continue
		}
		tableBoxes = append(tableBoxes, box)
		regions = append(regions, document.Region{
			Type:       document.RegionTable,
			BBox:       box,
			Confidence: float64(t.GetLayout().GetConfidence()),
		})
	}

	for _, b := range page.GetBlocks() {
		box, ok := clients.LayoutBox(b.GetLayout(), w, h)
		if !ok || insideAny(box, tableBoxes) {
			continue
		}
		regions = append(regions, document.Region{
			Type:       document.RegionParagraph,
			BBox:       box,
			Confidence: float64(b.GetLayout().GetConfidence()),
			Content:    clients.LayoutText(b.GetLayout(), text),
		})
	}

	for _, v := range page.GetVisualElements() {
		box, ok := clients.LayoutBox(v.GetLayout(), w, h)
		if !ok {
			continue
		}
		kind := document.RegionFigure
		if v.GetType() == "math_formula" {
			kind = document.RegionEquation
		}
		regions = append(regions, document.Region{
			Type:       kind,
			BBox:       box,
			Confidence: float64(v.GetLayout().GetConfidence()),
		})
	}
	return regions
}

// insideAny reports whether box's center falls inside one of the boxes
func insideAny(box document.BoundingBox, boxes []document.BoundingBox) bool {
	cx, cy := box.Center()
	for _, b := range boxes {
		if b.ContainsPoint(cx, cy) {
			return true
		}
	}
	return false
}
