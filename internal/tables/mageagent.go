package tables

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sireeshreddy01/structa-ai/internal/clients"
	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
)

// TableAPI is the part of the MageAgent client used for table structure
type TableAPI interface {
	ExtractTableFromBytes(ctx context.Context, imageData []byte, language string) (*clients.TableExtractionResponse, error)
}

// MageAgentExtractor sends the cropped table region to the MageAgent vision
// service and falls back to another extractor on failure.
type MageAgentExtractor struct {
	api      TableAPI
	language string
	fallback GridExtractor
	logger   *logging.Logger
}

// NewMageAgentExtractor creates a vision-backed extractor
func NewMageAgentExtractor(api TableAPI, language string, fallback GridExtractor) *MageAgentExtractor {
	if language == "" {
		language = "en"
	}
	return &MageAgentExtractor{
		api:      api,
		language: language,
		fallback: fallback,
		logger:   logging.NewLogger("MageAgentTables"),
	}
}

// Name implements GridExtractor
func (e *MageAgentExtractor) Name() string {
	return SourceMageAgent
}

// Extract implements GridExtractor
func (e *MageAgentExtractor) Extract(ctx context.Context, page *imaging.Raster, region document.BoundingBox) ([]document.TableGrid, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	region = region.ClampTo(page.Width, page.Height)
	if region.Empty() {
		return nil, errors.NewInvalidInputError("region", "table region lies outside the page")
	}

	grid, err := e.extract(ctx, page.Crop(region), region)
	if err != nil || grid == nil {
		if err != nil {
			e.logger.Warn("Table extraction failed, using rule-line heuristic", "error", err)
		}
		if e.fallback == nil {
			return nil, err
		}
		return e.fallback.Extract(ctx, page, region)
	}
	return []document.TableGrid{*grid}, nil
}

func (e *MageAgentExtractor) extract(ctx context.Context, crop *imaging.Raster, region document.BoundingBox) (*document.TableGrid, error) {
	data, err := crop.EncodePNG()
	if err != nil {
		return nil, fmt.Errorf("failed to encode table region: %w", err)
	}
	resp, err := e.api.ExtractTableFromBytes(ctx, data, e.language)
	if err != nil {
		return nil, errors.NewTableExtractionFailedError("", SourceMageAgent, err)
	}
	if len(resp.Data.Rows) == 0 {
		return nil, nil
	}

	hasHeader := false
	b := newGridBuilder()
	for r, row := range resp.Data.Rows {
		for _, c := range row.Cells {
			header := row.IsHeader || c.IsHeader
			if r == 0 && header {
				hasHeader = true
			}
			box := region
			if c.BoundingBox != nil {
				box = document.BoundingBox{
					X:      c.BoundingBox.X,
					Y:      c.BoundingBox.Y,
					Width:  c.BoundingBox.Width,
					Height: c.BoundingBox.Height,
				}.ClampTo(region.Width, region.Height).Offset(region.X, region.Y)
			}
			confidence := c.Confidence
			if confidence <= 0 {
				confidence = resp.Data.Confidence
			}
			b.add(r, document.TableCell{
				RowSpan:    c.RowSpan,
				ColSpan:    c.ColSpan,
				Text:       strings.TrimSpace(c.Content),
				BBox:       box,
				Confidence: min(max(confidence, 0), 1),
				IsHeader:   header,
			})
		}
	}

	grid := b.build(region, min(max(resp.Data.Confidence, 0), 1), hasHeader)
	e.logger.Info("Table extracted", "rows", grid.NumRows, "cols", grid.NumCols,
		"confidence", grid.Confidence, "model", resp.Data.ModelUsed)
	return &grid, nil
}
