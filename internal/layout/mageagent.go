package layout

import (
	"context"
	"fmt"

	"github.com/Sireeshreddy01/structa-ai/internal/clients"
	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
)

// LayoutAPI is the part of the MageAgent client used for segmentation
type LayoutAPI interface {
	AnalyzeLayoutFromBytes(ctx context.Context, imageData []byte, language string) (*clients.LayoutAnalysisResponse, error)
}

// MageAgentSegmenter asks the MageAgent vision service for regions
type MageAgentSegmenter struct {
	api      LayoutAPI
	language string
}

// NewMageAgentSegmenter creates a vision-backed segmenter
func NewMageAgentSegmenter(api LayoutAPI, language string) *MageAgentSegmenter {
	if language == "" {
		language = "en"
	}
	return &MageAgentSegmenter{api: api, language: language}
}

// Name implements Segmenter
func (s *MageAgentSegmenter) Name() string {
	return SourceMageAgent
}

// Segment implements Segmenter
func (s *MageAgentSegmenter) Segment(ctx context.Context, img *imaging.Raster) ([]document.Region, error) {
	data, err := img.EncodePNG()
	if err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	resp, err := s.api.AnalyzeLayoutFromBytes(ctx, data, s.language)
	if err != nil {
		return nil, err
	}

	regions := make([]document.Region, 0, len(resp.Data.Elements))
	for _, el := range resp.Data.Elements {
		regions = append(regions, document.Region{
			Type: MapElementType(el.Type),
			BBox: document.BoundingBox{
				X:      el.BoundingBox.X,
				Y:      el.BoundingBox.Y,
				Width:  el.BoundingBox.Width,
				Height: el.BoundingBox.Height,
			},
			Confidence: el.Confidence,
			Content:    el.Content,
		})
	}
	return regions, nil
}

// MapElementType maps MageAgent element types onto region types
func MapElementType(elementType string) document.RegionType {
	switch elementType {
	case "heading", "title":
		return document.RegionTitle
	case "paragraph", "quote":
		return document.RegionParagraph
	case "list":
		return document.RegionList
	case "table":
		return document.RegionTable
	case "image", "figure":
		return document.RegionFigure
	case "equation", "formula":
		return document.RegionEquation
	case "header":
		return document.RegionHeader
	case "footer", "page_number":
		return document.RegionFooter
	default:
		// caption, code and anything new read as plain text
		return document.RegionText
	}
}
