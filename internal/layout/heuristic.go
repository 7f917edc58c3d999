package layout

import (
	"context"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
)

// HeuristicConfidence marks regions found without a trained detector
const HeuristicConfidence = 0.7

const (
	blockKernelW    = 30
	blockKernelH    = 5
	blockIterations = 3
	noiseFloor      = 0.001
)

// HeuristicSegmenter finds text blocks by smearing ink horizontally and
// classifying the resulting blobs by shape and position.
type HeuristicSegmenter struct{}

// NewHeuristicSegmenter creates the geometric fallback segmenter
func NewHeuristicSegmenter() *HeuristicSegmenter {
	return &HeuristicSegmenter{}
}

// Name implements Segmenter
func (s *HeuristicSegmenter) Name() string {
	return SourceHeuristic
}

// Segment implements Segmenter
func (s *HeuristicSegmenter) Segment(ctx context.Context, img *imaging.Raster) ([]document.Region, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ink := imaging.BinarizeOtsu(img, true)
	blocks := imaging.Dilate(ink, blockKernelW, blockKernelH, blockIterations)
	components := imaging.LabelComponents(blocks).External()

	minArea := float64(img.Width*img.Height) * noiseFloor
	var regions []document.Region
	for _, c := range components {
		if float64(c.BBox.Area()) < minArea {
			continue
		}
		regions = append(regions, document.Region{
			Type:       ClassifyBlock(c.BBox, img.Width, img.Height),
			BBox:       c.BBox,
			Confidence: HeuristicConfidence,
		})
	}
	return regions, nil
}

// ClassifyBlock assigns a region type from a block's geometry on a page of
// size w x h. Rules are checked in order; the first match wins.
func ClassifyBlock(box document.BoundingBox, w, h int) document.RegionType {
	aspect := 0.0
	if box.Height > 0 {
		aspect = float64(box.Width) / float64(box.Height)
	}
	relW := float64(box.Width) / float64(w)
	relH := float64(box.Height) / float64(h)

	switch {
	case aspect > 5 && relW > 0.5:
		switch {
		case float64(box.Y) < float64(h)*0.15:
			return document.RegionHeader
		case float64(box.Y) > float64(h)*0.85:
			return document.RegionFooter
		default:
			return document.RegionParagraph
		}
	case relH > 0.3 && relW > 0.5:
		return document.RegionTable
	case aspect < 1.5 && relW < 0.3:
		return document.RegionFigure
	default:
		return document.RegionParagraph
	}
}
