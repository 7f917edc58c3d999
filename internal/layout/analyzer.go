/**
 * Layout Analyzer
 *
 * Partitions a page into typed regions and assigns reading order.
 * Model-backed segmenters (MageAgent vision, Document AI) are tried first
 * when configured; the geometric heuristic is the fallback whenever they
 * fail or find nothing.
 */

package layout

import (
	"context"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
)

// Region sources reported in Result.Source
const (
	SourceHeuristic  = "heuristic"
	SourceMageAgent  = "mageagent"
	SourceDocumentAI = "documentai"
)

// Segmenter detects typed regions on a page image
type Segmenter interface {
	Name() string
	Segment(ctx context.Context, img *imaging.Raster) ([]document.Region, error)
}

// Result represents the result of layout analysis
type Result struct {
	Regions        []document.Region `json:"regions"`
	PageWidth      int               `json:"page_width"`
	PageHeight     int               `json:"page_height"`
	HasTables      bool              `json:"has_tables"`
	HasFigures     bool              `json:"has_figures"`
	ReadingOrder   []int             `json:"reading_order"`
	Source         string            `json:"source"`
	ProcessingTime time.Duration     `json:"processing_time"`
}

// Analyzer performs document layout analysis
type Analyzer struct {
	primary  Segmenter
	fallback Segmenter
	logger   *logging.Logger
}

// NewAnalyzer creates an analyzer; a nil primary uses the heuristic only
func NewAnalyzer(primary Segmenter) *Analyzer {
	return &Analyzer{
		primary:  primary,
		fallback: NewHeuristicSegmenter(),
		logger:   logging.NewLogger("LayoutAnalyzer"),
	}
}

// Analyze segments the page and orders its regions
func (a *Analyzer) Analyze(ctx context.Context, img *imaging.Raster) (*Result, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	var regions []document.Region
	source := ""

	if a.primary != nil && a.primary.Name() != SourceHeuristic {
		found, err := a.primary.Segment(ctx, img)
		switch {
		case err != nil:
			a.logger.Warn("Model-backed layout failed, falling back to heuristic", "source", a.primary.Name(), "error", err)
		case len(found) == 0:
			a.logger.Info("Model-backed layout found no regions, falling back to heuristic", "source", a.primary.Name())
		default:
			regions, source = sanitize(found, img.Width, img.Height), a.primary.Name()
		}
	}

	if source == "" {
		found, err := a.fallback.Segment(ctx, img)
		if err != nil {
			return nil, errors.NewLayoutFailedError("", SourceHeuristic, err)
		}
		regions, source = found, SourceHeuristic
	}

	ordered, order := AssignReadingOrder(regions)
	result := &Result{
		Regions:        ordered,
		PageWidth:      img.Width,
		PageHeight:     img.Height,
		ReadingOrder:   order,
		Source:         source,
		ProcessingTime: time.Since(start),
	}
	for _, r := range ordered {
		switch r.Type {
		case document.RegionTable:
			result.HasTables = true
		case document.RegionFigure:
			result.HasFigures = true
		}
	}

	a.logger.Info("Layout analysis complete", "source", source, "regions", len(ordered),
		"tables", result.HasTables, "figures", result.HasFigures, "duration", result.ProcessingTime)
	return result, nil
}

// sanitize clamps model output onto the page and drops degenerate regions
func sanitize(regions []document.Region, w, h int) []document.Region {
	out := make([]document.Region, 0, len(regions))
	for _, r := range regions {
		r.BBox = r.BBox.ClampTo(w, h)
		if r.BBox.Empty() {
			continue
		}
		r.Confidence = min(max(r.Confidence, 0), 1)
		if r.Type == "" {
			r.Type = document.RegionUnknown
		}
		out = append(out, r)
	}
	return out
}
