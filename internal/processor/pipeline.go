/**
 * Structuring Pipeline
 *
 * Runs one page image through the core stages:
 * normalize → recognize → correct → segment → tables → align → structure.
 * Every stage is synchronous; the context is checked between stages so a
 * job deadline stops the pipeline before the next stage starts.
 */

package processor

import (
	"context"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/correction"
	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
	"github.com/Sireeshreddy01/structa-ai/internal/layout"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/Sireeshreddy01/structa-ai/internal/ocr"
	"github.com/Sireeshreddy01/structa-ai/internal/spatial"
	"github.com/Sireeshreddy01/structa-ai/internal/structuring"
	"github.com/Sireeshreddy01/structa-ai/internal/tables"
)

// Options selects optional pipeline stages for one job
type Options struct {
	Preprocess    bool `json:"preprocess"`
	ExtractTables bool `json:"extractTables"`
	CorrectText   bool `json:"correctText"`
	Perspective   bool `json:"perspective"`
}

// DefaultOptions enables everything except perspective correction
func DefaultOptions() Options {
	return Options{Preprocess: true, ExtractTables: true, CorrectText: true}
}

// OptionOverrides carries the options a job payload actually set
type OptionOverrides struct {
	Preprocess    *bool `json:"preprocess,omitempty"`
	ExtractTables *bool `json:"extractTables,omitempty"`
	CorrectText   *bool `json:"correctText,omitempty"`
	Perspective   *bool `json:"perspective,omitempty"`
}

// Apply returns base with every set override applied
func (o *OptionOverrides) Apply(base Options) Options {
	if o == nil {
		return base
	}
	if o.Preprocess != nil {
		base.Preprocess = *o.Preprocess
	}
	if o.ExtractTables != nil {
		base.ExtractTables = *o.ExtractTables
	}
	if o.CorrectText != nil {
		base.CorrectText = *o.CorrectText
	}
	if o.Perspective != nil {
		base.Perspective = *o.Perspective
	}
	return base
}

// PipelineConfig wires the stages. Unset stages get the heuristic default;
// a nil Recognizer yields a page without text and a nil Corrector skips
// correction.
type PipelineConfig struct {
	Normalizer *imaging.Normalizer
	Recognizer ocr.Recognizer
	Corrector  *correction.Corrector
	Layout     *layout.Analyzer
	Tables     tables.GridExtractor
	Aligner    *tables.Aligner
	Organizer  *spatial.Organizer
	Engine     *structuring.Engine
}

// Pipeline turns page images into structured documents
type Pipeline struct {
	normalizer *imaging.Normalizer
	recognizer ocr.Recognizer
	corrector  *correction.Corrector
	layout     *layout.Analyzer
	tables     tables.GridExtractor
	aligner    *tables.Aligner
	organizer  *spatial.Organizer
	engine     *structuring.Engine
	logger     *logging.Logger
}

// PageResult is everything the pipeline learned about one page
type PageResult struct {
	Document     *document.StructuredDocument
	Image        *imaging.Raster
	Normalize    *imaging.NormalizeReport
	LayoutSource string
	Corrections  []correction.Correction
	NumberIssues []correction.NumberIssue
	Fingerprint  []float32
	Duration     time.Duration
}

// NewPipeline creates a pipeline, filling unset stages with defaults
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Normalizer == nil {
		cfg.Normalizer = imaging.NewNormalizer(imaging.DefaultNormalizerConfig())
	}
	if cfg.Layout == nil {
		cfg.Layout = layout.NewAnalyzer(nil)
	}
	if cfg.Tables == nil {
		cfg.Tables = tables.NewHeuristicExtractor(nil)
	}
	if cfg.Aligner == nil {
		cfg.Aligner = tables.NewAligner()
	}
	if cfg.Organizer == nil {
		cfg.Organizer = spatial.NewOrganizer(spatial.OrganizerConfig{})
	}
	if cfg.Engine == nil {
		cfg.Engine = structuring.NewEngine(cfg.Organizer)
	}
	return &Pipeline{
		normalizer: cfg.Normalizer,
		recognizer: cfg.Recognizer,
		corrector:  cfg.Corrector,
		layout:     cfg.Layout,
		tables:     cfg.Tables,
		aligner:    cfg.Aligner,
		organizer:  cfg.Organizer,
		engine:     cfg.Engine,
		logger:     logging.NewLogger("Pipeline"),
	}
}

// Run processes one page. Malformed images, recognition failures and
// deadlines are errors; a failing table region is logged and skipped.
func (p *Pipeline) Run(ctx context.Context, jobID string, img *imaging.Raster, opts Options) (*PageResult, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	log := p.logger.With("job_id", jobID)
	res := &PageResult{}

	if opts.Perspective {
		corrected, applied, err := p.normalizer.PerspectiveCorrect(img, nil)
		if err != nil {
			return nil, err
		}
		if applied {
			log.Debug("Perspective corrected")
		}
		img = corrected
	}
	if opts.Preprocess {
		normalized, report, err := p.normalizer.Normalize(ctx, img, imaging.AllSteps())
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.NewProcessingTimeoutError(jobID, time.Since(start), err)
			}
			return nil, err
		}
		img, res.Normalize = normalized, report
	}
	res.Image = img
	if err := checkpoint(ctx, jobID, start); err != nil {
		return nil, err
	}

	var tokens []document.TextToken
	var languages []string
	if p.recognizer != nil {
		recognized, err := p.recognizer.Recognize(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.NewProcessingTimeoutError(jobID, time.Since(start), err)
			}
			return nil, errors.NewRecognitionFailedError(jobID, p.recognizer.Name(), err)
		}
		tokens, languages = recognized.Tokens, recognized.Languages
		if opts.CorrectText && p.corrector != nil {
			tokens, res.Corrections = p.corrector.CorrectTokens(tokens)
			res.NumberIssues = p.corrector.ValidateNumbers(p.organizer.Text(tokens))
		}
	}
	log.Debug("Recognition stage done", "tokens", len(tokens), "corrections", len(res.Corrections))
	if err := checkpoint(ctx, jobID, start); err != nil {
		return nil, err
	}

	analysis, err := p.layout.Analyze(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewProcessingTimeoutError(jobID, time.Since(start), err)
		}
		return nil, err
	}
	res.LayoutSource = analysis.Source
	if err := checkpoint(ctx, jobID, start); err != nil {
		return nil, err
	}

	var grids []document.TableGrid
	var aligned []document.AlignedTable
	if opts.ExtractTables {
		grids = p.extractTables(ctx, log, img, analysis.Regions, tokens)
		for i := range grids {
			aligned = append(aligned, p.aligner.AlignGrid(&grids[i]))
		}
		if err := checkpoint(ctx, jobID, start); err != nil {
			return nil, err
		}
	}

	doc, err := p.engine.Structure(&structuring.Input{
		Tokens:        tokens,
		Regions:       analysis.Regions,
		Tables:        grids,
		AlignedTables: aligned,
		PageWidth:     img.Width,
		PageHeight:    img.Height,
		Languages:     languages,
	})
	if err != nil {
		return nil, err
	}
	res.Document = doc
	res.Fingerprint = LayoutFingerprint(analysis.Regions, img.Width, img.Height)
	res.Duration = time.Since(start)

	log.Info("Page structured", "blocks", len(doc.Blocks), "tables", len(grids),
		"layout_source", res.LayoutSource, "duration", res.Duration)
	return res, nil
}

// extractTables reconstructs every table region, falling back to
// delimiter-separated text when no ruled grid is found
func (p *Pipeline) extractTables(ctx context.Context, log *logging.Logger, img *imaging.Raster,
	regions []document.Region, tokens []document.TextToken) []document.TableGrid {

	var grids []document.TableGrid
	index := spatial.NewTokenIndex(tokens)
	org := p.organizer.ForPage(img.Height)
	for _, r := range regions {
		if r.Type != document.RegionTable {
			continue
		}
		found, err := p.tables.Extract(ctx, img, r.BBox)
		if err != nil {
			log.Warn("Table extraction failed, skipping region", "region", r.Order, "error", err)
			continue
		}
		if len(found) == 0 {
			if grid, ok := tables.DelimitedTable(org.Organize(index.Within(r.BBox)), r.BBox); ok {
				found = append(found, grid)
			}
		}
		grids = append(grids, found...)
	}
	return grids
}

func checkpoint(ctx context.Context, jobID string, start time.Time) error {
	if err := ctx.Err(); err != nil {
		return errors.NewProcessingTimeoutError(jobID, time.Since(start), err)
	}
	return nil
}
