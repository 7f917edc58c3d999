/**
 * Geometry Normalizer
 *
 * Prepares a page image for segmentation and recognition. Steps run in a
 * fixed order: resize -> auto-crop -> deskew -> denoise -> contrast.
 * A step whose precondition is not met leaves the image unchanged; a step
 * that fails is logged and skipped.
 */

package imaging

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
)

// Step names reported in NormalizeReport.Applied
const (
	StepResize      = "resize"
	StepAutoCrop    = "auto_crop"
	StepDeskew      = "deskew"
	StepDenoise     = "denoise"
	StepContrast    = "contrast"
	StepPerspective = "perspective"
)

// NormalizerConfig tunes the normalization steps
type NormalizerConfig struct {
	MaxSize         int     // longest side limit for resize
	CropPadding     int     // pixels kept around the detected page
	MinCropRatio    float64 // page box must cover at least this share of the image
	MinSkew         float64 // degrees; smaller angles are left alone
	MaxSkew         float64 // degrees; larger angles are assumed intentional
	DenoiseStrength float64
	DenoiseBudget   int64 // pixel x search-offset work for denoising; 0 uses the default, <0 is unlimited
}

// DefaultNormalizerConfig returns the standard thresholds
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		MaxSize:         4096,
		CropPadding:     10,
		MinCropRatio:    0.3,
		MinSkew:         0.5,
		MaxSkew:         10,
		DenoiseStrength: 10,
		DenoiseBudget:   DefaultDenoiseBudget,
	}
}

// NormalizeOptions selects which steps run
type NormalizeOptions struct {
	Resize   bool
	AutoCrop bool
	Deskew   bool
	Denoise  bool
	Contrast bool
}

// AllSteps enables every default step
func AllSteps() NormalizeOptions {
	return NormalizeOptions{Resize: true, AutoCrop: true, Deskew: true, Denoise: true, Contrast: true}
}

// NormalizeReport describes what Normalize did
type NormalizeReport struct {
	Applied       []string `json:"applied"`
	SkewAngle     float64  `json:"skew_angle"`
	DenoiseRadius int      `json:"denoise_radius,omitempty"`
	OriginalSize  [2]int   `json:"original_size"`
	FinalSize     [2]int   `json:"final_size"`
}

// Normalizer applies geometric and photometric cleanup to page images
type Normalizer struct {
	cfg    NormalizerConfig
	logger *logging.Logger
}

// NewNormalizer creates a normalizer
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.MaxSize <= 0 {
		cfg = DefaultNormalizerConfig()
	}
	if cfg.DenoiseBudget == 0 {
		cfg.DenoiseBudget = DefaultDenoiseBudget
	}
	return &Normalizer{cfg: cfg, logger: logging.NewLogger("Normalizer")}
}

// Normalize runs the selected steps. A malformed input image is an error,
// and so is ctx ending; ctx is checked between steps and inside denoising.
func (n *Normalizer) Normalize(ctx context.Context, img *Raster, opts NormalizeOptions) (*Raster, *NormalizeReport, error) {
	if err := img.Validate(); err != nil {
		return nil, nil, err
	}
	report := &NormalizeReport{OriginalSize: [2]int{img.Width, img.Height}}
	cur := img

	run := func(enabled bool, name string, step func(*Raster) (*Raster, bool)) {
		if !enabled || ctx.Err() != nil {
			return
		}
		next, applied := n.safeStep(name, cur, step)
		if applied {
			cur = next
			report.Applied = append(report.Applied, name)
		}
	}

	run(opts.Resize, StepResize, func(r *Raster) (*Raster, bool) {
		return ResizeIfNeeded(r, n.cfg.MaxSize)
	})
	run(opts.AutoCrop, StepAutoCrop, func(r *Raster) (*Raster, bool) {
		return AutoCrop(r, n.cfg.CropPadding, n.cfg.MinCropRatio)
	})
	run(opts.Deskew, StepDeskew, func(r *Raster) (*Raster, bool) {
		out, angle, ok := Deskew(r, n.cfg.MinSkew, n.cfg.MaxSkew)
		if ok {
			report.SkewAngle = angle
		}
		return out, ok
	})
	run(opts.Denoise, StepDenoise, func(r *Raster) (*Raster, bool) {
		radius := SearchRadiusFor(r.Width*r.Height, n.cfg.DenoiseBudget)
		out, err := DenoiseNLM(ctx, r, n.cfg.DenoiseStrength, radius)
		if err != nil {
			return r, false
		}
		report.DenoiseRadius = radius
		return out, true
	})
	run(opts.Contrast, StepContrast, func(r *Raster) (*Raster, bool) {
		return EnhanceContrast(r), true
	})

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	report.FinalSize = [2]int{cur.Width, cur.Height}
	n.logger.Debug("Normalization complete", "applied", report.Applied, "skew", report.SkewAngle,
		"size", fmt.Sprintf("%dx%d", cur.Width, cur.Height))
	return cur, report, nil
}

// safeStep runs one step, turning a panic into an identity transform
func (n *Normalizer) safeStep(name string, img *Raster, step func(*Raster) (*Raster, bool)) (out *Raster, applied bool) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warn("Normalization step failed, skipping", "step", name, "panic", r)
			out, applied = img, false
		}
	}()
	out, applied = step(img)
	if out == nil || out.Validate() != nil {
		return img, false
	}
	return out, applied
}

// ResizeIfNeeded scales the image down so its longest side is at most maxSize
func ResizeIfNeeded(img *Raster, maxSize int) (*Raster, bool) {
	longest := max(img.Width, img.Height)
	if longest <= maxSize {
		return img, false
	}
	scale := float64(maxSize) / float64(longest)
	w := max(1, int(float64(img.Width)*scale))
	h := max(1, int(float64(img.Height)*scale))
	return Resize(img, w, h), true
}

// AutoCrop crops to the largest edge contour when it spans enough of the page
func AutoCrop(img *Raster, padding int, minRatio float64) (*Raster, bool) {
	edges := Canny(GaussianBlur(img.Gray(), 5, 0), 50, 150)
	contour, ok := LargestExternalContour(edges)
	if !ok {
		return img, false
	}
	rect := contour.BoundingRect()
	if float64(rect.Area()) < minRatio*float64(img.Width*img.Height) {
		return img, false
	}
	box := document.NewBoundingBoxFromCorners(rect.X-padding, rect.Y-padding,
		rect.Right()+padding, rect.Bottom()+padding).ClampTo(img.Width, img.Height)
	if box == img.Bounds() {
		return img, false
	}
	return img.Crop(box), true
}

// EstimateSkew measures the page rotation in degrees within (-45, 45];
// positive means text lines descend to the right.
func EstimateSkew(img *Raster) (float64, bool) {
	bin := BinarizeOtsu(img, true)
	w, h := bin.Width, bin.Height

	// the hull of all foreground pixels equals the hull of each row's extremes
	var pts []Point
	count := 0
	for y := 0; y < h; y++ {
		row := bin.Pix[y*w : (y+1)*w]
		first, last := -1, -1
		for x, v := range row {
			if v != 0 {
				if first < 0 {
					first = x
				}
				last = x
				count++
			}
		}
		if first >= 0 {
			pts = append(pts, Point{X: float64(first), Y: float64(y)}, Point{X: float64(last), Y: float64(y)})
		}
	}
	if count < 10 {
		return 0, false
	}
	rect := MinAreaRect(pts)
	return NormalizeSkew(rect.Angle), true
}

// Deskew rotates the page upright when minSkew < |angle| < maxSkew
func Deskew(img *Raster, minSkew, maxSkew float64) (*Raster, float64, bool) {
	angle, ok := EstimateSkew(img)
	if !ok {
		return img, 0, false
	}
	if a := math.Abs(angle); a <= minSkew || a >= maxSkew {
		return img, angle, false
	}
	return Rotate(img, angle), angle, true
}

// DetectDocumentCorners looks for a quadrilateral page outline and returns
// its corners ordered top-left, top-right, bottom-right, bottom-left.
func DetectDocumentCorners(img *Raster) ([4]image.Point, bool) {
	edges := Dilate(Canny(img.Gray(), 50, 150), 3, 3, 1)
	contour, ok := LargestExternalContour(edges)
	if !ok {
		return [4]image.Point{}, false
	}
	approx := ApproxPoly(contour, 0.02*contour.ArcLength())
	if len(approx) != 4 {
		return [4]image.Point{}, false
	}
	return OrderCorners(approx), true
}

// OrderCorners sorts four points into top-left, top-right, bottom-right,
// bottom-left using coordinate sums and differences.
func OrderCorners(pts []image.Point) [4]image.Point {
	var tl, tr, br, bl image.Point
	for i, p := range pts {
		sum, diff := p.X+p.Y, p.Y-p.X
		if i == 0 || sum < tl.X+tl.Y {
			tl = p
		}
		if i == 0 || sum > br.X+br.Y {
			br = p
		}
		if i == 0 || diff < tr.Y-tr.X {
			tr = p
		}
		if i == 0 || diff > bl.Y-bl.X {
			bl = p
		}
	}
	return [4]image.Point{tl, tr, br, bl}
}

// PerspectiveCorrect warps the page outline to a rectangle. Corners may be
// supplied (top-left, top-right, bottom-right, bottom-left); when nil they
// are detected. The input is returned unchanged when no outline is found.
func (n *Normalizer) PerspectiveCorrect(img *Raster, corners []image.Point) (*Raster, bool, error) {
	if err := img.Validate(); err != nil {
		return nil, false, err
	}
	var quad [4]image.Point
	switch {
	case corners == nil:
		q, ok := DetectDocumentCorners(img)
		if !ok {
			return img, false, nil
		}
		quad = q
	case len(corners) == 4:
		quad = OrderCorners(corners)
	default:
		return nil, false, errors.NewInvalidInputError("corners", fmt.Sprintf("need exactly 4 points, got %d", len(corners)))
	}

	out, applied := n.safeStep(StepPerspective, img, func(r *Raster) (*Raster, bool) {
		return warpQuad(r, quad)
	})
	return out, applied, nil
}

func warpQuad(img *Raster, quad [4]image.Point) (*Raster, bool) {
	tl, tr, br, bl := quad[0], quad[1], quad[2], quad[3]
	dist := func(a, b image.Point) float64 {
		return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
	}
	w := int(math.Max(dist(br, bl), dist(tr, tl)))
	h := int(math.Max(dist(tr, br), dist(tl, bl)))
	if w < 2 || h < 2 {
		return img, false
	}
	dst := [4]Point{{0, 0}, {float64(w - 1), 0}, {float64(w - 1), float64(h - 1)}, {0, float64(h - 1)}}
	var src [4]Point
	for i, p := range quad {
		src[i] = Point{X: float64(p.X), Y: float64(p.Y)}
	}
	hm, err := SolveHomography(dst, src)
	if err != nil {
		return img, false
	}
	return WarpPerspective(img, hm, w, h), true
}
