package imaging

import (
	"bytes"
	"context"
	"encoding/binary"
	stderrors "errors"
	"hash/crc32"
	"image"
	"image/png"
	"math"
	"testing"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
)

func filled(w, h, channels int, v uint8) *Raster {
	r := newRaster(w, h, channels)
	for i := range r.Pix {
		r.Pix[i] = v
	}
	return r
}

func fillRect(r *Raster, box document.BoundingBox, v uint8) {
	for y := box.Y; y < box.Bottom(); y++ {
		for x := box.X; x < box.Right(); x++ {
			for c := 0; c < r.Channels; c++ {
				r.Set(x, y, c, v)
			}
		}
	}
}

func TestRasterValidate(t *testing.T) {
	tests := []struct {
		name string
		r    *Raster
	}{
		{"nil", nil},
		{"zero width", &Raster{Width: 0, Height: 4, Channels: 1}},
		{"two channels", &Raster{Width: 2, Height: 2, Channels: 2, Pix: make([]uint8, 8)}},
		{"short buffer", &Raster{Width: 2, Height: 2, Channels: 3, Pix: make([]uint8, 5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.r.Validate(); !errors.Is(err, errors.ErrorInvalidImage) {
				t.Errorf("Validate() = %v, want INVALID_IMAGE", err)
			}
		})
	}
}

func TestDecodeRoundTripsPNG(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 7, 5))
	src.Pix[3] = 200
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}

	r, format, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if format != "png" || r.Width != 7 || r.Height != 5 || r.Channels != 1 || r.At(3, 0, 0) != 200 {
		t.Errorf("Decode() = %s %dx%dx%d", format, r.Width, r.Height, r.Channels)
	}

	if _, _, err := Decode([]byte("not an image")); !errors.Is(err, errors.ErrorInvalidImage) {
		t.Errorf("Decode(garbage) = %v, want INVALID_IMAGE", err)
	}
}

// pngHeader is a PNG signature and IHDR chunk declaring w x h RGB pixels,
// with no image data behind it
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // truecolor

	chunk := append([]byte("IHDR"), ihdr...)
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	_, format, err := Decode(pngHeader(60000, 60000))
	if !errors.Is(err, errors.ErrorInvalidImage) {
		t.Fatalf("Decode(60000x60000) = %v, want INVALID_IMAGE", err)
	}
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}

	var pe *errors.ProcessingError
	if !stderrors.As(err, &pe) {
		t.Fatalf("error %T is not a ProcessingError", err)
	}
	if pe.Details["width"] != 60000 || pe.Details["max_pixels"] != DefaultMaxPixels {
		t.Errorf("details = %v", pe.Details)
	}
}

func TestDecodeLimitedUsesGivenBudget(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 40, 30))
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}

	if _, _, err := DecodeLimited(buf.Bytes(), 1000); !errors.Is(err, errors.ErrorInvalidImage) {
		t.Errorf("DecodeLimited(1200 px, 1000) = %v, want INVALID_IMAGE", err)
	}
	if _, _, err := DecodeLimited(buf.Bytes(), 1200); err != nil {
		t.Errorf("DecodeLimited(1200 px, 1200) error = %v", err)
	}
	if _, _, err := DecodeLimited(buf.Bytes(), 0); err != nil {
		t.Errorf("DecodeLimited(unlimited) error = %v", err)
	}
}

func TestResizeIfNeeded(t *testing.T) {
	small := filled(120, 80, 3, 255)
	out, applied := ResizeIfNeeded(small, 4096)
	if applied || out.Width != 120 || out.Height != 80 {
		t.Errorf("in-limit image resized to %dx%d", out.Width, out.Height)
	}

	big := filled(400, 200, 1, 128)
	out, applied = ResizeIfNeeded(big, 100)
	if !applied || out.Width != 100 || out.Height != 50 {
		t.Errorf("ResizeIfNeeded() = %dx%d applied=%v, want 100x50", out.Width, out.Height, applied)
	}
}

func TestOtsuSeparatesBimodalImage(t *testing.T) {
	img := filled(40, 20, 1, 220)
	fillRect(img, document.BoundingBox{X: 0, Y: 0, Width: 20, Height: 20}, 20)

	level := OtsuLevel(img)
	if level < 20 || level >= 220 {
		t.Fatalf("OtsuLevel() = %d, want within [20,220)", level)
	}
	bin := Threshold(img, level, true)
	if bin.At(5, 5, 0) != 255 || bin.At(30, 5, 0) != 0 {
		t.Errorf("inverse threshold should mark dark pixels as foreground")
	}
}

func TestOpenKeepsOnlyLongLines(t *testing.T) {
	bin := filled(120, 20, 1, 0)
	fillRect(bin, document.BoundingBox{X: 10, Y: 5, Width: 80, Height: 1}, 255)
	fillRect(bin, document.BoundingBox{X: 10, Y: 12, Width: 20, Height: 1}, 255)

	opened := Open(bin, 40, 1)
	if opened.At(50, 5, 0) != 255 {
		t.Errorf("80px line removed by 40px opening")
	}
	if opened.At(20, 12, 0) != 0 {
		t.Errorf("20px line survived 40px opening")
	}
}

func TestExternalComponentsSkipHoles(t *testing.T) {
	bin := filled(30, 30, 1, 0)
	fillRect(bin, document.BoundingBox{X: 5, Y: 5, Width: 20, Height: 20}, 255)
	fillRect(bin, document.BoundingBox{X: 7, Y: 7, Width: 16, Height: 16}, 0)
	fillRect(bin, document.BoundingBox{X: 14, Y: 14, Width: 2, Height: 2}, 255)

	lab := LabelComponents(bin)
	if len(lab.Components) != 2 {
		t.Fatalf("LabelComponents() found %d components, want 2", len(lab.Components))
	}
	ext := lab.External()
	if len(ext) != 1 || ext[0].BBox != (document.BoundingBox{X: 5, Y: 5, Width: 20, Height: 20}) {
		t.Errorf("External() = %+v, want only the ring", ext)
	}
}

func TestTraceRectangle(t *testing.T) {
	bin := filled(30, 20, 1, 0)
	fillRect(bin, document.BoundingBox{X: 5, Y: 5, Width: 10, Height: 6}, 255)

	contour, ok := LargestExternalContour(bin)
	if !ok {
		t.Fatalf("no contour found")
	}
	if got := contour.BoundingRect(); got != (document.BoundingBox{X: 5, Y: 5, Width: 10, Height: 6}) {
		t.Errorf("BoundingRect() = %+v", got)
	}
	if a := contour.Area(); a != 45 {
		t.Errorf("Area() = %v, want 45", a)
	}
	if poly := ApproxPoly(contour, 0.02*contour.ArcLength()); len(poly) != 4 {
		t.Errorf("ApproxPoly() has %d vertices, want 4: %v", len(poly), poly)
	}
}

func TestMinAreaRectAxisAligned(t *testing.T) {
	pts := []Point{{0, 0}, {10, 0}, {10, 4}, {0, 4}, {5, 2}}
	rect := MinAreaRect(pts)
	if math.Abs(rect.Width*rect.Height-40) > 1e-9 {
		t.Errorf("area = %v, want 40", rect.Width*rect.Height)
	}
	if s := NormalizeSkew(rect.Angle); s != 0 {
		t.Errorf("skew = %v, want 0", s)
	}
}

func TestNormalizeSkewRange(t *testing.T) {
	tests := []struct{ in, want float64 }{
		{90, 0}, {-45, 45}, {44, 44}, {-80, 10}, {60, -30},
	}
	for _, tt := range tests {
		if got := NormalizeSkew(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeSkew(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func textBlock() *Raster {
	img := filled(320, 240, 1, 255)
	for y := 60; y < 180; y += 20 {
		fillRect(img, document.BoundingBox{X: 60, Y: y, Width: 200, Height: 6}, 0)
	}
	return img
}

func TestDeskewLeavesAlignedPageAlone(t *testing.T) {
	img := textBlock()
	once, _, applied := Deskew(img, 0.5, 10)
	if applied || once != img {
		t.Fatalf("aligned page was rotated")
	}
	twice, _, applied := Deskew(once, 0.5, 10)
	if applied || twice != once {
		t.Errorf("second deskew was not a no-op")
	}
}

func TestDeskewCorrectsSmallRotation(t *testing.T) {
	rotated := Rotate(textBlock(), 5)
	angle, ok := EstimateSkew(rotated)
	if !ok || math.Abs(angle+5) > 1 {
		t.Fatalf("EstimateSkew() = %v, want about -5", angle)
	}

	fixed, _, applied := Deskew(rotated, 0.5, 10)
	if !applied {
		t.Fatalf("Deskew() did not rotate a 5 degree skew")
	}
	residual, _ := EstimateSkew(fixed)
	if math.Abs(residual) > 1 {
		t.Errorf("residual skew = %v, want near 0", residual)
	}

	steep := Rotate(textBlock(), 20)
	if _, _, applied := Deskew(steep, 0.5, 10); applied {
		t.Errorf("Deskew() corrected a 20 degree rotation")
	}
}

func TestRotateZeroIsIdentity(t *testing.T) {
	img := textBlock()
	out := Rotate(img, 0)
	if !bytes.Equal(out.Pix, img.Pix) {
		t.Errorf("Rotate(0) changed pixels")
	}
}

func TestSolveHomographyMapsCorners(t *testing.T) {
	src := [4]Point{{0, 0}, {99, 0}, {99, 49}, {0, 49}}
	dst := [4]Point{{10, 5}, {120, 12}, {115, 70}, {4, 60}}
	h, err := SolveHomography(src, dst)
	if err != nil {
		t.Fatalf("SolveHomography() error = %v", err)
	}
	for i := range src {
		x, y := h.Apply(src[i].X, src[i].Y)
		if math.Abs(x-dst[i].X) > 1e-6 || math.Abs(y-dst[i].Y) > 1e-6 {
			t.Errorf("corner %d mapped to (%v,%v), want %v", i, x, y, dst[i])
		}
	}
}

func TestOrderCorners(t *testing.T) {
	got := OrderCorners([]image.Point{{200, 190}, {10, 20}, {15, 180}, {190, 5}})
	want := [4]image.Point{{10, 20}, {190, 5}, {200, 190}, {15, 180}}
	if got != want {
		t.Errorf("OrderCorners() = %v, want %v", got, want)
	}
}

func TestPerspectiveCorrect(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())
	page := filled(400, 320, 1, 0)
	fillRect(page, document.BoundingBox{X: 100, Y: 80, Width: 200, Height: 160}, 255)

	out, applied, err := n.PerspectiveCorrect(page, nil)
	if err != nil || !applied {
		t.Fatalf("PerspectiveCorrect() applied=%v err=%v", applied, err)
	}
	if math.Abs(float64(out.Width-200)) > 8 || math.Abs(float64(out.Height-160)) > 8 {
		t.Errorf("warped size = %dx%d, want about 200x160", out.Width, out.Height)
	}

	explicit, applied, err := n.PerspectiveCorrect(page, []image.Point{{100, 80}, {299, 80}, {299, 239}, {100, 239}})
	if err != nil || !applied || explicit.Width != 199 || explicit.Height != 159 {
		t.Errorf("explicit corners gave %dx%d applied=%v err=%v", explicit.Width, explicit.Height, applied, err)
	}

	blank := filled(50, 50, 1, 128)
	same, applied, err := n.PerspectiveCorrect(blank, nil)
	if err != nil || applied || same != blank {
		t.Errorf("blank page should be returned unchanged")
	}

	if _, _, err := n.PerspectiveCorrect(page, []image.Point{{0, 0}}); !errors.Is(err, errors.ErrorInvalidInput) {
		t.Errorf("PerspectiveCorrect(1 corner) = %v, want INVALID_INPUT", err)
	}
}

func TestAutoCropFindsPage(t *testing.T) {
	photo := filled(400, 300, 1, 30)
	fillRect(photo, document.BoundingBox{X: 40, Y: 30, Width: 320, Height: 240}, 230)

	out, applied := AutoCrop(photo, 10, 0.3)
	if !applied {
		t.Fatalf("AutoCrop() did not crop")
	}
	if out.Width < 320 || out.Width > 345 || out.Height < 240 || out.Height > 265 {
		t.Errorf("cropped to %dx%d, want about 340x260", out.Width, out.Height)
	}

	small := filled(400, 300, 1, 30)
	fillRect(small, document.BoundingBox{X: 10, Y: 10, Width: 60, Height: 40}, 230)
	if _, applied := AutoCrop(small, 10, 0.3); applied {
		t.Errorf("AutoCrop() cropped to a region under 30%% of the image")
	}
}

func TestEnhanceContrastKeepsShape(t *testing.T) {
	flat := filled(64, 48, 1, 100)
	out := EnhanceContrast(flat)
	for _, v := range out.Pix {
		if v != out.Pix[0] {
			t.Fatalf("flat image became non-uniform")
		}
	}

	rgb := filled(32, 32, 3, 90)
	fillRect(rgb, document.BoundingBox{X: 0, Y: 0, Width: 16, Height: 32}, 160)
	colored := EnhanceContrast(rgb)
	if colored.Width != 32 || colored.Height != 32 || colored.Channels != 3 {
		t.Errorf("EnhanceContrast() changed shape to %dx%dx%d", colored.Width, colored.Height, colored.Channels)
	}
}

func TestDenoiseReducesVariance(t *testing.T) {
	img := filled(24, 24, 1, 128)
	for i := range img.Pix {
		if i%2 == 0 {
			img.Pix[i] = 136
		} else {
			img.Pix[i] = 120
		}
	}
	variance := func(r *Raster) float64 {
		var mean, v float64
		for _, p := range r.Pix {
			mean += float64(p)
		}
		mean /= float64(len(r.Pix))
		for _, p := range r.Pix {
			v += (float64(p) - mean) * (float64(p) - mean)
		}
		return v / float64(len(r.Pix))
	}
	out, err := DenoiseNLM(context.Background(), img, 10, 10)
	if err != nil {
		t.Fatalf("DenoiseNLM() error = %v", err)
	}
	if variance(out) >= variance(img) {
		t.Errorf("variance %v did not drop below %v", variance(out), variance(img))
	}
}

func TestNormalizeRejectsMalformedImage(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())
	_, _, err := n.Normalize(context.Background(), &Raster{Width: 3, Height: 3, Channels: 4}, AllSteps())
	if !errors.Is(err, errors.ErrorInvalidImage) {
		t.Errorf("Normalize() = %v, want INVALID_IMAGE", err)
	}
}

func TestNormalizeRunsSelectedSteps(t *testing.T) {
	n := NewNormalizer(NormalizerConfig{MaxSize: 256, CropPadding: 10, MinCropRatio: 0.3, MinSkew: 0.5, MaxSkew: 10, DenoiseStrength: 10})
	img := textBlock()
	out, report, err := n.Normalize(context.Background(), img, NormalizeOptions{Resize: true, Contrast: true})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if out.Width != 256 || out.Height != 192 {
		t.Errorf("output %dx%d, want 256x192", out.Width, out.Height)
	}
	if len(report.Applied) != 2 || report.Applied[0] != StepResize || report.Applied[1] != StepContrast {
		t.Errorf("Applied = %v, want [resize contrast]", report.Applied)
	}
	if report.OriginalSize != [2]int{320, 240} {
		t.Errorf("OriginalSize = %v", report.OriginalSize)
	}
}

func TestAdaptiveThresholdMarksDarkText(t *testing.T) {
	img := textBlock()
	bin := AdaptiveThreshold(img, 11, 2)
	if bin.At(100, 62, 0) != 0 {
		t.Errorf("dark stroke should be background after adaptive threshold")
	}
	if bin.At(10, 10, 0) != 255 {
		t.Errorf("white paper should stay white")
	}
}
