/**
 * Raster - in-memory pixel buffer used by every image stage
 *
 * Pixels are stored row-major with interleaved channels (gray or RGB).
 * Operations in this package return new rasters and never modify their
 * inputs.
 */

package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
)

// Raster is a 2D pixel buffer with 1 (gray) or 3 (RGB) channels
type Raster struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// NewRaster allocates a zeroed raster
func NewRaster(width, height, channels int) (*Raster, error) {
	r := &Raster{Width: width, Height: height, Channels: channels}
	if err := r.validateShape(); err != nil {
		return nil, err
	}
	r.Pix = make([]uint8, width*height*channels)
	return r, nil
}

func newRaster(width, height, channels int) *Raster {
	return &Raster{Width: width, Height: height, Channels: channels, Pix: make([]uint8, width*height*channels)}
}

func (r *Raster) validateShape() error {
	if r.Width <= 0 || r.Height <= 0 {
		return errors.NewInvalidImageError(fmt.Sprintf("dimensions must be positive, got %dx%d", r.Width, r.Height))
	}
	if r.Channels != 1 && r.Channels != 3 {
		return errors.NewInvalidImageError(fmt.Sprintf("channel count must be 1 or 3, got %d", r.Channels))
	}
	return nil
}

// Validate checks the raster invariants
func (r *Raster) Validate() error {
	if r == nil {
		return errors.NewInvalidImageError("image is nil")
	}
	if err := r.validateShape(); err != nil {
		return err
	}
	if len(r.Pix) != r.Width*r.Height*r.Channels {
		return errors.NewInvalidImageError(fmt.Sprintf("pixel buffer has %d bytes, want %d", len(r.Pix), r.Width*r.Height*r.Channels))
	}
	return nil
}

// Bounds returns the full-image box
func (r *Raster) Bounds() document.BoundingBox {
	return document.BoundingBox{Width: r.Width, Height: r.Height}
}

// At returns channel c of pixel (x,y)
func (r *Raster) At(x, y, c int) uint8 {
	return r.Pix[(y*r.Width+x)*r.Channels+c]
}

// Set writes channel c of pixel (x,y)
func (r *Raster) Set(x, y, c int, v uint8) {
	r.Pix[(y*r.Width+x)*r.Channels+c] = v
}

// Clone returns a deep copy
func (r *Raster) Clone() *Raster {
	c := *r
	c.Pix = append([]uint8(nil), r.Pix...)
	return &c
}

// Gray returns a single-channel luminance copy (BT.601 weights)
func (r *Raster) Gray() *Raster {
	if r.Channels == 1 {
		return r.Clone()
	}
	out := newRaster(r.Width, r.Height, 1)
	for i := 0; i < r.Width*r.Height; i++ {
		p := r.Pix[i*3 : i*3+3]
		out.Pix[i] = uint8((int(p[0])*4899 + int(p[1])*9617 + int(p[2])*1868 + 8192) >> 14)
	}
	return out
}

// Crop copies the part of the raster inside box, clamped to the image
func (r *Raster) Crop(box document.BoundingBox) *Raster {
	b := box.ClampTo(r.Width, r.Height)
	if b.Empty() {
		return nil
	}
	out := newRaster(b.Width, b.Height, r.Channels)
	rowLen := b.Width * r.Channels
	for y := 0; y < b.Height; y++ {
		src := ((b.Y+y)*r.Width + b.X) * r.Channels
		copy(out.Pix[y*rowLen:(y+1)*rowLen], r.Pix[src:src+rowLen])
	}
	return out
}

// FromImage converts any image.Image; alpha is composited over white
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if g, ok := img.(*image.Gray); ok {
		out := newRaster(w, h, 1)
		for y := 0; y < h; y++ {
			copy(out.Pix[y*w:(y+1)*w], g.Pix[y*g.Stride:y*g.Stride+w])
		}
		return out
	}

	gray := img.ColorModel() == color.GrayModel || img.ColorModel() == color.Gray16Model
	channels := 3
	if gray {
		channels = 1
	}
	out := newRaster(w, h, channels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cr, cg, cb, ca := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			bg := 0xffff - ca
			i := (y*w + x) * channels
			if gray {
				out.Pix[i] = uint8((cr + bg) >> 8)
				continue
			}
			out.Pix[i] = uint8((cr + bg) >> 8)
			out.Pix[i+1] = uint8((cg + bg) >> 8)
			out.Pix[i+2] = uint8((cb + bg) >> 8)
		}
	}
	return out
}

// Image converts the raster to *image.Gray or *image.RGBA
func (r *Raster) Image() image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)
	if r.Channels == 1 {
		g := image.NewGray(rect)
		copy(g.Pix, r.Pix)
		return g
	}
	rgba := image.NewRGBA(rect)
	for i := 0; i < r.Width*r.Height; i++ {
		copy(rgba.Pix[i*4:i*4+3], r.Pix[i*3:i*3+3])
		rgba.Pix[i*4+3] = 0xff
	}
	return rgba
}

// DefaultMaxPixels bounds the decoded area of an image
const DefaultMaxPixels int64 = 50_000_000

// Decode reads PNG, JPEG, GIF, TIFF, BMP or WebP bytes within DefaultMaxPixels
func Decode(data []byte) (*Raster, string, error) {
	return DecodeLimited(data, DefaultMaxPixels)
}

// DecodeLimited reads the image header first and rejects images larger
// than maxPixels before any pixel buffer is allocated. A non-positive
// maxPixels disables the check.
func DecodeLimited(data []byte, maxPixels int64) (*Raster, string, error) {
	if len(data) == 0 {
		return nil, "", errors.NewInvalidImageError("empty image data")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		e := errors.NewInvalidImageError("cannot read image header")
		e.Cause = err
		return nil, "", e
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, format, errors.NewInvalidImageError(fmt.Sprintf("dimensions must be positive, got %dx%d", cfg.Width, cfg.Height))
	}
	if area := int64(cfg.Width) * int64(cfg.Height); maxPixels > 0 && area > maxPixels {
		e := errors.NewInvalidImageError(fmt.Sprintf("%dx%d exceeds the %d pixel limit", cfg.Width, cfg.Height, maxPixels))
		e.Details["width"] = cfg.Width
		e.Details["height"] = cfg.Height
		e.Details["max_pixels"] = maxPixels
		return nil, format, e
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		e := errors.NewInvalidImageError("cannot decode image")
		e.Cause = err
		return nil, "", e
	}
	r := FromImage(img)
	if err := r.Validate(); err != nil {
		return nil, format, err
	}
	return r, format, nil
}

// EncodePNG serializes the raster as PNG
func (r *Raster) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
