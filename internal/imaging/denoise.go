package imaging

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	nlmTemplateRadius  = 3  // 7x7 patches
	nlmSearchRadius    = 10 // 21x21 search window
	nlmMinSearchRadius = 2
	nlmBandRows        = 64

	// weights below exp(-nlmCutoff) are treated as zero
	nlmCutoff = 8.0
	// lookup entries per unit of mean squared patch distance
	nlmLUTScale = 4.0

	// DefaultDenoiseBudget is the pixel x search-offset work allowed per
	// image: a 2 MP page gets the full 21x21 window.
	DefaultDenoiseBudget int64 = 2_000_000 * 441
)

// SearchRadiusFor returns the largest search radius, at most the 21x21
// default and at least 2, whose work for the given pixel count fits the
// budget. A non-positive budget means unlimited.
func SearchRadiusFor(pixels int, budget int64) int {
	r := nlmSearchRadius
	if budget <= 0 {
		return r
	}
	for r > nlmMinSearchRadius {
		side := int64(2*r + 1)
		if int64(pixels)*side*side <= budget {
			break
		}
		r--
	}
	return r
}

// nlmWeights tabulates exp(-d/h²) over the quantized mean patch distance d
func nlmWeights(h float64) []float64 {
	hh := h * h
	lut := make([]float64, int(nlmCutoff*hh*nlmLUTScale)+1)
	for i := range lut {
		lut[i] = math.Exp(-(float64(i) / nlmLUTScale) / hh)
	}
	return lut
}

// DenoiseNLM applies non-local-means filtering with filter strength h.
// Patch distances are averaged over all channels, so color images are
// denoised jointly. Horizontal bands are filtered in parallel and ctx is
// checked once per search row of every band.
func DenoiseNLM(ctx context.Context, src *Raster, h float64, searchRadius int) (*Raster, error) {
	if h <= 0 {
		return src.Clone(), nil
	}
	if searchRadius < 1 {
		searchRadius = nlmSearchRadius
	}
	lut := nlmWeights(h)
	out := newRaster(src.Width, src.Height, src.Channels)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for y0 := 0; y0 < src.Height; y0 += nlmBandRows {
		y0 := y0
		y1 := min(src.Height, y0+nlmBandRows)
		g.Go(func() error {
			return nlmBand(gctx, src, out, y0, y1, searchRadius, lut)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// nlmBand filters rows [y0,y1) into out. Patch SSDs for one search offset
// come from an integral image over the band plus the template margin.
func nlmBand(ctx context.Context, src, out *Raster, y0, y1, sr int, lut []float64) error {
	w, ht, ch := src.Width, src.Height, src.Channels
	tr := nlmTemplateRadius
	ra, rb := max(0, y0-tr), min(ht, y1+tr)
	lh := rb - ra
	stride := w * ch
	bandPix := (y1 - y0) * w

	num := make([]float64, bandPix*ch)
	den := make([]float64, bandPix)
	integ := make([]int64, (w+1)*(lh+1))
	xmap := make([]int, w)

	for dy := -sr; dy <= sr; dy++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for dx := -sr; dx <= sr; dx++ {
			for x := range xmap {
				xmap[x] = reflect101(x+dx, w) * ch
			}

			for ly := 0; ly < lh; ly++ {
				y := ra + ly
				row := src.Pix[y*stride : (y+1)*stride]
				yy := reflect101(y+dy, ht)
				other := src.Pix[yy*stride : (yy+1)*stride]
				prev := integ[ly*(w+1) : (ly+1)*(w+1)]
				cur := integ[(ly+1)*(w+1) : (ly+2)*(w+1)]

				var rowSum int64
				for x := 0; x < w; x++ {
					xi, xo := x*ch, xmap[x]
					var s int64
					for c := 0; c < ch; c++ {
						d := int64(row[xi+c]) - int64(other[xo+c])
						s += d * d
					}
					rowSum += s
					cur[x+1] = prev[x+1] + rowSum
				}
			}

			for y := y0; y < y1; y++ {
				top, bot := max(0, y-tr)-ra, min(ht-1, y+tr)-ra+1
				rowTop := integ[top*(w+1) : (top+1)*(w+1)]
				rowBot := integ[bot*(w+1) : (bot+1)*(w+1)]
				yy := reflect101(y+dy, ht)
				other := src.Pix[yy*stride : (yy+1)*stride]
				span := (bot - top) * ch
				base := (y - y0) * w

				for x := 0; x < w; x++ {
					left, right := max(0, x-tr), min(w-1, x+tr)+1
					ssd := rowBot[right] - rowTop[right] - rowBot[left] + rowTop[left]
					idx := int(float64(ssd) * nlmLUTScale / float64(span*(right-left)))
					if idx >= len(lut) {
						continue
					}
					weight := lut[idx]
					bi := base + x
					den[bi] += weight
					xo := xmap[x]
					for c := 0; c < ch; c++ {
						num[bi*ch+c] += weight * float64(other[xo+c])
					}
				}
			}
		}
	}

	dst := out.Pix[y0*stride : y1*stride]
	for i := 0; i < bandPix; i++ {
		for c := 0; c < ch; c++ {
			dst[i*ch+c] = saturate(num[i*ch+c] / den[i])
		}
	}
	return nil
}
