package imaging

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Resize scales the raster to width x height with Catmull-Rom resampling
func Resize(src *Raster, width, height int) *Raster {
	rect := image.Rect(0, 0, width, height)
	var dst draw.Image
	if src.Channels == 1 {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.CatmullRom.Scale(dst, rect, src.Image(), image.Rect(0, 0, src.Width, src.Height), draw.Src, nil)
	out := FromImage(dst)
	if out.Channels != src.Channels {
		return toChannels(out, src.Channels)
	}
	return out
}

func toChannels(r *Raster, channels int) *Raster {
	if channels == 1 {
		return r.Gray()
	}
	out := newRaster(r.Width, r.Height, 3)
	for i, v := range r.Pix {
		out.Pix[i*3], out.Pix[i*3+1], out.Pix[i*3+2] = v, v, v
	}
	return out
}

// cubicWeights returns the four bicubic weights (a = -0.75) for fraction t
func cubicWeights(t float64) [4]float64 {
	const a = -0.75
	w0 := ((a*(t+1)-5*a)*(t+1)+8*a)*(t+1) - 4*a
	w1 := ((a+2)*t-(a+3))*t*t + 1
	w2 := ((a+2)*(1-t)-(a+3))*(1-t)*(1-t) + 1
	return [4]float64{w0, w1, w2, 1 - w0 - w1 - w2}
}

// Rotate turns the image by angle degrees counter-clockwise about its
// center, keeping the size. Bicubic sampling; out-of-range samples
// replicate the nearest edge pixel.
func Rotate(src *Raster, angle float64) *Raster {
	w, h, ch := src.Width, src.Height, src.Channels
	rad := angle * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	cx, cy := float64(w)/2, float64(h)/2
	out := newRaster(w, h, ch)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			sx := cos*dx - sin*dy + cx
			sy := sin*dx + cos*dy + cy
			ix, iy := int(math.Floor(sx)), int(math.Floor(sy))
			wx, wy := cubicWeights(sx-float64(ix)), cubicWeights(sy-float64(iy))
			for c := 0; c < ch; c++ {
				var v float64
				for j := 0; j < 4; j++ {
					yy := replicate(iy-1+j, h)
					var row float64
					for i := 0; i < 4; i++ {
						xx := replicate(ix-1+i, w)
						row += wx[i] * float64(src.Pix[(yy*w+xx)*ch+c])
					}
					v += wy[j] * row
				}
				out.Pix[(y*w+x)*ch+c] = saturate(v)
			}
		}
	}
	return out
}

// WarpPerspective renders a width x height image where each output pixel
// (x,y) samples src at dstToSrc(x,y) bilinearly; outside samples are 0.
func WarpPerspective(src *Raster, dstToSrc Homography, width, height int) *Raster {
	w, h, ch := src.Width, src.Height, src.Channels
	out := newRaster(width, height, ch)
	sample := func(x, y, c int) float64 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return float64(src.Pix[(y*w+x)*ch+c])
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sx, sy := dstToSrc.Apply(float64(x), float64(y))
			if math.IsInf(sx, 0) || sx < -1 || sy < -1 || sx > float64(w) || sy > float64(h) {
				continue
			}
			x0, y0 := int(math.Floor(sx)), int(math.Floor(sy))
			fx, fy := sx-float64(x0), sy-float64(y0)
			for c := 0; c < ch; c++ {
				top := sample(x0, y0, c)*(1-fx) + sample(x0+1, y0, c)*fx
				bot := sample(x0, y0+1, c)*(1-fx) + sample(x0+1, y0+1, c)*fx
				out.Pix[(y*width+x)*ch+c] = saturate(top*(1-fy) + bot*fy)
			}
		}
	}
	return out
}
