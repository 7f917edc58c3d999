package imaging

import (
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// CLAHE equalizes a single 8-bit plane with contrast-limited adaptive
// histogram equalization over tilesX x tilesY tiles.
func CLAHE(plane []uint8, w, h int, clipLimit float64, tilesX, tilesY int) []uint8 {
	out := append([]uint8(nil), plane...)
	if w < tilesX || h < tilesY || w < 2 || h < 2 {
		return out
	}

	// pad to a multiple of the tile grid by reflection
	tileW := (w + tilesX - 1) / tilesX
	tileH := (h + tilesY - 1) / tilesY
	pw, ph := tileW*tilesX, tileH*tilesY
	px := func(x, y int) uint8 {
		return plane[reflect101(y, h)*w+reflect101(x, w)]
	}

	tileArea := tileW * tileH
	limit := 0
	if clipLimit > 0 {
		limit = max(int(clipLimit*float64(tileArea)/256), 1)
	}
	scale := 255.0 / float64(tileArea)

	luts := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			var hist [256]int
			for y := ty * tileH; y < (ty+1)*tileH && y < ph; y++ {
				for x := tx * tileW; x < (tx+1)*tileW && x < pw; x++ {
					hist[px(x, y)]++
				}
			}
			if limit > 0 {
				clipHistogram(&hist, limit)
			}
			lut := &luts[ty*tilesX+tx]
			sum := 0
			for i := range hist {
				sum += hist[i]
				lut[i] = saturate(float64(sum) * scale)
			}
		}
	}

	for y := 0; y < h; y++ {
		tyf := float64(y)/float64(tileH) - 0.5
		ty1 := int(math.Floor(tyf))
		ya := tyf - float64(ty1)
		ty2 := min(ty1+1, tilesY-1)
		ty1 = max(ty1, 0)
		for x := 0; x < w; x++ {
			txf := float64(x)/float64(tileW) - 0.5
			tx1 := int(math.Floor(txf))
			xa := txf - float64(tx1)
			tx2 := min(tx1+1, tilesX-1)
			tx1 = max(tx1, 0)

			v := plane[y*w+x]
			top := float64(luts[ty1*tilesX+tx1][v])*(1-xa) + float64(luts[ty1*tilesX+tx2][v])*xa
			bot := float64(luts[ty2*tilesX+tx1][v])*(1-xa) + float64(luts[ty2*tilesX+tx2][v])*xa
			out[y*w+x] = saturate(top*(1-ya) + bot*ya)
		}
	}
	return out
}

func clipHistogram(hist *[256]int, limit int) {
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	batch := excess / 256
	residual := excess - batch*256
	for i := range hist {
		hist[i] += batch
	}
	if residual > 0 {
		step := max(256/residual, 1)
		for i := 0; i < 256 && residual > 0; i += step {
			hist[i]++
			residual--
		}
	}
}

// EnhanceContrast applies CLAHE (clip 2.0, 8x8 tiles) to the Lab lightness
// channel of color images, or directly to gray images.
func EnhanceContrast(src *Raster) *Raster {
	const clip, tiles = 2.0, 8
	w, h := src.Width, src.Height
	if src.Channels == 1 {
		return &Raster{Width: w, Height: h, Channels: 1, Pix: CLAHE(src.Pix, w, h, clip, tiles, tiles)}
	}

	n := w * h
	lightness := make([]uint8, n)
	as := make([]float64, n)
	bs := make([]float64, n)
	for i := 0; i < n; i++ {
		p := src.Pix[i*3 : i*3+3]
		c := colorful.Color{R: float64(p[0]) / 255, G: float64(p[1]) / 255, B: float64(p[2]) / 255}
		l, a, b := c.Lab()
		lightness[i] = saturate(l * 255)
		as[i], bs[i] = a, b
	}

	eq := CLAHE(lightness, w, h, clip, tiles, tiles)
	out := newRaster(w, h, 3)
	for i := 0; i < n; i++ {
		r, g, b := colorful.Lab(float64(eq[i])/255, as[i], bs[i]).Clamped().RGB255()
		out.Pix[i*3], out.Pix[i*3+1], out.Pix[i*3+2] = r, g, b
	}
	return out
}
