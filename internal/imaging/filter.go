package imaging

import "math"

// reflect101 maps an out-of-range index back into [0,n) mirroring without
// repeating the edge pixel (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// replicate clamps an index into [0,n)
func replicate(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// gaussianKernel returns a normalized 1D kernel; sigma <= 0 derives it from size
func gaussianKernel(size int, sigma float64) []float64 {
	if sigma <= 0 {
		sigma = 0.3*((float64(size)-1)*0.5-1) + 0.8
	}
	k := make([]float64, size)
	half := size / 2
	var sum float64
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// convolveSeparable applies kx along rows and ky along columns
func convolveSeparable(src *Raster, kx, ky []float64, border func(int, int) int) *Raster {
	w, h, ch := src.Width, src.Height, src.Channels
	tmp := make([]float64, len(src.Pix))
	hx, hy := len(kx)/2, len(ky)/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < ch; c++ {
				var s float64
				for i, kv := range kx {
					xx := border(x+i-hx, w)
					s += kv * float64(src.Pix[(y*w+xx)*ch+c])
				}
				tmp[(y*w+x)*ch+c] = s
			}
		}
	}

	out := newRaster(w, h, ch)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < ch; c++ {
				var s float64
				for i, kv := range ky {
					yy := border(y+i-hy, h)
					s += kv * tmp[(yy*w+x)*ch+c]
				}
				out.Pix[(y*w+x)*ch+c] = saturate(s)
			}
		}
	}
	return out
}

// GaussianBlur smooths with a size x size Gaussian (reflect-101 border)
func GaussianBlur(src *Raster, size int, sigma float64) *Raster {
	k := gaussianKernel(size, sigma)
	return convolveSeparable(src, k, k, reflect101)
}

// gradients computes 3x3 Sobel derivatives of a gray raster
func gradients(gray *Raster) (gx, gy []int) {
	w, h := gray.Width, gray.Height
	gx = make([]int, w*h)
	gy = make([]int, w*h)
	px := func(x, y int) int {
		return int(gray.Pix[reflect101(y, h)*w+reflect101(x, w)])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tl, t, tr := px(x-1, y-1), px(x, y-1), px(x+1, y-1)
			l, r := px(x-1, y), px(x+1, y)
			bl, b, br := px(x-1, y+1), px(x, y+1), px(x+1, y+1)
			gx[y*w+x] = (tr + 2*r + br) - (tl + 2*l + bl)
			gy[y*w+x] = (bl + 2*b + br) - (tl + 2*t + tr)
		}
	}
	return gx, gy
}

// Canny detects edges using L1 gradient magnitude, non-maximum suppression
// and hysteresis between low and high. Returns a 0/255 raster.
func Canny(src *Raster, low, high float64) *Raster {
	gray := src
	if src.Channels != 1 {
		gray = src.Gray()
	}
	w, h := gray.Width, gray.Height
	gx, gy := gradients(gray)
	mag := make([]float64, w*h)
	for i := range mag {
		mag[i] = math.Abs(float64(gx[i])) + math.Abs(float64(gy[i]))
	}
	at := func(x, y int) float64 {
		if x < 0 || y < 0 || x >= w || y >= h {
			return 0
		}
		return mag[y*w+x]
	}

	const tan22 = 0.4142135623730951
	const tan67 = 2.414213562373095

	// 0 = suppressed, 1 = weak, 2 = strong
	state := make([]uint8, w*h)
	var stack []int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := mag[i]
			if m <= low {
				continue
			}
			ax, ay := math.Abs(float64(gx[i])), math.Abs(float64(gy[i]))
			var isMax bool
			switch {
			case ay < ax*tan22:
				isMax = m > at(x-1, y) && m >= at(x+1, y)
			case ay > ax*tan67:
				isMax = m > at(x, y-1) && m >= at(x, y+1)
			default:
				s := -1
				if (gx[i] < 0) == (gy[i] < 0) {
					s = 1
				}
				isMax = m > at(x-s, y-1) && m >= at(x+s, y+1)
			}
			if !isMax {
				continue
			}
			if m > high {
				state[i] = 2
				stack = append(stack, i)
			} else {
				state[i] = 1
			}
		}
	}

	out := newRaster(w, h, 1)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out.Pix[i] = 255
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if state[j] == 1 {
					state[j] = 2
					stack = append(stack, j)
				}
			}
		}
	}
	return out
}

func saturate(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
