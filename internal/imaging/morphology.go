package imaging

// Morphology on binary (0/255) rasters with rectangular kernels. The
// window for a kernel of width kw is [x-kw/2, x-kw/2+kw-1]; pixels outside
// the image are ignored.

// Dilate grows foreground with a kw x kh rectangle, iterations times
func Dilate(bin *Raster, kw, kh, iterations int) *Raster {
	out := bin
	for i := 0; i < iterations; i++ {
		out = morph(out, kw, kh, true)
	}
	if out == bin {
		return bin.Clone()
	}
	return out
}

// Erode shrinks foreground with a kw x kh rectangle, iterations times
func Erode(bin *Raster, kw, kh, iterations int) *Raster {
	out := bin
	for i := 0; i < iterations; i++ {
		out = morph(out, kw, kh, false)
	}
	if out == bin {
		return bin.Clone()
	}
	return out
}

// Open erodes then dilates, removing foreground smaller than the kernel
func Open(bin *Raster, kw, kh int) *Raster {
	return morph(morph(bin, kw, kh, false), kw, kh, true)
}

func morph(bin *Raster, kw, kh int, dilate bool) *Raster {
	w, h := bin.Width, bin.Height
	horiz := make([]bool, w*h)
	prefix := make([]int, max(w, h)+1)

	for y := 0; y < h; y++ {
		row := bin.Pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			prefix[x+1] = prefix[x]
			if row[x] != 0 {
				prefix[x+1]++
			}
		}
		for x := 0; x < w; x++ {
			lo, hi := windowBounds(x, kw, w)
			horiz[y*w+x] = windowHit(prefix[hi]-prefix[lo], hi-lo, dilate)
		}
	}

	out := newRaster(w, h, 1)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			prefix[y+1] = prefix[y]
			if horiz[y*w+x] {
				prefix[y+1]++
			}
		}
		for y := 0; y < h; y++ {
			lo, hi := windowBounds(y, kh, h)
			if windowHit(prefix[hi]-prefix[lo], hi-lo, dilate) {
				out.Pix[y*w+x] = 255
			}
		}
	}
	return out
}

// windowBounds returns the clipped half-open window [lo,hi) around i
func windowBounds(i, k, n int) (int, int) {
	lo := i - k/2
	hi := lo + k
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

func windowHit(count, size int, dilate bool) bool {
	if dilate {
		return count > 0
	}
	return size > 0 && count == size
}
