package imaging

// OtsuLevel returns the threshold maximizing between-class variance
func OtsuLevel(gray *Raster) int {
	var hist [256]int
	for _, v := range gray.Pix {
		hist[v]++
	}
	total := len(gray.Pix)

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var sumB, wB float64
	best, level := -1.0, 0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = t
		}
	}
	return level
}

// Threshold binarizes: pixels above level become 255 (0 when inverse)
func Threshold(gray *Raster, level int, inverse bool) *Raster {
	out := newRaster(gray.Width, gray.Height, 1)
	for i, v := range gray.Pix {
		on := int(v) > level
		if on != inverse {
			out.Pix[i] = 255
		}
	}
	return out
}

// BinarizeOtsu converts to gray and applies Otsu thresholding
func BinarizeOtsu(img *Raster, inverse bool) *Raster {
	gray := img
	if img.Channels != 1 {
		gray = img.Gray()
	}
	return Threshold(gray, OtsuLevel(gray), inverse)
}

// AdaptiveThreshold binarizes against a Gaussian-weighted local mean
// minus c, over a blockSize x blockSize neighborhood.
func AdaptiveThreshold(img *Raster, blockSize int, c float64) *Raster {
	gray := img
	if img.Channels != 1 {
		gray = img.Gray()
	}
	k := gaussianKernel(blockSize, 0)
	mean := convolveSeparable(gray, k, k, replicate)
	out := newRaster(gray.Width, gray.Height, 1)
	for i, v := range gray.Pix {
		if float64(v) > float64(mean.Pix[i])-c {
			out.Pix[i] = 255
		}
	}
	return out
}
