package processor

import (
	"math"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
)

// FingerprintSize is the dimension of a layout fingerprint
const FingerprintSize = 64

const fingerprintGrid = 4

// LayoutFingerprint summarizes where each kind of region sits on the page.
// The page is split into a 4x4 grid; for four region families (body text,
// titles and margins, tables, figures and equations) each grid cell holds
// the share of its area the family covers. The vector is L2-normalized and
// all zeros when there is nothing to describe.
func LayoutFingerprint(regions []document.Region, width, height int) []float32 {
	vec := make([]float32, FingerprintSize)
	if width <= 0 || height <= 0 || len(regions) == 0 {
		return vec
	}

	for gy := 0; gy < fingerprintGrid; gy++ {
		for gx := 0; gx < fingerprintGrid; gx++ {
			cell := document.NewBoundingBoxFromCorners(
				gx*width/fingerprintGrid, gy*height/fingerprintGrid,
				(gx+1)*width/fingerprintGrid, (gy+1)*height/fingerprintGrid,
			)
			area := cell.Area()
			if area == 0 {
				continue
			}
			for _, r := range regions {
				overlap := r.BBox.Intersect(cell).Area()
				if overlap == 0 {
					continue
				}
				i := fingerprintChannel(r.Type)*fingerprintGrid*fingerprintGrid + gy*fingerprintGrid + gx
				vec[i] = min(vec[i]+float32(overlap)/float32(area), 1)
			}
		}
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func fingerprintChannel(t document.RegionType) int {
	switch t {
	case document.RegionTitle, document.RegionHeader, document.RegionFooter:
		return 1
	case document.RegionTable:
		return 2
	case document.RegionFigure, document.RegionEquation:
		return 3
	default:
		return 0
	}
}
