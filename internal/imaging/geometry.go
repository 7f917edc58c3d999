package imaging

import (
	"fmt"
	"math"
	"sort"
)

// Point is a floating-point image coordinate
type Point struct {
	X, Y float64
}

// RotatedRect is a minimum-area rectangle; Angle is the direction of its
// Width edge in degrees, y axis pointing down, within (-90, 90].
type RotatedRect struct {
	Center        Point
	Width, Height float64
	Angle         float64
}

// ConvexHull returns the hull in counter-clockwise order (monotone chain)
func ConvexHull(points []Point) []Point {
	pts := append([]Point(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})
	if len(pts) < 3 {
		return pts
	}
	cross := func(o, a, b Point) float64 {
		return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
	}
	hull := make([]Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// MinAreaRect finds the minimum-area enclosing rectangle by rotating
// calipers over the convex hull.
func MinAreaRect(points []Point) RotatedRect {
	hull := ConvexHull(points)
	switch len(hull) {
	case 0:
		return RotatedRect{}
	case 1:
		return RotatedRect{Center: hull[0]}
	}

	best := RotatedRect{}
	bestArea := math.Inf(1)
	for i := range hull {
		a, b := hull[i], hull[(i+1)%len(hull)]
		ex, ey := b.X-a.X, b.Y-a.Y
		l := math.Hypot(ex, ey)
		if l == 0 {
			continue
		}
		ux, uy := ex/l, ey/l
		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			pu := p.X*ux + p.Y*uy
			pv := -p.X*uy + p.Y*ux
			minU, maxU = math.Min(minU, pu), math.Max(maxU, pu)
			minV, maxV = math.Min(minV, pv), math.Max(maxV, pv)
		}
		area := (maxU - minU) * (maxV - minV)
		if area < bestArea {
			bestArea = area
			cu, cv := (minU+maxU)/2, (minV+maxV)/2
			best = RotatedRect{
				Center: Point{X: cu*ux - cv*uy, Y: cu*uy + cv*ux},
				Width:  maxU - minU,
				Height: maxV - minV,
				Angle:  normalizeHalfTurn(math.Atan2(uy, ux) * 180 / math.Pi),
			}
		}
	}
	return best
}

// normalizeHalfTurn maps an angle in degrees into (-90, 90]
func normalizeHalfTurn(a float64) float64 {
	for a <= -90 {
		a += 180
	}
	for a > 90 {
		a -= 180
	}
	return a
}

// NormalizeSkew maps a rectangle angle into (-45, 45]
func NormalizeSkew(a float64) float64 {
	for a <= -45 {
		a += 90
	}
	for a > 45 {
		a -= 90
	}
	return a
}

// Homography is a 3x3 projective transform, row-major, H[8] = 1
type Homography [9]float64

// SolveHomography returns H mapping each src[i] onto dst[i]
func SolveHomography(src, dst [4]Point) (Homography, error) {
	var a [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a[2*i] = [9]float64{x, y, 1, 0, 0, 0, -u * x, -u * y, u}
		a[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -v * x, -v * y, v}
	}

	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return Homography{}, fmt.Errorf("degenerate point configuration")
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			f := a[r][col] / a[col][col]
			for k := col; k < 9; k++ {
				a[r][k] -= f * a[col][k]
			}
		}
	}

	var h Homography
	for i := 0; i < 8; i++ {
		h[i] = a[i][8] / a[i][i]
	}
	h[8] = 1
	return h, nil
}

// Apply maps a point through the transform
func (h Homography) Apply(x, y float64) (float64, float64) {
	w := h[6]*x + h[7]*y + h[8]
	if w == 0 {
		return math.Inf(1), math.Inf(1)
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w
}
