package imaging

import (
	"image"
	"math"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
)

// Component is an 8-connected foreground blob of a binary raster
type Component struct {
	Label  int32
	BBox   document.BoundingBox
	Pixels int
	Start  image.Point // first pixel in raster order
}

// Labeling holds the per-pixel component labels (0 = background)
type Labeling struct {
	Width, Height int
	Labels        []int32
	Components    []Component
}

var neighbors8 = [8]image.Point{{-1, 0}, {-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}}

// LabelComponents labels 8-connected foreground components
func LabelComponents(bin *Raster) *Labeling {
	w, h := bin.Width, bin.Height
	lab := &Labeling{Width: w, Height: h, Labels: make([]int32, w*h)}
	var queue []int

	for start := 0; start < w*h; start++ {
		if bin.Pix[start] == 0 || lab.Labels[start] != 0 {
			continue
		}
		label := int32(len(lab.Components) + 1)
		comp := Component{Label: label, Start: image.Point{X: start % w, Y: start / w}}
		minX, minY, maxX, maxY := w, h, -1, -1

		lab.Labels[start] = label
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			comp.Pixels++
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
			for _, d := range neighbors8 {
				nx, ny := x+d.X, y+d.Y
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if bin.Pix[j] != 0 && lab.Labels[j] == 0 {
					lab.Labels[j] = label
					queue = append(queue, j)
				}
			}
		}
		comp.BBox = document.BoundingBox{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1}
		lab.Components = append(lab.Components, comp)
	}
	return lab
}

// External returns the components not enclosed by a hole of another
// component: those touching the image border or the background region
// connected to it (4-connected).
func (l *Labeling) External() []Component {
	w, h := l.Width, l.Height
	outside := make([]bool, w*h)
	var queue []int
	push := func(i int) {
		if l.Labels[i] == 0 && !outside[i] {
			outside[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x)
		push((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		push(y * w)
		push(y*w + w - 1)
	}
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		if x > 0 {
			push(i - 1)
		}
		if x < w-1 {
			push(i + 1)
		}
		if y > 0 {
			push(i - w)
		}
		if y < h-1 {
			push(i + w)
		}
	}

	external := make([]bool, len(l.Components)+1)
	for i, label := range l.Labels {
		if label == 0 || external[label] {
			continue
		}
		x, y := i%w, i/w
		if x == 0 || y == 0 || x == w-1 || y == h-1 ||
			outside[i-1] || outside[i+1] || outside[i-w] || outside[i+w] {
			external[label] = true
		}
	}

	var out []Component
	for _, c := range l.Components {
		if external[c.Label] {
			out = append(out, c)
		}
	}
	return out
}

// Contour is a closed polygon of boundary pixels
type Contour []image.Point

// Trace follows the outer boundary of c clockwise (Moore neighborhood)
func (l *Labeling) Trace(c Component) Contour {
	w, h := l.Width, l.Height
	inside := func(p image.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h && l.Labels[p.Y*w+p.X] == c.Label
	}

	contour := Contour{c.Start}
	cur, back := c.Start, 0 // the west neighbor of Start is never in the component
	limit := 4*c.Pixels + 8
	for step := 0; step < limit; step++ {
		found := -1
		for k := 1; k <= 8; k++ {
			d := (back + k) % 8
			if inside(cur.Add(neighbors8[d])) {
				found = d
				break
			}
		}
		if found < 0 {
			break
		}
		next := cur.Add(neighbors8[found])
		prev := cur.Add(neighbors8[(found+7)%8])
		back = directionIndex(prev.Sub(next))
		if len(contour) > 1 && cur == c.Start && next == contour[1] {
			break
		}
		cur = next
		contour = append(contour, cur)
	}
	if len(contour) > 1 && contour[len(contour)-1] == c.Start {
		contour = contour[:len(contour)-1]
	}
	return contour
}

func directionIndex(d image.Point) int {
	for i, n := range neighbors8 {
		if n == d {
			return i
		}
	}
	return 0
}

// Area returns the polygon area (shoelace formula)
func (c Contour) Area() float64 {
	if len(c) < 3 {
		return 0
	}
	var s float64
	for i := range c {
		j := (i + 1) % len(c)
		s += float64(c[i].X*c[j].Y - c[j].X*c[i].Y)
	}
	return math.Abs(s) / 2
}

// ArcLength returns the perimeter of the closed polygon
func (c Contour) ArcLength() float64 {
	var s float64
	for i := range c {
		j := (i + 1) % len(c)
		s += math.Hypot(float64(c[j].X-c[i].X), float64(c[j].Y-c[i].Y))
	}
	return s
}

// BoundingRect returns the inclusive pixel bounding box
func (c Contour) BoundingRect() document.BoundingBox {
	if len(c) == 0 {
		return document.BoundingBox{}
	}
	minX, minY, maxX, maxY := c[0].X, c[0].Y, c[0].X, c[0].Y
	for _, p := range c[1:] {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	return document.BoundingBox{X: minX, Y: minY, Width: maxX - minX + 1, Height: maxY - minY + 1}
}

// LargestExternalContour returns the outer boundary with the largest area
func LargestExternalContour(bin *Raster) (Contour, bool) {
	lab := LabelComponents(bin)
	var best Contour
	bestArea := -1.0
	for _, comp := range lab.External() {
		c := lab.Trace(comp)
		if a := c.Area(); a > bestArea {
			best, bestArea = c, a
		}
	}
	return best, best != nil
}

// ApproxPoly simplifies a closed contour with Douglas-Peucker tolerance eps
func ApproxPoly(c Contour, eps float64) Contour {
	n := len(c)
	if n < 3 {
		return append(Contour(nil), c...)
	}
	// split the closed curve at the point farthest from c[0]
	far, farDist := 0, -1.0
	for i, p := range c {
		if d := sqDist(p, c[0]); d > farDist {
			far, farDist = i, d
		}
	}
	if far == 0 {
		return Contour{c[0]}
	}
	first := douglasPeucker(c[:far+1], eps)
	loop := append(append(Contour(nil), c[far:]...), c[0])
	second := douglasPeucker(loop, eps)

	out := append(Contour(nil), first[:len(first)-1]...)
	out = append(out, second[:len(second)-1]...)
	return out
}

func douglasPeucker(pts Contour, eps float64) Contour {
	if len(pts) < 3 {
		return append(Contour(nil), pts...)
	}
	a, b := pts[0], pts[len(pts)-1]
	idx, dmax := 0, -1.0
	for i := 1; i < len(pts)-1; i++ {
		if d := segmentDistance(pts[i], a, b); d > dmax {
			idx, dmax = i, d
		}
	}
	if dmax <= eps {
		return Contour{a, b}
	}
	left := douglasPeucker(pts[:idx+1], eps)
	right := douglasPeucker(pts[idx:], eps)
	return append(left[:len(left)-1], right...)
}

func segmentDistance(p, a, b image.Point) float64 {
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	if dx == 0 && dy == 0 {
		return math.Sqrt(sqDist(p, a))
	}
	return math.Abs(dy*float64(p.X-a.X)-dx*float64(p.Y-a.Y)) / math.Hypot(dx, dy)
}

func sqDist(p, q image.Point) float64 {
	dx, dy := float64(p.X-q.X), float64(p.Y-q.Y)
	return dx*dx + dy*dy
}
