/**
 * Geometry primitives shared by every stage of the pipeline
 *
 * All coordinates are integer pixels in the coordinate space of the
 * normalized page image, origin top-left.
 */

package document

import "fmt"

// BoundingBox represents an axis-aligned rectangle
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewBoundingBoxFromCorners builds a box from (x1,y1)-(x2,y2), x2/y2 exclusive
func NewBoundingBoxFromCorners(x1, y1, x2, y2 int) BoundingBox {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func (b BoundingBox) Right() int  { return b.X + b.Width }
func (b BoundingBox) Bottom() int { return b.Y + b.Height }
func (b BoundingBox) Area() int   { return b.Width * b.Height }
func (b BoundingBox) Empty() bool { return b.Width <= 0 || b.Height <= 0 }

// Center returns the geometric center point
func (b BoundingBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.Width)/2, float64(b.Y) + float64(b.Height)/2
}

// ContainsPoint reports whether (x,y) lies inside the box, edges included
func (b BoundingBox) ContainsPoint(x, y float64) bool {
	return x >= float64(b.X) && x <= float64(b.Right()) &&
		y >= float64(b.Y) && y <= float64(b.Bottom())
}

// Intersect returns the overlapping rectangle; zero-sized when disjoint
func (b BoundingBox) Intersect(o BoundingBox) BoundingBox {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.Right(), o.Right())
	y2 := min(b.Bottom(), o.Bottom())
	if x2 <= x1 || y2 <= y1 {
		return BoundingBox{X: x1, Y: y1}
	}
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Union returns the smallest box containing both
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	x1 := min(b.X, o.X)
	y1 := min(b.Y, o.Y)
	x2 := max(b.Right(), o.Right())
	y2 := max(b.Bottom(), o.Bottom())
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// UnionAll returns the union of all boxes, or the zero box for none
func UnionAll(boxes []BoundingBox) BoundingBox {
	if len(boxes) == 0 {
		return BoundingBox{}
	}
	u := boxes[0]
	for _, b := range boxes[1:] {
		u = u.Union(b)
	}
	return u
}

// Offset translates the box by (dx,dy)
func (b BoundingBox) Offset(dx, dy int) BoundingBox {
	return BoundingBox{X: b.X + dx, Y: b.Y + dy, Width: b.Width, Height: b.Height}
}

// ClampTo restricts the box to [0,w)x[0,h)
func (b BoundingBox) ClampTo(w, h int) BoundingBox {
	x1 := clampInt(b.X, 0, w)
	y1 := clampInt(b.Y, 0, h)
	x2 := clampInt(b.Right(), 0, w)
	y2 := clampInt(b.Bottom(), 0, h)
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// VerticalOverlap reports whether the two boxes share any row
func (b BoundingBox) VerticalOverlap(o BoundingBox) bool {
	return b.Y < o.Bottom() && o.Y < b.Bottom()
}

// Validate checks the non-negativity invariant; field prefixes the error path
func (b BoundingBox) Validate(field string) error {
	switch {
	case b.X < 0:
		return fieldError(field+".x", fmt.Sprintf("must be non-negative, got %d", b.X))
	case b.Y < 0:
		return fieldError(field+".y", fmt.Sprintf("must be non-negative, got %d", b.Y))
	case b.Width < 0:
		return fieldError(field+".width", fmt.Sprintf("must be non-negative, got %d", b.Width))
	case b.Height < 0:
		return fieldError(field+".height", fmt.Sprintf("must be non-negative, got %d", b.Height))
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
