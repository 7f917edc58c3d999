package spatial

import (
	"sort"

	"github.com/tidwall/rtree"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
)

// TokenIndex answers "which tokens have their center inside this box"
type TokenIndex struct {
	tokens []document.TextToken
	tree   rtree.RTreeG[int]
}

// NewTokenIndex indexes token centers
func NewTokenIndex(tokens []document.TextToken) *TokenIndex {
	idx := &TokenIndex{tokens: tokens}
	for i, t := range tokens {
		cx, cy := t.BBox.Center()
		p := [2]float64{cx, cy}
		idx.tree.Insert(p, p, i)
	}
	return idx
}

// Len returns the number of indexed tokens
func (idx *TokenIndex) Len() int {
	return len(idx.tokens)
}

// Within returns tokens whose center lies inside box (edges inclusive),
// in their original input order.
func (idx *TokenIndex) Within(box document.BoundingBox) []document.TextToken {
	min := [2]float64{float64(box.X), float64(box.Y)}
	max := [2]float64{float64(box.Right()), float64(box.Bottom())}

	var hits []int
	idx.tree.Search(min, max, func(_, _ [2]float64, i int) bool {
		cx, cy := idx.tokens[i].BBox.Center()
		if box.ContainsPoint(cx, cy) {
			hits = append(hits, i)
		}
		return true
	})
	sort.Ints(hits)

	out := make([]document.TextToken, len(hits))
	for k, i := range hits {
		out[k] = idx.tokens[i]
	}
	return out
}
