/**
 * Document model - Shared data structures for the structuring pipeline
 *
 * Common types produced by recognition, layout and table stages and
 * consumed by the structuring engine. Values are created once per request
 * and copied, never mutated, when handed to the next stage.
 */

package document

import (
	"fmt"
	"math"
	"strings"

	"github.com/Sireeshreddy01/structa-ai/internal/errors"
)

// TextToken represents one recognized text unit with its location
type TextToken struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
	Language   string      `json:"language,omitempty"`
}

// Validate checks a token received at index i of a token list
func (t TextToken) Validate(i int) error {
	field := fmt.Sprintf("tokens[%d]", i)
	if strings.TrimSpace(t.Text) == "" {
		return fieldError(field+".text", "must not be empty")
	}
	if math.IsNaN(t.Confidence) || t.Confidence < 0 || t.Confidence > 1 {
		return fieldError(field+".confidence", fmt.Sprintf("out of range [0,1], got %v", t.Confidence))
	}
	return t.BBox.Validate(field + ".bbox")
}

// RegionType classifies a layout region
type RegionType string

const (
	RegionText      RegionType = "text"
	RegionTitle     RegionType = "title"
	RegionParagraph RegionType = "paragraph"
	RegionList      RegionType = "list"
	RegionTable     RegionType = "table"
	RegionFigure    RegionType = "figure"
	RegionEquation  RegionType = "equation"
	RegionHeader    RegionType = "header"
	RegionFooter    RegionType = "footer"
	RegionUnknown   RegionType = "unknown"
)

// ParseRegionType maps a label onto a RegionType, falling back to unknown
func ParseRegionType(label string) RegionType {
	switch t := RegionType(strings.ToLower(strings.TrimSpace(label))); t {
	case RegionText, RegionTitle, RegionParagraph, RegionList, RegionTable,
		RegionFigure, RegionEquation, RegionHeader, RegionFooter:
		return t
	default:
		return RegionUnknown
	}
}

// Region represents a layout-detected area of a page
type Region struct {
	Type       RegionType  `json:"type"`
	BBox       BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	Order      int         `json:"order"`
	Content    string      `json:"content,omitempty"`
	Children   []Region    `json:"children,omitempty"`
}

// Validate checks a region received at index i of a region list
func (r Region) Validate(i int) error {
	field := fmt.Sprintf("regions[%d]", i)
	if r.Type == "" {
		return fieldError(field+".type", "must not be empty")
	}
	if math.IsNaN(r.Confidence) || r.Confidence < 0 || r.Confidence > 1 {
		return fieldError(field+".confidence", fmt.Sprintf("out of range [0,1], got %v", r.Confidence))
	}
	if r.Order < 0 {
		return fieldError(field+".order", fmt.Sprintf("must be non-negative, got %d", r.Order))
	}
	return r.BBox.Validate(field + ".bbox")
}

// Clone deep-copies the region including children
func (r Region) Clone() Region {
	c := r
	if r.Children != nil {
		c.Children = make([]Region, len(r.Children))
		for i, child := range r.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

func fieldError(field, reason string) error {
	return errors.NewInvalidInputError(field, reason)
}
