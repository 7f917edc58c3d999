/**
 * Spatial Text Organizer
 *
 * Groups positioned tokens into reading lines with a single top-to-bottom
 * sweep, and lines into paragraphs by vertical gap.
 */

package spatial

import (
	"sort"
	"strings"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
)

// DefaultLineThreshold is the vertical distance (px) that starts a new line
const DefaultLineThreshold = 20.0

// Line is one reading line of tokens, left to right
type Line struct {
	Tokens     []document.TextToken
	Text       string
	BBox       document.BoundingBox
	Confidence float64
}

// Paragraph is a run of vertically adjacent lines
type Paragraph struct {
	Lines []Line
	Text  string
	BBox  document.BoundingBox
}

// OrganizerConfig controls line clustering
type OrganizerConfig struct {
	// LineThreshold is the y distance that separates lines at the reference height
	LineThreshold float64
	// ReferenceHeight, when positive, scales LineThreshold by pageHeight/ReferenceHeight
	ReferenceHeight int
}

// Organizer clusters tokens into lines and paragraphs. It holds no state
// between calls and is safe for concurrent use.
type Organizer struct {
	threshold float64
	refHeight int
}

// NewOrganizer creates an organizer with the given config
func NewOrganizer(cfg OrganizerConfig) *Organizer {
	if cfg.LineThreshold <= 0 {
		cfg.LineThreshold = DefaultLineThreshold
	}
	return &Organizer{threshold: cfg.LineThreshold, refHeight: cfg.ReferenceHeight}
}

// ForPage returns an organizer whose threshold is scaled for a page of the
// given height; without a reference height it returns o unchanged.
func (o *Organizer) ForPage(pageHeight int) *Organizer {
	if o.refHeight <= 0 || pageHeight <= 0 {
		return o
	}
	return &Organizer{threshold: o.threshold * float64(pageHeight) / float64(o.refHeight)}
}

// Threshold returns the effective line threshold in pixels
func (o *Organizer) Threshold() float64 {
	return o.threshold
}

// Lines groups tokens into lines ordered top to bottom
func (o *Organizer) Lines(tokens []document.TextToken) []Line {
	if len(tokens) == 0 {
		return nil
	}
	sorted := append([]document.TextToken(nil), tokens...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].BBox.Y != sorted[j].BBox.Y {
			return sorted[i].BBox.Y < sorted[j].BBox.Y
		}
		return sorted[i].BBox.X < sorted[j].BBox.X
	})

	var lines []Line
	var current []document.TextToken
	refY := sorted[0].BBox.Y
	for _, tok := range sorted {
		if abs(tok.BBox.Y-refY) > o.threshold && len(current) > 0 {
			lines = append(lines, newLine(current))
			current = nil
			refY = tok.BBox.Y
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		lines = append(lines, newLine(current))
	}
	return lines
}

func newLine(tokens []document.TextToken) Line {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].BBox.X < tokens[j].BBox.X
	})
	words := make([]string, 0, len(tokens))
	boxes := make([]document.BoundingBox, 0, len(tokens))
	var conf float64
	for _, t := range tokens {
		words = append(words, strings.TrimSpace(t.Text))
		boxes = append(boxes, t.BBox)
		conf += t.Confidence
	}
	return Line{
		Tokens:     tokens,
		Text:       strings.Join(words, " "),
		BBox:       document.UnionAll(boxes),
		Confidence: conf / float64(len(tokens)),
	}
}

// Organize returns the text of each line in reading order
func (o *Organizer) Organize(tokens []document.TextToken) []string {
	lines := o.Lines(tokens)
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Text != "" {
			out = append(out, l.Text)
		}
	}
	return out
}

// Text joins the organized lines with newlines
func (o *Organizer) Text(tokens []document.TextToken) string {
	return strings.Join(o.Organize(tokens), "\n")
}

// Paragraphs groups consecutive lines whose vertical gap does not exceed
// the median line height.
func (o *Organizer) Paragraphs(tokens []document.TextToken) []Paragraph {
	lines := o.Lines(tokens)
	if len(lines) == 0 {
		return nil
	}
	heights := make([]int, len(lines))
	for i, l := range lines {
		heights[i] = l.BBox.Height
	}
	sort.Ints(heights)
	maxGap := heights[len(heights)/2]

	var paras []Paragraph
	start := 0
	for i := 1; i <= len(lines); i++ {
		if i < len(lines) && lines[i].BBox.Y-lines[i-1].BBox.Bottom() <= maxGap {
			continue
		}
		paras = append(paras, newParagraph(lines[start:i]))
		start = i
	}
	return paras
}

func newParagraph(lines []Line) Paragraph {
	texts := make([]string, len(lines))
	boxes := make([]document.BoundingBox, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
		boxes[i] = l.BBox
	}
	return Paragraph{
		Lines: append([]Line(nil), lines...),
		Text:  strings.Join(texts, " "),
		BBox:  document.UnionAll(boxes),
	}
}

func abs(v int) float64 {
	if v < 0 {
		return float64(-v)
	}
	return float64(v)
}
