/**
 * Recognition Types - Shared contract for text recognition engines
 *
 * The pipeline only sees positioned tokens; engines are swapped behind
 * the Recognizer interface.
 */

package ocr

import (
	"context"
	"strings"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
)

// DefaultMinConfidence drops words the engine is unsure about
const DefaultMinConfidence = 0.5

// Recognizer turns a page image into positioned tokens
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, img *imaging.Raster) (*Result, error)
}

// Result represents the output of one recognition pass
type Result struct {
	Tokens            []document.TextToken
	FullText          string
	AverageConfidence float64
	Languages         []string
	Engine            string
	Duration          time.Duration
}

// NewResult fills the derived fields from the tokens
func NewResult(engine string, tokens []document.TextToken, fullText string, duration time.Duration) *Result {
	res := &Result{
		Tokens:   tokens,
		FullText: strings.TrimSpace(fullText),
		Engine:   engine,
		Duration: duration,
	}
	seen := make(map[string]bool)
	var sum float64
	for _, t := range tokens {
		sum += t.Confidence
		if t.Language != "" && !seen[t.Language] {
			seen[t.Language] = true
			res.Languages = append(res.Languages, t.Language)
		}
	}
	if len(tokens) > 0 {
		res.AverageConfidence = sum / float64(len(tokens))
	}
	return res
}
