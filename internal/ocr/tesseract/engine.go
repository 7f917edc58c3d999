/**
 * Tesseract Engine - Local recognition backend
 *
 * Word-level recognition through gosseract. hOCR output is preferred since
 * it carries per-word language tags; plain word boxes are the fallback.
 */

package tesseract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/Sireeshreddy01/structa-ai/internal/ocr"
)

// EngineName is reported in ocr.Result.Engine
const EngineName = "tesseract"

// Config holds Tesseract configuration
type Config struct {
	Languages     []string
	MinConfidence float64
	// Binarize runs adaptive thresholding before recognition
	Binarize bool
}

// Engine performs recognition with a fresh gosseract client per call, so it
// is safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *logging.Logger
}

// NewEngine creates a new Tesseract engine
func NewEngine(cfg Config) *Engine {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = ocr.DefaultMinConfidence
	}
	return &Engine{cfg: cfg, logger: logging.NewLogger("TesseractEngine")}
}

// Name implements ocr.Recognizer
func (e *Engine) Name() string {
	return EngineName
}

// Recognize performs word-level recognition on the page
func (e *Engine) Recognize(ctx context.Context, img *imaging.Raster) (*ocr.Result, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	src := img
	if e.cfg.Binarize {
		src = imaging.AdaptiveThreshold(img, 11, 2)
	}
	data, err := src.EncodePNG()
	if err != nil {
		return nil, errors.NewRecognitionFailedError("", EngineName, err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.cfg.Languages...); err != nil {
		return nil, errors.NewRecognitionFailedError("", EngineName, fmt.Errorf("failed to set languages: %w", err))
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, errors.NewRecognitionFailedError("", EngineName, fmt.Errorf("failed to set image: %w", err))
	}

	tokens, err := e.hocrTokens(client)
	if err != nil {
		e.logger.Warn("hOCR unavailable, falling back to word boxes", "error", err)
		tokens, err = e.boxTokens(client)
		if err != nil {
			return nil, errors.NewRecognitionFailedError("", EngineName, err)
		}
	}

	text, err := client.Text()
	if err != nil {
		text = joinTokens(tokens)
	}

	result := ocr.NewResult(EngineName, tokens, text, time.Since(start))
	e.logger.Debug("Recognition complete", "words", len(tokens),
		"confidence", fmt.Sprintf("%.2f", result.AverageConfidence), "duration", result.Duration)
	return result, nil
}

func (e *Engine) hocrTokens(client *gosseract.Client) ([]document.TextToken, error) {
	out, err := client.HOCRText()
	if err != nil {
		return nil, err
	}
	tokens, err := ocr.ParseHOCR([]byte(out), e.cfg.MinConfidence)
	if err != nil {
		return nil, err
	}
	lang := e.cfg.Languages[0]
	for i := range tokens {
		if tokens[i].Language == "" {
			tokens[i].Language = lang
		}
	}
	return tokens, nil
}

func (e *Engine) boxTokens(client *gosseract.Client) ([]document.TextToken, error) {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract word boxes failed: %w", err)
	}
	tokens := make([]document.TextToken, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		conf := b.Confidence / 100
		if text == "" || conf < e.cfg.MinConfidence {
			continue
		}
		tokens = append(tokens, document.TextToken{
			Text:       text,
			Confidence: min(conf, 1),
			BBox:       document.NewBoundingBoxFromCorners(b.Box.Min.X, b.Box.Min.Y, b.Box.Max.X, b.Box.Max.Y),
			Language:   e.cfg.Languages[0],
		})
	}
	return tokens, nil
}

// ReadCell recognizes the text of a single table cell image
func (e *Engine) ReadCell(ctx context.Context, cell *imaging.Raster) (string, error) {
	if err := cell.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := cell.EncodePNG()
	if err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.cfg.Languages...); err != nil {
		return "", err
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", err
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", err
	}
	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract cell read failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func joinTokens(tokens []document.TextToken) string {
	words := make([]string, len(tokens))
	for i, t := range tokens {
		words[i] = t.Text
	}
	return strings.Join(words, " ")
}
