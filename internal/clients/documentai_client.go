/**
 * Document AI Client - Google Document AI layout processor
 *
 * Sends a page image to a Document AI processor and returns the raw
 * Document proto. Helpers convert normalized layout geometry into page
 * pixel boxes shared by the layout and tables adapters.
 */

package clients

import (
	"context"
	"fmt"
	"math"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
)

const documentAIService = "documentai"

// DocumentAIConfig identifies the processor to call
type DocumentAIConfig struct {
	ProjectID       string
	Location        string
	ProcessorID     string
	CredentialsFile string
}

// DocumentAIClient wraps a long-lived Document AI processor client
type DocumentAIClient struct {
	client *documentai.DocumentProcessorClient
	name   string
	logger *logging.Logger
}

// NewDocumentAIClient dials the regional Document AI endpoint
func NewDocumentAIClient(ctx context.Context, cfg DocumentAIConfig) (*DocumentAIClient, error) {
	if cfg.ProjectID == "" || cfg.ProcessorID == "" {
		return nil, errors.NewInvalidInputError("documentai", "project and processor IDs are required")
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}

	opts := []option.ClientOption{
		option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)),
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Document AI client: %w", err)
	}

	return &DocumentAIClient{
		client: client,
		name:   fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.ProjectID, cfg.Location, cfg.ProcessorID),
		logger: logging.NewLogger("DocumentAIClient"),
	}, nil
}

// ProcessImage runs the processor on a PNG page image
func (c *DocumentAIClient) ProcessImage(ctx context.Context, png []byte) (*documentaipb.Document, error) {
	req := &documentaipb.ProcessRequest{
		Name: c.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  png,
				MimeType: "image/png",
			},
		},
		SkipHumanReview: true,
	}

	resp, err := c.client.ProcessDocument(ctx, req)
	if err != nil {
		return nil, errors.NewAPICallFailedError(documentAIService, 0, fmt.Errorf("failed to process document: %w", err))
	}

	doc := resp.GetDocument()
	c.logger.Info("Document AI processing complete", "pages", len(doc.GetPages()), "textLength", len(doc.GetText()))
	return doc, nil
}

// Close releases the underlying connection
func (c *DocumentAIClient) Close() error {
	return c.client.Close()
}

// LayoutBox converts a layout's normalized polygon to a pixel box on a page
// of the given size. Pixel vertices are used when no normalized ones exist.
func LayoutBox(layout *documentaipb.Document_Page_Layout, width, height int) (document.BoundingBox, bool) {
	poly := layout.GetBoundingPoly()
	if poly == nil {
		return document.BoundingBox{}, false
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	extend := func(x, y float64) {
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}

	switch {
	case len(poly.GetNormalizedVertices()) > 0:
		for _, v := range poly.GetNormalizedVertices() {
			extend(float64(v.GetX())*float64(width), float64(v.GetY())*float64(height))
		}
	case len(poly.GetVertices()) > 0:
		for _, v := range poly.GetVertices() {
			extend(float64(v.GetX()), float64(v.GetY()))
		}
	default:
		return document.BoundingBox{}, false
	}

	box := document.NewBoundingBoxFromCorners(
		int(math.Round(minX)), int(math.Round(minY)),
		int(math.Round(maxX)), int(math.Round(maxY)),
	).ClampTo(width, height)
	return box, !box.Empty()
}

// LayoutText extracts a layout's text from the document text via its anchor
func LayoutText(layout *documentaipb.Document_Page_Layout, fullText string) string {
	anchor := layout.GetTextAnchor()
	if anchor == nil {
		return ""
	}
	runes := []rune(fullText)
	var sb strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start := min(max(int(seg.GetStartIndex()), 0), len(runes))
		end := min(max(int(seg.GetEndIndex()), start), len(runes))
		sb.WriteString(string(runes[start:end]))
	}
	return strings.TrimSpace(sb.String())
}
