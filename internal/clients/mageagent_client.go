/**
 * MageAgent Client - Model-backed layout and table detection
 *
 * Delegates region detection and table structure recognition to the
 * MageAgent vision service. Responses are mapped onto the document model
 * by the layout and tables packages; this client only speaks the wire
 * format.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
)

const (
	mageAgentService = "mageagent"

	visionLayoutPath = "/api/internal/vision/analyze-layout"
	visionTablePath  = "/api/internal/vision/extract-table"
	healthPath       = "/api/health"

	// responses beyond this are treated as a broken upstream
	maxVisionResponse = 32 << 20
)

// MageAgentClient talks to the MageAgent vision endpoints
type MageAgentClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewMageAgentClient creates a new MageAgent client
func NewMageAgentClient(baseURL string) *MageAgentClient {
	return &MageAgentClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logging.NewLogger("MageAgentClient"),
	}
}

// VisionRequest is the body of both vision endpoints. Image holds the
// page or crop as base64.
type VisionRequest struct {
	Image    string `json:"image"`
	Format   string `json:"format"`
	Language string `json:"language"`
	JobID    string `json:"jobId,omitempty"`
}

// VisionResponse is the envelope MageAgent wraps every reply in
type VisionResponse[T any] struct {
	Success bool                   `json:"success"`
	Data    T                      `json:"data"`
	Message string                 `json:"message"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

func (r *VisionResponse[T]) check() error {
	if r.Success {
		return nil
	}
	return errors.NewAPICallFailedError(mageAgentService, http.StatusOK,
		fmt.Errorf("MageAgent operation failed: %s", r.Message))
}

type (
	LayoutAnalysisResponse  = VisionResponse[LayoutAnalysisData]
	TableExtractionResponse = VisionResponse[TableExtractionData]
)

// LayoutAnalysisData lists detected page elements
type LayoutAnalysisData struct {
	Elements       []LayoutElement `json:"elements"`
	ReadingOrder   []int           `json:"readingOrder"`
	Confidence     float64         `json:"confidence"`
	ModelUsed      string          `json:"modelUsed"`
	ProcessingTime int64           `json:"processingTime"` // ms
}

// LayoutElement is one detected element. Type is the model's label
// (heading, paragraph, list, table, figure...).
type LayoutElement struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	BoundingBox LayoutBoundingBox      `json:"boundingBox"`
	Content     string                 `json:"content"`
	Confidence  float64                `json:"confidence"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// LayoutBoundingBox is a pixel rectangle in the submitted image
type LayoutBoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TableExtractionData is the recognized structure of one table crop
type TableExtractionData struct {
	Rows           []TableRow `json:"rows"`
	Columns        int        `json:"columns"`
	Confidence     float64    `json:"confidence"`
	ModelUsed      string     `json:"modelUsed"`
	ProcessingTime int64      `json:"processingTime"`
}

type TableRow struct {
	RowIndex int         `json:"rowIndex"`
	IsHeader bool        `json:"isHeader"`
	Cells    []TableCell `json:"cells"`
}

// TableCell spans default to 1 when omitted
type TableCell struct {
	RowIndex    int                `json:"rowIndex"`
	ColIndex    int                `json:"colIndex"`
	Content     string             `json:"content"`
	Confidence  float64            `json:"confidence"`
	IsHeader    bool               `json:"isHeader"`
	RowSpan     int                `json:"rowSpan,omitempty"`
	ColSpan     int                `json:"colSpan,omitempty"`
	BoundingBox *LayoutBoundingBox `json:"boundingBox,omitempty"`
}

func newVisionRequest(image []byte, language string) *VisionRequest {
	return &VisionRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		Format:   "base64",
		Language: language,
	}
}

// AnalyzeLayout requests region detection for a page image
func (c *MageAgentClient) AnalyzeLayout(ctx context.Context, req *VisionRequest) (*LayoutAnalysisResponse, error) {
	var out LayoutAnalysisResponse
	if err := c.post(ctx, visionLayoutPath, "layout", req, &out); err != nil {
		return nil, err
	}
	if err := out.check(); err != nil {
		return nil, err
	}

	c.logger.Debug("Layout analysis complete",
		"model", out.Data.ModelUsed,
		"elements", len(out.Data.Elements),
		"confidence", out.Data.Confidence,
		"ms", out.Data.ProcessingTime)
	return &out, nil
}

// AnalyzeLayoutFromBytes encodes a page image and runs AnalyzeLayout
func (c *MageAgentClient) AnalyzeLayoutFromBytes(ctx context.Context, imageData []byte, language string) (*LayoutAnalysisResponse, error) {
	return c.AnalyzeLayout(ctx, newVisionRequest(imageData, language))
}

// ExtractTable requests table structure recognition for a table crop
func (c *MageAgentClient) ExtractTable(ctx context.Context, req *VisionRequest) (*TableExtractionResponse, error) {
	var out TableExtractionResponse
	if err := c.post(ctx, visionTablePath, "table", req, &out); err != nil {
		return nil, err
	}
	if err := out.check(); err != nil {
		return nil, err
	}

	c.logger.Debug("Table extraction complete",
		"model", out.Data.ModelUsed,
		"rows", len(out.Data.Rows),
		"columns", out.Data.Columns,
		"ms", out.Data.ProcessingTime)
	return &out, nil
}

// ExtractTableFromBytes encodes a table crop and runs ExtractTable
func (c *MageAgentClient) ExtractTableFromBytes(ctx context.Context, imageData []byte, language string) (*TableExtractionResponse, error) {
	return c.ExtractTable(ctx, newVisionRequest(imageData, language))
}

// HealthCheck reports whether MageAgent answers on its health route
func (c *MageAgentClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mageagent unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mageagent health status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (c *MageAgentClient) post(ctx context.Context, path, kind string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Source", "structa-worker")
	req.Header.Set("X-Request-ID", fmt.Sprintf("%s-%d", kind, time.Now().UnixNano()))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			return errors.NewNetworkTimeoutError(mageAgentService, err)
		}
		return errors.NewAPICallFailedError(mageAgentService, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxVisionResponse))
	if err != nil {
		return fmt.Errorf("read %s response: %w", kind, err)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.NewAPICallFailedError(mageAgentService, resp.StatusCode,
			fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", kind, err)
	}
	return nil
}
