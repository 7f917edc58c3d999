/**
 * Renderer Client for the structuring worker
 *
 * Publishes finished StructuredDocuments to the downstream renderer sink,
 * which turns them into PDF, spreadsheet or Markdown output. Rendering
 * itself happens elsewhere; this worker only hands over the JSON.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
)

// RendererClient handles communication with the renderer sink
type RendererClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// RenderRequest is the payload POSTed to the sink
type RenderRequest struct {
	JobID      string                       `json:"jobId"`
	DocumentID string                       `json:"documentId"`
	Filename   string                       `json:"filename,omitempty"`
	Formats    []string                     `json:"formats,omitempty"`
	Document   *document.StructuredDocument `json:"document"`
}

// RenderResponse represents the sink's acknowledgement
type RenderResponse struct {
	Success    bool   `json:"success"`
	ArtifactID string `json:"artifactId,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewRendererClient creates a new renderer client
func NewRendererClient(baseURL string) *RendererClient {
	return &RendererClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logging.NewLogger("RendererClient"),
	}
}

// HealthCheck verifies the renderer is available
func (c *RendererClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("renderer health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("renderer health check returned status %d", resp.StatusCode)
	}

	return nil
}

// Publish sends a structured document to the sink
func (c *RendererClient) Publish(ctx context.Context, req *RenderRequest) (*RenderResponse, error) {
	if req.Document == nil {
		return nil, errors.NewInvalidInputError("document", "document is required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/documents", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "structa-worker")
	httpReq.Header.Set("X-Job-ID", req.JobID)

	c.logger.Info("Publishing document", "jobId", req.JobID, "blocks", len(req.Document.Blocks))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.NewAPICallFailedError("renderer", 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read renderer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewAPICallFailedError("renderer", resp.StatusCode,
			fmt.Errorf("renderer returned error status %d: %s", resp.StatusCode, string(body)))
	}

	var result RenderResponse
	if err := json.Unmarshal(body, &result); err != nil {
		// Non-fatal: the sink accepted the document
		c.logger.Warn("Failed to parse renderer response", "error", err)
		return &RenderResponse{Success: true, Message: "Document accepted (response parse warning)"}, nil
	}

	if result.Success {
		c.logger.Info("Document published", "jobId", req.JobID, "artifactId", result.ArtifactID)
	} else {
		c.logger.Warn("Renderer rejected document", "jobId", req.JobID, "error", result.Error)
	}

	return &result, nil
}
