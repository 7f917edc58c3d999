/**
 * Document Processor for the structa worker
 *
 * Turns one queued job into a stored StructuredDocument:
 * - loads the image from the job buffer, an s3:// object or a URL
 * - checks the format from magic bytes and decodes it
 * - runs the structuring pipeline
 * - stores the document and its layout fingerprint
 * - archives the normalized page and publishes the result to the renderer
 */

package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/clients"
	"github.com/Sireeshreddy01/structa-ai/internal/document"
	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/imaging"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/Sireeshreddy01/structa-ai/internal/storage"
	"github.com/google/uuid"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error
}

// DocumentStore persists job state and finished documents
type DocumentStore interface {
	StoreStructuredDocument(ctx context.Context, input *storage.StructuredDocumentInput) (*storage.StructuredDocumentOutput, error)
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ObjectStore reads job sources from and archives pages to object storage
type ObjectStore interface {
	Download(ctx context.Context, uri string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// LayoutIndex finds stored documents with a similar layout fingerprint
type LayoutIndex interface {
	SearchSimilarLayouts(ctx context.Context, fingerprint []float32, limit int) ([]*storage.LayoutMatch, error)
}

// Publisher hands finished documents to the renderer sink
type Publisher interface {
	Publish(ctx context.Context, req *clients.RenderRequest) (*clients.RenderResponse, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Pipeline    *Pipeline
	MaxFileSize int64
	MaxPixels   int64 // decoded width x height limit; 0 uses imaging.DefaultMaxPixels
	Defaults    Options

	// Optional collaborators; nil disables the step
	Store     DocumentStore
	Objects   ObjectStore
	Publisher Publisher
	Layouts   LayoutIndex

	// URLPolicy screens fileUrl sources; nil fetches any URL
	URLPolicy        *clients.URLPolicy
	HTTPClient       *http.Client
	DownloadAttempts int
	DownloadBackoff  time.Duration
}

// ProcessRequest represents a document processing request
type ProcessRequest struct {
	JobID      string
	UserID     string
	Filename   string
	MimeType   string
	FileSize   int64
	FileURL    string
	FileBuffer []byte
	Options    *OptionOverrides
	Metadata   map[string]interface{}
}

// ProcessResult represents the processing result
type ProcessResult struct {
	DocumentID       string                       `json:"documentId"`
	Title            string                       `json:"title,omitempty"`
	Confidence       float64                      `json:"confidence"`
	LayoutSource     string                       `json:"layoutSource"`
	BlocksExtracted  int                          `json:"blocksExtracted"`
	TablesExtracted  int                          `json:"tablesExtracted"`
	RegionsExtracted int                          `json:"regionsExtracted"`
	Corrections      int                          `json:"corrections"`
	NumberIssues     int                          `json:"numberIssues"`
	NormalizeSteps   []string                     `json:"normalizeSteps,omitempty"`
	ArchiveURI       string                       `json:"archiveUri,omitempty"`
	SimilarDocuments []string                     `json:"similarDocuments,omitempty"`
	ProcessingTimeMs int64                        `json:"processingTimeMs"`
	Document         *document.StructuredDocument `json:"-"`
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	config     *ProcessorConfig
	pipeline   *Pipeline
	store      DocumentStore
	objects    ObjectStore
	publisher  Publisher
	layouts    LayoutIndex
	httpClient *http.Client
	logger     *logging.Logger
}

const (
	similarLayoutLimit    = 3
	similarLayoutMinScore = 0.9
)

// supportedImageTypes are the formats imaging.Decode understands
var supportedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/tiff": true,
	"image/bmp":  true,
	"image/webp": true,
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}

	if cfg.MaxPixels == 0 {
		cfg.MaxPixels = imaging.DefaultMaxPixels
	}
	if cfg.DownloadAttempts <= 0 {
		cfg.DownloadAttempts = 5
	}
	if cfg.DownloadBackoff <= 0 {
		cfg.DownloadBackoff = time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
		if cfg.URLPolicy != nil {
			httpClient.Transport = cfg.URLPolicy.Transport()
		}
	}

	return &DocumentProcessor{
		config:     cfg,
		pipeline:   cfg.Pipeline,
		store:      cfg.Store,
		objects:    cfg.Objects,
		publisher:  cfg.Publisher,
		layouts:    cfg.Layouts,
		httpClient: httpClient,
		logger:     logging.NewLogger("DocumentProcessor"),
	}, nil
}

// ProcessDocument processes a document through the complete pipeline
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	start := time.Now()
	log := p.logger.With("job_id", req.JobID)
	log.Info(fmt.Sprintf("[Job %s] Starting document structuring pipeline", req.JobID))

	// Step 1: Load file
	log.Info(fmt.Sprintf("[Job %s] Step 1: Loading file", req.JobID), "declared_size", req.FileSize)
	fileData, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, err
	}

	// Step 2: Check the format; sources often claim application/octet-stream
	detected := detectMimeTypeFromMagicBytes(fileData)
	if detected != "" && detected != req.MimeType {
		log.Info(fmt.Sprintf("[Job %s] Step 2: Corrected MIME type from '%s' to '%s' (magic byte detection)",
			req.JobID, req.MimeType, detected))
		req.MimeType = detected
	}
	if !supportedImageTypes[req.MimeType] {
		return nil, errors.NewUnsupportedFormatError(req.JobID, req.MimeType)
	}

	img, format, err := imaging.DecodeLimited(fileData, p.config.MaxPixels)
	if err != nil {
		return nil, withJob(err, req.JobID)
	}
	log.Info(fmt.Sprintf("[Job %s] Step 2: Decoded %s image", req.JobID, format),
		"width", img.Width, "height", img.Height)

	// Step 3: Structuring pipeline
	opts := req.Options.Apply(p.config.Defaults)
	log.Info(fmt.Sprintf("[Job %s] Step 3: Running structuring pipeline", req.JobID),
		"preprocess", opts.Preprocess, "tables", opts.ExtractTables, "correct", opts.CorrectText,
		"perspective", opts.Perspective)
	page, err := p.pipeline.Run(ctx, req.JobID, img, opts)
	if err != nil {
		return nil, withJob(err, req.JobID)
	}
	doc := page.Document

	documentID := uuid.New().String()
	result := &ProcessResult{
		DocumentID:       documentID,
		Title:            doc.Title,
		Confidence:       overallConfidence(doc),
		LayoutSource:     page.LayoutSource,
		BlocksExtracted:  len(doc.Blocks),
		TablesExtracted:  len(doc.Tables),
		RegionsExtracted: doc.Metadata.NumRegions,
		Corrections:      len(page.Corrections),
		NumberIssues:     len(page.NumberIssues),
		Document:         doc,
	}
	if page.Normalize != nil {
		result.NormalizeSteps = page.Normalize.Applied
	}

	// Step 4: Archive the normalized page (non-fatal)
	if p.objects != nil {
		if uri, err := p.archivePage(ctx, req.JobID, page.Image); err != nil {
			log.Warn(fmt.Sprintf("[Job %s] Step 4: Failed to archive normalized page", req.JobID), "error", err)
		} else {
			result.ArchiveURI = uri
			log.Info(fmt.Sprintf("[Job %s] Step 4: Normalized page archived", req.JobID), "uri", uri)
		}
	}

	// Look up earlier documents before this one joins the index (non-fatal)
	if p.layouts != nil && hasSignal(page.Fingerprint) {
		matches, err := p.layouts.SearchSimilarLayouts(ctx, page.Fingerprint, similarLayoutLimit)
		if err != nil {
			log.Warn(fmt.Sprintf("[Job %s] Similar layout lookup failed", req.JobID), "error", err)
		}
		for _, m := range matches {
			if m.Score >= similarLayoutMinScore {
				result.SimilarDocuments = append(result.SimilarDocuments, m.DocumentID)
			}
		}
	}

	// Step 5: Store the document and its layout fingerprint
	if p.store != nil {
		log.Info(fmt.Sprintf("[Job %s] Step 5: Storing structured document", req.JobID))
		stored, err := p.store.StoreStructuredDocument(ctx, &storage.StructuredDocumentInput{
			ID:           documentID,
			JobID:        req.JobID,
			Filename:     req.Filename,
			Document:     doc,
			Fingerprint:  page.Fingerprint,
			LayoutSource: page.LayoutSource,
			Confidence:   result.Confidence,
			ArchiveURI:   result.ArchiveURI,
		})
		if err != nil {
			return nil, errors.NewStorageFailedError(req.JobID, err)
		}
		log.Info(fmt.Sprintf("[Job %s] Document stored", req.JobID), "document_id", stored.ID,
			"point_id", stored.QdrantPointID)
	} else {
		log.Debug(fmt.Sprintf("[Job %s] Skipping document storage: store not configured", req.JobID))
	}

	// Step 6: Publish to the renderer sink (non-fatal)
	if p.publisher != nil {
		resp, err := p.publisher.Publish(ctx, &clients.RenderRequest{
			JobID:      req.JobID,
			DocumentID: documentID,
			Filename:   req.Filename,
			Document:   doc,
		})
		if err != nil {
			log.Warn(fmt.Sprintf("[Job %s] Step 6: Failed to publish to renderer", req.JobID), "error", err)
		} else if resp != nil && resp.Success {
			log.Info(fmt.Sprintf("[Job %s] Step 6: Published to renderer", req.JobID), "artifact_id", resp.ArtifactID)
		}
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	log.Info(fmt.Sprintf("[Job %s] Processing pipeline complete", req.JobID),
		"document_id", documentID, "confidence", fmt.Sprintf("%.2f", result.Confidence),
		"blocks", result.BlocksExtracted, "tables", result.TablesExtracted)
	return result, nil
}

// UpdateJobStatus updates job status in database
func (p *DocumentProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, progress int, metadata map[string]interface{}) error {
	if p.store == nil {
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Progress: progress,
		Metadata: metadata,
	}

	// Extract specific fields from metadata if present
	if metadata != nil {
		if confidence, ok := metadata["confidence"].(float64); ok {
			update.Confidence = confidence
		}
		if processingTime, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = processingTime
		}
		if documentID, ok := metadata["documentId"].(string); ok {
			update.DocumentID = documentID
		}
		if layoutSource, ok := metadata["layoutSource"].(string); ok {
			update.LayoutSource = layoutSource
		}
		if code, ok := metadata["error_code"].(string); ok {
			update.ErrorCode = code
		}
		if errorMsg, ok := metadata["error"].(string); ok {
			if update.ErrorCode == "" {
				update.ErrorCode = "PROCESSING_ERROR"
			}
			update.ErrorMessage = errorMsg
		} else if msg, ok := metadata["message"].(string); ok && update.ErrorCode != "" {
			update.ErrorMessage = msg
		}
	}

	if err := p.store.UpdateJobStatus(ctx, update); err != nil {
		return errors.NewDatabaseFailedError(jobID, "update_job_status", err)
	}
	return nil
}

// loadFile loads file from buffer, object storage or URL
func (p *DocumentProcessor) loadFile(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	if len(req.FileBuffer) == 0 && req.FileURL != "" && p.config.URLPolicy != nil {
		if err := p.config.URLPolicy.Check(req.FileURL); err != nil {
			return nil, errors.NewInvalidInputError("fileUrl", err.Error()).WithJob(req.JobID)
		}
	}

	var data []byte
	switch {
	case len(req.FileBuffer) > 0:
		p.logger.Debug(fmt.Sprintf("[Job %s] Using file buffer (%d bytes)", req.JobID, len(req.FileBuffer)))
		data = req.FileBuffer

	case strings.HasPrefix(req.FileURL, "s3://"):
		if p.objects == nil {
			return nil, errors.NewDownloadFailedError(req.JobID, req.FileURL, fmt.Errorf("object storage not configured"))
		}
		downloaded, err := p.objects.Download(ctx, req.FileURL)
		if err != nil {
			return nil, errors.NewDownloadFailedError(req.JobID, req.FileURL, err)
		}
		data = downloaded

	case req.FileURL != "":
		downloaded, err := p.downloadFileFromURL(ctx, req.JobID, req.FileURL, req.FileSize)
		if err != nil {
			return nil, errors.NewDownloadFailedError(req.JobID, req.FileURL, err)
		}
		data = downloaded

	default:
		return nil, errors.NewInvalidInputError("fileBuffer", "no file source provided (buffer or URL)").WithJob(req.JobID)
	}

	if p.config.MaxFileSize > 0 && int64(len(data)) > p.config.MaxFileSize {
		return nil, errors.NewInvalidInputError("fileSize",
			fmt.Sprintf("file size exceeds maximum: %d > %d bytes", len(data), p.config.MaxFileSize)).WithJob(req.JobID)
	}
	return data, nil
}

// downloadFileFromURL downloads a file with exponential backoff between attempts
func (p *DocumentProcessor) downloadFileFromURL(ctx context.Context, jobID string, fileURL string, expectedSize int64) ([]byte, error) {
	const maxBackoff = 32 * time.Second

	maxRead := p.config.MaxFileSize
	if maxRead <= 0 {
		maxRead = 1 << 30
	}

	var lastErr error
	for attempt := 1; attempt <= p.config.DownloadAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(float64(p.config.DownloadBackoff) * math.Pow(2, float64(attempt-2)))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			p.logger.Info(fmt.Sprintf("[Job %s] Retrying download in %v", jobID, backoff), "attempt", attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled during retry backoff: %w", ctx.Err())
			}
		}

		data, retry, err := p.fetch(ctx, fileURL, expectedSize, maxRead)
		if err == nil {
			p.logger.Info(fmt.Sprintf("[Job %s] Download successful on attempt %d: %d bytes", jobID, attempt, len(data)))
			return data, nil
		}
		lastErr = err
		p.logger.Warn(fmt.Sprintf("[Job %s] Download attempt %d/%d failed", jobID, attempt, p.config.DownloadAttempts),
			"error", err)
		if !retry {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to download file after %d attempts: %w", p.config.DownloadAttempts, lastErr)
}

// fetch performs one download attempt and reports whether a failure is worth retrying
func (p *DocumentProcessor) fetch(ctx context.Context, fileURL string, expectedSize, maxRead int64) ([]byte, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid file URL: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > 0 && expectedSize > 0 && resp.ContentLength != expectedSize {
		p.logger.Warn("Content-Length mismatch", "expected", expectedSize, "got", resp.ContentLength)
	}
	if resp.ContentLength > maxRead {
		return nil, false, fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, maxRead)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRead+1))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > maxRead {
		return nil, false, fmt.Errorf("file size exceeds maximum: more than %d bytes", maxRead)
	}
	return data, false, nil
}

func (p *DocumentProcessor) archivePage(ctx context.Context, jobID string, img *imaging.Raster) (string, error) {
	png, err := img.EncodePNG()
	if err != nil {
		return "", err
	}
	return p.objects.Upload(ctx, fmt.Sprintf("normalized/%s.png", jobID), png, "image/png")
}

// overallConfidence weighs recognition against layout confidence
func overallConfidence(doc *document.StructuredDocument) float64 {
	layoutConfidence, n := 0.0, 0
	for _, b := range doc.Blocks {
		layoutConfidence += b.Confidence
		n++
	}
	if n == 0 {
		return doc.Metadata.OCRConfidence
	}
	layoutConfidence /= float64(n)
	if doc.Metadata.OCRConfidence == 0 {
		return layoutConfidence
	}
	return doc.Metadata.OCRConfidence*0.4 + layoutConfidence*0.6
}

func hasSignal(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return true
		}
	}
	return false
}

func withJob(err error, jobID string) error {
	if pe, ok := err.(*errors.ProcessingError); ok && pe.JobID == "" {
		return pe.WithJob(jobID)
	}
	return err
}

// detectMimeTypeFromMagicBytes detects the actual MIME type from file content magic bytes
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "application/pdf"
	case len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP":
		return "image/webp"
	case bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return "image/tiff"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	case bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}):
		return "application/zip"
	}
	return ""
}
