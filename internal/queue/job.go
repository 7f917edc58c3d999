/**
 * Job payloads and the shared job runner
 *
 * Both queue backends decode the same payload and drive it through the
 * processor the same way; only delivery and retry bookkeeping differ.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/Sireeshreddy01/structa-ai/internal/errors"
	"github.com/Sireeshreddy01/structa-ai/internal/logging"
	"github.com/Sireeshreddy01/structa-ai/internal/processor"
)

// defaultProcessingTimeout applies when no timeout is configured
const defaultProcessingTimeout = 2 * time.Minute

// JobPayload contains the actual job data
type JobPayload struct {
	JobID      string                     `json:"jobId"`
	UserID     string                     `json:"userId"`
	Filename   string                     `json:"filename"`
	MimeType   string                     `json:"mimeType,omitempty"`
	FileSize   int64                      `json:"fileSize,omitempty"`
	FileURL    string                     `json:"fileUrl,omitempty"`
	FileBuffer []byte                     `json:"-"` // set by UnmarshalJSON
	Options    *processor.OptionOverrides `json:"options,omitempty"`
	Metadata   map[string]interface{}     `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts fileBuffer as a base64 string or as a Node.js
// Buffer object ({"type":"Buffer","data":[...]})
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	switch v := aux.FileBuffer.(type) {
	case nil:
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		if bufferType, _ := v["type"].(string); bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// MarshalJSON writes fileBuffer as base64
func (p JobPayload) MarshalJSON() ([]byte, error) {
	type Alias JobPayload
	aux := struct {
		FileBuffer string `json:"fileBuffer,omitempty"`
		Alias
	}{
		Alias: Alias(p),
	}
	if len(p.FileBuffer) > 0 {
		aux.FileBuffer = base64.StdEncoding.EncodeToString(p.FileBuffer)
	}
	return json.Marshal(aux)
}

// Request converts the payload to a processor request
func (p *JobPayload) Request() *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:      p.JobID,
		UserID:     p.UserID,
		Filename:   p.Filename,
		MimeType:   p.MimeType,
		FileSize:   p.FileSize,
		FileURL:    p.FileURL,
		FileBuffer: p.FileBuffer,
		Options:    p.Options,
		Metadata:   p.Metadata,
	}
}

// runner drives one job through the processor and records its status
type runner struct {
	processor processor.DocumentProcessorInterface
	timeout   time.Duration
	logger    *logging.Logger
}

func newRunner(proc processor.DocumentProcessorInterface, timeoutMs int64, logger *logging.Logger) *runner {
	timeout := defaultProcessingTimeout
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return &runner{processor: proc, timeout: timeout, logger: logger}
}

// run marks the job processing, processes it under the job timeout and
// marks it completed on success. Failures are returned unrecorded; the
// caller decides between a retry and markFailed.
func (r *runner) run(ctx context.Context, payload *JobPayload) (*processor.ProcessResult, error) {
	if payload.JobID == "" {
		return nil, errors.NewInvalidInputError("jobId", "job ID is required")
	}
	start := time.Now()

	// The first update creates the job row, so job attributes ride along
	if err := r.processor.UpdateJobStatus(ctx, payload.JobID, "processing", 0, map[string]interface{}{
		"filename": payload.Filename,
		"mimeType": payload.MimeType,
		"fileSize": payload.FileSize,
		"userId":   payload.UserID,
	}); err != nil {
		r.logger.Warn(fmt.Sprintf("[Job %s] Failed to update status to processing", payload.JobID), "error", err)
	}

	r.logger.Info(fmt.Sprintf("[Job %s] Processing document", payload.JobID),
		"filename", payload.Filename, "size", payload.FileSize, "timeout", r.timeout)

	processCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.processor.ProcessDocument(processCtx, payload.Request())
	duration := time.Since(start)

	if err != nil {
		if stderrors.Is(processCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, errors.ErrorProcessingTimeout) {
			err = errors.NewProcessingTimeoutError(payload.JobID, r.timeout, err)
		}
		r.logger.Error(fmt.Sprintf("[Job %s] Processing failed after %v", payload.JobID, duration), "error", err)
		return nil, err
	}

	r.logger.Info(fmt.Sprintf("[Job %s] Processing completed in %v", payload.JobID, duration),
		"document_id", result.DocumentID, "confidence", fmt.Sprintf("%.2f", result.Confidence))

	if err := r.processor.UpdateJobStatus(ctx, payload.JobID, "completed", 100, completedMetadata(result)); err != nil {
		r.logger.Warn(fmt.Sprintf("[Job %s] Failed to update status to completed", payload.JobID), "error", err)
	}
	return result, nil
}

// markFailed records a final failure
func (r *runner) markFailed(ctx context.Context, jobID string, err error, attempts int) map[string]interface{} {
	failure := failureMetadata(err)
	failure["attempts"] = attempts
	if updateErr := r.processor.UpdateJobStatus(ctx, jobID, "failed", 100, failure); updateErr != nil {
		r.logger.Warn(fmt.Sprintf("[Job %s] Failed to update status to failed", jobID), "error", updateErr)
	}
	return failure
}

func completedMetadata(result *processor.ProcessResult) map[string]interface{} {
	return map[string]interface{}{
		"confidence":       result.Confidence,
		"processingTime":   result.ProcessingTimeMs,
		"documentId":       result.DocumentID,
		"layoutSource":     result.LayoutSource,
		"blocksExtracted":  result.BlocksExtracted,
		"tablesExtracted":  result.TablesExtracted,
		"regionsExtracted": result.RegionsExtracted,
		"corrections":      result.Corrections,
	}
}

// failureMetadata keeps the error code of structured errors
func failureMetadata(err error) map[string]interface{} {
	var pe *errors.ProcessingError
	if stderrors.As(err, &pe) {
		return pe.ToMap()
	}
	return map[string]interface{}{"error": err.Error()}
}
