package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the structa worker
 *
 * Design Pattern: Factory Pattern for error creation
 * Hard input errors carry the offending field in Details["field"];
 * advisory problems never become a ProcessingError.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Input errors
	ErrorInvalidImage      ErrorCode = "INVALID_IMAGE"
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorDownloadFailed    ErrorCode = "DOWNLOAD_FAILED"

	// Processing errors
	ErrorProcessingTimeout     ErrorCode = "PROCESSING_TIMEOUT"
	ErrorRecognitionFailed     ErrorCode = "RECOGNITION_FAILED"
	ErrorLayoutFailed          ErrorCode = "LAYOUT_FAILED"
	ErrorTableExtractionFailed ErrorCode = "TABLE_EXTRACTION_FAILED"

	// Storage errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorDatabaseFailed ErrorCode = "DATABASE_FAILED"

	// Network errors
	ErrorNetworkTimeout ErrorCode = "NETWORK_TIMEOUT"
	ErrorAPICallFailed  ErrorCode = "API_CALL_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain is a ProcessingError with the given code.
func Is(err error, code ErrorCode) bool {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// Retryable reports whether a job that failed with err may succeed on a
// later attempt. Bad input fails the same way every time.
func Retryable(err error) bool {
	var pe *ProcessingError
	if !stderrors.As(err, &pe) {
		return true
	}
	switch pe.Code {
	case ErrorInvalidImage, ErrorInvalidInput, ErrorUnsupportedFormat:
		return false
	}
	return true
}

// Factory functions for common errors

func NewInvalidImageError(reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidImage,
		Message:   fmt.Sprintf("Invalid image: %s", reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"reason": reason,
		},
	}
}

// NewInvalidInputError reports a malformed structure; field names the offending value, e.g. "tokens[3].confidence".
func NewInvalidInputError(field string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidInput,
		Message:   fmt.Sprintf("Invalid input %s: %s", field, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewRecognitionFailedError(jobID string, engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRecognitionFailed,
		Message:   fmt.Sprintf("Text recognition failed with engine: %s", engine),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewLayoutFailedError(jobID string, source string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorLayoutFailed,
		Message:   fmt.Sprintf("Layout segmentation failed with source: %s", source),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source": source,
		},
		Cause: cause,
	}
}

func NewTableExtractionFailedError(jobID string, engine string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorTableExtractionFailed,
		Message:   fmt.Sprintf("Table extraction failed with engine: %s", engine),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported file format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewDownloadFailedError(jobID string, source string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDownloadFailed,
		Message:   fmt.Sprintf("Failed to fetch document from %s", source),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"source": source,
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store processing results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewDatabaseFailedError(jobID string, operation string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDatabaseFailed,
		Message:   fmt.Sprintf("Database operation %s failed", operation),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"operation": operation,
		},
		Cause: cause,
	}
}

func NewNetworkTimeoutError(service string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorNetworkTimeout,
		Message:   fmt.Sprintf("Request to %s timed out", service),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"service": service,
		},
		Cause: cause,
	}
}

func NewAPICallFailedError(service string, statusCode int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorAPICallFailed,
		Message:   fmt.Sprintf("Call to %s failed", service),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"service":     service,
			"status_code": statusCode,
		},
		Cause: cause,
	}
}

// WithJob returns a copy of e bound to jobID.
func (e *ProcessingError) WithJob(jobID string) *ProcessingError {
	c := *e
	c.JobID = jobID
	return &c
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
