package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the sheetscan worker
 *
 * Only INVALID_INPUT is ever surfaced by the scanner itself. Detection and
 * backing-capability failures are demoted to blank results at the point of
 * use; the remaining codes belong to the job pipeline around the scanner.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Scan errors
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorDetectionFailed   ErrorCode = "DETECTION_FAILED"
	ErrorBackingCapability ErrorCode = "BACKING_CAPABILITY_FAILED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Pipeline errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorDownloadFailed ErrorCode = "DOWNLOAD_FAILED"
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

// Factory functions for common errors

// NewInvalidInputError reports input the scanner refuses to look at.
func NewInvalidInputError(message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidInput,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewImageTooSmallError is the InvalidInput raised by geometry-dependent operations.
func NewImageTooSmallError(width, height, minSide int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidInput,
		Message:   "image too small",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"width":    width,
			"height":   height,
			"min_side": minSide,
		},
	}
}

func NewDetectionFailedError(message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDetectionFailed,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewBackingCapabilityError(capability string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorBackingCapability,
		Message:   fmt.Sprintf("%s capability failed", capability),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"capability": capability,
		},
		Cause: cause,
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

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store scan results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewDownloadFailedError(jobID string, url string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDownloadFailed,
		Message:   "Failed to download sheet image",
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"url": url,
		},
		Cause: cause,
	}
}

// WithJob returns a copy of the error attributed to jobID.
func (e *ProcessingError) WithJob(jobID string) *ProcessingError {
	clone := *e
	clone.JobID = jobID
	return &clone
}

// HasCode reports whether the first ProcessingError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsInvalidInput reports whether err carries ErrorInvalidInput.
func IsInvalidInput(err error) bool {
	return HasCode(err, ErrorInvalidInput)
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	return HasCode(err, ErrorInvalidInput) || HasCode(err, ErrorUnsupportedFormat)
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

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
