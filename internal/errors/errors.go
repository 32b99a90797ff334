// Package errors provides structured error types for the Tessera sync
// engine. All errors include a category, code, and message for consistent
// handling across components; none of them are retried automatically.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCategory classifies errors by failure mode.
type ErrorCategory string

const (
	// ErrCategoryValidation is a local precondition failure; no remote call
	// was made.
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	// ErrCategoryRemote is a server-side rejection surfaced verbatim.
	ErrCategoryRemote ErrorCategory = "REMOTE"
	// ErrCategoryJob is an asynchronous job that reached FAILED.
	ErrCategoryJob ErrorCategory = "JOB"
	// ErrCategoryTimeout is a wait that expired without a terminal state.
	ErrCategoryTimeout ErrorCategory = "TIMEOUT"
	// ErrCategoryCodec is a wire encoding/decoding failure.
	ErrCategoryCodec ErrorCategory = "CODEC"
	// ErrCategorySnapshot is a local snapshot-store failure.
	ErrCategorySnapshot ErrorCategory = "SNAPSHOT"
	// ErrCategoryStaging is a bulk-payload staging failure.
	ErrCategoryStaging ErrorCategory = "STAGING"
	// ErrCategoryInternal is an unexpected internal failure.
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidColumnName = "INVALID_COLUMN_NAME"
	CodeInvalidPrimaryKey = "INVALID_PRIMARY_KEY"
	CodeAmbiguousMatch    = "AMBIGUOUS_MATCH"
	CodeMissingField      = "MISSING_FIELD"
	CodeDuplicateColumn   = "DUPLICATE_COLUMN"

	// Remote codes
	CodeRequestRejected = "REQUEST_REJECTED"
	CodeNotFound        = "NOT_FOUND"

	// Job codes
	CodeJobFailed = "JOB_FAILED"

	// Timeout codes
	CodeJobTimeout         = "JOB_TIMEOUT"
	CodeConsistencyTimeout = "CONSISTENCY_TIMEOUT"

	// Codec codes
	CodeUnsupportedType = "UNSUPPORTED_TYPE"
	CodeBadValue        = "BAD_VALUE"

	// Snapshot codes
	CodeSnapshotIO = "SNAPSHOT_IO"

	// Staging codes
	CodeStagingUpload   = "STAGING_UPLOAD"
	CodeStagingDownload = "STAGING_DOWNLOAD"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// SyncError is the structured error type used throughout the engine.
type SyncError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SyncError) Is(target error) bool {
	var t *SyncError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SyncError.
func New(category ErrorCategory, code, message string) *SyncError {
	return &SyncError{Category: category, Code: code, Message: message}
}

// Wrap creates a new SyncError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SyncError {
	return &SyncError{Category: category, Code: code, Message: message, Cause: cause}
}

// WithDetails returns a copy of the error with additional details.
func (e *SyncError) WithDetails(details map[string]interface{}) *SyncError {
	cp := *e
	cp.Details = details
	return &cp
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SyncError.
func GetCategory(err error) ErrorCategory {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SyncError.
func GetCode(err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsValidation reports whether the error chain carries a validation error.
func IsValidation(err error) bool {
	return GetCategory(err) == ErrCategoryValidation
}

// IsTimeout reports whether the error chain carries a timeout error.
func IsTimeout(err error) bool {
	return GetCategory(err) == ErrCategoryTimeout
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *SyncError {
	return New(ErrCategoryValidation, code, message)
}

func NewRemoteError(status int, message string, cause error) *SyncError {
	e := Wrap(ErrCategoryRemote, CodeRequestRejected, message, cause)
	e.Details = map[string]interface{}{"status": status}
	return e
}

// NewJobError carries the failed job's id, message and details.
func NewJobError(jobID, message, details string) *SyncError {
	e := New(ErrCategoryJob, CodeJobFailed, message)
	e.Details = map[string]interface{}{"job_id": jobID, "error_details": details}
	return e
}

// NewTimeoutError records the elapsed wall-clock duration of the expired wait.
func NewTimeoutError(code, message string, elapsed time.Duration) *SyncError {
	e := New(ErrCategoryTimeout, code, message)
	e.Details = map[string]interface{}{"elapsed": elapsed.String()}
	return e
}

func NewCodecError(code, message string) *SyncError {
	return New(ErrCategoryCodec, code, message)
}

func NewSnapshotError(message string, cause error) *SyncError {
	return Wrap(ErrCategorySnapshot, CodeSnapshotIO, message, cause)
}

func NewStagingError(code, message string, cause error) *SyncError {
	return Wrap(ErrCategoryStaging, code, message, cause)
}

func NewInternalError(message string, cause error) *SyncError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
