package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies transcription failures for retry decisions,
// metrics labels, and user-facing breakdowns.
type ErrorCode string

const (
	// CodeInvalidConfiguration rejects a job before any work starts.
	CodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"

	// CodeChunkProcessing marks a failure local to one chunk.
	CodeChunkProcessing ErrorCode = "CHUNK_PROCESSING"

	// CodeResourceExhausted marks a transient recognition failure
	// (out of memory, busy device); retried once.
	CodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// CodeToolNotFound marks a missing external tool; job-fatal.
	CodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"

	// CodeUnsupportedFormat marks media the normalizer cannot decode;
	// job-fatal, not retried.
	CodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// CodeMergeInconsistency marks an internal invariant violation in
	// the merge engine; job-fatal.
	CodeMergeInconsistency ErrorCode = "MERGE_INCONSISTENCY"
)

// CodedError carries an ErrorCode alongside message and cause so
// callers can branch on failure class without string matching.
type CodedError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// NewCodedError builds a classified error.
func NewCodedError(code ErrorCode, message string, cause error) *CodedError {
	return &CodedError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the ErrorCode from an error chain, defaulting to
// CodeChunkProcessing for unclassified errors.
func CodeOf(err error) ErrorCode {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeChunkProcessing
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var coded *CodedError
	return errors.As(err, &coded) && coded.Code == code
}
