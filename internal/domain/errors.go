package domain

import (
	"errors"
	"fmt"
	"time"
)

// ServiceError represents a standardized error response on the HTTP and MCP surfaces
type ServiceError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInputError         = "INPUT_ERROR"
	ErrCodeIntegrityViolation = "INTEGRITY_VIOLATION"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeDatabaseError      = "DATABASE_ERROR"
	ErrCodeRateLimit          = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeValidation         = "VALIDATION_ERROR"
)

// Sentinel errors
var (
	ErrEmptyReport        = errors.New("report text is empty")
	ErrNotText            = errors.New("report is not text")
	ErrReportTooLarge     = errors.New("report exceeds maximum size")
	ErrDanglingReference  = errors.New("dangling reference")
	ErrAnalysisNotFound   = errors.New("analysis not found")
	ErrUnknownProfile     = errors.New("unknown report profile")
	ErrInvalidKnowledge   = errors.New("invalid knowledge base")
	ErrRecognizerTimedOut = errors.New("recognizer timed out")
)

// InputError rejects a report before any pipeline stage runs.
type InputError struct {
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("input error: %v", e.Err)
	}
	return fmt.Sprintf("input error: %v: %s", e.Err, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Err }

// NewInputError wraps a sentinel input failure.
func NewInputError(err error, reason string) *InputError {
	return &InputError{Reason: reason, Err: err}
}

// IntegrityViolation reports a broken pipeline invariant detected during
// aggregation. It is a programming error and aborts the analysis.
type IntegrityViolation struct {
	Field string
	Index int
	Ref   int
}

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("integrity violation: %s[%d] references %d: %v", e.Field, e.Index, e.Ref, ErrDanglingReference)
}

func (e *IntegrityViolation) Unwrap() error { return ErrDanglingReference }

// IsInputError reports whether err is or wraps an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// IsIntegrityViolation reports whether err is or wraps an IntegrityViolation.
func IsIntegrityViolation(err error) bool {
	var iv *IntegrityViolation
	return errors.As(err, &iv)
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewServiceError creates a new ServiceError with timestamp
func NewServiceError(code, message, details, requestID string) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ServiceErrorFrom maps a pipeline error onto its wire representation.
func ServiceErrorFrom(err error, requestID string) *ServiceError {
	var se *ServiceError
	var ve *ValidationError
	switch {
	case errors.As(err, &se):
		return se
	case errors.As(err, &ve):
		return NewServiceError(ErrCodeValidation, "Invalid request", ve.Error(), requestID)
	case IsInputError(err):
		return NewServiceError(ErrCodeInputError, "Invalid report", err.Error(), requestID)
	case errors.Is(err, ErrAnalysisNotFound):
		return NewServiceError(ErrCodeNotFound, "Analysis not found", err.Error(), requestID)
	case IsIntegrityViolation(err):
		return NewServiceError(ErrCodeIntegrityViolation, "Analysis aborted", err.Error(), requestID)
	default:
		return NewServiceError(ErrCodeInternalServer, "Internal error", err.Error(), requestID)
	}
}
