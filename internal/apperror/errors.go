// Package apperror provides a structured way to handle broker errors with
// specific codes, severity levels, and additional details. It also includes
// utilities for converting to and from gRPC status errors.
package apperror

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents a specific broker error code.
type ErrorCode string

const (
	// Validation (spec §7: malformed/missing request fields)
	CodeValidation        ErrorCode = "VALIDATION_ERROR"
	CodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	CodeMissingField      ErrorCode = "MISSING_FIELD"
	CodeInvalidRegistrant ErrorCode = "INVALID_REGISTRANT_KIND"

	// Discovery store (C2)
	CodeDiscoveryUnavailable ErrorCode = "DISCOVERY_UNAVAILABLE"
	CodeDiscoveryRegister    ErrorCode = "DISCOVERY_REGISTER_FAILED"
	CodeDiscoveryDeregister  ErrorCode = "DISCOVERY_DEREGISTER_FAILED"

	// Health gating (C3)
	CodeHealthTimeout  ErrorCode = "HEALTH_GATE_TIMEOUT"
	CodeHealthRejected ErrorCode = "HEALTH_GATE_REJECTED"

	// Module callback (C4)
	CodeCallbackUnreachable ErrorCode = "CALLBACK_UNREACHABLE"
	CodeCallbackRejected    ErrorCode = "CALLBACK_REJECTED"
	CodeCallbackTimeout     ErrorCode = "CALLBACK_TIMEOUT"
	CodeCallbackMetadata    ErrorCode = "CALLBACK_METADATA_INVALID"

	// Metadata persistence (C5)
	CodePersistence       ErrorCode = "PERSISTENCE_ERROR"
	CodeUniqueViolation   ErrorCode = "UNIQUE_VIOLATION"
	CodeMetadataNotFound  ErrorCode = "METADATA_NOT_FOUND"

	// Schema archive (C6)
	CodeArchiveUnavailable ErrorCode = "ARCHIVE_UNAVAILABLE"
	CodeArchiveRejected    ErrorCode = "ARCHIVE_SCHEMA_REJECTED"
	CodeArchiveNotFound    ErrorCode = "ARCHIVE_SCHEMA_NOT_FOUND"

	// Discovery/query (C7)
	CodeNotFound ErrorCode = "NOT_FOUND"

	// Cancellation / lifecycle
	CodeCanceled ErrorCode = "CANCELED"
	CodeAborted  ErrorCode = "ABORTED"

	// General
	CodeInternal         ErrorCode = "INTERNAL_ERROR"
	CodeUnauthenticated  ErrorCode = "UNAUTHENTICATED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeUnimplemented    ErrorCode = "UNIMPLEMENTED"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
)

// Severity defines the criticality level of an error.
type Severity int

const (
	// SeverityWarning indicates a non-critical issue that can be ignored or automatically resolved.
	SeverityWarning Severity = iota
	// SeverityError indicates a standard error that requires attention.
	SeverityError
	// SeverityCritical indicates a severe error that might require immediate human intervention.
	SeverityCritical
)

// String returns the string representation of the Severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is a broker error carrying a code, message, optional field,
// structured details, an underlying cause, and a severity level.
type Error struct {
	Code     ErrorCode
	Message  string
	Field    string
	Details  map[string]any
	Cause    error
	Severity Severity
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error, allowing error chain introspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// GRPCStatus converts the broker error into a gRPC status.Status.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.grpcCode(), e.Message)
}

// grpcCode maps an ErrorCode to an appropriate gRPC codes.Code.
func (e *Error) grpcCode() codes.Code {
	switch e.Code {
	case CodeValidation, CodeInvalidArgument, CodeMissingField, CodeInvalidRegistrant,
		CodeCallbackMetadata:
		return codes.InvalidArgument

	case CodeNotFound, CodeMetadataNotFound, CodeArchiveNotFound:
		return codes.NotFound

	case CodeHealthTimeout, CodeCallbackTimeout:
		return codes.DeadlineExceeded

	case CodeUnauthenticated:
		return codes.Unauthenticated

	case CodePermissionDenied:
		return codes.PermissionDenied

	case CodeHealthRejected, CodeCallbackRejected, CodeArchiveRejected, CodeAborted:
		return codes.Aborted

	case CodeDiscoveryUnavailable, CodeCallbackUnreachable, CodeArchiveUnavailable:
		return codes.Unavailable

	case CodeUniqueViolation:
		return codes.AlreadyExists

	case CodeCanceled:
		return codes.Canceled

	case CodeRateLimited:
		return codes.ResourceExhausted

	case CodeUnimplemented:
		return codes.Unimplemented

	default:
		return codes.Internal
	}
}

// New creates a new broker error with SeverityError.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]any), Severity: SeverityError}
}

// NewWithField creates a new broker error carrying the offending field name.
func NewWithField(code ErrorCode, message, field string) *Error {
	return &Error{Code: code, Message: message, Field: field, Details: make(map[string]any), Severity: SeverityError}
}

// NewWarning creates a new broker error with SeverityWarning.
func NewWarning(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]any), Severity: SeverityWarning}
}

// NewCritical creates a new broker error with SeverityCritical.
func NewCritical(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]any), Severity: SeverityCritical}
}

// Wrap wraps an existing error with a broker code and message.
func Wrap(cause error, code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause, Details: make(map[string]any), Severity: SeverityError}
}

// WithDetails attaches a key/value pair to the error's details map.
func (e *Error) WithDetails(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// WithField sets the field associated with the error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithSeverity overrides the error's severity.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// Is reports whether err is a broker error with the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the ErrorCode from err, defaulting to CodeInternal.
func Code(err error) ErrorCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// ToGRPC converts a broker error, or any other error, into a gRPC error.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.GRPCStatus().Err()
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}

// FromGRPC converts a gRPC error back into a broker *Error.
func FromGRPC(err error) *Error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return New(CodeInternal, err.Error())
	}

	var code ErrorCode
	switch st.Code() {
	case codes.InvalidArgument:
		code = CodeInvalidArgument
	case codes.NotFound:
		code = CodeNotFound
	case codes.DeadlineExceeded:
		code = CodeHealthTimeout
	case codes.Unauthenticated:
		code = CodeUnauthenticated
	case codes.PermissionDenied:
		code = CodePermissionDenied
	case codes.Unavailable:
		code = CodeDiscoveryUnavailable
	case codes.AlreadyExists:
		code = CodeUniqueViolation
	case codes.Canceled:
		code = CodeCanceled
	default:
		code = CodeInternal
	}
	return New(code, st.Message())
}

// IsWarning reports whether err is a broker error with SeverityWarning.
func IsWarning(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Severity == SeverityWarning
	}
	return false
}

// IsCritical reports whether err is a broker error with SeverityCritical.
func IsCritical(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Severity == SeverityCritical
	}
	return false
}

// Predefined errors for common scenarios.
var (
	ErrNotFound          = New(CodeNotFound, "resource not found")
	ErrMetadataNotFound  = New(CodeMetadataNotFound, "metadata row not found")
	ErrCanceled          = New(CodeCanceled, "registration canceled by caller")
	ErrHealthTimeout     = New(CodeHealthTimeout, "health check did not pass before deadline")
	ErrCallbackTimeout   = New(CodeCallbackTimeout, "module callback did not respond before deadline")
	ErrDiscoveryDown     = New(CodeDiscoveryUnavailable, "discovery store unreachable")
)

// ValidationErrors aggregates multiple validation failures (and warnings)
// encountered while checking a single incoming request.
type ValidationErrors struct {
	Errors   []*Error
	Warnings []*Error
}

// NewValidationErrors returns an empty ValidationErrors collection.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Errors: make([]*Error, 0), Warnings: make([]*Error, 0)}
}

// Add appends err to Errors or Warnings based on its severity.
func (v *ValidationErrors) Add(err *Error) {
	if err.Severity == SeverityWarning {
		v.Warnings = append(v.Warnings, err)
	} else {
		v.Errors = append(v.Errors, err)
	}
}

// AddError creates and appends a SeverityError entry.
func (v *ValidationErrors) AddError(code ErrorCode, message string) {
	v.Errors = append(v.Errors, New(code, message))
}

// AddErrorWithField creates and appends a SeverityError entry with a field.
func (v *ValidationErrors) AddErrorWithField(code ErrorCode, message, field string) {
	v.Errors = append(v.Errors, NewWithField(code, message, field))
}

// HasErrors reports whether any non-warning errors were collected.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// IsValid reports whether the collection contains no errors.
func (v *ValidationErrors) IsValid() bool {
	return !v.HasErrors()
}

// ErrorMessages returns the string form of every collected error.
func (v *ValidationErrors) ErrorMessages() []string {
	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		messages[i] = err.Error()
	}
	return messages
}

// Error implements the error interface for ValidationErrors itself, so the
// whole collection can be returned/wrapped as a single error value.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %v", v.ErrorMessages())
}
