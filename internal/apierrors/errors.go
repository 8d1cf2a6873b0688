// Package apierrors provides the engine's standardized error taxonomy.
//
// This package implements a consistent error format across the core runtime
// and the REST control plane that sits on top of it:
//   - Structured error values carrying a machine-readable taxonomy code
//   - Automatic HTTP status code mapping
//   - Optional error details for debugging
//   - A component kind/id attached to errors raised during plugin factory
//     or lifecycle operations
//
// Error categories (spec.md §7): ComponentNotFound, AlreadyExists,
// InvalidConfig, Validation, InvalidState, OperationFailed, Internal,
// ReadOnly.
//
// Usage patterns:
//
//	// Lookup miss
//	return apierrors.ComponentNotFound("source", id)
//
//	// Duplicate create
//	return apierrors.AlreadyExists("query", id)
//
//	// Wrap an underlying error from a plugin lifecycle operation
//	return apierrors.OperationFailed("source", id, "start", err)
//
//	// In an HTTP handler
//	c.JSON(err.StatusCode, err.ToResponse())
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a machine-readable error identifier (spec.md §7).
type Code string

const (
	CodeComponentNotFound Code = "COMPONENT_NOT_FOUND"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeInvalidConfig     Code = "INVALID_CONFIG"
	CodeValidation        Code = "VALIDATION"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeOperationFailed   Code = "OPERATION_FAILED"
	CodeInternal          Code = "INTERNAL"
	CodeReadOnly          Code = "CONFIG_READ_ONLY"
)

// Error represents a standardized engine error with HTTP context.
//
// It carries exactly the information spec.md §7 names for its use site: a
// taxonomy code, a human-readable message, the offending component's
// kind/id when relevant, and optional wrapped-error details.
type Error struct {
	// Code is the taxonomy code this error belongs to.
	Code Code `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Details provides additional context for debugging (optional).
	Details string `json:"details,omitempty"`

	// Kind and ID identify the offending component, when applicable.
	Kind string `json:"kind,omitempty"`
	ID   string `json:"id,omitempty"`

	// Operation names the lifecycle operation that failed (start/stop/...).
	Operation string `json:"operation,omitempty"`

	// StatusCode is the HTTP status this error maps to.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Kind != "" || e.ID != "" {
		msg = fmt.Sprintf("%s [%s %s]", msg, e.Kind, e.ID)
	}
	if e.Details != "" {
		msg = msg + " - " + e.Details
	}
	return msg
}

// Response is the JSON shape returned to REST clients.
type Response struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ToResponse converts Error to the wire Response.
func (e *Error) ToResponse() Response {
	return Response{
		Error:   string(e.Code),
		Message: e.Message,
		Code:    string(e.Code),
		Details: e.Details,
	}
}

func statusForCode(code Code) int {
	switch code {
	case CodeComponentNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeReadOnly:
		return http.StatusConflict
	case CodeInvalidConfig, CodeValidation, CodeInvalidState:
		return http.StatusBadRequest
	case CodeOperationFailed, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func build(code Code, message string) *Error {
	return &Error{Code: code, Message: message, StatusCode: statusForCode(code)}
}

// ComponentNotFound builds a 404-equivalent error for an unknown component.
func ComponentNotFound(kind, id string) *Error {
	e := build(CodeComponentNotFound, fmt.Sprintf("%s %q not found", kind, id))
	e.Kind, e.ID = kind, id
	return e
}

// AlreadyExists builds a 409-equivalent error for a duplicate create.
func AlreadyExists(kind, id string) *Error {
	e := build(CodeAlreadyExists, fmt.Sprintf("%s %q already exists", kind, id))
	e.Kind, e.ID = kind, id
	return e
}

// InvalidConfig builds a 400-equivalent error for a malformed config value.
func InvalidConfig(msg string) *Error {
	return build(CodeInvalidConfig, msg)
}

// Validation builds a 400-equivalent error for a failed validation rule.
func Validation(msg string) *Error {
	return build(CodeValidation, msg)
}

// InvalidState builds a 400-equivalent error for an illegal lifecycle transition.
func InvalidState(msg string) *Error {
	return build(CodeInvalidState, msg)
}

// OperationFailed builds a 500-equivalent error for a failed lifecycle operation.
func OperationFailed(kind, id, operation string, reason error) *Error {
	details := ""
	if reason != nil {
		details = reason.Error()
	}
	e := build(CodeOperationFailed, fmt.Sprintf("%s operation on %s %q failed", operation, kind, id))
	e.Kind, e.ID, e.Operation, e.Details = kind, id, operation, details
	return e
}

// Internal wraps an unexpected underlying error.
func Internal(err error) *Error {
	details := ""
	if err != nil {
		details = err.Error()
	}
	e := build(CodeInternal, "internal error")
	e.Details = details
	return e
}

// ReadOnly builds the 409-equivalent error surfaced when mutations are
// rejected because the config file is not writable (spec.md §4.9, §8d).
func ReadOnly() *Error {
	return build(CodeReadOnly, "configuration file is not writable; server is in read-only mode")
}

// UnknownKind formats the "enumerate available kinds" lookup-miss message
// spec.md §4.1 requires from plugin factories.
func UnknownKind(family, kind string, known []string) *Error {
	e := InvalidConfig(fmt.Sprintf("Unknown %s kind %q (available: %s)", family, kind, strings.Join(known, ", ")))
	e.Kind = kind
	return e
}

// As reports whether err is (or wraps) an *Error with the given code.
func As(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
