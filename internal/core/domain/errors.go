// Package domain provides canonical types shared across the service.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed or invalid request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeRejected indicates a pipeline was refused by a strict policy.
	ErrorTypeRejected ErrorType = "rejected"

	// ErrorTypeUpstream indicates the document store failed.
	ErrorTypeUpstream ErrorType = "upstream"

	// ErrorTypeTimeout indicates the request deadline expired.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeServer indicates an internal server error.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeUnknownGame       ErrorCode = "unknown_game"
	ErrorCodeUnknownCollection ErrorCode = "unknown_collection"
	ErrorCodeInvalidBody       ErrorCode = "invalid_body"
	ErrorCodeMissingField      ErrorCode = "missing_field"
	ErrorCodePolicyViolation   ErrorCode = "policy_violation"
	ErrorCodeAggregateFailed   ErrorCode = "aggregate_failed"
)

// APIError is the canonical error returned by handlers.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Param is the request field that caused the error (if applicable)
	Param string `json:"param,omitempty"`

	// StatusCode is the suggested HTTP status code
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRejected:
		return http.StatusUnprocessableEntity
	case ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds a parameter name to the error.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrMissingField creates an invalid request error for a required field.
func ErrMissingField(field string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, field+" is required").
		WithCode(ErrorCodeMissingField).
		WithParam(field)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrUnknownGame creates a not found error for an unregistered game.
func ErrUnknownGame(game string) *APIError {
	return NewAPIError(ErrorTypeNotFound, fmt.Sprintf("unknown game %q", game)).
		WithCode(ErrorCodeUnknownGame).
		WithParam("game")
}

// ErrRejected creates a policy rejection error.
func ErrRejected(message string) *APIError {
	return NewAPIError(ErrorTypeRejected, message).
		WithCode(ErrorCodePolicyViolation)
}

// ErrUpstream creates a document store failure error.
func ErrUpstream(message string) *APIError {
	return NewAPIError(ErrorTypeUpstream, message).
		WithCode(ErrorCodeAggregateFailed)
}

// ErrTimeout creates a deadline exceeded error.
func ErrTimeout(message string) *APIError {
	return NewAPIError(ErrorTypeTimeout, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}
