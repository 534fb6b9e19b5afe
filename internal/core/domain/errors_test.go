package domain

import (
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "error with type and message",
			err:      &APIError{Type: ErrorTypeInvalidRequest, Message: "bad request"},
			expected: "invalid_request: bad request",
		},
		{
			name:     "error with type, code, and message",
			err:      &APIError{Type: ErrorTypeNotFound, Code: ErrorCodeUnknownGame, Message: "unknown game"},
			expected: "not_found (unknown_game): unknown game",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected int
	}{
		{
			name:     "invalid request",
			err:      &APIError{Type: ErrorTypeInvalidRequest},
			expected: http.StatusBadRequest,
		},
		{
			name:     "not found error",
			err:      &APIError{Type: ErrorTypeNotFound},
			expected: http.StatusNotFound,
		},
		{
			name:     "rejected pipeline",
			err:      &APIError{Type: ErrorTypeRejected},
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "upstream failure",
			err:      &APIError{Type: ErrorTypeUpstream},
			expected: http.StatusBadGateway,
		},
		{
			name:     "timeout",
			err:      &APIError{Type: ErrorTypeTimeout},
			expected: http.StatusGatewayTimeout,
		},
		{
			name:     "server error",
			err:      &APIError{Type: ErrorTypeServer},
			expected: http.StatusInternalServerError,
		},
		{
			name:     "unknown error type",
			err:      &APIError{Type: ErrorType("unknown")},
			expected: http.StatusInternalServerError,
		},
		{
			name:     "explicit status code",
			err:      &APIError{Type: ErrorTypeInvalidRequest, StatusCode: http.StatusConflict},
			expected: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func(string) *APIError
		message      string
		expectedType ErrorType
		expectedCode ErrorCode
	}{
		{
			name:         "ErrInvalidRequest",
			constructor:  ErrInvalidRequest,
			message:      "bad request",
			expectedType: ErrorTypeInvalidRequest,
		},
		{
			name:         "ErrNotFound",
			constructor:  ErrNotFound,
			message:      "no such thing",
			expectedType: ErrorTypeNotFound,
		},
		{
			name:         "ErrRejected",
			constructor:  ErrRejected,
			message:      "pipeline rejected",
			expectedType: ErrorTypeRejected,
			expectedCode: ErrorCodePolicyViolation,
		},
		{
			name:         "ErrUpstream",
			constructor:  ErrUpstream,
			message:      "connection refused",
			expectedType: ErrorTypeUpstream,
			expectedCode: ErrorCodeAggregateFailed,
		},
		{
			name:         "ErrTimeout",
			constructor:  ErrTimeout,
			message:      "deadline exceeded",
			expectedType: ErrorTypeTimeout,
		},
		{
			name:         "ErrServer",
			constructor:  ErrServer,
			message:      "internal error",
			expectedType: ErrorTypeServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.constructor(tt.message)
			if err.Type != tt.expectedType {
				t.Errorf("Type = %v, want %v", err.Type, tt.expectedType)
			}
			if err.Code != tt.expectedCode {
				t.Errorf("Code = %v, want %v", err.Code, tt.expectedCode)
			}
			if err.Message != tt.message {
				t.Errorf("Message = %q, want %q", err.Message, tt.message)
			}
		})
	}
}

func TestErrMissingField(t *testing.T) {
	err := ErrMissingField("player_id")
	if err.Param != "player_id" {
		t.Errorf("Param = %q, want %q", err.Param, "player_id")
	}
	if err.Code != ErrorCodeMissingField {
		t.Errorf("Code = %v, want %v", err.Code, ErrorCodeMissingField)
	}
	if err.HTTPStatusCode() != http.StatusBadRequest {
		t.Errorf("HTTPStatusCode() = %d, want %d", err.HTTPStatusCode(), http.StatusBadRequest)
	}
}

func TestErrUnknownGame(t *testing.T) {
	err := ErrUnknownGame("pong")
	if err.Error() != `not_found (unknown_game): unknown game "pong"` {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestAPIError_Chaining(t *testing.T) {
	err := NewAPIError(ErrorTypeInvalidRequest, "test").
		WithCode(ErrorCodeInvalidBody).
		WithParam("pipeline").
		WithStatusCode(http.StatusRequestEntityTooLarge)

	if err.Type != ErrorTypeInvalidRequest {
		t.Errorf("Type = %v, want %v", err.Type, ErrorTypeInvalidRequest)
	}
	if err.Code != ErrorCodeInvalidBody {
		t.Errorf("Code = %v, want %v", err.Code, ErrorCodeInvalidBody)
	}
	if err.Param != "pipeline" {
		t.Errorf("Param = %q, want %q", err.Param, "pipeline")
	}
	if err.HTTPStatusCode() != http.StatusRequestEntityTooLarge {
		t.Errorf("HTTPStatusCode() = %d, want %d", err.HTTPStatusCode(), http.StatusRequestEntityTooLarge)
	}
}
