package web

import (
	"encoding/json"
	"net/http"
	"strings"
)

// APIError represents a user-friendly error response
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	StatusCode int    `json:"-"`
}

// Error codes for categorization
const (
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeDatabaseError = "DATABASE_ERROR"
	ErrCodePipelineError = "PIPELINE_ERROR"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// Common error messages with user-friendly suggestions
var errorMessages = map[string]struct {
	Message    string
	Suggestion string
}{
	ErrCodeInternalError: {
		Message:    "An internal error occurred",
		Suggestion: "Please try again. If the problem persists, check the server logs.",
	},
	ErrCodeUnauthorized: {
		Message:    "Authentication required",
		Suggestion: "Please log in to access this resource.",
	},
	ErrCodeForbidden: {
		Message:    "Access denied",
		Suggestion: "You don't have permission to perform this action. Contact your administrator for access.",
	},
	ErrCodeNotFound: {
		Message:    "Resource not found",
		Suggestion: "The requested resource doesn't exist or may have expired.",
	},
	ErrCodeDatabaseError: {
		Message:    "Audit store unavailable",
		Suggestion: "Check the database connection and the storage configuration.",
	},
	ErrCodePipelineError: {
		Message:    "Batch execution failed",
		Suggestion: "Check the audit log for the per-command record of this batch.",
	},
	ErrCodeTimeout: {
		Message:    "Request timed out",
		Suggestion: "The operation took too long. Try again with a smaller scope.",
	},
	ErrCodeRateLimited: {
		Message:    "Too many attempts",
		Suggestion: "Please wait a moment before trying again.",
	},
}

// NewAPIError creates a new API error with a user-friendly message
func NewAPIError(code string, detail string) *APIError {
	info := errorMessages[code]
	if info.Message == "" {
		info = errorMessages[ErrCodeInternalError]
	}

	return &APIError{
		Code:       code,
		Message:    info.Message,
		Detail:     detail,
		Suggestion: info.Suggestion,
		StatusCode: getStatusCodeForError(code),
	}
}

// NewAPIErrorWithSuggestion creates an API error with a custom suggestion
func NewAPIErrorWithSuggestion(code, detail, suggestion string) *APIError {
	err := NewAPIError(code, detail)
	err.Suggestion = suggestion
	return err
}

func getStatusCodeForError(code string) int {
	switch code {
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeDatabaseError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes an API error to the response
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	_ = json.NewEncoder(w).Encode(err)
}

// WriteErrorSimple writes an error with an explicit status code
func WriteErrorSimple(w http.ResponseWriter, statusCode int, message string) {
	code := ErrCodeInternalError
	switch statusCode {
	case http.StatusBadRequest:
		code = ErrCodeBadRequest
	case http.StatusUnauthorized:
		code = ErrCodeUnauthorized
	case http.StatusForbidden:
		code = ErrCodeForbidden
	case http.StatusNotFound:
		code = ErrCodeNotFound
	case http.StatusTooManyRequests:
		code = ErrCodeRateLimited
	}

	err := NewAPIError(code, message)
	err.StatusCode = statusCode
	WriteError(w, err)
}

// BadRequest writes a 400 Bad Request error response
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(ErrCodeBadRequest, message))
}

// Unauthorized writes a 401 Unauthorized error response
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(ErrCodeUnauthorized, message))
}

// Forbidden writes a 403 Forbidden error response
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(ErrCodeForbidden, message))
}

// NotFound writes a 404 Not Found error response
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(ErrCodeNotFound, message))
}

// InternalError writes a 500 Internal Server Error response
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(ErrCodeInternalError, message))
}

// MethodNotAllowed writes a 405 Method Not Allowed response
func MethodNotAllowed(w http.ResponseWriter, allowedMethods ...string) {
	if len(allowedMethods) > 0 {
		w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
	}
	WriteErrorSimple(w, http.StatusMethodNotAllowed, "Method not allowed")
}
