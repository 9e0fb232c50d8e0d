// Package errhandling provides error classification and retry utilities
// for calls made against the remote feature service.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrorCategory represents the type/category of an error.
// Categories help determine the appropriate error handling strategy.
type ErrorCategory string

// Error categories for classification.
const (
	// CategoryNetwork represents network-related errors (timeout, connection refused, DNS).
	CategoryNetwork ErrorCategory = "network"

	// CategoryAuthentication represents authentication errors (401, 403, 498, 499).
	CategoryAuthentication ErrorCategory = "authentication"

	// CategoryValidation represents malformed requests (400, 422), including
	// where clauses the service could not parse.
	CategoryValidation ErrorCategory = "validation"

	// CategoryRateLimit represents rate limiting errors (429).
	CategoryRateLimit ErrorCategory = "rate_limit"

	// CategoryServer represents server errors (5xx).
	CategoryServer ErrorCategory = "server"

	// CategoryNotFound represents missing services or layers (404).
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryStorage represents local history database errors.
	CategoryStorage ErrorCategory = "storage"

	// CategoryUnknown represents unclassified errors.
	// Unknown errors are retryable by default.
	CategoryUnknown ErrorCategory = "unknown"
)

// ClassifiedError wraps an error with classification metadata.
type ClassifiedError struct {
	// Category is the error classification category.
	Category ErrorCategory

	// Retryable indicates whether the error is transient and can be retried.
	Retryable bool

	// StatusCode is the HTTP (or service) status code, 0 if not applicable.
	StatusCode int

	// Message is a human-readable error message.
	Message string

	// Details carries service-provided detail lines, if any.
	Details []string

	// OriginalErr is the underlying error that was classified.
	OriginalErr error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	msg := e.Message
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Category, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Category, msg)
}

// Unwrap returns the original error for use with errors.Is and errors.As.
func (e *ClassifiedError) Unwrap() error {
	return e.OriginalErr
}

type statusClass struct {
	category  ErrorCategory
	retryable bool
	message   string
}

var knownStatuses = map[int]statusClass{
	400: {CategoryValidation, false, "bad request"},
	401: {CategoryAuthentication, false, "unauthorized"},
	403: {CategoryAuthentication, false, "forbidden"},
	404: {CategoryNotFound, false, "not found"},
	422: {CategoryValidation, false, "unprocessable entity"},
	429: {CategoryRateLimit, true, "rate limited"},
	// ArcGIS token errors: 498 invalid token, 499 token required.
	498: {CategoryAuthentication, false, "invalid token"},
	499: {CategoryAuthentication, false, "token required"},
	500: {CategoryServer, true, "internal server error"},
	502: {CategoryServer, true, "bad gateway"},
	503: {CategoryServer, true, "service unavailable"},
	504: {CategoryServer, true, "gateway timeout"},
}

// ClassifyHTTPStatus classifies an HTTP error based on status code.
//
// Classification rules:
//   - 401, 403, 498, 499: authentication (not retryable)
//   - 400, 422 and other 4xx: validation (not retryable)
//   - 404: not found (not retryable)
//   - 429: rate limit (retryable)
//   - 5xx: server (retryable)
//   - anything else: unknown (retryable)
func ClassifyHTTPStatus(statusCode int, message string) *ClassifiedError {
	if known, ok := knownStatuses[statusCode]; ok {
		return &ClassifiedError{
			Category:   known.category,
			Retryable:  known.retryable,
			StatusCode: statusCode,
			Message:    known.message,
		}
	}

	switch {
	case statusCode >= 500:
		return &ClassifiedError{Category: CategoryServer, Retryable: true, StatusCode: statusCode, Message: "server error"}
	case statusCode >= 400:
		return &ClassifiedError{Category: CategoryValidation, Retryable: false, StatusCode: statusCode, Message: "client error"}
	default:
		return &ClassifiedError{Category: CategoryUnknown, Retryable: true, StatusCode: statusCode, Message: message}
	}
}

// ClassifyServiceError classifies an error object embedded in a 200 response
// body, as ArcGIS REST endpoints report most failures that way:
//
//	{"error": {"code": 400, "message": "Unable to complete operation.", "details": ["..."]}}
func ClassifyServiceError(code int, message string, details []string) *ClassifiedError {
	classified := ClassifyHTTPStatus(code, message)
	if message != "" {
		classified.Message = message
	}
	classified.Details = details
	return classified
}

// ClassifyNetworkError classifies a network-related error.
func ClassifyNetworkError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Retryable: false, Message: "nil error"}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Category: CategoryNetwork, Retryable: true, Message: "request timeout", OriginalErr: err}
	}

	// Canceled is user initiated.
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Category: CategoryNetwork, Retryable: false, Message: "context canceled", OriginalErr: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &ClassifiedError{
			Category:    CategoryNetwork,
			Retryable:   true,
			Message:     fmt.Sprintf("network error: %s %s", opErr.Op, opErr.Net),
			OriginalErr: err,
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &ClassifiedError{
			Category:    CategoryNetwork,
			Retryable:   true,
			Message:     fmt.Sprintf("DNS error: %s", dnsErr.Name),
			OriginalErr: err,
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &ClassifiedError{
			Category:    CategoryNetwork,
			Retryable:   true,
			Message:     fmt.Sprintf("URL error: %s %s", urlErr.Op, urlErr.URL),
			OriginalErr: err,
		}
	}

	type timeoutError interface {
		Timeout() bool
	}
	var timeoutErr timeoutError
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return &ClassifiedError{Category: CategoryNetwork, Retryable: true, Message: "timeout", OriginalErr: err}
	}

	return &ClassifiedError{Category: CategoryUnknown, Retryable: true, Message: err.Error(), OriginalErr: err}
}

// ClassifyError classifies any error into a ClassifiedError.
// Already classified errors are returned as is.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Retryable: false, Message: "nil error"}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	return ClassifyNetworkError(err)
}

// IsRetryable returns true if the error is classified as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).Retryable
}

// IsFatal returns true if the error should not be retried.
// Fatal categories: Authentication, Validation, NotFound.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	switch GetErrorCategory(err) {
	case CategoryAuthentication, CategoryValidation, CategoryNotFound:
		return true
	default:
		return false
	}
}

// GetErrorCategory returns the error category for a given error.
// Returns CategoryUnknown for nil or unclassified errors.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return CategoryUnknown
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Category
	}

	return CategoryUnknown
}

// defaultRetryableStatusCodes is the list of HTTP status codes that are retryable by default.
var defaultRetryableStatusCodes = []int{429, 500, 502, 503, 504}

// DefaultRetryableStatusCodes returns the default list of retryable HTTP status codes.
func DefaultRetryableStatusCodes() []int {
	result := make([]int, len(defaultRetryableStatusCodes))
	copy(result, defaultRetryableStatusCodes)
	return result
}

// NewNetworkError creates a ClassifiedError for network errors.
func NewNetworkError(message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{Category: CategoryNetwork, Retryable: true, Message: message, OriginalErr: originalErr}
}

// NewValidationError creates a ClassifiedError for validation errors.
func NewValidationError(statusCode int, message string, originalErr error) *ClassifiedError {
	return &ClassifiedError{
		Category:    CategoryValidation,
		Retryable:   false,
		StatusCode:  statusCode,
		Message:     message,
		OriginalErr: originalErr,
	}
}
