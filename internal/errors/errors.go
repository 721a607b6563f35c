// Package errors defines the gateway's error taxonomy and its HTTP mapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies an error category on the wire.
type ErrorCode string

const (
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeMalformedInput ErrorCode = "MALFORMED_INPUT"
	CodeUnimplemented  ErrorCode = "UNIMPLEMENTED"
	CodeEngineFailure  ErrorCode = "ENGINE_FAILURE"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeBusy           ErrorCode = "BUSY"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInvalidToken   ErrorCode = "INVALID_TOKEN"
	CodeRateLimited    ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is an error that knows how it is presented to HTTP callers.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches another ServiceError by code.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of e carrying an extra detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	out := *e
	out.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// NotFound reports an unknown resource, e.g. an unregistered program id.
func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s not found: %s", resource, id), nil).
		WithDetails(resource, id)
}

func MalformedInput(message string, err error) *ServiceError {
	return newError(CodeMalformedInput, http.StatusBadRequest, message, err)
}

// Unimplemented reports an operation that the vendor behind a program does not provide.
// It is the caller's request that cannot be served, so it maps to 422.
func Unimplemented(operation, vendor string) *ServiceError {
	return newError(CodeUnimplemented, http.StatusUnprocessableEntity,
		fmt.Sprintf("%s is not implemented for %s", operation, vendor), nil).
		WithDetails("operation", operation).
		WithDetails("vendor", vendor)
}

// EngineFailure carries the engine's own message.
func EngineFailure(message string, err error) *ServiceError {
	return newError(CodeEngineFailure, http.StatusInternalServerError, message, err)
}

func Timeout(operation string, err error) *ServiceError {
	return newError(CodeTimeout, http.StatusGatewayTimeout, fmt.Sprintf("%s timed out", operation), err).
		WithDetails("operation", operation)
}

func Busy(message string) *ServiceError {
	return newError(CodeBusy, http.StatusServiceUnavailable, message, nil)
}

func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

// RateLimitExceeded reports a client over its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries a ServiceError with the given code.
func HasCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}

// HTTPStatus returns the status for err, defaulting to 500.
func HTTPStatus(err error) int {
	if se := GetServiceError(err); se != nil && se.HTTPStatus != 0 {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}
