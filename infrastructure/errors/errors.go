// Package errors provides unified error handling for the Collector and
// Gateway processes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

const (
	// Validation errors (3xxx)
	ErrCodeInvalidInput     ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"
	ErrCodeInvalidFormat    ErrorCode = "VAL_3003"
	ErrCodeOutOfRange       ErrorCode = "VAL_3004"

	// Service errors (5xxx)
	ErrCodeRateLimitExceeded ErrorCode = "SVC_5006"

	// Entropy pipeline errors (8xxx)
	ErrCodeBadPacket           ErrorCode = "ENTROPY_8001"
	ErrCodeBadPacketAuth       ErrorCode = "ENTROPY_8002"
	ErrCodeStalePacket         ErrorCode = "ENTROPY_8003"
	ErrCodeReplay              ErrorCode = "ENTROPY_8004"
	ErrCodeInsufficientEntropy ErrorCode = "ENTROPY_8005"
	ErrCodeArithmeticRange     ErrorCode = "ENTROPY_8006"
)

// ServiceError represents a structured error with code, message, and HTTP status
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// RateLimitExceeded reports a per-credential token bucket exhausted by the
// authenticated Request Router's rate limiter.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Entropy Pipeline Errors

func BadPacket(reason string) *ServiceError {
	return New(ErrCodeBadPacket, "malformed entropy packet", http.StatusBadRequest).
		WithDetails("reason", reason)
}

func BadPacketAuth() *ServiceError {
	return New(ErrCodeBadPacketAuth, "packet signature verification failed", http.StatusUnauthorized)
}

func StalePacket(ageSeconds float64) *ServiceError {
	return New(ErrCodeStalePacket, "packet timestamp outside freshness window", http.StatusGone).
		WithDetails("age_seconds", ageSeconds)
}

func Replay(sequence, watermark uint64) *ServiceError {
	return New(ErrCodeReplay, "packet sequence already admitted", http.StatusConflict).
		WithDetails("sequence", sequence).
		WithDetails("watermark", watermark)
}

func InsufficientEntropy(requested, available int, retryAfterSeconds float64) *ServiceError {
	return New(ErrCodeInsufficientEntropy, "insufficient entropy buffered", http.StatusServiceUnavailable).
		WithDetails("requested", requested).
		WithDetails("available", available).
		WithDetails("retry_after_seconds", retryAfterSeconds)
}

func ArithmeticRange(rangeSize string) *ServiceError {
	return New(ErrCodeArithmeticRange, "requested range exceeds 64-bit span", http.StatusBadRequest).
		WithDetails("range", rangeSize)
}

// InvalidRequest reports a Request Router input that fails validation
// (out-of-range length/count, min > max, and similar).
func InvalidRequest(reason string) *ServiceError {
	return New(ErrCodeInvalidInput, reason, http.StatusBadRequest)
}

// Helper functions

// IsServiceError checks if an error is a ServiceError
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
