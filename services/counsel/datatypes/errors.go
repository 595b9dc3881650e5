// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind classifies failures across the service. Handlers map kinds to
// HTTP status codes; retry logic maps them to retryability.
type ErrorKind string

const (
	KindInvalidInput            ErrorKind = "InvalidInput"
	KindNotFound                ErrorKind = "NotFound"
	KindConflict                ErrorKind = "Conflict"
	KindUnauthorized            ErrorKind = "Unauthorized"
	KindResourceExhausted       ErrorKind = "ResourceExhausted"
	KindTransient               ErrorKind = "Transient"
	KindFatal                   ErrorKind = "Fatal"
	KindInvalidStructuredOutput ErrorKind = "InvalidStructuredOutput"
	KindCancelled               ErrorKind = "Cancelled"
	KindDeadlineExceeded        ErrorKind = "DeadlineExceeded"
	KindInternal                ErrorKind = "Internal"
)

// CoreError is the typed error carried across component boundaries.
type CoreError struct {
	Kind    ErrorKind
	Message string
	Err     error

	// Metadata carries diagnostics that must not reach user-visible
	// output, such as the raw model text behind a structured-output
	// failure.
	Metadata map[string]string
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// Retryable reports whether the operation may be retried as-is.
func (e *CoreError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindResourceExhausted
}

// NewError builds a CoreError without a cause.
func NewError(kind ErrorKind, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a CoreError wrapping a cause.
func WrapError(kind ErrorKind, err error, format string, args ...any) *CoreError {
	return &CoreError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from any error. Plain errors classify as
// Internal; context errors classify as Cancelled/DeadlineExceeded.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CoreError
	return errors.As(err, &ce) && ce.Kind == kind
}

// IsRetryable reports whether err may be retried.
func IsRetryable(err error) bool {
	var ce *CoreError
	return errors.As(err, &ce) && ce.Retryable()
}

// HTTPStatus maps an error kind to its transport status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindResourceExhausted:
		return http.StatusTooManyRequests
	case KindDeadlineExceeded:
		return http.StatusGatewayTimeout
	case KindCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// ErrorResponse is the uniform error body: {errorCode, message, traceId}.
type ErrorResponse struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	TraceID   string `json:"traceId,omitempty"`
}
