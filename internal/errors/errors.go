package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Locial error code.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrAuthRequired     ErrorCode = "AUTH_REQUIRED"     // 401
	ErrForbidden        ErrorCode = "FORBIDDEN"         // 403
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED" // 403 (location sensor)
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrRateLimited      ErrorCode = "RATE_LIMITED"      // 429
	ErrInternal         ErrorCode = "INTERNAL"          // 500
	ErrPersist          ErrorCode = "PERSIST_ERROR"     // 500
	ErrFetch            ErrorCode = "FETCH_ERROR"       // 502
	ErrPlayback         ErrorCode = "PLAYBACK_ERROR"    // 500
	ErrUnavailable      ErrorCode = "UNAVAILABLE"       // 503 (location sensor)
)

// LocialError represents a structured error with code, status, and details.
type LocialError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	cause error
}

// Error implements the error interface.
func (e *LocialError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *LocialError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *LocialError {
	return &LocialError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewAuthRequired creates a 401 error for operations that need an identity.
func NewAuthRequired(msg string) *LocialError {
	if msg == "" {
		msg = "login required"
	}
	return &LocialError{
		Code:    ErrAuthRequired,
		Status:  401,
		Message: msg,
	}
}

// NewForbidden creates a 403 error when the caller does not own the resource.
func NewForbidden(msg string) *LocialError {
	return &LocialError{
		Code:    ErrForbidden,
		Status:  403,
		Message: msg,
	}
}

// NewPermissionDenied creates a 403 error for a location sensor the user refused.
func NewPermissionDenied(msg string) *LocialError {
	return &LocialError{
		Code:    ErrPermissionDenied,
		Status:  403,
		Message: msg,
	}
}

// NewUnavailable creates a 503 error for a location sensor that cannot produce a fix.
func NewUnavailable(msg string) *LocialError {
	return &LocialError{
		Code:    ErrUnavailable,
		Status:  503,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing post or user.
func NewNotFound(kind, identifier string) *LocialError {
	return &LocialError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewRateLimited creates a 429 error when a caller exceeds the post rate.
func NewRateLimited(identity string) *LocialError {
	return &LocialError{
		Code:    ErrRateLimited,
		Status:  429,
		Message: "too many posts, slow down",
		Details: map[string]any{"identity": identity},
	}
}

// NewFetch creates a 502 error for a failed catalog retrieval.
func NewFetch(err error) *LocialError {
	msg := "failed to fetch posts"
	if err != nil {
		msg = fmt.Sprintf("failed to fetch posts: %v", err)
	}
	return &LocialError{
		Code:    ErrFetch,
		Status:  502,
		Message: msg,
		cause:   err,
	}
}

// NewPersist creates a 500 error for a post that could not be saved.
func NewPersist(err error) *LocialError {
	msg := "failed to save post"
	if err != nil {
		msg = fmt.Sprintf("failed to save post: %v", err)
	}
	return &LocialError{
		Code:    ErrPersist,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// NewPlayback creates a 500 error for a speech backend failure.
func NewPlayback(postID string, err error) *LocialError {
	msg := "playback failed"
	if err != nil {
		msg = fmt.Sprintf("playback failed: %v", err)
	}
	return &LocialError{
		Code:    ErrPlayback,
		Status:  500,
		Message: msg,
		Details: map[string]any{"post_id": postID},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *LocialError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &LocialError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if err (or anything it wraps) is a LocialError with the given code.
func Is(err error, code ErrorCode) bool {
	var lErr *LocialError
	if stderrors.As(err, &lErr) {
		return lErr.Code == code
	}
	return false
}

// As extracts a LocialError from err, wrapping unknown errors as INTERNAL.
func As(err error) *LocialError {
	var lErr *LocialError
	if stderrors.As(err, &lErr) {
		return lErr
	}
	return NewInternal(err)
}
