// Package apperror defines the error taxonomy shared by every layer.
//
// Services return *AppError values wrapping one of the sentinels below.
// Handlers match the sentinel with errors.Is to pick an HTTP status, and
// read the message, reason and details with errors.As. Nothing in here
// knows about HTTP.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotConnected    = errors.New("not connected")
	ErrOAuthFailed     = errors.New("oauth failed")
	ErrDuplicate       = errors.New("duplicate")
	ErrNotReady        = errors.New("not ready")
	ErrNotAvailable    = errors.New("not available")
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrUpstream        = errors.New("upstream error")
	ErrTooLarge        = errors.New("too large")
)

// OAuth failure reasons carried in AppError.Reason.
const (
	ReasonCancelled     = "cancelled"
	ReasonProvider      = "provider"
	ReasonExpiredState  = "expired_state"
	ReasonStateConsumed = "state_consumed"
)

// Rejection names one file refused by upload validation and why.
type Rejection struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type AppError struct {
	Err     error       // sentinel, matched with errors.Is
	Message string      // human-readable, safe to show to the client
	Field   string      // optional: input field at fault
	Reason  string      // optional: sub-kind, e.g. the OAuth failure reason
	Details []Rejection // optional: per-item rejections
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure came from something external that
// may succeed on a later attempt.
func (e *AppError) Retryable() bool {
	switch {
	case errors.Is(e.Err, ErrUpstreamTimeout), errors.Is(e.Err, ErrUpstream):
		return true
	case errors.Is(e.Err, ErrOAuthFailed):
		return e.Reason == ReasonProvider
	}
	return false
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// UploadRejected aggregates every refused file of an upload batch.
func UploadRejected(rejections []Rejection) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: fmt.Sprintf("upload rejected: %d file(s) failed validation", len(rejections)),
		Field:   "files",
		Reason:  "upload_rejected",
		Details: rejections,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// NotConnected is returned when an operation needs a linked GitHub account
// and the user has none.
func NotConnected() *AppError {
	return &AppError{
		Err:     ErrNotConnected,
		Message: "no GitHub account is connected",
	}
}

// OAuthFailed reports a failed handshake step. reason is one of the Reason*
// constants.
func OAuthFailed(reason, message string) *AppError {
	return &AppError{
		Err:     ErrOAuthFailed,
		Message: message,
		Reason:  reason,
	}
}

// Duplicate reports an attempt to register something that already exists.
// It is kept apart from Conflict so clients can say "already added".
func Duplicate(resource, key string) *AppError {
	return &AppError{
		Err:     ErrDuplicate,
		Message: fmt.Sprintf("%s %s already exists", resource, key),
	}
}

func NotReady(message string) *AppError {
	return &AppError{
		Err:     ErrNotReady,
		Message: message,
	}
}

func NotAvailable(message string) *AppError {
	return &AppError{
		Err:     ErrNotAvailable,
		Message: message,
	}
}

// UpstreamTimeout reports that a bounded external call ran out of time.
func UpstreamTimeout(operation string) *AppError {
	return &AppError{
		Err:     ErrUpstreamTimeout,
		Message: fmt.Sprintf("%s timed out", operation),
	}
}

// Upstream reports an external service failure. The cause is deliberately
// not part of the message: provider errors can echo request data.
func Upstream(operation string) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: fmt.Sprintf("%s failed upstream", operation),
	}
}

func TooLarge(what string, limit int64) *AppError {
	return &AppError{
		Err:     ErrTooLarge,
		Message: fmt.Sprintf("%s exceeds the %d byte limit", what, limit),
	}
}
