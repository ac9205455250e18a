// Package domainerrors provides coded errors for domain logic. Services
// return these so transports can map failures to status codes and callers
// can distinguish retryable conditions (fee too low, queue empty) from
// permanent ones (already graded, unauthorized).
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain failure.
type Code string

const (
	// Input and lookup failures.
	CodeInvalidInput Code = "invalid_input"
	CodeBadRequest   Code = "bad_request"
	CodeNotFound     Code = "not_found"
	CodeUnauthorized Code = "unauthorized"
	CodeConflict     Code = "conflict"

	// State-machine violations.
	CodeAlreadyGraded    Code = "already_graded"
	CodeAlreadyQueued    Code = "already_queued"
	CodeAlreadyCompleted Code = "already_completed"
	CodeAlreadyListed    Code = "already_listed"
	CodeNotListed        Code = "not_listed"
	CodeNoRequest        Code = "no_request"
	CodeQueueEmpty       Code = "queue_empty"
	CodePaused           Code = "paused"

	// Value-transfer conditions.
	CodeInsufficientFee Code = "insufficient_fee"
	CodePaymentMismatch Code = "payment_mismatch"
	CodePaymentFailed   Code = "payment_failed"
	CodeNotForSale      Code = "not_for_sale"
	CodeInvalidSeller   Code = "invalid_seller"

	// Purchase-time integrity check failed: registry state no longer
	// matches what the buyer decided on.
	CodeStaleState Code = "stale_state"

	CodeUnavailable Code = "unavailable"
	CodeInternal    Code = "internal"
)

// Error is a domain error with a classification code.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by code and message so errors.Is works against a
// freshly constructed sentinel.
func (e *Error) Is(target error) bool {
	var te *Error
	if !errors.As(target, &te) {
		return false
	}
	return e.Code == te.Code && e.Message == te.Message
}

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. If err is nil,
// Wrap returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// Is is shorthand for HasCode, matching the call shape used in handlers.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf returns the outermost code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to an HTTP status for the transport layer.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest, CodeInsufficientFee, CodePaymentMismatch, CodeNotForSale, CodeInvalidSeller:
		return http.StatusBadRequest
	case CodeNotFound, CodeQueueEmpty, CodeNoRequest:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeAlreadyGraded, CodeAlreadyQueued, CodeAlreadyCompleted, CodeAlreadyListed, CodeNotListed, CodeConflict, CodeStaleState:
		return http.StatusConflict
	case CodePaused, CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodePaymentFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
