// Package apperr defines the error taxonomy shared by the entitlement ledger and both
// payment workflows. Callers match kinds with errors.Is against the exported sentinels.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
)

// Kind classifies an error for propagation and presentation.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindAlreadyReviewed   Kind = "already_reviewed"
	KindPaymentProvider   Kind = "payment_provider_error"
	KindValidation        Kind = "validation_error"
	KindStorage           Kind = "storage_error"
)

// Error carries a Kind plus an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works for
// every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
	ErrAlreadyReviewed   = &Error{Kind: KindAlreadyReviewed}
	ErrPaymentProvider   = &Error{Kind: KindPaymentProvider}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrStorage           = &Error{Kind: KindStorage}
)

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return newf(KindInvalidTransition, format, args...)
}

func AlreadyReviewed(format string, args ...interface{}) *Error {
	return newf(KindAlreadyReviewed, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// PaymentProvider wraps an upstream provider failure. The cause is kept for logs only.
func PaymentProvider(err error) *Error {
	return &Error{Kind: KindPaymentProvider, Message: "payment provider request failed", Err: err}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// FromDB maps gorm errors onto the taxonomy. Errors that already carry a kind pass through.
func FromDB(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Kind: KindNotFound, Message: op, Err: err}
	}
	return Storage(op, err)
}

// KindOf returns the kind of err, or "" for untyped errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Retryable reports whether the caller may retry the operation with backoff.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindPaymentProvider, KindStorage:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to the status code used by the HTTP layer.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition, KindAlreadyReviewed:
		return http.StatusConflict
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindPaymentProvider:
		return http.StatusBadGateway
	case KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
