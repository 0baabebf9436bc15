// Package errors defines the ledger's tagged domain errors.
//
// Every engine operation returns either nil or an error whose Kind can be
// recovered with KindOf. Transport layers map the kind to a status code with
// HTTPStatus and never expose the wrapped cause.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidState
	KindInsufficientFunds
	KindConflict
	KindTransient
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// DomainError carries a kind, a stable code, a client-safe message and an
// optional underlying cause.
type DomainError struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code so sentinels work with errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// Wrap returns a copy of e carrying cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: cause}
}

// WithMessage returns a copy of e with a more specific message.
func (e *DomainError) WithMessage(format string, args ...any) *DomainError {
	return &DomainError{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

func newErr(kind Kind, code, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *DomainError {
	return newErr(KindNotFound, "NOT_FOUND", format, args...)
}

func InvalidState(format string, args ...any) *DomainError {
	return newErr(KindInvalidState, "INVALID_STATE", format, args...)
}

func InsufficientFunds(format string, args ...any) *DomainError {
	return newErr(KindInsufficientFunds, "INSUFFICIENT_FUNDS", format, args...)
}

func Conflict(format string, args ...any) *DomainError {
	return newErr(KindConflict, "CONFLICT", format, args...)
}

// Transient wraps an infrastructure failure that is safe to retry.
func Transient(cause error, format string, args ...any) *DomainError {
	e := newErr(KindTransient, "TRANSIENT", format, args...)
	e.Err = cause
	return e
}

// Permanent wraps a failure that exhausted its retries.
func Permanent(cause error, format string, args ...any) *DomainError {
	e := newErr(KindPermanent, "PERMANENT", format, args...)
	e.Err = cause
	return e
}

// KindOf returns the kind of the first DomainError in err's chain.
// Errors without one are treated as transient infrastructure failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the job processor should retry after err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindConflict:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to the status code exposed to clients.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidState, KindInsufficientFunds:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show a client.
func PublicMessage(err error) string {
	var de *DomainError
	if stderrors.As(err, &de) {
		switch de.Kind {
		case KindNotFound, KindInvalidState, KindInsufficientFunds, KindConflict:
			return de.Message
		}
	}
	return "internal server error"
}
