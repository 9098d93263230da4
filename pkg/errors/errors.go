// Package errors carries the API error codes and how each one is rendered.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeAlreadyFinal  Code = "ALREADY_FINAL"
	CodeExpired       Code = "INTENT_EXPIRED"
	CodeUpdateBlocked Code = "UPDATE_BLOCKED"
	CodeStoreTimeout  Code = "STORE_TIMEOUT"
)

// Metadata is how a code reaches clients. ExposeMessage lets the error's own
// message replace PublicMessage; DetailsAllowed does the same for details.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	ExposeMessage  bool
	DetailsAllowed bool
}

var catalog = map[Code]Metadata{
	CodeValidation:    {http.StatusBadRequest, false, "validation failed", true, true},
	CodeNotFound:      {http.StatusNotFound, false, "resource not found", true, false},
	CodeConflict:      {http.StatusConflict, false, "conflict detected", true, false},
	CodeIdempotency:   {http.StatusConflict, false, "idempotency key reused", true, true},
	CodeRateLimit:     {http.StatusTooManyRequests, false, "rate limit exceeded", true, false},
	CodeInternal:      {http.StatusInternalServerError, true, "internal server error", false, false},
	CodeDependency:    {http.StatusServiceUnavailable, true, "dependency unavailable", false, true},
	CodeAlreadyFinal:  {http.StatusConflict, false, "payment intent already final", true, true},
	CodeExpired:       {http.StatusGone, false, "payment intent expired", true, true},
	CodeUpdateBlocked: {http.StatusConflict, true, "update blocked", false, false},
	CodeStoreTimeout:  {http.StatusGatewayTimeout, true, "store timed out", false, false},
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := catalog[code]; ok {
		return meta
	}
	return catalog[CodeInternal]
}

// Error is a coded error. Two Errors match under errors.Is when their codes do.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap keeps err as the cause. A nil err is the same as New.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.code) + ": " + e.message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost *Error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Retryable reports whether the same call may succeed later.
func Retryable(err error) bool {
	typed := As(err)
	return typed != nil && MetadataFor(typed.code).Retryable
}
