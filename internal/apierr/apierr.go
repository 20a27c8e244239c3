// Package apierr classifies resolver errors into a fixed registry of response
// codes and renders the uniform response envelope used by the command surface.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the coarse error taxonomy.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindStateConflict
	KindExternalService
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindExternalService:
		return "external_service"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Code identifies a registry entry.
type Code string

const (
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeUnsupportedOracle  Code = "UNSUPPORTED_ORACLE_TYPE"
	CodeNotFound           Code = "NOT_FOUND"
	CodeFeedNotFound       Code = "FEED_NOT_FOUND"
	CodeStaleData          Code = "STALE_DATA"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeExternalService    Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeInternal           Code = "INTERNAL_SERVER_ERROR"

	codeSuccess Code = "SUCCESS"
)

type entry struct {
	kind    Kind
	status  int
	message string
}

var registry = map[Code]entry{
	CodeValidation:         {KindValidation, http.StatusBadRequest, "Validation failed"},
	CodeUnsupportedOracle:  {KindValidation, http.StatusBadRequest, "Unsupported oracle type"},
	CodeNotFound:           {KindNotFound, http.StatusNotFound, "Resource not found"},
	CodeFeedNotFound:       {KindNotFound, http.StatusNotFound, "Price feed not available"},
	CodeStaleData:          {KindStateConflict, http.StatusUnprocessableEntity, "Price data is stale"},
	CodeInvalidState:       {KindStateConflict, http.StatusConflict, "Invalid state transition"},
	CodeExternalService:    {KindExternalService, http.StatusBadGateway, "External service error"},
	CodeServiceUnavailable: {KindExternalService, http.StatusServiceUnavailable, "Service unavailable"},
	CodeInternal:           {KindInternal, http.StatusInternalServerError, "Internal server error"},
}

// Error is a classified error carrying its registry code.
type Error struct {
	Code    Code
	Message string
	Details any
	Err     error
}

// New builds an error for code with a human readable message.
func New(code Code, message string) *Error {
	if message == "" {
		message = registry[code].message
	}
	return &Error{Code: code, Message: message}
}

// Newf is New with formatting.
func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap classifies err under code.
func Wrap(code Code, err error, message string) *Error {
	e := New(code, message)
	e.Err = err
	return e
}

// Validation is shorthand for a VALIDATION_ERROR.
func Validation(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches by code, so errors.Is(err, optimistic.ErrInvalidState) holds for
// every INVALID_STATE error regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Kind reports the taxonomy bucket of the error code.
func (e *Error) Kind() Kind {
	if ent, ok := registry[e.Code]; ok {
		return ent.kind
	}
	return KindInternal
}

// HTTPStatus reports the status the boundary should answer with.
func (e *Error) HTTPStatus() int {
	if ent, ok := registry[e.Code]; ok {
		return ent.status
	}
	return http.StatusInternalServerError
}

// WithDetails attaches structured details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Lookup returns the kind and http status registered for code.
func Lookup(code Code) (Kind, int, bool) {
	ent, ok := registry[code]
	return ent.kind, ent.status, ok
}

// Codes lists every registered code.
func Codes() []Code {
	out := make([]Code, 0, len(registry))
	for c := range registry {
		out = append(out, c)
	}
	return out
}

// Classify maps any error onto exactly one registry entry. Errors outside the
// taxonomy become INTERNAL_SERVER_ERROR. For client-side kinds the outermost
// message is kept since it names the offending market or symbol.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return Wrap(CodeInternal, err, "")
	}

	out := *e
	switch out.Kind() {
	case KindValidation, KindNotFound, KindStateConflict:
		out.Message = err.Error()
		out.Err = nil
	}
	return &out
}

// Retryable reports whether the caller may retry with backoff.
func Retryable(err error) bool {
	c := Classify(err)
	return c != nil && c.Kind() == KindExternalService
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	c := Classify(err)
	return c != nil && c.Kind() == kind
}
