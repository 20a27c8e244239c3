package apierr

import (
	"time"

	"github.com/google/uuid"
)

// Status is the envelope discriminant.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
)

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	TraceID string `json:"traceId,omitempty"`
}

// Envelope wraps every result leaving the core.
type Envelope struct {
	Status     Status     `json:"status"`
	Code       Code       `json:"code"`
	HTTPStatus int        `json:"-"`
	Message    string     `json:"message,omitempty"`
	Data       any        `json:"data,omitempty"`
	Error      *ErrorBody `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewTraceID returns a short correlation id for logs and envelopes.
func NewTraceID() string {
	return uuid.NewString()[:8]
}

// Success wraps data.
func Success(data any, now time.Time) Envelope {
	return Envelope{
		Status:     StatusSuccess,
		Code:       codeSuccess,
		HTTPStatus: 200,
		Message:    "Operation successful",
		Data:       data,
		Timestamp:  now.UTC(),
	}
}

// Failure classifies err and wraps it. In production mode the raw text of
// external and internal failures is replaced by the registry message so
// collaborator errors never reach the caller.
func Failure(err error, traceID string, production bool, now time.Time) Envelope {
	c := Classify(err)
	body := &ErrorBody{
		Code:    c.Code,
		Message: c.Message,
		Details: c.Details,
		TraceID: traceID,
	}

	switch c.Kind() {
	case KindExternalService, KindInternal:
		body.Message = registry[c.Code].message
		body.Details = nil
		if !production {
			body.Details = err.Error()
		}
	}

	return Envelope{
		Status:     StatusError,
		Code:       c.Code,
		HTTPStatus: c.HTTPStatus(),
		Message:    body.Message,
		Error:      body,
		Timestamp:  now.UTC(),
	}
}
