package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies adapter failures so dispatch can choose a spoken
// message without inspecting error strings.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindTimeout      ErrorKind = "timeout"
	KindUpstream     ErrorKind = "upstream"
	KindUnsupported  ErrorKind = "unsupported"
)

// Error is returned by every adapter operation that fails.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status > 0 {
		return fmt.Sprintf("backend: %s: %s (status %d): %s", e.Op, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("backend: %s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Unsupported reports an operation the backend cannot perform.
func Unsupported(op string) *Error {
	return &Error{Kind: KindUnsupported, Op: op, Status: http.StatusNotImplemented, Message: "operation not supported by this backend"}
}

// FromStatus maps an upstream HTTP status code to an Error.
func FromStatus(op string, status int, message string) *Error {
	kind := KindUpstream
	switch {
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = KindValidation
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusUnauthorized:
		kind = KindUnauthorized
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Status: status, Message: message}
}

// Wrap converts a transport error into an Error, detecting deadlines.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Op: op, Status: http.StatusGatewayTimeout, Err: err}
	}
	return &Error{Kind: KindUpstream, Op: op, Status: http.StatusBadGateway, Err: err}
}

// KindOf extracts the kind of err. Unknown errors are upstream failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUpstream
}

// StatusOf returns the HTTP-like status recorded for err, 200 for nil.
func StatusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var be *Error
	if errors.As(err, &be) && be.Status > 0 {
		return be.Status
	}
	switch KindOf(err) {
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindUnsupported:
		return http.StatusNotImplemented
	}
	return http.StatusBadGateway
}
