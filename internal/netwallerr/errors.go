// Package netwallerr defines the application-level error taxonomy used
// across the ingestion pipeline, job manager, and HTTP API.
//
// Components never return raw driver errors to their callers; storage
// adapters translate pgx/sql errors into one of these kinds at the
// persistence boundary (see internal/storage/pgerrors.go), and the HTTP
// layer maps a Kind to a status code in one place (pkg/api/handlers/response.go).
package netwallerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the spec's error
// handling table (§7): parse_error, storage_unavailable, conflict,
// validation_error, not_found, busy, canceled, internal.
type Kind string

const (
	KindParseError          Kind = "parse_error"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindConflict            Kind = "conflict"
	KindValidation          Kind = "validation_error"
	KindNotFound            Kind = "not_found"
	KindBusy                Kind = "busy"
	KindCanceled            Kind = "canceled"
	KindInternal            Kind = "internal"
)

// Error is the application error type. Field is optional and names the
// offending input field for KindValidation errors.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err if it is (or wraps) a *Error, and
// KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFound(msg string) *Error        { return New(KindNotFound, msg) }
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: msg}
}
func Busy(holderJobID string) *Error {
	return Newf(KindBusy, "another job is running: %s", holderJobID)
}
func Conflict(msg string) *Error           { return New(KindConflict, msg) }
func StorageUnavailable(err error) *Error  { return Wrap(KindStorageUnavailable, err, "storage unavailable") }
func Internal(err error) *Error            { return Wrap(KindInternal, err, "internal error") }
func Canceled(msg string) *Error           { return New(KindCanceled, msg) }
