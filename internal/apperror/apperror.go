// Package apperror defines the error kinds surfaced by the upload and import pipeline.
//
// Every error carries a short message meant for the person driving the import; the
// wrapped cause is kept for logs only.
package apperror

import (
	"errors"
	"net/http"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	InvalidInput    Kind = "invalid_input"
	StorageError    Kind = "storage_error"
	AssemblyError   Kind = "assembly_error"
	CorruptArchive  Kind = "corrupt_archive"
	ExtractionError Kind = "extraction_error"
	NoRecordsFound  Kind = "no_records_found"
	InvalidState    Kind = "invalid_state"
)

// Error is a kinded failure with a user-visible message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-visible message of err. Unkinded errors fall back to
// their full text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus maps the kind of err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case InvalidInput, InvalidState:
		return http.StatusBadRequest
	case CorruptArchive, ExtractionError, NoRecordsFound:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
