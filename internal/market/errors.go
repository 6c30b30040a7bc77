// Package market implements the marketplace domain core: listing validation,
// the canonical project registry, the lot/bid/trade lifecycle, and the
// automated negotiation round engine.
package market

import "net/http"

// ErrorKind classifies domain failures. Each kind maps to one HTTP status.
type ErrorKind string

const (
	KindInvalidInput    ErrorKind = "invalid_input"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindForbidden       ErrorKind = "forbidden"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
)

// Error is the domain error type. Label is a short machine-parseable tag;
// Hint tells the caller (human or agent) what to do about it.
type Error struct {
	Kind  ErrorKind `json:"kind"`
	Label string    `json:"error"`
	Hint  string    `json:"hint"`
	Field string    `json:"field,omitempty"`
}

func (e *Error) Error() string {
	return e.Label + ": " + e.Hint
}

// HTTPStatus maps the error kind to its conventional status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func invalidInput(label, hint string) *Error {
	return &Error{Kind: KindInvalidInput, Label: label, Hint: hint}
}

func invalidField(field, label, hint string) *Error {
	return &Error{Kind: KindInvalidInput, Label: label, Hint: hint, Field: field}
}

func forbidden(label, hint string) *Error {
	return &Error{Kind: KindForbidden, Label: label, Hint: hint}
}

func notFound(label, hint string) *Error {
	return &Error{Kind: KindNotFound, Label: label, Hint: hint}
}

func conflict(label, hint string) *Error {
	return &Error{Kind: KindConflict, Label: label, Hint: hint}
}
