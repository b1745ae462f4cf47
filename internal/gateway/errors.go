package gateway

import (
	"errors"
	"net/http"
)

// Kind classifies why a gateway request ended without data.
type Kind string

const (
	KindUnauthenticated   Kind = "unauthenticated"
	KindInvalidCredential Kind = "invalid_credential"
	KindCredentialExpired Kind = "credential_expired"
	KindEndpointNotFound  Kind = "endpoint_not_found"
	KindAccessDenied      Kind = "access_denied"
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Error is a classified gateway failure. Status is the HTTP status the caller
// sees and Message the text placed in the error envelope.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error // underlying cause, never shown to callers
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, status int, msg string) *Error {
	return &Error{Kind: kind, Status: status, Message: msg}
}

// Internal wraps an unexpected failure. The cause is kept for logs only.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Message: "Internal server error", Err: err}
}

// Validation reports a bad input from an admin or caller.
func Validation(msg string) *Error {
	return newError(KindValidation, http.StatusBadRequest, msg)
}

// As extracts a *Error from err. Unclassified errors become internal errors.
func As(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return Internal(err)
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}
