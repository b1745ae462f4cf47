package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned for a failed login or an
	// unverifiable bearer token.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountDisabled is returned when a deactivated user signs in.
	ErrAccountDisabled = errors.New("account is disabled")
	// ErrForbidden is returned when the caller's role does not allow the action.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports malformed admin input. Handlers answer it with 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
