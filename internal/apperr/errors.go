// Package apperr defines the error taxonomy shared by every layer. Handlers
// translate these sentinels to HTTP status codes with errors.Is.
package apperr

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
	ErrStorage         = errors.New("storage failure")
	ErrBusy            = errors.New("transition already in progress")
)

// IsAuth reports whether err is a credential failure that must end the
// client's authenticated session.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
