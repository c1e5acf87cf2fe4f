package authorize

import (
	"errors"
	"net/http"
)

// Sentinel errors for authentication outcomes. Verifiers wrap these with
// detail; callers test with errors.Is.
var (
	// ErrUnauthorized covers absent or rejected credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden marks an authenticated principal missing the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidToken marks tokens that failed parsing, signature, issuer or
	// expiry checks. Surfaced to clients as unauthorized.
	ErrInvalidToken = errors.New("invalid token")
	// ErrKeyUnavailable marks signing-key lookups that failed because the
	// provider was unreachable or the key is unknown. A server-side fault.
	ErrKeyUnavailable = errors.New("signing key unavailable")
)

type errorWithCode struct {
	error
	code int
}

type ErrorWithCode interface {
	error
	HTTPStatusCode() int
}

func NewErrorWithCode(err error, code int) ErrorWithCode {
	return errorWithCode{error: err, code: code}
}

func (e errorWithCode) HTTPStatusCode() int {
	return e.code
}

// HTTPStatusCode translates an authentication error into the status the API
// boundary reports. Errors carrying an explicit code win over sentinels.
func HTTPStatusCode(err error) int {
	var ec ErrorWithCode
	if errors.As(err, &ec) {
		return ec.HTTPStatusCode()
	}
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrKeyUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
