package oauth2client

import (
	"errors"
	"fmt"
)

// AuthError reports that no usable access token could be obtained: the
// authority rejected the credentials, could not be reached, or the caller
// gave up waiting for a refresh.
type AuthError struct {
	// Op names the step that failed (e.g. "client credentials grant").
	Op string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("oauth2: %v", e.Err)
	}
	return fmt.Sprintf("oauth2: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err or any error it wraps is an *AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// asAuthError tags err as an AuthError unless it already is one.
func asAuthError(op string, err error) error {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return &AuthError{Op: op, Err: err}
}
