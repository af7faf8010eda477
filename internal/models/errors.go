package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the target annotation id does not exist,
// either in the local store or at the remote service.
var ErrNotFound = errors.New("annotation not found")

// RemoteError wraps a failed call against the remote annotation service.
// A NotFound condition is reported by wrapping ErrNotFound so callers can
// test it with errors.Is.
type RemoteError struct {
	Op     string // "create", "fetch", "update" or "delete"
	Status int    // HTTP status code, 0 when the request never completed
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// AuthError reports a failed authentication operation.
type AuthError struct {
	Op  string // "signup", "signin", "signout" or "verify"
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ErrInvalidCredentials is returned when an email/password pair is rejected.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrEmailTaken is returned on signup when the email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// ErrPasswordMismatch is returned on signup when the confirmation does not
// match the password.
var ErrPasswordMismatch = errors.New("passwords do not match")

// ErrSignOutUnavailable is returned when a token verified fine but the
// sign-out could not be recorded. The token remains valid.
var ErrSignOutUnavailable = errors.New("sign-out could not be recorded")
