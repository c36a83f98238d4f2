package service

import (
	"errors"
	"fmt"
)

// Error classes surfaced to the HTTP layer. Specific errors wrap one of
// these so callers can switch on errors.Is.
var (
	ErrUnauthenticated = errors.New("could not validate credentials")
	ErrForbidden       = errors.New("not enough permissions")
	ErrConflict        = errors.New("conflict")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("not found")
	ErrInternal        = errors.New("internal error")
)

var (
	ErrDuplicateUser   = fmt.Errorf("%w: username or email already registered", ErrConflict)
	ErrSelfDelete      = fmt.Errorf("%w: cannot delete your own account", ErrConflict)
	ErrInvalidPassword = fmt.Errorf("%w: incorrect password", ErrInvalidInput)
	ErrUserNotFound    = fmt.Errorf("%w: user not found", ErrNotFound)
)
