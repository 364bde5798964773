package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Authentication taxonomy. Every failure leaving the auth subsystem is one of these.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrThrottled          = errors.New("too many failed attempts")
	ErrCSRFInvalid        = errors.New("csrf token invalid")
	ErrSessionExpired     = errors.New("session expired or missing")
	ErrResetTokenInvalid  = errors.New("password reset token invalid")
	ErrAuthInfrastructure = errors.New("authentication infrastructure unavailable")
)

// InfrastructureError wraps a store or dependency failure so callers can tell
// "system unavailable" apart from "wrong password".
type InfrastructureError struct {
	Op  string
	Err error
}

// NewInfrastructureError wraps err. A nil err yields nil.
func NewInfrastructureError(op string, err error) error {
	if err == nil {
		return nil
	}
	var infra *InfrastructureError
	if errors.As(err, &infra) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// Is reports ErrAuthInfrastructure as a match so callers never need the concrete type.
func (e *InfrastructureError) Is(target error) bool {
	return target == ErrAuthInfrastructure
}
