package bookings

import "errors"

var (
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state transition")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// ExternalDependencyError reports an unavailable collaborator. Callers may retry.
type ExternalDependencyError struct {
	Dependency string
	Err        error
}

func (e *ExternalDependencyError) Error() string {
	return e.Dependency + " unavailable: " + e.Err.Error()
}

func (e *ExternalDependencyError) Unwrap() error {
	return e.Err
}

// AuthenticityError rejects a payment event whose origin could not be verified.
type AuthenticityError struct {
	Err error
}

func (e *AuthenticityError) Error() string {
	return "unverifiable payment event: " + e.Err.Error()
}

func (e *AuthenticityError) Unwrap() error {
	return e.Err
}

// RetryableError marks a failure the delivery transport should redeliver with backoff.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}
