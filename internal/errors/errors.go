package errors

import (
	"errors"
	"fmt"
)

// Common error types for the protocol engine
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserBlocked        = errors.New("user is blocked")
	ErrUserNotFound       = errors.New("user not found")

	// Token errors
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Client errors
	ErrInvalidClient  = errors.New("invalid client")
	ErrClientNotFound = errors.New("client not found")

	// Store errors
	ErrEmptyFilter         = errors.New("filter must specify at least one criterion")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// Server faults that are not OAuth protocol errors
	ErrConfiguration          = errors.New("configuration error")
	ErrUserCodeSpaceExhausted = errors.New("user code space exhausted")

	// Session errors
	ErrSessionNotFound = errors.New("session not found")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// New returns an error with the given text.
func New(text string) error {
	return errors.New(text)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Configurationf returns an error wrapping ErrConfiguration.
func Configurationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsNotFound reports whether err means the record is absent, including the case of a
// concurrent delete observed during a read-modify-write.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConcurrencyConflict)
}
