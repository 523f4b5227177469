// Package validation checks protocol requests before any response is generated. Every
// validator returns a Result that is either a validated request or an OAuth error.
package validation

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
)

// Error is an OAuth protocol error caused by the request, never by the server.
type Error struct {
	Code        string
	Description string
	// Redirect is set by the authorize validator once the redirect URI is trusted, so the
	// error can be returned to the client instead of shown to the user.
	Redirect *ErrorRedirect
}

// ErrorRedirect says where and how an authorize error is delivered.
type ErrorRedirect struct {
	RedirectURI  string
	ResponseMode string
	State        string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError builds an Error.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// Result holds either a validated request or an error, never both and never neither.
// The zero value is not valid; build results with Success and Failure.
type Result[T any] struct {
	value *T
	err   *Error
}

// Success wraps a validated request.
func Success[T any](value *T) Result[T] {
	if value == nil {
		return Result[T]{err: NewError(oauthmodel.ErrorServerError, "validator produced no request")}
	}
	return Result[T]{value: value}
}

// Failure wraps an OAuth error.
func Failure[T any](code, description string) Result[T] {
	return Result[T]{err: NewError(code, description)}
}

// FailureFrom wraps an existing error.
func FailureFrom[T any](err *Error) Result[T] {
	if err == nil {
		err = NewError(oauthmodel.ErrorServerError, "validator produced no error")
	}
	return Result[T]{err: err}
}

// IsError reports whether the result is the error variant.
func (r Result[T]) IsError() bool {
	return r.err != nil || r.value == nil
}

// Value returns the validated request, or nil for the error variant.
func (r Result[T]) Value() *T {
	if r.IsError() {
		return nil
	}
	return r.value
}

// Err returns the error, or nil for the success variant.
func (r Result[T]) Err() *Error {
	if r.err == nil && r.value == nil {
		return NewError(oauthmodel.ErrorServerError, "empty validation result")
	}
	return r.err
}

// CustomValidator runs after built-in validation succeeded and may veto the request by
// returning an error.
type CustomValidator[T any] func(ctx context.Context, request *T) *Error

// runCustom applies the validators in order and stops at the first veto.
func runCustom[T any](ctx context.Context, result Result[T], validators []CustomValidator[T]) Result[T] {
	if result.IsError() {
		return result
	}
	for _, v := range validators {
		if err := v(ctx, result.value); err != nil {
			return FailureFrom[T](err)
		}
	}
	return result
}
