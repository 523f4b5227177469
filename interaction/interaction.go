// Package interaction records the decisions users make out of band: approving a device,
// answering a CIBA login request, or consenting to a client.
package interaction

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
)

var (
	// ErrRequestNotFound is returned for unknown or already removed requests.
	ErrRequestNotFound = errors.Wrapf(errors.ErrNotFound, "interaction request not found")
	// ErrRequestExpired is returned when the user answers after the request lifetime.
	ErrRequestExpired = errors.Wrapf(errors.ErrTokenExpired, "interaction request expired")
	// ErrAlreadyCompleted is returned when the request was already approved or denied.
	ErrAlreadyCompleted = errors.New("interaction request already completed")
	// ErrScopesNotRequested is returned when the consented scopes exceed the requested ones.
	ErrScopesNotRequested = errors.New("consented scopes were not requested")
	// ErrSubjectMismatch is returned when a CIBA request is answered by a different user.
	ErrSubjectMismatch = errors.New("request belongs to a different subject")
)

// ConsentResponse is the user's answer to a consent or approval page. A response that is not
// Granted denies the request.
type ConsentResponse struct {
	Granted               bool
	ScopesValuesConsented []string
	RememberConsent       bool
	Description           string
}

// Option configures the interaction services.
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	nowFunc func() time.Time
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithNowFunc(f func() time.Time) Option {
	return func(o *options) {
		o.nowFunc = f
	}
}

func newOptions(component string, opts []Option) options {
	o := options{logger: zerolog.Nop(), nowFunc: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With().Str("component", component).Logger()
	return o
}
