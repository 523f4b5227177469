package validation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrsteele09/go-oidc-engine/internal/telemetry"
)

type options struct {
	logger    zerolog.Logger
	telemetry *telemetry.Telemetry
	now       func() time.Time
}

// Option configures any validator.
type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *options) {
		o.telemetry = t
	}
}

// WithNowFunc overrides the clock used for expiry checks.
func WithNowFunc(f func() time.Time) Option {
	return func(o *options) {
		o.now = f
	}
}

func newOptions(component string, opts []Option) options {
	o := options{
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.telemetry = telemetry.OrNoop(o.telemetry)
	o.logger = o.logger.With().Str("component", component).Logger()
	return o
}

func (o *options) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return o.telemetry.Tracer.Start(ctx, name)
}

// finish records the outcome of a validation on the span and the failure counter.
// Rejections are client errors and only logged at debug.
func finish[T any](o *options, span trace.Span, endpoint string, r Result[T]) Result[T] {
	defer span.End()
	if !r.IsError() {
		return r
	}
	e := r.Err()
	span.SetAttributes(attribute.String("oauth.error", e.Code))
	o.telemetry.Metrics.ValidationFailures.WithLabelValues(endpoint, e.Code).Inc()
	o.logger.Debug().Str("endpoint", endpoint).Str("error", e.Code).Str("description", e.Description).Msg("request rejected")
	return r
}
