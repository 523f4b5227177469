// Package response turns validated requests into protocol responses. Generators write grants
// and read signing keys; they never re-validate input.
package response

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrsteele09/go-oidc-engine/internal/telemetry"
)

type options struct {
	logger    zerolog.Logger
	telemetry *telemetry.Telemetry
	now       func() time.Time
}

// Option configures any generator.
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

func (o *options) issued(grantType, kind string) {
	o.telemetry.Metrics.TokensIssued.WithLabelValues(grantType, kind).Inc()
}
