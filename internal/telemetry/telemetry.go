// Package telemetry carries the tracer and metrics handles that components receive at
// construction instead of reaching for process globals.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/jrsteele09/go-oidc-engine"

// Telemetry bundles a tracer with the engine's metrics.
type Telemetry struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

// Metrics are the counters exported by the engine.
type Metrics struct {
	TokensIssued       *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	GrantsRemoved      *prometheus.CounterVec
	SessionsRemoved    prometheus.Counter
	KeysCreated        *prometheus.CounterVec
	CleanupDuration    *prometheus.HistogramVec
}

// New creates telemetry using the tracer provider and registers the metrics on reg.
func New(tp trace.TracerProvider, reg prometheus.Registerer) (*Telemetry, error) {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	m := newMetrics()
	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return &Telemetry{
		Tracer:  tp.Tracer(instrumentationName),
		Metrics: m,
	}, nil
}

// Noop returns telemetry with a no-op tracer and unregistered metrics.
func Noop() *Telemetry {
	return &Telemetry{
		Tracer:  noop.NewTracerProvider().Tracer(instrumentationName),
		Metrics: newMetrics(),
	}
}

// OrNoop returns t, or a no-op telemetry when t is nil.
func OrNoop(t *Telemetry) *Telemetry {
	if t == nil {
		return Noop()
	}
	return t
}

func newMetrics() *Metrics {
	return &Metrics{
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc",
			Name:      "tokens_issued_total",
			Help:      "Tokens issued by grant type and token kind.",
		}, []string{"grant_type", "kind"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc",
			Name:      "validation_failures_total",
			Help:      "Rejected requests by endpoint and OAuth error code.",
		}, []string{"endpoint", "error"}),
		GrantsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc",
			Name:      "grants_removed_total",
			Help:      "Persisted grants removed by the cleanup service.",
		}, []string{"reason"}),
		SessionsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "oidc",
			Name:      "expired_sessions_removed_total",
			Help:      "Expired server-side sessions removed.",
		}),
		KeysCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oidc",
			Name:      "signing_keys_created_total",
			Help:      "Signing keys created by algorithm.",
		}, []string{"alg"}),
		CleanupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oidc",
			Name:      "cleanup_duration_seconds",
			Help:      "Duration of background cleanup passes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TokensIssued,
		m.ValidationFailures,
		m.GrantsRemoved,
		m.SessionsRemoved,
		m.KeysCreated,
		m.CleanupDuration,
	}
}
