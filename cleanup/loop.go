// Package cleanup runs the background sweeps that remove expired grants and expired
// server-side sessions.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-engine/internal/telemetry"
)

type Option func(*options)

type options struct {
	logger    zerolog.Logger
	telemetry *telemetry.Telemetry
	nowFunc   func() time.Time
}

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
		o.nowFunc = f
	}
}

func newOptions(component string, opts []Option) options {
	o := options{logger: zerolog.Nop(), nowFunc: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	o.telemetry = telemetry.OrNoop(o.telemetry)
	o.logger = o.logger.With().Str("component", component).Logger()
	return o
}

// loop runs a pass every interval until stopped. A loop cannot be restarted.
type loop struct {
	name     string
	interval time.Duration
	pass     func(ctx context.Context) error
	logger   *zerolog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (l *loop) start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return fmt.Errorf("%s has been stopped and cannot be restarted", l.name)
	}
	if l.started {
		return fmt.Errorf("%s already started", l.name)
	}
	if l.interval <= 0 {
		return fmt.Errorf("%s interval must be positive", l.name)
	}

	ctx, l.cancel = context.WithCancel(ctx)
	l.started = true
	l.wg.Add(1)
	go l.run(ctx)
	l.logger.Info().Dur("interval", l.interval).Msg("cleanup started")
	return nil
}

func (l *loop) stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.cancel()
	l.started = false
	l.stopped = true
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info().Msg("cleanup stopped")
}

func (l *loop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// failures are retried on the next tick
			if err := l.pass(ctx); err != nil && ctx.Err() == nil {
				l.logger.Err(err).Msg("cleanup pass failed")
			}
		}
	}
}
