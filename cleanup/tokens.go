package cleanup

import (
	"context"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
)

// Defaults for TokenCleanupConfig fields left at zero.
const (
	DefaultInterval  = time.Hour
	DefaultBatchSize = 100
)

// GrantRemovalObserver is told about every batch the cleanup removed.
type GrantRemovalObserver interface {
	GrantsRemoved(ctx context.Context, removed []*grants.PersistedGrant) error
}

type TokenCleanupConfig struct {
	Interval             time.Duration
	BatchSize            int
	RemoveConsumedTokens bool
	// ConsumedTokenCleanupDelay keeps consumed grants around for this long after use.
	ConsumedTokenCleanupDelay time.Duration
}

// TokenCleanupService periodically deletes expired grants and, optionally, consumed ones.
// Device codes, CIBA requests and pushed requests expire like any other grant.
type TokenCleanupService struct {
	store    grants.Store
	cfg      TokenCleanupConfig
	observer GrantRemovalObserver
	loop     *loop
	options
}

// NewTokenCleanupService creates the service. observer may be nil.
func NewTokenCleanupService(store grants.Store, cfg TokenCleanupConfig, observer GrantRemovalObserver, opts ...Option) *TokenCleanupService {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	s := &TokenCleanupService{
		store:    store,
		cfg:      cfg,
		observer: observer,
		options:  newOptions("token_cleanup", opts),
	}
	s.loop = &loop{name: "token cleanup", interval: cfg.Interval, pass: s.RemoveExpiredGrants, logger: &s.logger}
	return s
}

// Start runs RemoveExpiredGrants every interval until ctx is done or Stop is called.
func (s *TokenCleanupService) Start(ctx context.Context) error {
	return s.loop.start(ctx)
}

// Stop ends the loop and waits for a running pass to finish.
func (s *TokenCleanupService) Stop() {
	s.loop.stop()
}

// RemoveExpiredGrants runs one full pass.
func (s *TokenCleanupService) RemoveExpiredGrants(ctx context.Context) error {
	started := time.Now()
	defer func() {
		s.telemetry.Metrics.CleanupDuration.WithLabelValues("tokens").Observe(time.Since(started).Seconds())
	}()

	now := s.nowFunc().UTC()
	expired, err := s.sweep(ctx, "expired", func(ctx context.Context) ([]*grants.PersistedGrant, error) {
		return s.store.Expired(ctx, now, s.cfg.BatchSize)
	})
	if err != nil {
		return err
	}

	consumed := 0
	if s.cfg.RemoveConsumedTokens {
		before := now.Add(-s.cfg.ConsumedTokenCleanupDelay)
		consumed, err = s.sweep(ctx, "consumed", func(ctx context.Context) ([]*grants.PersistedGrant, error) {
			return s.store.Consumed(ctx, before, s.cfg.BatchSize)
		})
		if err != nil {
			return err
		}
	}

	if expired+consumed > 0 {
		s.logger.Info().Int("expired", expired).Int("consumed", consumed).Msg("removed grants")
	}
	return nil
}

// sweep removes batches until a batch comes back short.
func (s *TokenCleanupService) sweep(ctx context.Context, reason string, next func(context.Context) ([]*grants.PersistedGrant, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := next(ctx)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		keys := make([]string, len(batch))
		for i, g := range batch {
			keys[i] = g.Key
		}
		if err := s.store.RemoveKeys(ctx, keys); err != nil {
			return total, err
		}
		total += len(batch)
		s.telemetry.Metrics.GrantsRemoved.WithLabelValues(reason).Add(float64(len(batch)))
		s.logger.Debug().Str("reason", reason).Int("count", len(batch)).Msg("removed grant batch")

		if s.observer != nil {
			if err := s.observer.GrantsRemoved(ctx, batch); err != nil {
				s.logger.Warn().Err(err).Msg("grant removal observer failed")
			}
		}
		if len(batch) < s.cfg.BatchSize {
			return total, nil
		}
	}
}
