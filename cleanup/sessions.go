package cleanup

import (
	"context"
	"time"

	"github.com/jrsteele09/go-oidc-engine/sessions"
)

// ExpiredSessionHandler ends what an expired session left behind: its tokens and the clients
// that were signed in through it.
type ExpiredSessionHandler interface {
	EndExpiredSession(ctx context.Context, session *sessions.ServerSideSession, revokeTokens, notifyClients bool) error
}

type SessionCleanupConfig struct {
	Interval                 time.Duration
	BatchSize                int
	TriggerBackchannelLogout bool
	RevokeTokens             bool
}

// SessionCleanupService periodically removes expired server-side sessions.
type SessionCleanupService struct {
	store   sessions.Store
	cfg     SessionCleanupConfig
	handler ExpiredSessionHandler
	loop    *loop
	options
}

// NewSessionCleanupService creates the service. handler may be nil when neither back-channel
// logout nor token revocation is configured.
func NewSessionCleanupService(store sessions.Store, cfg SessionCleanupConfig, handler ExpiredSessionHandler, opts ...Option) *SessionCleanupService {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	s := &SessionCleanupService{
		store:   store,
		cfg:     cfg,
		handler: handler,
		options: newOptions("session_cleanup", opts),
	}
	s.loop = &loop{name: "session cleanup", interval: cfg.Interval, pass: s.RemoveExpiredSessions, logger: &s.logger}
	return s
}

func (s *SessionCleanupService) Start(ctx context.Context) error {
	return s.loop.start(ctx)
}

func (s *SessionCleanupService) Stop() {
	s.loop.stop()
}

// RemoveExpiredSessions claims expired sessions in batches and hands each to the handler.
// A handler failure is logged; the session is already gone from the store.
func (s *SessionCleanupService) RemoveExpiredSessions(ctx context.Context) error {
	started := time.Now()
	defer func() {
		s.telemetry.Metrics.CleanupDuration.WithLabelValues("sessions").Observe(time.Since(started).Seconds())
	}()

	now := s.nowFunc().UTC()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.store.GetAndRemoveExpiredSessions(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		s.telemetry.Metrics.SessionsRemoved.Add(float64(len(batch)))
		s.logger.Debug().Int("count", len(batch)).Msg("removed expired sessions")

		if s.handler != nil && (s.cfg.TriggerBackchannelLogout || s.cfg.RevokeTokens) {
			for _, session := range batch {
				if err := s.handler.EndExpiredSession(ctx, session, s.cfg.RevokeTokens, s.cfg.TriggerBackchannelLogout); err != nil {
					s.logger.Err(err).Str("sid", session.SessionID).Msg("failed to end expired session")
				}
			}
		}
		if len(batch) < s.cfg.BatchSize {
			return nil
		}
	}
}
