// Package logout ends user sessions: it removes server-side sessions, revokes what was issued
// in them and tells relying parties through OpenID Connect back-channel logout.
package logout

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/sessions"
	"github.com/jrsteele09/go-oidc-engine/token/jwt"
)

// DefaultLogoutTokenLifetime is the exp window of a logout_token.
const DefaultLogoutTokenLifetime = 5 * time.Minute

const (
	queryPageSize       = 100
	notificationWorkers = 4
)

// TokenGrantTypes are the grants removed when a session's tokens are revoked.
var TokenGrantTypes = []grants.Type{
	grants.ReferenceTokenGrant,
	grants.RefreshTokenGrant,
	grants.AuthorizationCodeGrant,
	grants.BackchannelAuthenticationRequestGrant,
}

// RemoveSessionsContext selects sessions by subject and/or session id. Each toggle acts on its
// own.
type RemoveSessionsContext struct {
	SubjectID string
	SessionID string
	// ClientIDs limits revocation and notification to these clients. Empty means all.
	ClientIDs []string

	RemoveServerSideSession           bool
	RevokeTokens                      bool
	RevokeConsents                    bool
	SendBackchannelLogoutNotification bool
}

type Option func(*SessionManagementService)

func WithLogger(l zerolog.Logger) Option {
	return func(s *SessionManagementService) {
		s.logger = l
	}
}

func WithLogoutTokenLifetime(d time.Duration) Option {
	return func(s *SessionManagementService) {
		if d > 0 {
			s.logoutTokenLifetime = d
		}
	}
}

// SessionManagementService removes sessions and everything issued in them.
type SessionManagementService struct {
	sessions            sessions.Store
	grants              grants.Store
	clients             clients.Repo
	creator             *jwt.Creator
	notifier            BackchannelLogoutNotifier
	issuer              string
	logoutTokenLifetime time.Duration
	logger              zerolog.Logger
}

// NewSessionManagementService creates the service. notifier may be nil to disable back-channel
// logout.
func NewSessionManagementService(sessionStore sessions.Store, grantStore grants.Store, repo clients.Repo, creator *jwt.Creator, notifier BackchannelLogoutNotifier, issuer string, options ...Option) *SessionManagementService {
	s := &SessionManagementService{
		sessions:            sessionStore,
		grants:              grantStore,
		clients:             repo,
		creator:             creator,
		notifier:            notifier,
		issuer:              issuer,
		logoutTokenLifetime: DefaultLogoutTokenLifetime,
		logger:              zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "session_management").Logger()
	return s
}

// QuerySessions pages through the stored sessions.
func (s *SessionManagementService) QuerySessions(ctx context.Context, q sessions.Query) (*sessions.QueryResult, error) {
	return s.sessions.QuerySessions(ctx, q)
}

// RemoveSessions applies rc. Sessions are collected before any are deleted so the client list
// for notifications is complete.
func (s *SessionManagementService) RemoveSessions(ctx context.Context, rc RemoveSessionsContext) error {
	filter := sessions.Filter{SubjectID: rc.SubjectID, SessionID: rc.SessionID}
	if err := filter.Validate(); err != nil {
		return err
	}

	var found []*sessions.ServerSideSession
	if rc.RemoveServerSideSession || rc.SendBackchannelLogoutNotification {
		var err error
		if found, err = s.collect(ctx, rc.SubjectID, rc.SessionID); err != nil {
			return err
		}
	}

	if rc.RemoveServerSideSession {
		if err := s.sessions.DeleteSessions(ctx, filter); err != nil {
			return errors.Wrapf(err, "failed to delete sessions")
		}
	}

	if rc.RevokeTokens {
		if err := s.revokeTokens(ctx, rc.SubjectID, rc.SessionID, rc.ClientIDs); err != nil {
			return err
		}
	}

	// consent is not bound to a session
	if rc.RevokeConsents && rc.SubjectID != "" {
		err := s.grants.RemoveAll(ctx, grants.Filter{SubjectID: rc.SubjectID, ClientIDs: rc.ClientIDs, Type: grants.UserConsentGrant})
		if err != nil {
			return errors.Wrapf(err, "failed to revoke consent")
		}
	}

	if rc.SendBackchannelLogoutNotification {
		for _, session := range found {
			clientIDs := session.ClientIDs
			if len(rc.ClientIDs) > 0 {
				clientIDs = intersect(clientIDs, rc.ClientIDs)
			}
			s.notify(ctx, session.SubjectID, session.SessionID, clientIDs)
		}
	}
	return nil
}

// EndExpiredSession handles a session the cleanup service already removed from the store.
func (s *SessionManagementService) EndExpiredSession(ctx context.Context, session *sessions.ServerSideSession, revokeTokens, notifyClients bool) error {
	if revokeTokens {
		if err := s.revokeTokens(ctx, session.SubjectID, session.SessionID, nil); err != nil {
			return err
		}
	}
	if notifyClients {
		s.notify(ctx, session.SubjectID, session.SessionID, session.ClientIDs)
	}
	return nil
}

func (s *SessionManagementService) collect(ctx context.Context, subjectID, sessionID string) ([]*sessions.ServerSideSession, error) {
	var all []*sessions.ServerSideSession
	q := sessions.Query{SubjectID: subjectID, SessionID: sessionID, Page: 1, PageSize: queryPageSize}
	for {
		page, err := s.sessions.QuerySessions(ctx, q)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to query sessions")
		}
		all = append(all, page.Results...)
		if !page.HasNext {
			return all, nil
		}
		q.Page++
	}
}

func (s *SessionManagementService) revokeTokens(ctx context.Context, subjectID, sessionID string, clientIDs []string) error {
	err := s.grants.RemoveAll(ctx, grants.Filter{
		SubjectID: subjectID,
		SessionID: sessionID,
		ClientIDs: clientIDs,
		Types:     TokenGrantTypes,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to revoke tokens")
	}
	return nil
}

// notify sends logout tokens to every client with a back-channel logout URI. Delivery is best
// effort; failures are logged.
func (s *SessionManagementService) notify(ctx context.Context, subjectID, sessionID string, clientIDs []string) {
	if s.notifier == nil || len(clientIDs) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(notificationWorkers)
	for _, clientID := range utils.Distinct(clientIDs) {
		g.Go(func() error {
			if err := s.notifyClient(gctx, subjectID, sessionID, clientID); err != nil {
				s.logger.Warn().Err(err).Str("client_id", clientID).Str("sid", sessionID).Msg("back-channel logout failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *SessionManagementService) notifyClient(ctx context.Context, subjectID, sessionID, clientID string) error {
	client, err := s.clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, errors.ErrClientNotFound) {
			return nil
		}
		return err
	}
	if !client.Enabled || client.BackChannelLogoutURI == "" {
		return nil
	}
	if client.BackChannelLogoutSessionRequired && sessionID == "" {
		return errors.Wrapf(errors.ErrInternal, "client requires sid but the session has none")
	}

	token, err := s.creator.CreateLogoutToken(ctx, jwt.LogoutToken{
		Issuer:                   s.issuer,
		ClientID:                 client.ClientID,
		SubjectID:                subjectID,
		SessionID:                sessionID,
		Lifetime:                 s.logoutTokenLifetime,
		AllowedSigningAlgorithms: client.AllowedIdentityTokenSigningAlgorithms,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create logout token")
	}
	return s.notifier.SendLogoutNotification(ctx, LogoutNotification{
		ClientID:    client.ClientID,
		URI:         client.BackChannelLogoutURI,
		LogoutToken: token,
	})
}

func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		if utils.Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}
