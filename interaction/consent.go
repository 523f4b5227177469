package interaction

import (
	"context"
	"time"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

// DefaultOneTimeConsentLifetime bounds how long an answer that is not remembered waits for the
// authorize request it belongs to.
const DefaultOneTimeConsentLifetime = 5 * time.Minute

// ConsentService records consent answers for the authorize flow.
type ConsentService struct {
	store           *grants.ConsentStore
	oneTimeLifetime time.Duration
	options
}

// NewConsentService creates the service. A non-positive oneTimeLifetime uses the default.
func NewConsentService(store *grants.ConsentStore, oneTimeLifetime time.Duration, opts ...Option) *ConsentService {
	if oneTimeLifetime <= 0 {
		oneTimeLifetime = DefaultOneTimeConsentLifetime
	}
	return &ConsentService{store: store, oneTimeLifetime: oneTimeLifetime, options: newOptions("consent", opts)}
}

// GrantConsent records the answer of subject to client's request for requestedScopes. A
// denial removes any stored consent; the caller answers the client with access_denied.
func (s *ConsentService) GrantConsent(ctx context.Context, subjectID string, client *clients.Client, requestedScopes []string, resp ConsentResponse) error {
	if subjectID == "" || client == nil {
		return errors.Wrapf(errors.ErrInternal, "consent requires a subject and a client")
	}
	if !resp.Granted {
		return s.store.RemoveUserConsent(ctx, subjectID, client.ClientID)
	}
	if !utils.IsSubset(resp.ScopesValuesConsented, requestedScopes) {
		return ErrScopesNotRequested
	}
	if resp.RememberConsent && client.AllowRememberConsent {
		return s.remember(ctx, subjectID, client, resp.ScopesValuesConsented)
	}
	now := s.nowFunc().UTC()
	return s.store.StoreUserConsent(ctx, &grants.Consent{
		SubjectID:    subjectID,
		ClientID:     client.ClientID,
		Scopes:       resp.ScopesValuesConsented,
		CreationTime: now,
		Expiration:   utils.Ptr(now.Add(s.oneTimeLifetime)),
	})
}

func (s *ConsentService) remember(ctx context.Context, subjectID string, client *clients.Client, scopes []string) error {
	if !client.AllowRememberConsent {
		return nil
	}
	now := s.nowFunc().UTC()
	consent := &grants.Consent{
		SubjectID:    subjectID,
		ClientID:     client.ClientID,
		Scopes:       scopes,
		Remembered:   true,
		CreationTime: now,
	}
	if client.ConsentLifetime > 0 {
		consent.Expiration = utils.Ptr(now.Add(client.ConsentLifetime))
	}
	if err := s.store.StoreUserConsent(ctx, consent); err != nil {
		return errors.Wrapf(err, "failed to store consent")
	}
	s.logger.Debug().Str("client_id", client.ClientID).Str("sub", subjectID).Msg("consent remembered")
	return nil
}

// RevokeConsent forgets the subject's consent for clientID.
func (s *ConsentService) RevokeConsent(ctx context.Context, subjectID, clientID string) error {
	return s.store.RemoveUserConsent(ctx, subjectID, clientID)
}
