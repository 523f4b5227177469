package logout

import (
	"context"
	"net/url"

	"github.com/jrsteele09/go-oidc-engine/validation"
)

// EndSessionResult tells the caller where to send the browser. An empty RedirectURI means the
// signed out page of the server.
type EndSessionResult struct {
	RedirectURI string
	// SignedOut is set when a session was ended.
	SignedOut bool
}

// EndSessionService carries out RP-initiated logout.
type EndSessionService struct {
	manager      *SessionManagementService
	revokeTokens bool
}

// NewEndSessionService creates the service. With revokeTokens the tokens of the session are
// removed as well as the session itself.
func NewEndSessionService(manager *SessionManagementService, revokeTokens bool) *EndSessionService {
	return &EndSessionService{manager: manager, revokeTokens: revokeTokens}
}

// Process ends the session of req and notifies the clients that took part in it.
func (s *EndSessionService) Process(ctx context.Context, req *validation.ValidatedEndSessionRequest) (*EndSessionResult, error) {
	result := &EndSessionResult{}
	// a subject without a session id is left signed in elsewhere
	if req.Subject != nil && req.SessionID != "" {
		err := s.manager.RemoveSessions(ctx, RemoveSessionsContext{
			SubjectID:                         req.Subject.SubjectID,
			SessionID:                         req.SessionID,
			RemoveServerSideSession:           true,
			RevokeTokens:                      s.revokeTokens,
			SendBackchannelLogoutNotification: true,
		})
		if err != nil {
			return nil, err
		}
		result.SignedOut = true
	}

	if req.PostLogoutRedirectURI != "" {
		result.RedirectURI = req.PostLogoutRedirectURI
		if req.State != "" {
			u, err := url.Parse(req.PostLogoutRedirectURI)
			if err != nil {
				return nil, err
			}
			q := u.Query()
			q.Set("state", req.State)
			u.RawQuery = q.Encode()
			result.RedirectURI = u.String()
		}
	}
	return result, nil
}
