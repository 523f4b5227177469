package interaction

import (
	"context"
	"sort"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

// CompleteBackchannelLoginRequest is the user's answer to a CIBA login request. A request
// with no consented scopes is denied.
type CompleteBackchannelLoginRequest struct {
	InternalID            string
	Subject               *grants.Subject
	ScopesValuesConsented []string
	Description           string
}

// BackchannelAuthenticationInteractionService lets the authentication device list and answer
// the CIBA requests addressed to its user.
type BackchannelAuthenticationInteractionService struct {
	store *grants.BackchannelAuthenticationRequestStore
	options
}

func NewBackchannelAuthenticationInteractionService(store *grants.BackchannelAuthenticationRequestStore, opts ...Option) *BackchannelAuthenticationInteractionService {
	return &BackchannelAuthenticationInteractionService{
		store:   store,
		options: newOptions("backchannel_interaction", opts),
	}
}

// GetPendingLoginRequestsForCurrentUser lists unexpired pending requests for subjectID, oldest
// first.
func (s *BackchannelAuthenticationInteractionService) GetPendingLoginRequestsForCurrentUser(ctx context.Context, subjectID string) ([]*grants.BackchannelAuthenticationRequest, error) {
	items, err := s.store.GetLoginsForUser(ctx, subjectID, "")
	if err != nil {
		return nil, err
	}
	now := s.nowFunc()
	pending := make([]*grants.BackchannelAuthenticationRequest, 0, len(items))
	for _, item := range items {
		if item.Status == grants.StatusPending && now.Before(item.Expiration()) {
			pending = append(pending, item)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreationTime.Before(pending[j].CreationTime) })
	return pending, nil
}

// GetLoginRequestByInternalID returns a pending request.
func (s *BackchannelAuthenticationInteractionService) GetLoginRequestByInternalID(ctx context.Context, internalID string) (*grants.BackchannelAuthenticationRequest, error) {
	req, err := s.store.GetByInternalID(ctx, internalID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if !s.nowFunc().Before(req.Expiration()) {
		return nil, ErrRequestExpired
	}
	return req, nil
}

// CompleteLoginRequest records the user's answer. The subject must be the user the request was
// addressed to.
func (s *BackchannelAuthenticationInteractionService) CompleteLoginRequest(ctx context.Context, completion CompleteBackchannelLoginRequest) error {
	if completion.Subject == nil || completion.Subject.SubjectID == "" {
		return errors.Wrapf(errors.ErrInternal, "backchannel completion requires a subject")
	}
	req, err := s.GetLoginRequestByInternalID(ctx, completion.InternalID)
	if err != nil {
		return err
	}
	if req.Subject.SubjectID != completion.Subject.SubjectID {
		return ErrSubjectMismatch
	}
	if !utils.IsSubset(completion.ScopesValuesConsented, req.RequestedScopes) {
		return ErrScopesNotRequested
	}

	approved := len(completion.ScopesValuesConsented) > 0
	err = s.store.UpdateByInternalID(ctx, completion.InternalID, func(r *grants.BackchannelAuthenticationRequest) error {
		if r.Status != grants.StatusPending {
			return ErrAlreadyCompleted
		}
		if !approved {
			r.Status = grants.StatusDenied
			return nil
		}
		r.Status = grants.StatusApproved
		r.AuthorizedScopes = completion.ScopesValuesConsented
		// the authenticated session replaces the placeholder subject of the request
		r.Subject = *completion.Subject
		r.SessionID = completion.Subject.SessionID
		if completion.Description != "" {
			r.Description = completion.Description
		}
		return nil
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return ErrRequestNotFound
		}
		return err
	}
	s.logger.Info().Str("client_id", req.ClientID).Str("sub", req.Subject.SubjectID).Bool("approved", approved).Msg("backchannel login request answered")
	return nil
}
