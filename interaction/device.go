package interaction

import (
	"context"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

// DeviceFlowRequest is what a verification page shows the user.
type DeviceFlowRequest struct {
	Client          *clients.Client
	UserCode        string
	RequestedScopes []string
	Description     string
}

// DeviceFlowInteractionService looks up device requests by user code and records the user's
// decision for the polling device to pick up.
type DeviceFlowInteractionService struct {
	store   *grants.DeviceFlowStore
	clients clients.Repo
	consent *ConsentService
	options
}

// NewDeviceFlowInteractionService creates the service. consent may be nil, in which case
// remembered consent is never stored.
func NewDeviceFlowInteractionService(store *grants.DeviceFlowStore, repo clients.Repo, consent *ConsentService, opts ...Option) *DeviceFlowInteractionService {
	return &DeviceFlowInteractionService{
		store:   store,
		clients: repo,
		consent: consent,
		options: newOptions("device_flow_interaction", opts),
	}
}

// GetAuthorizationContext returns the pending request behind userCode.
func (s *DeviceFlowInteractionService) GetAuthorizationContext(ctx context.Context, userCode string) (*DeviceFlowRequest, error) {
	dc, err := s.pending(ctx, userCode)
	if err != nil {
		return nil, err
	}
	client, err := s.clients.Get(ctx, dc.ClientID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load client %s", dc.ClientID)
	}
	return &DeviceFlowRequest{
		Client:          client,
		UserCode:        dc.UserCode,
		RequestedScopes: dc.RequestedScopes,
		Description:     dc.Description,
	}, nil
}

// HandleRequest records the decision of subject for userCode. A nil or not granted response
// denies the device.
func (s *DeviceFlowInteractionService) HandleRequest(ctx context.Context, userCode string, subject *grants.Subject, resp *ConsentResponse) error {
	if subject == nil || subject.SubjectID == "" {
		return errors.Wrapf(errors.ErrInternal, "device approval requires a subject")
	}
	dc, err := s.pending(ctx, userCode)
	if err != nil {
		return err
	}
	granted := resp != nil && resp.Granted
	if granted && !utils.IsSubset(resp.ScopesValuesConsented, dc.RequestedScopes) {
		return ErrScopesNotRequested
	}

	err = s.store.UpdateByUserCode(ctx, userCode, func(d *grants.DeviceCode) error {
		if d.Status != grants.StatusPending {
			return ErrAlreadyCompleted
		}
		if !granted {
			d.Status = grants.StatusDenied
			return nil
		}
		d.Status = grants.StatusApproved
		sub := *subject
		d.Subject = &sub
		d.SessionID = subject.SessionID
		d.AuthorizedScopes = resp.ScopesValuesConsented
		if resp.Description != "" {
			d.Description = resp.Description
		}
		return nil
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return ErrRequestNotFound
		}
		return err
	}

	s.logger.Info().Str("client_id", dc.ClientID).Str("sub", subject.SubjectID).Bool("granted", granted).Msg("device request answered")

	if granted && resp.RememberConsent && s.consent != nil {
		client, err := s.clients.Get(ctx, dc.ClientID)
		if err != nil {
			return errors.Wrapf(err, "failed to load client %s", dc.ClientID)
		}
		if err := s.consent.remember(ctx, subject.SubjectID, client, resp.ScopesValuesConsented); err != nil {
			return err
		}
	}
	return nil
}

func (s *DeviceFlowInteractionService) pending(ctx context.Context, userCode string) (*grants.DeviceCode, error) {
	dc, err := s.store.FindByUserCode(ctx, userCode)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if !s.nowFunc().Before(dc.Expiration()) {
		return nil, ErrRequestExpired
	}
	if dc.Status != grants.StatusPending {
		return nil, ErrAlreadyCompleted
	}
	return dc, nil
}
