package response

import (
	"context"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// BackchannelAuthenticationUserNotifier tells the user a CIBA login waits for them, on
// whatever channel the host provides.
type BackchannelAuthenticationUserNotifier interface {
	SendLoginRequest(ctx context.Context, request *grants.BackchannelAuthenticationRequest) error
}

// BackchannelAuthenticationResponseGenerator persists CIBA requests and notifies the user.
type BackchannelAuthenticationResponseGenerator struct {
	store    *grants.BackchannelAuthenticationRequestStore
	notifier BackchannelAuthenticationUserNotifier
	options
}

func NewBackchannelAuthenticationResponseGenerator(store *grants.BackchannelAuthenticationRequestStore, notifier BackchannelAuthenticationUserNotifier, opts ...Option) *BackchannelAuthenticationResponseGenerator {
	return &BackchannelAuthenticationResponseGenerator{
		store:    store,
		notifier: notifier,
		options:  newOptions("backchannel_authentication_response", opts),
	}
}

func (g *BackchannelAuthenticationResponseGenerator) Process(ctx context.Context, req *validation.ValidatedBackchannelAuthenticationRequest) (*oauthmodel.BackchannelAuthenticationResponse, error) {
	ctx, span := g.start(ctx, "BackchannelAuthenticationResponseGenerator.Process")
	defer span.End()

	br := &grants.BackchannelAuthenticationRequest{
		CreationTime:                g.now().UTC(),
		Lifetime:                    req.Expiry,
		ClientID:                    req.Client.ClientID,
		Subject:                     *req.Subject,
		IsOpenID:                    true,
		RequestedScopes:             req.ValidatedResources.RawScopeValues(),
		RequestedResourceIndicators: req.RequestedResourceIndicators,
		BindingMessage:              req.BindingMessage,
		AcrValues:                   req.AcrValues,
		Status:                      grants.StatusPending,
	}
	// the session is only known once the user approves
	br.Subject.SessionID = ""

	authReqID, err := g.store.CreateRequest(ctx, br)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to store backchannel request")
	}
	if err := g.notifier.SendLoginRequest(ctx, br); err != nil {
		return nil, errors.Wrapf(err, "failed to notify user")
	}

	interval := req.Client.PollingInterval
	if interval <= 0 {
		interval = validation.DefaultPollingInterval
	}
	return &oauthmodel.BackchannelAuthenticationResponse{
		AuthReqID: authReqID,
		ExpiresIn: int(req.Expiry / time.Second),
		Interval:  int(interval / time.Second),
	}, nil
}

// LoggingUserNotifier only logs CIBA requests. It lets a server run without a push channel.
type LoggingUserNotifier struct {
	options
}

func NewLoggingUserNotifier(opts ...Option) *LoggingUserNotifier {
	return &LoggingUserNotifier{options: newOptions("ciba_notifier", opts)}
}

func (n *LoggingUserNotifier) SendLoginRequest(_ context.Context, request *grants.BackchannelAuthenticationRequest) error {
	n.logger.Info().
		Str("subject", request.Subject.SubjectID).
		Str("client_id", request.ClientID).
		Str("internal_id", request.InternalID).
		Str("binding_message", request.BindingMessage).
		Msg("backchannel login requested")
	return nil
}
