package validation

import (
	"context"
	"net/url"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
)

// ValidatedEndSessionRequest is an RP-initiated logout request. Client is nil when the
// request named no client.
type ValidatedEndSessionRequest struct {
	Client                *clients.Client
	Subject               *grants.Subject
	SessionID             string
	IDTokenHint           *grants.Token
	PostLogoutRedirectURI string
	State                 string
}

type EndSessionRequestValidator struct {
	tokens  *TokenValidator
	clients clients.Repo
	custom  []CustomValidator[ValidatedEndSessionRequest]
	options
}

func NewEndSessionRequestValidator(tokens *TokenValidator, repo clients.Repo, custom []CustomValidator[ValidatedEndSessionRequest], opts ...Option) *EndSessionRequestValidator {
	return &EndSessionRequestValidator{tokens: tokens, clients: repo, custom: custom, options: newOptions("endsession_validator", opts)}
}

// Validate checks params. subject is the signed in user, or nil.
func (v *EndSessionRequestValidator) Validate(ctx context.Context, params url.Values, subject *grants.Subject) Result[ValidatedEndSessionRequest] {
	ctx, span := v.start(ctx, "EndSessionRequestValidator.Validate")
	return finish(&v.options, span, "endsession", runCustom(ctx, v.validate(ctx, params, subject), v.custom))
}

func (v *EndSessionRequestValidator) validate(ctx context.Context, params url.Values, subject *grants.Subject) Result[ValidatedEndSessionRequest] {
	var er oauthmodel.EndSessionRequest
	if e := decode(&er, params); e != nil {
		return FailureFrom[ValidatedEndSessionRequest](e)
	}
	req := &ValidatedEndSessionRequest{Subject: subject}
	if subject != nil {
		req.SessionID = subject.SessionID
	}

	if er.IDTokenHint != "" {
		result := v.tokens.validateIdentityToken(ctx, er.IDTokenHint, er.ClientID, false)
		if result.IsError() {
			return Failure[ValidatedEndSessionRequest](oauthmodel.ErrorInvalidRequest, "invalid id_token_hint")
		}
		hint := result.Value()
		if subject != nil && hint.Token.SubjectID() != subject.SubjectID {
			return Failure[ValidatedEndSessionRequest](oauthmodel.ErrorInvalidRequest, "id_token_hint does not match the current user")
		}
		req.IDTokenHint = hint.Token
		req.Client = hint.Client
		if req.SessionID == "" {
			req.SessionID = hint.Token.SessionID()
		}
	} else if er.ClientID != "" {
		client, err := v.clients.Get(ctx, er.ClientID)
		if err != nil {
			if !errors.Is(err, errors.ErrClientNotFound) {
				v.logger.Err(err).Str("client_id", er.ClientID).Msg("client lookup failed")
				return Failure[ValidatedEndSessionRequest](oauthmodel.ErrorServerError, "client lookup failed")
			}
			return Failure[ValidatedEndSessionRequest](oauthmodel.ErrorInvalidRequest, "unknown client")
		}
		if !client.Enabled {
			return Failure[ValidatedEndSessionRequest](oauthmodel.ErrorInvalidRequest, "client is disabled")
		}
		req.Client = client
	}

	if er.PostLogoutRedirectURI != "" {
		if req.Client == nil {
			return Failure[ValidatedEndSessionRequest](oauthmodel.ErrorInvalidRequest, "post_logout_redirect_uri requires id_token_hint or client_id")
		}
		if !req.Client.HasPostLogoutRedirectURI(er.PostLogoutRedirectURI) {
			return Failure[ValidatedEndSessionRequest](oauthmodel.ErrorInvalidRequest, "post_logout_redirect_uri is not registered")
		}
		req.PostLogoutRedirectURI = er.PostLogoutRedirectURI
		req.State = er.State
	}
	return Success(req)
}
