package validation

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/token/jwt"
)

// MaxBindingMessageLength bounds the message shown on the authentication device.
const MaxBindingMessageLength = 100

// ValidatedBackchannelAuthenticationRequest is a CIBA request ready for the backchannel
// generator. Subject is the user the request is addressed to.
type ValidatedBackchannelAuthenticationRequest struct {
	ValidatedRequest
	RequestedScopes         []string
	Expiry                  time.Duration
	BindingMessage          string
	UserCode                string
	AcrValues               []string
	ClientNotificationToken string
	LoginHint               string
}

type BackchannelAuthenticationRequestValidator struct {
	resources *ResourceValidator
	users     BackchannelUserValidator
	inspector *jwt.Inspector
	custom    []CustomValidator[ValidatedBackchannelAuthenticationRequest]
	options
}

func NewBackchannelAuthenticationRequestValidator(rv *ResourceValidator, users BackchannelUserValidator, inspector *jwt.Inspector, custom []CustomValidator[ValidatedBackchannelAuthenticationRequest], opts ...Option) *BackchannelAuthenticationRequestValidator {
	return &BackchannelAuthenticationRequestValidator{
		resources: rv,
		users:     users,
		inspector: inspector,
		custom:    custom,
		options:   newOptions("backchannel_authentication_validator", opts),
	}
}

func (v *BackchannelAuthenticationRequestValidator) Validate(ctx context.Context, params url.Values, clientResult *ClientValidationResult) Result[ValidatedBackchannelAuthenticationRequest] {
	ctx, span := v.start(ctx, "BackchannelAuthenticationRequestValidator.Validate")
	return finish(&v.options, span, "backchannel_authentication", runCustom(ctx, v.validate(ctx, params, clientResult), v.custom))
}

func (v *BackchannelAuthenticationRequestValidator) validate(ctx context.Context, params url.Values, clientResult *ClientValidationResult) Result[ValidatedBackchannelAuthenticationRequest] {
	type result = ValidatedBackchannelAuthenticationRequest
	if clientResult == nil || clientResult.Client == nil {
		return Failure[result](oauthmodel.ErrorInvalidClient, "client authentication required")
	}
	var br oauthmodel.BackchannelAuthenticationRequest
	if e := decode(&br, params); e != nil {
		return FailureFrom[result](e)
	}
	client := clientResult.Client
	if !client.AllowsGrantType(oauthmodel.CibaGrant) {
		return Failure[result](oauthmodel.ErrorUnauthorizedClient, "backchannel authentication not allowed for client")
	}

	req := &result{
		BindingMessage:          br.BindingMessage,
		UserCode:                br.UserCode,
		AcrValues:               utils.SplitSpaceDelimited(br.AcrValues),
		ClientNotificationToken: br.ClientNotificationToken,
		LoginHint:               br.LoginHint,
	}
	req.Raw = params
	req.setClient(client, clientResult.Secret)

	req.RequestedScopes = utils.SplitSpaceDelimited(br.Scope)
	if !utils.Contains(req.RequestedScopes, oauthmodel.OpenIDScope) {
		return Failure[result](oauthmodel.ErrorInvalidRequest, "the openid scope is required")
	}
	vr, e := v.resources.Validate(ctx, client, req.RequestedScopes, br.Resource)
	if e != nil {
		return FailureFrom[result](e)
	}
	req.ValidatedResources = vr
	req.RequestedResourceIndicators = br.Resource

	req.Expiry = client.CibaTTL()
	if br.RequestedExpiry != "" {
		seconds, err := strconv.Atoi(br.RequestedExpiry)
		if err != nil || seconds <= 0 || time.Duration(seconds)*time.Second > client.CibaTTL() {
			return Failure[result](oauthmodel.ErrorInvalidRequest, "invalid requested_expiry")
		}
		req.Expiry = time.Duration(seconds) * time.Second
	}

	hints := 0
	for _, h := range []string{br.LoginHint, br.LoginHintToken, br.IDTokenHint} {
		if h != "" {
			hints++
		}
	}
	if hints != 1 {
		return Failure[result](oauthmodel.ErrorInvalidRequest, "exactly one of login_hint, login_hint_token or id_token_hint is required")
	}

	if client.RequireBindingMessage && br.BindingMessage == "" {
		return Failure[result](oauthmodel.ErrorInvalidBindingMessage, "binding_message is required")
	}
	if len(br.BindingMessage) > MaxBindingMessageLength {
		return Failure[result](oauthmodel.ErrorInvalidBindingMessage, "binding_message is too long")
	}

	var hintSubject string
	if br.IDTokenHint != "" {
		claims, err := v.inspector.Validate(ctx, br.IDTokenHint, jwt.ValidateOptions{Audience: client.ClientID, SkipLifetime: true})
		if err != nil {
			return Failure[result](oauthmodel.ErrorInvalidRequest, "invalid id_token_hint")
		}
		hintSubject, _ = claims.GetSubject()
	}

	subject, err := v.users.ResolveLoginHint(ctx, br.LoginHint, hintSubject, br.LoginHintToken)
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrUserNotFound), errors.Is(err, errors.ErrUserBlocked):
		return Failure[result](oauthmodel.ErrorUnknownUserID, "unknown user")
	case errors.Is(err, errors.ErrTokenExpired):
		return Failure[result](oauthmodel.ErrorExpiredLoginHintToken, "login_hint_token expired")
	case errors.Is(err, errors.ErrUnsupported):
		return Failure[result](oauthmodel.ErrorInvalidRequest, "unsupported login hint")
	default:
		v.logger.Err(err).Msg("login hint resolution failed")
		return Failure[result](oauthmodel.ErrorServerError, "user lookup failed")
	}
	req.setSubject(subject)
	return Success(req)
}
