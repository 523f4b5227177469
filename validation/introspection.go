package validation

import (
	"context"
	"net/url"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/resources"
	"github.com/jrsteele09/go-oidc-engine/token/refresh"
)

// IntrospectionCaller is the authenticated caller: a protected API or a client.
type IntrospectionCaller struct {
	Api    *resources.ApiResource
	Client *clients.Client
}

// Name identifies the caller in logs.
func (c IntrospectionCaller) Name() string {
	if c.Api != nil {
		return c.Api.Name
	}
	if c.Client != nil {
		return c.Client.ClientID
	}
	return ""
}

// ValidatedIntrospectionRequest tells the introspection generator whether the token is
// active. An invalid token is still a successful validation.
type ValidatedIntrospectionRequest struct {
	Caller        IntrospectionCaller
	Token         string
	TokenTypeHint string
	IsActive      bool

	AccessToken  *TokenValidationResult
	RefreshToken *grants.RefreshToken
}

type IntrospectionRequestValidator struct {
	tokens        *TokenValidator
	refreshTokens *refresh.Manager
	custom        []CustomValidator[ValidatedIntrospectionRequest]
	options
}

func NewIntrospectionRequestValidator(tokens *TokenValidator, refreshTokens *refresh.Manager, custom []CustomValidator[ValidatedIntrospectionRequest], opts ...Option) *IntrospectionRequestValidator {
	return &IntrospectionRequestValidator{
		tokens:        tokens,
		refreshTokens: refreshTokens,
		custom:        custom,
		options:       newOptions("introspection_validator", opts),
	}
}

func (v *IntrospectionRequestValidator) Validate(ctx context.Context, params url.Values, caller IntrospectionCaller) Result[ValidatedIntrospectionRequest] {
	ctx, span := v.start(ctx, "IntrospectionRequestValidator.Validate")
	return finish(&v.options, span, "introspection", runCustom(ctx, v.validate(ctx, params, caller), v.custom))
}

func (v *IntrospectionRequestValidator) validate(ctx context.Context, params url.Values, caller IntrospectionCaller) Result[ValidatedIntrospectionRequest] {
	if caller.Api == nil && caller.Client == nil {
		return Failure[ValidatedIntrospectionRequest](oauthmodel.ErrorInvalidClient, "caller authentication required")
	}
	var ir oauthmodel.IntrospectionRequest
	if e := decode(&ir, params); e != nil {
		return FailureFrom[ValidatedIntrospectionRequest](e)
	}
	if ir.Token == "" {
		return Failure[ValidatedIntrospectionRequest](oauthmodel.ErrorInvalidRequest, "token is required")
	}
	req := &ValidatedIntrospectionRequest{Caller: caller, Token: ir.Token, TokenTypeHint: ir.TokenTypeHint}

	checks := []func(context.Context, *ValidatedIntrospectionRequest) (bool, error){v.accessToken, v.refreshToken}
	if ir.TokenTypeHint == oauthmodel.TokenTypeHintRefresh {
		checks[0], checks[1] = checks[1], checks[0]
	}
	for _, check := range checks {
		active, err := check(ctx, req)
		if err != nil {
			v.logger.Err(err).Msg("introspection lookup failed")
			return Failure[ValidatedIntrospectionRequest](oauthmodel.ErrorServerError, "token lookup failed")
		}
		if active {
			req.IsActive = true
			break
		}
	}
	return Success(req)
}

func (v *IntrospectionRequestValidator) accessToken(ctx context.Context, req *ValidatedIntrospectionRequest) (bool, error) {
	result := v.tokens.validateAccessToken(ctx, req.Token, "")
	if result.IsError() {
		if result.Err().Code == oauthmodel.ErrorServerError {
			return false, errors.Wrapf(errors.ErrInternal, "%s", result.Err().Description)
		}
		return false, nil
	}
	t := result.Value().Token
	switch {
	case req.Caller.Api != nil:
		// APIs may only introspect tokens addressed to them
		if !utils.Contains(t.Audiences, req.Caller.Api.Name) {
			return false, nil
		}
	case req.Caller.Client.ClientID != t.ClientID:
		return false, nil
	}
	req.AccessToken = result.Value()
	return true, nil
}

func (v *IntrospectionRequestValidator) refreshToken(ctx context.Context, req *ValidatedIntrospectionRequest) (bool, error) {
	if req.Caller.Client == nil || LooksLikeJWT(req.Token) {
		return false, nil
	}
	rt, err := v.refreshTokens.Get(ctx, req.Token)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if rt.ConsumedTime != nil || !v.now().Before(rt.Expiration()) || rt.ClientID != req.Caller.Client.ClientID {
		return false, nil
	}
	req.RefreshToken = rt
	return true, nil
}
