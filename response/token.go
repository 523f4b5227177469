package response

import (
	"context"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/token"
	"github.com/jrsteele09/go-oidc-engine/token/refresh"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// Token kinds used as the kind label of the issued tokens metric.
const (
	KindAccessToken   = "access_token"
	KindIdentityToken = "id_token"
	KindRefreshToken  = "refresh_token"
	KindCode          = "code"
)

// TokenResponseGenerator issues the tokens of a validated token request.
type TokenResponseGenerator struct {
	tokens        *token.Service
	refreshTokens *refresh.Manager
	options
}

func NewTokenResponseGenerator(tokens *token.Service, refreshTokens *refresh.Manager, opts ...Option) *TokenResponseGenerator {
	return &TokenResponseGenerator{
		tokens:        tokens,
		refreshTokens: refreshTokens,
		options:       newOptions("token_response", opts),
	}
}

// Process mints the response. A refresh token that was redeemed concurrently is reported as
// a *validation.Error with invalid_grant; every other error is a server fault.
func (g *TokenResponseGenerator) Process(ctx context.Context, req *validation.ValidatedTokenRequest) (*oauthmodel.TokenResponse, error) {
	ctx, span := g.start(ctx, "TokenResponseGenerator.Process")
	defer span.End()

	switch req.GrantType {
	case oauthmodel.AuthorizationCodeGrant:
		code := req.AuthorizationCode
		return g.issue(ctx, req, issueOptions{
			openID:      code.IsOpenID,
			nonce:       code.Nonce,
			description: code.Description,
		})
	case oauthmodel.RefreshTokenGrant:
		return g.refresh(ctx, req)
	case oauthmodel.DeviceCodeGrant:
		return g.issue(ctx, req, issueOptions{openID: req.DeviceCode.IsOpenID, description: req.DeviceCode.Description})
	case oauthmodel.CibaGrant:
		return g.issue(ctx, req, issueOptions{openID: req.BackchannelRequest.IsOpenID, description: req.BackchannelRequest.Description})
	default:
		// client_credentials, password and extension grants never return an id_token
		return g.issue(ctx, req, issueOptions{})
	}
}

type issueOptions struct {
	openID      bool
	nonce       string
	description string
}

func (g *TokenResponseGenerator) tokenRequest(req *validation.ValidatedTokenRequest, description string) *token.Request {
	return &token.Request{
		GrantType:         req.GrantType,
		Client:            req.Client,
		Subject:           req.Subject,
		Resources:         req.ValidatedResources,
		ResourceIndicator: req.ResourceIndicator,
		Description:       description,
	}
}

func (g *TokenResponseGenerator) issue(ctx context.Context, req *validation.ValidatedTokenRequest, o issueOptions) (*oauthmodel.TokenResponse, error) {
	tr := g.tokenRequest(req, o.description)
	resp, err := g.accessToken(ctx, req, tr)
	if err != nil {
		return nil, err
	}

	if o.openID && req.Subject != nil && req.ValidatedResources.HasScope(oauthmodel.OpenIDScope) {
		tr.Nonce = o.nonce
		tr.AccessTokenToHash = resp.AccessToken
		idToken, err := g.identityToken(ctx, req.GrantType, tr)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	if req.Subject != nil && req.ValidatedResources.HasOfflineAccess() {
		handle, err := g.refreshTokens.Create(ctx, req.Client, *req.Subject,
			req.ValidatedResources.RawScopeValues(), req.RequestedResourceIndicators, o.description)
		if err != nil {
			return nil, err
		}
		g.issued(req.GrantType, KindRefreshToken)
		resp.RefreshToken = handle
	}
	return resp, nil
}

// refresh rotates the refresh token before anything else is issued, so a lost race never
// hands out an access token.
func (g *TokenResponseGenerator) refresh(ctx context.Context, req *validation.ValidatedTokenRequest) (*oauthmodel.TokenResponse, error) {
	// the rotated token keeps the full original grant even when this request narrowed the scope
	rt := req.RefreshToken
	handle, err := g.refreshTokens.Update(ctx, req.RefreshTokenHandle, rt, req.Client)
	if err != nil {
		if errors.Is(err, refresh.ErrInvalidRefreshToken) {
			return nil, validation.NewError(oauthmodel.ErrorInvalidGrant, "refresh token is no longer valid")
		}
		return nil, err
	}
	if handle != req.RefreshTokenHandle {
		g.issued(req.GrantType, KindRefreshToken)
	}

	tr := g.tokenRequest(req, rt.Description)
	resp, err := g.accessToken(ctx, req, tr)
	if err != nil {
		return nil, err
	}
	resp.RefreshToken = handle

	if req.Subject != nil && req.ValidatedResources.HasScope(oauthmodel.OpenIDScope) {
		tr.AccessTokenToHash = resp.AccessToken
		idToken, err := g.identityToken(ctx, req.GrantType, tr)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}
	return resp, nil
}

func (g *TokenResponseGenerator) accessToken(ctx context.Context, req *validation.ValidatedTokenRequest, tr *token.Request) (*oauthmodel.TokenResponse, error) {
	at, err := g.tokens.CreateAccessToken(ctx, tr)
	if err != nil {
		return nil, err
	}
	raw, err := g.tokens.CreateSecurityToken(ctx, at)
	if err != nil {
		return nil, err
	}
	g.issued(req.GrantType, KindAccessToken)
	return &oauthmodel.TokenResponse{
		AccessToken: raw,
		TokenType:   oauthmodel.TokenTypeBearer,
		ExpiresIn:   int(at.Lifetime / time.Second),
		Scope:       grants.ScopeString(req.ValidatedResources.RawScopeValues()),
	}, nil
}

func (g *TokenResponseGenerator) identityToken(ctx context.Context, grantType string, tr *token.Request) (string, error) {
	it, err := g.tokens.CreateIdentityToken(ctx, tr)
	if err != nil {
		return "", err
	}
	raw, err := g.tokens.CreateSecurityToken(ctx, it)
	if err != nil {
		return "", err
	}
	g.issued(grantType, KindIdentityToken)
	return raw, nil
}
