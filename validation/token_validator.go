package validation

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/token/jwt"
)

// TokenValidationResult is a verified access or identity token.
type TokenValidationResult struct {
	Token  *grants.Token
	Client *clients.Client
	// ReferenceHandle is set when the access token was a reference handle.
	ReferenceHandle string
}

// TokenValidator verifies tokens issued by this server: JWTs against the key manager's
// validation keys and reference handles against the grant store.
type TokenValidator struct {
	inspector *jwt.Inspector
	refs      *grants.ReferenceTokenStore
	clients   clients.Repo
	users     UserActivityChecker
	options
}

// NewTokenValidator creates a validator. users may be nil.
func NewTokenValidator(inspector *jwt.Inspector, refs *grants.ReferenceTokenStore, repo clients.Repo, users UserActivityChecker, opts ...Option) *TokenValidator {
	return &TokenValidator{
		inspector: inspector,
		refs:      refs,
		clients:   repo,
		users:     users,
		options:   newOptions("token_validator", opts),
	}
}

// LooksLikeJWT reports whether raw has the three part compact JWS shape.
func LooksLikeJWT(raw string) bool {
	return strings.Count(raw, ".") == 2
}

// ValidateAccessToken verifies raw and, when expectedScope is set, that it was granted.
func (v *TokenValidator) ValidateAccessToken(ctx context.Context, raw, expectedScope string) Result[TokenValidationResult] {
	ctx, span := v.start(ctx, "TokenValidator.ValidateAccessToken")
	return finish(&v.options, span, "access_token", v.validateAccessToken(ctx, raw, expectedScope))
}

func (v *TokenValidator) validateAccessToken(ctx context.Context, raw, expectedScope string) Result[TokenValidationResult] {
	if strings.TrimSpace(raw) == "" {
		return Failure[TokenValidationResult](oauthmodel.ErrorInvalidToken, "token is missing")
	}

	result := &TokenValidationResult{}
	if LooksLikeJWT(raw) {
		claims, err := v.inspector.Validate(ctx, raw, jwt.ValidateOptions{Type: jwt.TypeAccessToken})
		if err != nil {
			if errors.Is(err, errors.ErrTokenExpired) {
				return Failure[TokenValidationResult](oauthmodel.ErrorInvalidToken, "token expired")
			}
			return Failure[TokenValidationResult](oauthmodel.ErrorInvalidToken, "invalid token")
		}
		result.Token = jwt.ToToken(claims, grants.TokenTypeAccessToken)
	} else {
		t, err := v.refs.GetReferenceToken(ctx, raw)
		if err != nil {
			if errors.IsNotFound(err) {
				return Failure[TokenValidationResult](oauthmodel.ErrorInvalidToken, "invalid token")
			}
			v.logger.Err(err).Msg("reference token lookup failed")
			return Failure[TokenValidationResult](oauthmodel.ErrorServerError, "token lookup failed")
		}
		if !v.now().Before(t.Expiration()) {
			if err := v.refs.RemoveReferenceToken(ctx, raw); err != nil {
				v.logger.Err(err).Msg("failed to remove expired reference token")
			}
			return Failure[TokenValidationResult](oauthmodel.ErrorInvalidToken, "token expired")
		}
		result.Token = t
		result.ReferenceHandle = raw
	}

	client, e := v.activeClient(ctx, result.Token.ClientID)
	if e != nil {
		return FailureFrom[TokenValidationResult](e)
	}
	result.Client = client

	if e := v.activeSubject(ctx, result.Token.SubjectID()); e != nil {
		return FailureFrom[TokenValidationResult](e)
	}
	if expectedScope != "" && !utils.Contains(result.Token.Scopes(), expectedScope) {
		return Failure[TokenValidationResult](oauthmodel.ErrorInsufficientScope, "token lacks scope "+expectedScope)
	}
	return Success(result)
}

// ValidateIdentityToken verifies an identity token issued to clientID, or to any client when
// clientID is empty. Expired tokens are accepted unless validateLifetime is set, which is
// what id_token_hint needs.
func (v *TokenValidator) ValidateIdentityToken(ctx context.Context, raw, clientID string, validateLifetime bool) Result[TokenValidationResult] {
	ctx, span := v.start(ctx, "TokenValidator.ValidateIdentityToken")
	return finish(&v.options, span, "identity_token", v.validateIdentityToken(ctx, raw, clientID, validateLifetime))
}

func (v *TokenValidator) validateIdentityToken(ctx context.Context, raw, clientID string, validateLifetime bool) Result[TokenValidationResult] {
	if !LooksLikeJWT(raw) {
		return Failure[TokenValidationResult](oauthmodel.ErrorInvalidToken, "malformed identity token")
	}
	claims, err := v.inspector.Validate(ctx, raw, jwt.ValidateOptions{Audience: clientID, SkipLifetime: !validateLifetime})
	if err != nil {
		return Failure[TokenValidationResult](oauthmodel.ErrorInvalidToken, "invalid identity token")
	}
	t := jwt.ToToken(claims, grants.TokenTypeIdentityToken)
	if clientID == "" {
		if len(t.Audiences) != 1 {
			return Failure[TokenValidationResult](oauthmodel.ErrorInvalidToken, "identity token must have one audience")
		}
		clientID = t.Audiences[0]
	}
	t.ClientID = clientID
	client, e := v.activeClient(ctx, clientID)
	if e != nil {
		return FailureFrom[TokenValidationResult](e)
	}
	return Success(&TokenValidationResult{Token: t, Client: client})
}

func (v *TokenValidator) activeClient(ctx context.Context, clientID string) (*clients.Client, *Error) {
	if clientID == "" {
		return nil, NewError(oauthmodel.ErrorInvalidToken, "token has no client")
	}
	client, err := v.clients.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, errors.ErrClientNotFound) {
			return nil, NewError(oauthmodel.ErrorInvalidToken, "client no longer exists")
		}
		v.logger.Err(err).Str("client_id", clientID).Msg("client lookup failed")
		return nil, NewError(oauthmodel.ErrorServerError, "client lookup failed")
	}
	if !client.Enabled {
		return nil, NewError(oauthmodel.ErrorInvalidToken, "client is disabled")
	}
	return client, nil
}

func (v *TokenValidator) activeSubject(ctx context.Context, subjectID string) *Error {
	if v.users == nil || subjectID == "" {
		return nil
	}
	active, err := v.users.IsActive(ctx, subjectID)
	if err != nil {
		v.logger.Err(err).Msg("user lookup failed")
		return NewError(oauthmodel.ErrorServerError, "user lookup failed")
	}
	if !active {
		return NewError(oauthmodel.ErrorInvalidToken, "user is not active")
	}
	return nil
}
