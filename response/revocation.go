package response

import (
	"context"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/token/refresh"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// RevocationResponseGenerator implements RFC 7009. Revocation is idempotent: unknown handles,
// handles of other clients and JWT access tokens all succeed without effect.
type RevocationResponseGenerator struct {
	refs          *grants.ReferenceTokenStore
	refreshTokens *refresh.Manager
	options
}

func NewRevocationResponseGenerator(refs *grants.ReferenceTokenStore, refreshTokens *refresh.Manager, opts ...Option) *RevocationResponseGenerator {
	return &RevocationResponseGenerator{
		refs:          refs,
		refreshTokens: refreshTokens,
		options:       newOptions("revocation_response", opts),
	}
}

// Process returns an error only when the store fails.
func (g *RevocationResponseGenerator) Process(ctx context.Context, req *validation.ValidatedRevocationRequest) error {
	ctx, span := g.start(ctx, "RevocationResponseGenerator.Process")
	defer span.End()

	if validation.LooksLikeJWT(req.Token) {
		g.logger.Debug().Str("client_id", req.Client.ClientID).Msg("ignoring revocation of a self-contained token")
		return nil
	}

	attempts := []func(context.Context, *validation.ValidatedRevocationRequest) (bool, error){g.revokeAccessToken, g.revokeRefreshToken}
	if req.TokenTypeHint == oauthmodel.TokenTypeHintRefresh {
		attempts[0], attempts[1] = attempts[1], attempts[0]
	}
	for _, attempt := range attempts {
		found, err := attempt(ctx, req)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
	}
	return nil
}

func (g *RevocationResponseGenerator) revokeAccessToken(ctx context.Context, req *validation.ValidatedRevocationRequest) (bool, error) {
	t, err := g.refs.GetReferenceToken(ctx, req.Token)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if t.ClientID != req.Client.ClientID {
		g.logger.Warn().Str("client_id", req.Client.ClientID).Msg("client tried to revoke another client's token")
		return true, nil
	}
	return true, g.refs.RemoveReferenceToken(ctx, req.Token)
}

// revokeRefreshToken also removes the reference tokens issued alongside the refresh token.
func (g *RevocationResponseGenerator) revokeRefreshToken(ctx context.Context, req *validation.ValidatedRevocationRequest) (bool, error) {
	rt, err := g.refreshTokens.Get(ctx, req.Token)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if rt.ClientID != req.Client.ClientID {
		g.logger.Warn().Str("client_id", req.Client.ClientID).Msg("client tried to revoke another client's token")
		return true, nil
	}
	if err := g.refreshTokens.Remove(ctx, req.Token); err != nil {
		return true, err
	}
	if err := g.refs.RemoveReferenceTokens(ctx, rt.SubjectID(), rt.ClientID, rt.SessionID()); err != nil && !errors.Is(err, grants.ErrEmptyFilter) {
		return true, err
	}
	return true, nil
}
