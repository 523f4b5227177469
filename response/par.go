package response

import (
	"context"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

const DefaultPushedAuthorizationLifetime = 10 * time.Minute

type PushedAuthorizationResponseGenerator struct {
	store    *grants.PushedAuthorizationRequestStore
	lifetime time.Duration
	options
}

// NewPushedAuthorizationResponseGenerator creates the generator. A zero lifetime uses
// DefaultPushedAuthorizationLifetime.
func NewPushedAuthorizationResponseGenerator(store *grants.PushedAuthorizationRequestStore, lifetime time.Duration, opts ...Option) *PushedAuthorizationResponseGenerator {
	if lifetime <= 0 {
		lifetime = DefaultPushedAuthorizationLifetime
	}
	return &PushedAuthorizationResponseGenerator{
		store:    store,
		lifetime: lifetime,
		options:  newOptions("par_response", opts),
	}
}

func (g *PushedAuthorizationResponseGenerator) Process(ctx context.Context, req *validation.ValidatedPushedAuthorizationRequest) (*oauthmodel.PushedAuthorizationResponse, error) {
	ctx, span := g.start(ctx, "PushedAuthorizationResponseGenerator.Process")
	defer span.End()

	handle, err := g.store.StorePushedAuthorizationRequest(ctx, &grants.PushedAuthorizationRequest{
		ClientID:     req.Authorize.Client.ClientID,
		CreationTime: g.now().UTC(),
		Lifetime:     g.lifetime,
		Parameters:   req.Parameters,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to store pushed authorization request")
	}
	return &oauthmodel.PushedAuthorizationResponse{
		RequestURI: oauthmodel.RequestURIPrefix + handle,
		ExpiresIn:  int(g.lifetime / time.Second),
	}, nil
}
