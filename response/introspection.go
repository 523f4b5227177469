package response

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/token/jwt"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// IntrospectionResponseGenerator renders RFC 7662 responses.
type IntrospectionResponseGenerator struct {
	options
}

func NewIntrospectionResponseGenerator(opts ...Option) *IntrospectionResponseGenerator {
	return &IntrospectionResponseGenerator{options: newOptions("introspection_response", opts)}
}

// Process never fails: anything that is not an active token yields active=false.
func (g *IntrospectionResponseGenerator) Process(ctx context.Context, req *validation.ValidatedIntrospectionRequest) (oauthmodel.IntrospectionResponse, error) {
	_, span := g.start(ctx, "IntrospectionResponseGenerator.Process")
	defer span.End()

	switch {
	case !req.IsActive:
		return oauthmodel.InactiveIntrospection(), nil
	case req.AccessToken != nil:
		return g.accessToken(req), nil
	case req.RefreshToken != nil:
		return g.refreshToken(req.RefreshToken), nil
	}
	return oauthmodel.InactiveIntrospection(), nil
}

func (g *IntrospectionResponseGenerator) accessToken(req *validation.ValidatedIntrospectionRequest) oauthmodel.IntrospectionResponse {
	resp := oauthmodel.IntrospectionResponse{}
	for k, v := range jwt.Claims(req.AccessToken.Token) {
		resp[k] = v
	}
	// an API only learns about the scopes it owns
	if api := req.Caller.Api; api != nil {
		var owned []string
		for _, s := range req.AccessToken.Token.Scopes() {
			if api.HasScope(s) {
				owned = append(owned, s)
			}
		}
		resp[grants.ClaimScope] = strings.Join(owned, " ")
	}
	resp["active"] = true
	resp["token_type"] = oauthmodel.TokenTypeHintAccess
	return resp
}

func (g *IntrospectionResponseGenerator) refreshToken(rt *grants.RefreshToken) oauthmodel.IntrospectionResponse {
	resp := oauthmodel.IntrospectionResponse{
		"active":             true,
		"token_type":         oauthmodel.TokenTypeHintRefresh,
		grants.ClaimClientID: rt.ClientID,
		grants.ClaimSubject:  rt.SubjectID(),
		grants.ClaimScope:    grants.ScopeString(rt.AuthorizedScopes),
		"iat":                rt.CreationTime.Unix(),
		"exp":                rt.Expiration().Unix(),
	}
	if sid := rt.SessionID(); sid != "" {
		resp[grants.ClaimSession] = sid
	}
	return resp
}
