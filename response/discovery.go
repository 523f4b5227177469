package response

import (
	"context"

	"github.com/go-jose/go-jose/v4"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/resources"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
)

// Endpoints are the absolute URLs advertised in the discovery document.
type Endpoints struct {
	Authorization              string
	Token                      string
	UserInfo                   string
	JWKS                       string
	EndSession                 string
	Introspection              string
	Revocation                 string
	DeviceAuthorization        string
	BackchannelAuthentication  string
	PushedAuthorizationRequest string
}

// DiscoveryDocument is the OpenID Provider Metadata document.
type DiscoveryDocument struct {
	Issuer                                     string   `json:"issuer"`
	AuthorizationEndpoint                      string   `json:"authorization_endpoint"`
	TokenEndpoint                              string   `json:"token_endpoint"`
	UserInfoEndpoint                           string   `json:"userinfo_endpoint"`
	JWKSURI                                    string   `json:"jwks_uri"`
	EndSessionEndpoint                         string   `json:"end_session_endpoint,omitempty"`
	IntrospectionEndpoint                      string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                         string   `json:"revocation_endpoint,omitempty"`
	DeviceAuthorizationEndpoint                string   `json:"device_authorization_endpoint,omitempty"`
	BackchannelAuthenticationEndpoint          string   `json:"backchannel_authentication_endpoint,omitempty"`
	PushedAuthorizationRequestEndpoint         string   `json:"pushed_authorization_request_endpoint,omitempty"`
	ScopesSupported                            []string `json:"scopes_supported"`
	ClaimsSupported                            []string `json:"claims_supported"`
	GrantTypesSupported                        []string `json:"grant_types_supported"`
	ResponseTypesSupported                     []string `json:"response_types_supported"`
	ResponseModesSupported                     []string `json:"response_modes_supported"`
	SubjectTypesSupported                      []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported           []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported          []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported              []string `json:"code_challenge_methods_supported"`
	PromptValuesSupported                      []string `json:"prompt_values_supported"`
	BackchannelTokenDeliveryModesSupported     []string `json:"backchannel_token_delivery_modes_supported,omitempty"`
	BackchannelUserCodeParameterSupported      bool     `json:"backchannel_user_code_parameter_supported"`
	BackchannelLogoutSupported                 bool     `json:"backchannel_logout_supported"`
	BackchannelLogoutSessionSupported          bool     `json:"backchannel_logout_session_supported"`
	RequestParameterSupported                  bool     `json:"request_parameter_supported"`
	RequestURIParameterSupported               bool     `json:"request_uri_parameter_supported"`
	AuthorizationResponseIssParameterSupported bool     `json:"authorization_response_iss_parameter_supported"`
}

// DiscoveryResponseGenerator builds discovery and JWKS documents from the live catalog and
// key manager, so newly added scopes and rotated keys show up without a restart.
type DiscoveryResponseGenerator struct {
	issuer      string
	endpoints   Endpoints
	keys        *keys.Manager
	resources   resources.Repo
	grantTypes  []string
	authMethods []string
	options
}

// NewDiscoveryResponseGenerator creates the generator. grantTypes and authMethods come from
// the token request validator and the client secret validator.
func NewDiscoveryResponseGenerator(issuer string, endpoints Endpoints, keyManager *keys.Manager, repo resources.Repo, grantTypes, authMethods []string, opts ...Option) *DiscoveryResponseGenerator {
	return &DiscoveryResponseGenerator{
		issuer:      issuer,
		endpoints:   endpoints,
		keys:        keyManager,
		resources:   repo,
		grantTypes:  grantTypes,
		authMethods: authMethods,
		options:     newOptions("discovery_response", opts),
	}
}

func (g *DiscoveryResponseGenerator) Discovery(ctx context.Context) (*DiscoveryDocument, error) {
	ctx, span := g.start(ctx, "DiscoveryResponseGenerator.Discovery")
	defer span.End()

	all, err := g.resources.GetAllResources(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load resources")
	}
	var scopes []string
	claims := []string{"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce", "sid", "amr", "idp"}
	seen := make(map[string]bool)
	addClaims := func(types []string) {
		for _, c := range types {
			if !seen[c] {
				seen[c] = true
				claims = append(claims, c)
			}
		}
	}
	for _, c := range claims {
		seen[c] = true
	}
	for _, ir := range all.IdentityResources {
		if ir.Enabled {
			scopes = append(scopes, ir.Name)
			addClaims(ir.UserClaims)
		}
	}
	for _, s := range all.ApiScopes {
		if s.Enabled {
			scopes = append(scopes, s.Name)
		}
	}
	scopes = append(scopes, oauthmodel.OfflineAccessScope)

	e := g.endpoints
	return &DiscoveryDocument{
		Issuer:                             g.issuer,
		AuthorizationEndpoint:              e.Authorization,
		TokenEndpoint:                      e.Token,
		UserInfoEndpoint:                   e.UserInfo,
		JWKSURI:                            e.JWKS,
		EndSessionEndpoint:                 e.EndSession,
		IntrospectionEndpoint:              e.Introspection,
		RevocationEndpoint:                 e.Revocation,
		DeviceAuthorizationEndpoint:        e.DeviceAuthorization,
		BackchannelAuthenticationEndpoint:  e.BackchannelAuthentication,
		PushedAuthorizationRequestEndpoint: e.PushedAuthorizationRequest,
		ScopesSupported:                    scopes,
		ClaimsSupported:                    claims,
		GrantTypesSupported:                append(append([]string(nil), g.grantTypes...), oauthmodel.ImplicitGrant),
		ResponseTypesSupported: []string{
			oauthmodel.CodeResponseType,
			oauthmodel.TokenResponseType,
			oauthmodel.IDTokenResponseType,
			oauthmodel.IDTokenTokenResponseType,
			oauthmodel.CodeIDTokenResponseType,
			oauthmodel.CodeTokenResponseType,
			oauthmodel.CodeIDTokenTokenResponseType,
		},
		ResponseModesSupported: []string{
			oauthmodel.FormPostResponseMode,
			oauthmodel.QueryResponseMode,
			oauthmodel.FragmentResponseMode,
		},
		SubjectTypesSupported:                      []string{"public"},
		IDTokenSigningAlgValuesSupported:           g.keys.Algorithms(),
		TokenEndpointAuthMethodsSupported:          g.authMethods,
		CodeChallengeMethodsSupported:              []string{oauthmodel.CodeMethodTypePlain, oauthmodel.CodeMethodTypeS256},
		PromptValuesSupported:                      []string{oauthmodel.PromptNone, oauthmodel.PromptLogin, oauthmodel.PromptConsent, oauthmodel.PromptSelectAccount, oauthmodel.PromptCreate},
		BackchannelTokenDeliveryModesSupported:     []string{"poll"},
		BackchannelUserCodeParameterSupported:      false,
		BackchannelLogoutSupported:                 true,
		BackchannelLogoutSessionSupported:          true,
		RequestURIParameterSupported:               e.PushedAuthorizationRequest != "",
		AuthorizationResponseIssParameterSupported: true,
	}, nil
}

// JWKS returns the public half of every key that may still verify a token.
func (g *DiscoveryResponseGenerator) JWKS(ctx context.Context) (*jose.JSONWebKeySet, error) {
	ctx, span := g.start(ctx, "DiscoveryResponseGenerator.JWKS")
	defer span.End()
	return g.keys.JWKS(ctx)
}
