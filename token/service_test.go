package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/grants/repofake"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/resources"
	"github.com/jrsteele09/go-oidc-engine/token"
	"github.com/jrsteele09/go-oidc-engine/token/jwt"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
	keyrepo "github.com/jrsteele09/go-oidc-engine/token/keys/repofake"
)

const issuer = "https://issuer.example.com"

type fakeProfile struct{}

func (fakeProfile) GetProfileClaims(_ context.Context, subject *grants.Subject, claimTypes []string) ([]grants.Claim, error) {
	all := []grants.Claim{
		{Type: "sub", Value: subject.SubjectID},
		{Type: "name", Value: "Alice Smith"},
		{Type: "email", Value: "alice@example.com"},
		{Type: "role", Value: "admin"},
		{Type: "role", Value: "user"},
	}
	var out []grants.Claim
	for _, c := range all {
		for _, ct := range claimTypes {
			if c.Type == ct {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (fakeProfile) IsActive(context.Context, string) (bool, error) { return true, nil }

type fixture struct {
	service   *token.Service
	inspector *jwt.Inspector
	refs      *grants.ReferenceTokenStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	opts := keys.DefaultOptions()
	opts.Algorithms = []keys.AlgorithmOptions{{Algorithm: keys.ES256}, {Algorithm: keys.ES384}}
	km, err := keys.NewManager(keyrepo.NewFakeKeyRepo(), opts)
	require.NoError(t, err)
	refs := grants.NewReferenceTokenStore(repofake.NewFakeGrantRepo())
	svc := token.NewService(issuer, jwt.NewCreator(km), refs, token.WithProfileService(fakeProfile{}))
	return fixture{service: svc, inspector: jwt.NewInspector(km, issuer, time.Minute), refs: refs}
}

func twoResources() *resources.ValidatedResources {
	r1 := &resources.ApiResource{Name: "urn:resource1", Scopes: []string{"resource1.scope1"}, Enabled: true}
	r2 := &resources.ApiResource{Name: "urn:resource2", Scopes: []string{"resource2.scope1"}, UserClaims: []string{"role"}, Enabled: true}
	return &resources.ValidatedResources{
		Resources: &resources.Resources{
			ApiResources: []*resources.ApiResource{r1, r2},
			ApiScopes: []*resources.ApiScope{
				{Name: "resource1.scope1", Enabled: true},
				{Name: "resource2.scope1", Enabled: true},
			},
		},
		ParsedScopes: []resources.ParsedScopeValue{
			{RawValue: "resource1.scope1", ParsedName: "resource1.scope1"},
			{RawValue: "resource2.scope1", ParsedName: "resource2.scope1"},
		},
	}
}

func machineClient() *clients.Client {
	return &clients.Client{
		ClientID:            "machine",
		Enabled:             true,
		RequireClientSecret: true,
		AllowedGrantTypes:   []string{"client_credentials"},
		AllowedScopes:       []string{"resource1.scope1", "resource2.scope1"},
		AccessTokenLifetime: 30 * time.Minute,
		Claims:              map[string]string{"tier": "gold"},
	}
}

func TestService_ClientCredentialsAudience(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t.Run("no resource indicator covers every resource", func(t *testing.T) {
		at, err := f.service.CreateAccessToken(ctx, &token.Request{
			GrantType: "client_credentials",
			Client:    machineClient(),
			Resources: twoResources(),
		})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"urn:resource1", "urn:resource2"}, at.Audiences)
		require.Equal(t, []string{"resource1.scope1", "resource2.scope1"}, at.Scopes())
		require.Empty(t, at.SubjectID())
		require.Equal(t, "gold", at.ClaimValue("client_tier"))
		require.Equal(t, 30*time.Minute, at.Lifetime)
	})

	t.Run("resource indicator narrows audience and scopes", func(t *testing.T) {
		vr := twoResources().FilterByResourceIndicator("urn:resource1")
		at, err := f.service.CreateAccessToken(ctx, &token.Request{
			GrantType:         "client_credentials",
			Client:            machineClient(),
			Resources:         vr,
			ResourceIndicator: "urn:resource1",
		})
		require.NoError(t, err)
		require.Equal(t, []string{"urn:resource1"}, at.Audiences)
		require.Equal(t, []string{"resource1.scope1"}, at.Scopes())

		raw, err := f.service.CreateSecurityToken(ctx, at)
		require.NoError(t, err)
		claims, err := f.inspector.Validate(ctx, raw, jwt.ValidateOptions{Audience: "urn:resource1"})
		require.NoError(t, err)
		require.Equal(t, "resource1.scope1", claims["scope"])
		require.Equal(t, "machine", claims["client_id"])
	})
}

func TestService_UserAccessTokenIncludesApiClaims(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	subject := &grants.Subject{SubjectID: "alice", SessionID: "sid1", AuthTime: time.Unix(1700000000, 0), AuthenticationMethods: []string{"pwd"}, IdentityProvider: "local"}

	at, err := f.service.CreateAccessToken(ctx, &token.Request{Client: machineClient(), Subject: subject, Resources: twoResources()})
	require.NoError(t, err)
	require.Equal(t, "alice", at.SubjectID())
	require.Equal(t, "sid1", at.SessionID())
	require.Equal(t, []string{"admin", "user"}, at.ClaimValues("role"))
	require.Empty(t, at.ClaimValue("email"))
	require.Equal(t, "1700000000", at.ClaimValue(grants.ClaimAuthTime))
	require.Equal(t, "local", at.ClaimValue(grants.ClaimIdP))
}

func TestService_ReferenceToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	client := machineClient()
	client.AccessTokenType = clients.AccessTokenReference

	at, err := f.service.CreateAccessToken(ctx, &token.Request{Client: client, Resources: twoResources()})
	require.NoError(t, err)
	handle, err := f.service.CreateSecurityToken(ctx, at)
	require.NoError(t, err)
	require.NotContains(t, handle, ".")

	stored, err := f.refs.GetReferenceToken(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, "machine", stored.ClientID)
	require.Equal(t, at.ClaimValue(grants.ClaimJTI), stored.ClaimValue(grants.ClaimJTI))
}

func TestService_IdentityToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	client := &clients.Client{ClientID: "web", AllowedIdentityTokenSigningAlgorithms: []string{keys.ES384}}
	subject := &grants.Subject{SubjectID: "alice", SessionID: "sid1", AuthTime: time.Now()}
	profile := &resources.ValidatedResources{
		Resources: &resources.Resources{IdentityResources: []*resources.IdentityResource{
			{Name: "openid", UserClaims: []string{"sub"}, Enabled: true},
			{Name: "profile", UserClaims: []string{"name"}, Enabled: true},
		}},
		ParsedScopes: []resources.ParsedScopeValue{{RawValue: "openid", ParsedName: "openid"}, {RawValue: "profile", ParsedName: "profile"}},
	}

	idt, err := f.service.CreateIdentityToken(ctx, &token.Request{
		Client:                   client,
		Subject:                  subject,
		Resources:                profile,
		Nonce:                    "n-0S6_WzA2Mj",
		AccessTokenToHash:        "access",
		AuthorizationCodeToHash:  "code",
		IncludeAllIdentityClaims: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"web"}, idt.Audiences)
	require.Equal(t, "n-0S6_WzA2Mj", idt.ClaimValue(grants.ClaimNonce))
	require.Equal(t, jwt.HashClaim("access", keys.ES384), idt.ClaimValue(grants.ClaimAtHash))
	require.Equal(t, jwt.HashClaim("code", keys.ES384), idt.ClaimValue(grants.ClaimCHash))
	require.Equal(t, "Alice Smith", idt.ClaimValue("name"))

	raw, err := f.service.CreateSecurityToken(ctx, idt)
	require.NoError(t, err)
	claims, err := f.inspector.Validate(ctx, raw, jwt.ValidateOptions{Audience: "web"})
	require.NoError(t, err)
	require.Equal(t, "sid1", claims["sid"])

	t.Run("requires a subject", func(t *testing.T) {
		_, err := f.service.CreateIdentityToken(ctx, &token.Request{Client: client})
		require.Error(t, err)
	})
}

func TestService_IncompatibleSigningAlgorithms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	client := machineClient()
	client.AllowedAccessTokenSigningAlgorithms = []string{keys.ES256}
	vr := twoResources()
	vr.Resources.ApiResources[0].AllowedAccessTokenSigningAlgorithms = []string{keys.ES384}

	_, err := f.service.CreateAccessToken(ctx, &token.Request{Client: client, Resources: vr})
	require.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestHashClaim(t *testing.T) {
	// OpenID Connect Core appendix A.3 example
	require.Equal(t, "77QmUPtjPfzWtF2AnpK9RQ", jwt.HashClaim("jHkWEdUXMU1BwAsC4vtUsZwnNvTIxEl0z9K3vx5KF0Y", keys.RS256))
}
