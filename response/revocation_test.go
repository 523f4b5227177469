package response_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	grantrepofake "github.com/jrsteele09/go-oidc-engine/grants/repofake"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/response"
	"github.com/jrsteele09/go-oidc-engine/token/refresh"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

func TestRevocationResponseGenerator_Process(t *testing.T) {
	store := grantrepofake.NewFakeGrantRepo()
	refs := grants.NewReferenceTokenStore(store)
	refreshTokens := refresh.NewManager(grants.NewRefreshTokenStore(store))
	g := response.NewRevocationResponseGenerator(refs, refreshTokens)

	web := &clients.Client{ClientID: "web", Enabled: true}
	other := &clients.Client{ClientID: "other", Enabled: true}
	alice := grants.Subject{SubjectID: "alice", SessionID: "sid-1"}

	revoke := func(client *clients.Client, token, hint string) *validation.ValidatedRevocationRequest {
		req := &validation.ValidatedRevocationRequest{Token: token, TokenTypeHint: hint}
		req.Client = client
		return req
	}
	referenceToken := func(t *testing.T) string {
		t.Helper()
		handle, err := refs.StoreReferenceToken(t.Context(), &grants.Token{
			Type:         grants.TokenTypeAccessToken,
			CreationTime: time.Now().UTC(),
			Lifetime:     time.Hour,
			ClientID:     "web",
			Claims: []grants.Claim{
				{Type: grants.ClaimSubject, Value: "alice"},
				{Type: grants.ClaimSession, Value: "sid-1"},
			},
		})
		require.NoError(t, err)
		return handle
	}

	t.Run("reference token", func(t *testing.T) {
		handle := referenceToken(t)
		require.NoError(t, g.Process(t.Context(), revoke(web, handle, "")))
		_, err := refs.GetReferenceToken(t.Context(), handle)
		require.Error(t, err)
	})

	t.Run("refresh token takes its access tokens with it", func(t *testing.T) {
		access := referenceToken(t)
		handle, err := refreshTokens.Create(t.Context(), web, alice, []string{"openid", "offline_access"}, nil, "")
		require.NoError(t, err)

		require.NoError(t, g.Process(t.Context(), revoke(web, handle, oauthmodel.TokenTypeHintRefresh)))
		_, err = refreshTokens.Get(t.Context(), handle)
		require.Error(t, err)
		_, err = refs.GetReferenceToken(t.Context(), access)
		require.Error(t, err)
	})

	t.Run("another client's token is left alone", func(t *testing.T) {
		handle := referenceToken(t)
		require.NoError(t, g.Process(t.Context(), revoke(other, handle, "")))
		_, err := refs.GetReferenceToken(t.Context(), handle)
		require.NoError(t, err)
	})

	t.Run("unknown and self-contained tokens succeed", func(t *testing.T) {
		require.NoError(t, g.Process(t.Context(), revoke(web, "unknown", "")))
		require.NoError(t, g.Process(t.Context(), revoke(web, "a.b.c", oauthmodel.TokenTypeHintAccess)))
	})
}
