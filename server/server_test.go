package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/jrsteele09/go-oidc-engine/clients"
	fakeclientrepo "github.com/jrsteele09/go-oidc-engine/clients/fakerepo"
	grantrepofake "github.com/jrsteele09/go-oidc-engine/grants/repofake"
	"github.com/jrsteele09/go-oidc-engine/internal/config"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/resources"
	fakeresourcerepo "github.com/jrsteele09/go-oidc-engine/resources/fakerepo"
	"github.com/jrsteele09/go-oidc-engine/server"
	sessionrepofake "github.com/jrsteele09/go-oidc-engine/sessions/repofake"
	keyrepofake "github.com/jrsteele09/go-oidc-engine/token/keys/repofake"
	"github.com/jrsteele09/go-oidc-engine/users"
	fakeuserrepo "github.com/jrsteele09/go-oidc-engine/users/repofake"
)

const (
	webClientID     = "web"
	webClientSecret = "web-secret"
	webRedirectURI  = "https://app.example.com/callback"
	webOrigin       = "https://app.example.com"

	serviceClientID     = "service"
	serviceClientSecret = "service-secret"

	deviceClientID = "tv"

	cibaClientID     = "bank"
	cibaClientSecret = "bank-secret"

	apiName   = "api"
	apiSecret = "api-secret"
	apiScope  = "api1"

	aliceID       = "alice-id"
	alicePassword = "Wonderland1"
)

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Server.BaseURL = ts.URL
	cfg.Server.ErrorURL = ""
	cfg.ServerSideSessions.Enabled = true

	clientRepo := fakeclientrepo.NewFakeClientRepo(
		&clients.Client{
			ClientID:            webClientID,
			ClientName:          "Web App",
			Enabled:             true,
			RequireClientSecret: true,
			Secrets:             []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64(webClientSecret)}},
			AllowedGrantTypes:   []string{oauthmodel.AuthorizationCodeGrant, oauthmodel.RefreshTokenGrant},
			RedirectURIs:        []string{webRedirectURI},
			AllowedScopes:       []string{oauthmodel.OpenIDScope, "profile", "email", apiScope, oauthmodel.OfflineAccessScope},
			AllowedCorsOrigins:  []string{webOrigin},
			RequirePkce:         true,
			AllowOfflineAccess:  true,
			AccessTokenType:     clients.AccessTokenJWT,
		},
		&clients.Client{
			ClientID:            serviceClientID,
			ClientName:          "Service",
			Enabled:             true,
			RequireClientSecret: true,
			Secrets:             []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64(serviceClientSecret)}},
			AllowedGrantTypes:   []string{oauthmodel.ClientCredentialsGrant},
			AllowedScopes:       []string{apiScope},
			AccessTokenType:     clients.AccessTokenJWT,
		},
		&clients.Client{
			ClientID:            deviceClientID,
			ClientName:          "Television",
			Enabled:             true,
			RequireClientSecret: false,
			AllowedGrantTypes:   []string{oauthmodel.DeviceCodeGrant},
			AllowedScopes:       []string{apiScope},
			AccessTokenType:     clients.AccessTokenJWT,
			PollingInterval:     time.Second,
		},
		&clients.Client{
			ClientID:              cibaClientID,
			ClientName:            "Bank",
			Enabled:               true,
			RequireClientSecret:   true,
			Secrets:               []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64(cibaClientSecret)}},
			AllowedGrantTypes:     []string{oauthmodel.CibaGrant},
			AllowedScopes:         []string{oauthmodel.OpenIDScope, "profile", apiScope},
			AccessTokenType:       clients.AccessTokenJWT,
			PollingInterval:       time.Second,
			RequireBindingMessage: true,
		},
	)

	resourceRepo := fakeresourcerepo.NewFakeResourceRepo(&resources.Resources{IdentityResources: resources.StandardIdentityResources()})
	resourceRepo.AddApiScope(&resources.ApiScope{Name: apiScope, Enabled: true})
	resourceRepo.AddApiResource(&resources.ApiResource{
		Name:       apiName,
		Scopes:     []string{apiScope},
		ApiSecrets: []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64(apiSecret)}},
		Enabled:    true,
	})

	hash, err := users.HashPassword(alicePassword)
	require.NoError(t, err)
	userRepo := fakeuserrepo.NewFakeUserRepo(&users.User{
		ID:           aliceID,
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: hash,
		FirstName:    "Alice",
		LastName:     "Liddell",
		Verified:     true,
	})

	components, err := server.NewComponents(cfg, server.Dependencies{
		Grants:    grantrepofake.NewFakeGrantRepo(),
		Sessions:  sessionrepofake.NewFakeSessionRepo(),
		Keys:      keyrepofake.NewFakeKeyRepo(),
		Clients:   clientRepo,
		Resources: resourceRepo,
		Users:     userRepo,
	}, nil, zerolog.Nop())
	require.NoError(t, err)

	handler = server.New(cfg, components)
	return &testServer{Server: ts}
}

// browser follows no redirects so each step of the front channel can be inspected.
func (ts *testServer) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// login signs alice in through the login endpoint and returns where it sent the browser.
func (ts *testServer) login(t *testing.T, browser *http.Client, returnURL string) *http.Response {
	t.Helper()
	resp, err := browser.PostForm(ts.URL+server.RouteLogin, url.Values{
		"username":  {"alice"},
		"password":  {alicePassword},
		"returnUrl": {returnURL},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func postForm(t *testing.T, endpoint string, form url.Values, user, password string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if user != "" {
		req.SetBasicAuth(url.QueryEscape(user), url.QueryEscape(password))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	if resp.ContentLength != 0 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestDiscovery(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	provider, err := oidc.NewProvider(ctx, ts.URL)
	require.NoError(t, err)
	require.Equal(t, ts.URL+server.RouteAuthorize, provider.Endpoint().AuthURL)
	require.Equal(t, ts.URL+server.RouteToken, provider.Endpoint().TokenURL)
	require.Equal(t, ts.URL+server.RouteDeviceAuthorization, provider.Endpoint().DeviceAuthURL)

	var meta struct {
		JWKSURI              string   `json:"jwks_uri"`
		GrantTypesSupported  []string `json:"grant_types_supported"`
		ScopesSupported      []string `json:"scopes_supported"`
		IntrospectionURL     string   `json:"introspection_endpoint"`
		EndSessionEndpoint   string   `json:"end_session_endpoint"`
		CodeChallengeMethods []string `json:"code_challenge_methods_supported"`
	}
	require.NoError(t, provider.Claims(&meta))
	require.Equal(t, ts.URL+server.RouteWellKnownJWKS, meta.JWKSURI)
	require.Equal(t, ts.URL+server.RouteIntrospect, meta.IntrospectionURL)
	require.Equal(t, ts.URL+server.RouteEndSession, meta.EndSessionEndpoint)
	require.Contains(t, meta.GrantTypesSupported, oauthmodel.ClientCredentialsGrant)
	require.Contains(t, meta.ScopesSupported, apiScope)
	require.Contains(t, meta.CodeChallengeMethods, "S256")

	resp, err := http.Get(meta.JWKSURI)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jwks))
	require.NotEmpty(t, jwks.Keys)
}

func TestClientCredentials(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	conf := clientcredentials.Config{
		ClientID:     serviceClientID,
		ClientSecret: serviceClientSecret,
		TokenURL:     ts.URL + server.RouteToken,
		Scopes:       []string{apiScope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tok, err := conf.Token(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)
	require.Empty(t, tok.RefreshToken)
	require.Nil(t, tok.Extra("id_token"))

	t.Run("introspected by the api", func(t *testing.T) {
		resp, body := postForm(t, ts.URL+server.RouteIntrospect, url.Values{"token": {tok.AccessToken}}, apiName, apiSecret)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, true, body["active"])
		require.Equal(t, serviceClientID, body["client_id"])
	})

	t.Run("garbage is inactive", func(t *testing.T) {
		resp, body := postForm(t, ts.URL+server.RouteIntrospect, url.Values{"token": {"not-a-token"}}, apiName, apiSecret)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, false, body["active"])
	})

	t.Run("identity scopes are refused", func(t *testing.T) {
		resp, body := postForm(t, ts.URL+server.RouteToken, url.Values{
			"grant_type": {oauthmodel.ClientCredentialsGrant},
			"scope":      {"openid"},
		}, serviceClientID, serviceClientSecret)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, oauthmodel.ErrorInvalidScope, body["error"])
	})
}

func TestAuthorizationCodeFlow(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	provider, err := oidc.NewProvider(ctx, ts.URL)
	require.NoError(t, err)
	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInHeader
	conf := oauth2.Config{
		ClientID:     webClientID,
		ClientSecret: webClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  webRedirectURI,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email", apiScope, oidc.ScopeOfflineAccess},
	}

	verifier := oauth2.GenerateVerifier()
	browser := ts.browser(t)
	authURL := conf.AuthCodeURL("state-123", oidc.Nonce("nonce-456"), oauth2.S256ChallengeOption(verifier))

	// Anonymous users are sent to the login page with the request to resume.
	resp, err := browser.Get(authURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loginPage, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/account/login", loginPage.Path)
	returnURL := loginPage.Query().Get("returnUrl")
	require.True(t, strings.HasPrefix(returnURL, server.RouteAuthorize+"?"))

	resp = ts.login(t, browser, returnURL)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, returnURL, resp.Header.Get("Location"))

	resp, err = browser.Get(ts.URL + returnURL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	callback, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, webRedirectURI, callback.Scheme+"://"+callback.Host+callback.Path)
	require.Equal(t, "state-123", callback.Query().Get("state"))
	code := callback.Query().Get("code")
	require.NotEmpty(t, code)

	t.Run("unknown codes are rejected", func(t *testing.T) {
		_, err := conf.Exchange(ctx, "unknown-code", oauth2.VerifierOption(verifier))
		var re *oauth2.RetrieveError
		require.ErrorAs(t, err, &re)
		require.Equal(t, oauthmodel.ErrorInvalidGrant, re.ErrorCode)
	})

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	require.NoError(t, err)
	require.NotEmpty(t, tok.RefreshToken)

	rawIDToken, ok := tok.Extra("id_token").(string)
	require.True(t, ok)
	idToken, err := provider.Verifier(&oidc.Config{ClientID: webClientID}).Verify(ctx, rawIDToken)
	require.NoError(t, err)
	require.Equal(t, aliceID, idToken.Subject)
	require.Equal(t, "nonce-456", idToken.Nonce)

	t.Run("codes are single use", func(t *testing.T) {
		_, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
		var re *oauth2.RetrieveError
		require.ErrorAs(t, err, &re)
		require.Equal(t, oauthmodel.ErrorInvalidGrant, re.ErrorCode)
	})

	t.Run("userinfo", func(t *testing.T) {
		info, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
		require.NoError(t, err)
		require.Equal(t, aliceID, info.Subject)
		require.Equal(t, "alice@example.com", info.Email)
	})

	t.Run("userinfo without a token", func(t *testing.T) {
		resp, err := http.Get(ts.URL + server.RouteUserInfo)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
	})

	t.Run("refresh then revoke", func(t *testing.T) {
		refreshed, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
		require.NoError(t, err)
		require.NotEmpty(t, refreshed.AccessToken)

		current := refreshed.RefreshToken
		if current == "" {
			current = tok.RefreshToken
		}
		introspect := url.Values{"token": {current}, "token_type_hint": {"refresh_token"}}
		resp, body := postForm(t, ts.URL+server.RouteIntrospect, introspect, webClientID, webClientSecret)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, true, body["active"])

		// revoking an already revoked token still succeeds
		for range 2 {
			resp, _ = postForm(t, ts.URL+server.RouteRevocation, url.Values{
				"token":           {current},
				"token_type_hint": {"refresh_token"},
			}, webClientID, webClientSecret)
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}

		_, err = conf.TokenSource(ctx, &oauth2.Token{RefreshToken: current}).Token()
		var re *oauth2.RetrieveError
		require.ErrorAs(t, err, &re)
		require.Equal(t, oauthmodel.ErrorInvalidGrant, re.ErrorCode)

		resp, body = postForm(t, ts.URL+server.RouteIntrospect, introspect, webClientID, webClientSecret)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, false, body["active"])

		resp, body = postForm(t, ts.URL+server.RouteIntrospect, introspect, apiName, apiSecret)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, false, body["active"])
	})

	t.Run("unknown tokens revoke quietly", func(t *testing.T) {
		resp, _ := postForm(t, ts.URL+server.RouteRevocation, url.Values{"token": {"no-such-token"}}, webClientID, webClientSecret)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("the session skips the login page", func(t *testing.T) {
		resp, err := browser.Get(conf.AuthCodeURL("again", oauth2.S256ChallengeOption(verifier)))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)
		require.True(t, strings.HasPrefix(resp.Header.Get("Location"), webRedirectURI+"?"))
	})

	t.Run("prompt none without a session", func(t *testing.T) {
		resp, err := ts.browser(t).Get(conf.AuthCodeURL("quiet", oauth2.S256ChallengeOption(verifier), oauth2.SetAuthURLParam("prompt", "none")))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)
		location, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		require.Equal(t, oauthmodel.ErrorLoginRequired, location.Query().Get("error"))
		require.Equal(t, "quiet", location.Query().Get("state"))
	})

	t.Run("end session", func(t *testing.T) {
		resp, err := browser.Get(ts.URL + server.RouteEndSession + "?" + url.Values{"id_token_hint": {rawIDToken}}.Encode())
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]bool
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.True(t, body["signed_out"])

		resp, err = browser.Get(conf.AuthCodeURL("after", oauth2.S256ChallengeOption(verifier)))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)
		require.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/account/login?"))
	})
}

func TestAuthorizeRejectsUnknownRedirectURI(t *testing.T) {
	ts := newTestServer(t)
	q := url.Values{
		"client_id":             {webClientID},
		"response_type":         {"code"},
		"scope":                 {"openid"},
		"redirect_uri":          {"https://evil.example.com/callback"},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier())},
		"code_challenge_method": {"S256"},
	}
	resp, err := ts.browser(t).Get(ts.URL + server.RouteAuthorize + "?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()

	// The error is shown to the user, never sent to an unregistered redirect URI.
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Location"))
}

func TestLoginRejectsForeignReturnURL(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.login(t, ts.browser(t), "https://evil.example.com/connect/authorize")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Location"))

	resp, err := ts.browser(t).PostForm(ts.URL+server.RouteLogin, url.Values{"username": {"alice"}, "password": {"wrong"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDeviceFlow(t *testing.T) {
	ts := newTestServer(t)

	resp, device := postForm(t, ts.URL+server.RouteDeviceAuthorization, url.Values{
		"client_id": {deviceClientID},
		"scope":     {apiScope},
	}, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	deviceCode, _ := device["device_code"].(string)
	userCode, _ := device["user_code"].(string)
	require.NotEmpty(t, deviceCode)
	require.NotEmpty(t, userCode)
	require.EqualValues(t, 1, device["interval"])

	poll := url.Values{
		"grant_type":  {oauthmodel.DeviceCodeGrant},
		"client_id":   {deviceClientID},
		"device_code": {deviceCode},
	}
	resp, body := postForm(t, ts.URL+server.RouteToken, poll, "", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, oauthmodel.ErrorAuthorizationPending, body["error"])

	resp, body = postForm(t, ts.URL+server.RouteToken, poll, "", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, oauthmodel.ErrorSlowDown, body["error"])

	browser := ts.browser(t)
	t.Run("approval needs a session", func(t *testing.T) {
		resp, err := browser.PostForm(ts.URL+server.RouteDeviceApprove, url.Values{"user_code": {userCode}, "granted": {"true"}})
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	ts.login(t, browser, "")
	resp, err := browser.Get(ts.URL + server.RouteDeviceApprove + "?" + url.Values{"user_code": {userCode}}.Encode())
	require.NoError(t, err)
	var details map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&details))
	_ = resp.Body.Close()
	require.Equal(t, deviceClientID, details["client_id"])
	require.Equal(t, apiScope, details["scope"])

	resp, err = browser.PostForm(ts.URL+server.RouteDeviceApprove, url.Values{"user_code": {userCode}, "granted": {"true"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	time.Sleep(1100 * time.Millisecond)
	resp, body = postForm(t, ts.URL+server.RouteToken, poll, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["access_token"])

	resp, body = postForm(t, ts.URL+server.RouteToken, poll, "", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, oauthmodel.ErrorInvalidGrant, body["error"])
}

func TestBackchannelAuthenticationFlow(t *testing.T) {
	ts := newTestServer(t)

	t.Run("binding message required", func(t *testing.T) {
		resp, body := postForm(t, ts.URL+server.RouteBackchannelAuthentication, url.Values{
			"scope":      {"openid " + apiScope},
			"login_hint": {"alice"},
		}, cibaClientID, cibaClientSecret)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, oauthmodel.ErrorInvalidBindingMessage, body["error"])
	})

	resp, started := postForm(t, ts.URL+server.RouteBackchannelAuthentication, url.Values{
		"scope":           {"openid " + apiScope},
		"login_hint":      {"alice"},
		"binding_message": {"W4SCT"},
	}, cibaClientID, cibaClientSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	authReqID, _ := started["auth_req_id"].(string)
	require.NotEmpty(t, authReqID)
	require.EqualValues(t, 1, started["interval"])

	poll := url.Values{"grant_type": {oauthmodel.CibaGrant}, "auth_req_id": {authReqID}}
	resp, body := postForm(t, ts.URL+server.RouteToken, poll, cibaClientID, cibaClientSecret)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, oauthmodel.ErrorAuthorizationPending, body["error"])

	browser := ts.browser(t)
	ts.login(t, browser, "")
	resp, err := browser.Get(ts.URL + server.RouteCibaPending)
	require.NoError(t, err)
	var pending []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pending))
	_ = resp.Body.Close()
	require.Len(t, pending, 1)
	require.Equal(t, cibaClientID, pending[0]["client_id"])
	require.Equal(t, "W4SCT", pending[0]["binding_message"])
	internalID, _ := pending[0]["internal_id"].(string)

	resp, err = browser.PostForm(ts.URL+server.RouteCibaComplete, url.Values{"internal_id": {internalID}, "granted": {"true"}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	time.Sleep(1100 * time.Millisecond)
	resp, body = postForm(t, ts.URL+server.RouteToken, poll, cibaClientID, cibaClientSecret)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["access_token"])
	require.NotEmpty(t, body["id_token"])
}

func TestCors(t *testing.T) {
	ts := newTestServer(t)

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, ts.URL+server.RouteToken, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp
	}

	t.Run("client origin", func(t *testing.T) {
		resp := preflight(webOrigin)
		require.Equal(t, webOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	})
	t.Run("unknown origin", func(t *testing.T) {
		resp := preflight("https://evil.example.com")
		require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

func TestTokenEndpointErrors(t *testing.T) {
	ts := newTestServer(t)

	t.Run("unknown client", func(t *testing.T) {
		resp, body := postForm(t, ts.URL+server.RouteToken, url.Values{"grant_type": {oauthmodel.ClientCredentialsGrant}}, "nobody", "secret")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, oauthmodel.ErrorInvalidClient, body["error"])
		require.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")
		require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	})

	t.Run("wrong secret", func(t *testing.T) {
		resp, body := postForm(t, ts.URL+server.RouteToken, url.Values{"grant_type": {oauthmodel.ClientCredentialsGrant}}, serviceClientID, "wrong")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Equal(t, oauthmodel.ErrorInvalidClient, body["error"])
	})

	t.Run("grant not allowed", func(t *testing.T) {
		resp, body := postForm(t, ts.URL+server.RouteToken, url.Values{
			"grant_type": {oauthmodel.AuthorizationCodeGrant},
			"code":       {"x"},
		}, serviceClientID, serviceClientSecret)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, oauthmodel.ErrorUnauthorizedClient, body["error"])
	})

	t.Run("missing grant type", func(t *testing.T) {
		resp, body := postForm(t, ts.URL+server.RouteToken, url.Values{}, serviceClientID, serviceClientSecret)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, oauthmodel.ErrorInvalidRequest, body["error"])
	})
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + server.RouteHealth)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}
