package validation_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/throttle"
	"github.com/jrsteele09/go-oidc-engine/token/refresh"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

const codeVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

type fakeSessions map[string]bool

func (s fakeSessions) Exists(_ context.Context, subjectID, sessionID string) (bool, error) {
	return s[subjectID+"/"+sessionID], nil
}

type tokenFixture struct {
	*fixture
	codes    *grants.AuthorizationCodeStore
	refresh  *refresh.Manager
	devices  *grants.DeviceFlowStore
	sessions fakeSessions
	clock    time.Time
}

func newTokenFixture(t *testing.T) *tokenFixture {
	f := newFixture(t)
	return &tokenFixture{
		fixture:  f,
		codes:    grants.NewAuthorizationCodeStore(f.grants),
		refresh:  refresh.NewManager(grants.NewRefreshTokenStore(f.grants)),
		devices:  grants.NewDeviceFlowStore(f.grants),
		sessions: fakeSessions{"alice/sid-1": true},
		clock:    f.now,
	}
}

func (f *tokenFixture) validator(custom ...validation.CustomValidator[validation.ValidatedTokenRequest]) *validation.TokenRequestValidator {
	return validation.NewTokenRequestValidator(validation.TokenRequestDependencies{
		Resources:      f.rv,
		Codes:          f.codes,
		RefreshTokens:  f.refresh,
		DeviceCodes:    f.devices,
		Backchannel:    grants.NewBackchannelAuthenticationRequestStore(f.grants),
		Throttle:       throttle.NewMemory(func() time.Time { return f.clock }),
		Sessions:       f.sessions,
		Users:          f.users,
		ResourceOwners: f.users,
	}, custom, validation.WithNowFunc(f.nowFunc))
}

func (f *tokenFixture) issueCode(t *testing.T, challenge string) string {
	t.Helper()
	handle, err := f.codes.StoreAuthorizationCode(t.Context(), &grants.AuthorizationCode{
		CreationTime:        f.now,
		Lifetime:            time.Minute,
		ClientID:            "web",
		Subject:             grants.Subject{SubjectID: "alice", SessionID: "sid-1"},
		IsOpenID:            true,
		RequestedScopes:     []string{"openid", "api1", oauthmodel.OfflineAccessScope},
		RedirectURI:         webRedirect,
		CodeChallenge:       challenge,
		CodeChallengeMethod: oauthmodel.CodeMethodTypeS256,
	})
	require.NoError(t, err)
	return handle
}

func TestTokenRequestValidator_AuthorizationCode(t *testing.T) {
	f := newTokenFixture(t)
	v := f.validator()
	web := f.client(t, "web")

	exchange := func(code, verifier, redirect string) url.Values {
		return url.Values{
			"grant_type":    {oauthmodel.AuthorizationCodeGrant},
			"code":          {code},
			"code_verifier": {verifier},
			"redirect_uri":  {redirect},
		}
	}

	t.Run("redeem", func(t *testing.T) {
		code := f.issueCode(t, codeChallenge)
		result := v.Validate(t.Context(), exchange(code, codeVerifier, webRedirect), web)
		require.False(t, result.IsError())
		req := result.Value()
		require.Equal(t, "alice", req.Subject.SubjectID)
		require.Equal(t, "sid-1", req.SessionID)
		require.True(t, req.ValidatedResources.Resources.OfflineAccess)

		t.Run("only once", func(t *testing.T) {
			result := v.Validate(t.Context(), exchange(code, codeVerifier, webRedirect), web)
			require.Equal(t, oauthmodel.ErrorInvalidGrant, result.Err().Code)
		})
	})

	tests := []struct {
		name     string
		verifier string
		redirect string
	}{
		{"wrong verifier", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", webRedirect},
		{"missing verifier", "", webRedirect},
		{"short verifier", "short", webRedirect},
		{"other redirect", codeVerifier, "https://app.example.com/other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := f.issueCode(t, codeChallenge)
			result := v.Validate(t.Context(), exchange(code, tt.verifier, tt.redirect), web)
			require.True(t, result.IsError())
			require.Equal(t, oauthmodel.ErrorInvalidGrant, result.Err().Code)
		})
	}

	t.Run("code without a challenge for a pkce client", func(t *testing.T) {
		code := f.issueCode(t, "")
		result := v.Validate(t.Context(), exchange(code, "", webRedirect), web)
		require.Equal(t, oauthmodel.ErrorInvalidGrant, result.Err().Code)
	})

	t.Run("unknown code", func(t *testing.T) {
		result := v.Validate(t.Context(), exchange("nope", codeVerifier, webRedirect), web)
		require.Equal(t, oauthmodel.ErrorInvalidGrant, result.Err().Code)
	})

	t.Run("missing code", func(t *testing.T) {
		result := v.Validate(t.Context(), url.Values{"grant_type": {oauthmodel.AuthorizationCodeGrant}}, web)
		require.Equal(t, oauthmodel.ErrorInvalidRequest, result.Err().Code)
	})
}

func TestTokenRequestValidator_GrantType(t *testing.T) {
	f := newTokenFixture(t)
	v := f.validator()

	t.Run("missing", func(t *testing.T) {
		require.Equal(t, oauthmodel.ErrorInvalidRequest, v.Validate(t.Context(), url.Values{}, f.client(t, "web")).Err().Code)
	})
	t.Run("repeated", func(t *testing.T) {
		params := url.Values{"grant_type": {oauthmodel.ClientCredentialsGrant, oauthmodel.ClientCredentialsGrant}}
		require.Equal(t, oauthmodel.ErrorInvalidRequest, v.Validate(t.Context(), params, f.client(t, "service")).Err().Code)
	})
	t.Run("unknown", func(t *testing.T) {
		params := url.Values{"grant_type": {"urn:example:magic"}}
		require.Equal(t, oauthmodel.ErrorUnsupportedGrantType, v.Validate(t.Context(), params, f.client(t, "web")).Err().Code)
	})
	t.Run("not allowed for the client", func(t *testing.T) {
		params := url.Values{"grant_type": {oauthmodel.ClientCredentialsGrant}}
		require.Equal(t, oauthmodel.ErrorUnauthorizedClient, v.Validate(t.Context(), params, f.client(t, "web")).Err().Code)
	})
	t.Run("no client", func(t *testing.T) {
		params := url.Values{"grant_type": {oauthmodel.ClientCredentialsGrant}}
		require.Equal(t, oauthmodel.ErrorInvalidClient, v.Validate(t.Context(), params, nil).Err().Code)
	})
	t.Run("two resources", func(t *testing.T) {
		params := url.Values{"grant_type": {oauthmodel.ClientCredentialsGrant}, "resource": {apiIndicator, otherApi}}
		require.Equal(t, oauthmodel.ErrorInvalidTarget, v.Validate(t.Context(), params, f.client(t, "service")).Err().Code)
	})
	t.Run("discovery", func(t *testing.T) {
		require.Contains(t, v.GrantTypes(), oauthmodel.PasswordGrant)
		require.Contains(t, v.GrantTypes(), oauthmodel.DeviceCodeGrant)
	})
}

func TestTokenRequestValidator_ClientCredentials(t *testing.T) {
	f := newTokenFixture(t)
	v := f.validator()
	service := f.client(t, "service")
	cc := func(scope string) url.Values {
		params := url.Values{"grant_type": {oauthmodel.ClientCredentialsGrant}}
		if scope != "" {
			params.Set("scope", scope)
		}
		return params
	}

	t.Run("requested scope", func(t *testing.T) {
		result := v.Validate(t.Context(), cc("api1"), service)
		require.False(t, result.IsError())
		require.Nil(t, result.Value().Subject)
		require.Len(t, result.Value().ValidatedResources.Resources.ApiScopes, 1)
	})

	t.Run("defaults to every allowed api scope", func(t *testing.T) {
		result := v.Validate(t.Context(), cc(""), service)
		require.False(t, result.IsError())
		require.Len(t, result.Value().ValidatedResources.Resources.ApiScopes, 2)
	})

	t.Run("identity scopes", func(t *testing.T) {
		require.Equal(t, oauthmodel.ErrorInvalidScope, v.Validate(t.Context(), cc("openid api1"), service).Err().Code)
	})

	t.Run("resource indicator", func(t *testing.T) {
		params := cc("api1 ledger")
		params.Set("resource", otherApi)
		result := v.Validate(t.Context(), params, service)
		require.False(t, result.IsError())
		require.Equal(t, otherApi, result.Value().ResourceIndicator)
	})
}

func TestTokenRequestValidator_Password(t *testing.T) {
	f := newTokenFixture(t)
	web := f.client(t, "web")
	web.Client.AllowedGrantTypes = append(web.Client.AllowedGrantTypes, oauthmodel.PasswordGrant)
	v := f.validator()
	password := func(user, pass string) url.Values {
		return url.Values{"grant_type": {oauthmodel.PasswordGrant}, "username": {user}, "password": {pass}, "scope": {"openid api1"}}
	}

	t.Run("valid", func(t *testing.T) {
		result := v.Validate(t.Context(), password("alice", "Password1"), web)
		require.False(t, result.IsError())
		require.Equal(t, "alice", result.Value().Subject.SubjectID)
		require.Equal(t, "alice", result.Value().UserName)
	})
	t.Run("by email", func(t *testing.T) {
		require.False(t, v.Validate(t.Context(), password("alice@example.com", "Password1"), web).IsError())
	})
	t.Run("wrong password", func(t *testing.T) {
		require.Equal(t, oauthmodel.ErrorInvalidGrant, v.Validate(t.Context(), password("alice", "nope"), web).Err().Code)
	})
	t.Run("blocked user", func(t *testing.T) {
		require.Equal(t, oauthmodel.ErrorInvalidGrant, v.Validate(t.Context(), password("mallory", "Password1"), web).Err().Code)
	})
}

func TestTokenRequestValidator_RefreshToken(t *testing.T) {
	f := newTokenFixture(t)
	v := f.validator()
	web := f.client(t, "web")
	issue := func(t *testing.T, sessionID string) string {
		t.Helper()
		handle, err := f.refresh.Create(t.Context(), web.Client, grants.Subject{SubjectID: "alice", SessionID: sessionID},
			[]string{"openid", "api1", oauthmodel.OfflineAccessScope}, nil, "")
		require.NoError(t, err)
		return handle
	}
	refreshWith := func(handle, scope string) url.Values {
		params := url.Values{"grant_type": {oauthmodel.RefreshTokenGrant}, "refresh_token": {handle}}
		if scope != "" {
			params.Set("scope", scope)
		}
		return params
	}

	t.Run("original scopes", func(t *testing.T) {
		result := v.Validate(t.Context(), refreshWith(issue(t, "sid-1"), ""), web)
		require.False(t, result.IsError())
		require.Equal(t, "alice", result.Value().Subject.SubjectID)
		require.Equal(t, []string{"openid", "api1", oauthmodel.OfflineAccessScope}, result.Value().ValidatedResources.RawScopeValues())
	})

	t.Run("narrowed scopes", func(t *testing.T) {
		result := v.Validate(t.Context(), refreshWith(issue(t, "sid-1"), "api1"), web)
		require.False(t, result.IsError())
		require.Equal(t, []string{"api1"}, result.Value().ValidatedResources.RawScopeValues())
	})

	t.Run("wider scopes", func(t *testing.T) {
		result := v.Validate(t.Context(), refreshWith(issue(t, "sid-1"), "api1 email"), web)
		require.Equal(t, oauthmodel.ErrorInvalidScope, result.Err().Code)
	})

	t.Run("ended session", func(t *testing.T) {
		result := v.Validate(t.Context(), refreshWith(issue(t, "sid-gone"), ""), web)
		require.Equal(t, oauthmodel.ErrorInvalidGrant, result.Err().Code)
	})

	t.Run("other client", func(t *testing.T) {
		service := f.client(t, "service")
		service.Client.AllowedGrantTypes = append(service.Client.AllowedGrantTypes, oauthmodel.RefreshTokenGrant)
		result := v.Validate(t.Context(), refreshWith(issue(t, "sid-1"), ""), service)
		require.Equal(t, oauthmodel.ErrorInvalidGrant, result.Err().Code)
	})

	t.Run("unknown", func(t *testing.T) {
		require.Equal(t, oauthmodel.ErrorInvalidGrant, v.Validate(t.Context(), refreshWith("nope", ""), web).Err().Code)
	})

	t.Run("resource outside the grant", func(t *testing.T) {
		params := refreshWith(issue(t, "sid-1"), "")
		params.Set("resource", apiIndicator)
		require.Equal(t, oauthmodel.ErrorInvalidTarget, v.Validate(t.Context(), params, web).Err().Code)
	})
}

func TestTokenRequestValidator_DeviceCode(t *testing.T) {
	f := newTokenFixture(t)
	v := f.validator()
	tv := f.client(t, "tv")
	require.NoError(t, f.devices.StoreDeviceAuthorization(t.Context(), "device-1", "ABCD-EFGH", &grants.DeviceCode{
		CreationTime:    f.now,
		Lifetime:        5 * time.Minute,
		ClientID:        "tv",
		IsOpenID:        true,
		RequestedScopes: []string{"openid", "api1"},
		Status:          grants.StatusPending,
	}))
	poll := url.Values{"grant_type": {oauthmodel.DeviceCodeGrant}, "device_code": {"device-1"}}

	t.Run("pending", func(t *testing.T) {
		require.Equal(t, oauthmodel.ErrorAuthorizationPending, v.Validate(t.Context(), poll, tv).Err().Code)
	})

	t.Run("polling too fast", func(t *testing.T) {
		require.Equal(t, oauthmodel.ErrorSlowDown, v.Validate(t.Context(), poll, tv).Err().Code)
	})

	t.Run("approved", func(t *testing.T) {
		require.NoError(t, f.devices.UpdateByUserCode(t.Context(), "ABCD-EFGH", func(dc *grants.DeviceCode) error {
			dc.Status = grants.StatusApproved
			dc.Subject = &grants.Subject{SubjectID: "alice", SessionID: "sid-1"}
			dc.AuthorizedScopes = []string{"openid", "api1"}
			return nil
		}))
		f.clock = f.clock.Add(6 * time.Second)

		result := v.Validate(t.Context(), poll, tv)
		require.False(t, result.IsError())
		require.Equal(t, "alice", result.Value().Subject.SubjectID)
		require.Equal(t, "device-1", result.Value().DeviceCodeHandle)

		f.clock = f.clock.Add(6 * time.Second)
		require.Equal(t, oauthmodel.ErrorInvalidGrant, v.Validate(t.Context(), poll, tv).Err().Code)
	})

	t.Run("denied", func(t *testing.T) {
		require.NoError(t, f.devices.StoreDeviceAuthorization(t.Context(), "device-2", "WXYZ-WXYZ", &grants.DeviceCode{
			CreationTime: f.now,
			Lifetime:     5 * time.Minute,
			ClientID:     "tv",
			Status:       grants.StatusDenied,
		}))
		params := url.Values{"grant_type": {oauthmodel.DeviceCodeGrant}, "device_code": {"device-2"}}
		require.Equal(t, oauthmodel.ErrorAccessDenied, v.Validate(t.Context(), params, tv).Err().Code)
	})

	t.Run("expired", func(t *testing.T) {
		require.NoError(t, f.devices.StoreDeviceAuthorization(t.Context(), "device-3", "QRST-QRST", &grants.DeviceCode{
			CreationTime: f.now,
			Lifetime:     5 * time.Minute,
			ClientID:     "tv",
			Status:       grants.StatusPending,
		}))
		start := f.now
		t.Cleanup(func() { f.now = start })
		f.now = f.now.Add(5 * time.Minute)

		params := url.Values{"grant_type": {oauthmodel.DeviceCodeGrant}, "device_code": {"device-3"}}
		require.Equal(t, oauthmodel.ErrorExpiredToken, v.Validate(t.Context(), params, tv).Err().Code)
	})
}

func TestTokenRequestValidator_Backchannel(t *testing.T) {
	f := newTokenFixture(t)
	v := f.validator()
	bank := f.client(t, "bank")
	requests := grants.NewBackchannelAuthenticationRequestStore(f.grants)
	create := func(t *testing.T, status grants.InteractionStatus) (string, string) {
		t.Helper()
		br := &grants.BackchannelAuthenticationRequest{
			CreationTime:    f.now,
			Lifetime:        5 * time.Minute,
			ClientID:        "bank",
			IsOpenID:        true,
			RequestedScopes: []string{"openid", "api1"},
			BindingMessage:  "pay 10 EUR",
			Status:          status,
		}
		authReqID, err := requests.CreateRequest(t.Context(), br)
		require.NoError(t, err)
		return authReqID, br.InternalID
	}
	poll := func(authReqID string) url.Values {
		return url.Values{"grant_type": {oauthmodel.CibaGrant}, "auth_req_id": {authReqID}}
	}

	authReqID, internalID := create(t, grants.StatusPending)

	t.Run("pending", func(t *testing.T) {
		require.Equal(t, oauthmodel.ErrorAuthorizationPending, v.Validate(t.Context(), poll(authReqID), bank).Err().Code)
	})

	t.Run("polling too fast", func(t *testing.T) {
		require.Equal(t, oauthmodel.ErrorSlowDown, v.Validate(t.Context(), poll(authReqID), bank).Err().Code)
	})

	t.Run("approved", func(t *testing.T) {
		require.NoError(t, requests.UpdateByInternalID(t.Context(), internalID, func(br *grants.BackchannelAuthenticationRequest) error {
			br.Status = grants.StatusApproved
			br.Subject = grants.Subject{SubjectID: "alice", SessionID: "sid-1"}
			br.AuthorizedScopes = []string{"openid", "api1"}
			return nil
		}))
		f.clock = f.clock.Add(validation.DefaultPollingInterval + time.Second)

		result := v.Validate(t.Context(), poll(authReqID), bank)
		require.False(t, result.IsError())
		require.Equal(t, "alice", result.Value().Subject.SubjectID)
		require.Equal(t, authReqID, result.Value().AuthReqID)

		f.clock = f.clock.Add(validation.DefaultPollingInterval + time.Second)
		require.Equal(t, oauthmodel.ErrorInvalidGrant, v.Validate(t.Context(), poll(authReqID), bank).Err().Code)
	})

	t.Run("denied", func(t *testing.T) {
		denied, _ := create(t, grants.StatusDenied)
		require.Equal(t, oauthmodel.ErrorAccessDenied, v.Validate(t.Context(), poll(denied), bank).Err().Code)
	})

	t.Run("expired", func(t *testing.T) {
		expired, _ := create(t, grants.StatusApproved)
		start := f.now
		t.Cleanup(func() { f.now = start })
		f.now = f.now.Add(5 * time.Minute)

		require.Equal(t, oauthmodel.ErrorExpiredToken, v.Validate(t.Context(), poll(expired), bank).Err().Code)
	})
}

func TestTokenRequestValidator_CustomValidators(t *testing.T) {
	f := newTokenFixture(t)
	var seen []string
	v := f.validator(
		func(_ context.Context, req *validation.ValidatedTokenRequest) *validation.Error {
			seen = append(seen, req.GrantType)
			return validation.NewError(oauthmodel.ErrorInvalidRequest, "closed for maintenance")
		},
		func(_ context.Context, _ *validation.ValidatedTokenRequest) *validation.Error {
			seen = append(seen, "never")
			return nil
		},
	)
	result := v.Validate(t.Context(), url.Values{"grant_type": {oauthmodel.ClientCredentialsGrant}, "scope": {"api1"}}, f.client(t, "service"))
	require.True(t, result.IsError())
	require.Equal(t, "closed for maintenance", result.Err().Description)
	require.Equal(t, []string{oauthmodel.ClientCredentialsGrant}, seen)
}
