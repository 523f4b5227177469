package validation_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/clients"
	fakeclientrepo "github.com/jrsteele09/go-oidc-engine/clients/fakerepo"
	"github.com/jrsteele09/go-oidc-engine/grants"
	grantrepofake "github.com/jrsteele09/go-oidc-engine/grants/repofake"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/resources"
	fakeresourcerepo "github.com/jrsteele09/go-oidc-engine/resources/fakerepo"
	"github.com/jrsteele09/go-oidc-engine/users"
	fakeuserrepo "github.com/jrsteele09/go-oidc-engine/users/repofake"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

const (
	webRedirect  = "https://app.example.com/callback"
	apiIndicator = "https://api.example.com"
	otherApi     = "https://ledger.example.com"
)

// fixture is a small catalog shared by the validator tests.
type fixture struct {
	clients   *fakeclientrepo.FakeClientRepo
	resources *fakeresourcerepo.FakeResourceRepo
	users     *users.Service
	grants    grants.Store
	rv        *validation.ResourceValidator
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		grants: grantrepofake.NewFakeGrantRepo(),
		now:    time.Now().UTC(),
	}

	f.clients = fakeclientrepo.NewFakeClientRepo(
		&clients.Client{
			ClientID:            "web",
			Enabled:             true,
			RequireClientSecret: true,
			Secrets:             []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64("web-secret")}},
			AllowedGrantTypes:   []string{oauthmodel.AuthorizationCodeGrant, oauthmodel.RefreshTokenGrant},
			RedirectURIs:        []string{webRedirect},
			AllowedScopes:       []string{"openid", "profile", "email", "api1", "ledger", oauthmodel.OfflineAccessScope},
			RequirePkce:         true,
			AllowOfflineAccess:  true,
		},
		&clients.Client{
			ClientID:            "service",
			Enabled:             true,
			RequireClientSecret: true,
			Secrets:             []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64("service-secret")}},
			AllowedGrantTypes:   []string{oauthmodel.ClientCredentialsGrant},
			AllowedScopes:       []string{"api1", "ledger", "openid"},
		},
		&clients.Client{
			ClientID:          "spa",
			Enabled:           true,
			AllowedGrantTypes: []string{oauthmodel.AuthorizationCodeGrant, oauthmodel.ImplicitGrant},
			RedirectURIs:      []string{"https://spa.example.com/cb"},
			AllowedScopes:     []string{"openid", "profile", "api1"},
		},
		&clients.Client{
			ClientID:          "tv",
			Enabled:           true,
			AllowedGrantTypes: []string{oauthmodel.DeviceCodeGrant},
			AllowedScopes:     []string{"openid", "api1"},
			PollingInterval:   5 * time.Second,
		},
		&clients.Client{
			ClientID:              "bank",
			Enabled:               true,
			RequireClientSecret:   true,
			Secrets:               []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64("bank-secret")}},
			AllowedGrantTypes:     []string{oauthmodel.CibaGrant},
			AllowedScopes:         []string{"openid", "api1"},
			RequireBindingMessage: true,
		},
		&clients.Client{
			ClientID:          "disabled",
			Enabled:           false,
			AllowedGrantTypes: []string{oauthmodel.AuthorizationCodeGrant},
			RedirectURIs:      []string{webRedirect},
			AllowedScopes:     []string{"openid"},
		},
	)

	f.resources = fakeresourcerepo.NewFakeResourceRepo(&resources.Resources{IdentityResources: resources.StandardIdentityResources()})
	f.resources.AddApiScope(&resources.ApiScope{Name: "api1", Enabled: true})
	f.resources.AddApiScope(&resources.ApiScope{Name: "ledger", Enabled: true})
	f.resources.AddApiResource(&resources.ApiResource{
		Name:       apiIndicator,
		Scopes:     []string{"api1"},
		ApiSecrets: []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64("api-secret")}},
		Enabled:    true,
	})
	f.resources.AddApiResource(&resources.ApiResource{
		Name:                     otherApi,
		Scopes:                   []string{"ledger"},
		RequireResourceIndicator: true,
		Enabled:                  true,
	})

	hash, err := users.HashPassword("Password1")
	require.NoError(t, err)
	repo := fakeuserrepo.NewFakeUserRepo(
		&users.User{ID: "alice", Username: "alice", Email: "alice@example.com", PasswordHash: hash, Verified: true},
		&users.User{ID: "mallory", Username: "mallory", Email: "mallory@example.com", PasswordHash: hash, Verified: true, Blocked: true},
	)
	f.users = users.NewService(repo)
	f.rv = validation.NewResourceValidator(f.resources)
	return f
}

func (f *fixture) nowFunc() time.Time { return f.now }

func (f *fixture) client(t *testing.T, id string) *validation.ClientValidationResult {
	t.Helper()
	c, err := f.clients.Get(t.Context(), id)
	require.NoError(t, err)
	return &validation.ClientValidationResult{Client: c}
}

func formRequest(form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/connect/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}
