package validation_test

import (
	"net/url"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

func TestClientSecretValidator_Validate(t *testing.T) {
	f := newFixture(t)
	v := validation.NewClientSecretValidator(f.clients, []string{"https://issuer.example.com"}, nil)

	t.Run("basic authentication", func(t *testing.T) {
		r := formRequest(url.Values{"grant_type": {"client_credentials"}})
		r.SetBasicAuth("service", "service-secret")
		result := v.Validate(t.Context(), r)
		require.False(t, result.IsError())
		require.Equal(t, "service", result.Value().Client.ClientID)
		require.Equal(t, oauthmodel.ClientSecretBasic, result.Value().Secret.AuthenticationMethod)
	})

	t.Run("form encoded basic credentials", func(t *testing.T) {
		r := formRequest(url.Values{})
		r.SetBasicAuth(url.QueryEscape("service"), url.QueryEscape("service-secret"))
		require.False(t, v.Validate(t.Context(), r).IsError())
	})

	t.Run("post body", func(t *testing.T) {
		r := formRequest(url.Values{"client_id": {"web"}, "client_secret": {"web-secret"}})
		result := v.Validate(t.Context(), r)
		require.False(t, result.IsError())
		require.Equal(t, oauthmodel.ClientSecretPost, result.Value().Secret.AuthenticationMethod)
	})

	t.Run("public client without a secret", func(t *testing.T) {
		result := v.Validate(t.Context(), formRequest(url.Values{"client_id": {"tv"}}))
		require.False(t, result.IsError())
		require.True(t, result.Value().Client.IsPublic())
	})

	t.Run("confidential client without a secret", func(t *testing.T) {
		result := v.Validate(t.Context(), formRequest(url.Values{"client_id": {"web"}}))
		require.True(t, result.IsError())
		require.Equal(t, oauthmodel.ErrorInvalidClient, result.Err().Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		r := formRequest(url.Values{})
		r.SetBasicAuth("web", "nope")
		result := v.Validate(t.Context(), r)
		require.True(t, result.IsError())
		require.Equal(t, oauthmodel.ErrorInvalidClient, result.Err().Code)
	})

	t.Run("unknown client", func(t *testing.T) {
		r := formRequest(url.Values{})
		r.SetBasicAuth("ghost", "secret")
		require.Equal(t, oauthmodel.ErrorInvalidClient, v.Validate(t.Context(), r).Err().Code)
	})

	t.Run("disabled client", func(t *testing.T) {
		result := v.Validate(t.Context(), formRequest(url.Values{"client_id": {"disabled"}}))
		require.Equal(t, oauthmodel.ErrorInvalidClient, result.Err().Code)
	})

	t.Run("no credentials", func(t *testing.T) {
		result := v.Validate(t.Context(), formRequest(url.Values{"grant_type": {"client_credentials"}}))
		require.Equal(t, oauthmodel.ErrorInvalidClient, result.Err().Code)
	})
}

func TestClientSecretValidator_ClientAssertion(t *testing.T) {
	f := newFixture(t)
	key := "0123456789abcdef0123456789abcdef"
	require.NoError(t, f.clients.Upsert(t.Context(), &clients.Client{
		ClientID:            "signer",
		Enabled:             true,
		RequireClientSecret: true,
		Secrets:             []clients.Secret{{Type: clients.SecretTypeSymmetricKey, Value: key}},
		AllowedGrantTypes:   []string{oauthmodel.ClientCredentialsGrant},
	}))
	v := validation.NewClientSecretValidator(f.clients, []string{"https://issuer.example.com"}, nil)

	assertion := func(t *testing.T, audience string, signingKey string) url.Values {
		t.Helper()
		token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.RegisteredClaims{
			Issuer:    "signer",
			Subject:   "signer",
			Audience:  jwtlib.ClaimStrings{audience},
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Minute)),
			ID:        "jti-1",
		})
		signed, err := token.SignedString([]byte(signingKey))
		require.NoError(t, err)
		return url.Values{
			"client_assertion_type": {oauthmodel.ClientAssertionJWTBearerType},
			"client_assertion":      {signed},
		}
	}

	t.Run("valid", func(t *testing.T) {
		result := v.Validate(t.Context(), formRequest(assertion(t, "https://issuer.example.com", key)))
		require.False(t, result.IsError())
		require.Equal(t, oauthmodel.ClientSecretJWT, result.Value().Secret.AuthenticationMethod)
	})
	t.Run("wrong audience", func(t *testing.T) {
		result := v.Validate(t.Context(), formRequest(assertion(t, "https://elsewhere.example.com", key)))
		require.Equal(t, oauthmodel.ErrorInvalidClient, result.Err().Code)
	})
	t.Run("wrong key", func(t *testing.T) {
		result := v.Validate(t.Context(), formRequest(assertion(t, "https://issuer.example.com", "another-key-another-key-another-k")))
		require.Equal(t, oauthmodel.ErrorInvalidClient, result.Err().Code)
	})
}

func TestClientSecretValidator_AuthenticationMethods(t *testing.T) {
	v := validation.NewClientSecretValidator(newFixture(t).clients, nil, nil)
	require.Equal(t, []string{
		oauthmodel.ClientSecretBasic,
		oauthmodel.ClientSecretJWT,
		oauthmodel.TLSClientAuth,
		oauthmodel.ClientSecretPost,
	}, v.AuthenticationMethods())
}

func TestMatchSharedSecret(t *testing.T) {
	now := time.Now()
	bcrypted, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	past := now.Add(-time.Minute)

	tests := []struct {
		name    string
		secrets []clients.Secret
		plain   string
		want    bool
	}{
		{"sha256", []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64("s3cret")}}, "s3cret", true},
		{"bcrypt", []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: string(bcrypted)}}, "s3cret", true},
		{"second secret", []clients.Secret{
			{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64("old")},
			{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64("s3cret")},
		}, "s3cret", true},
		{"expired", []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64("s3cret"), Expiration: &past}}, "s3cret", false},
		{"other type", []clients.Secret{{Type: clients.SecretTypeX509Thumbprint, Value: utils.Sha256Base64("s3cret")}}, "s3cret", false},
		{"empty plain", []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: utils.Sha256Base64("")}}, "", false},
		{"mismatch", []clients.Secret{{Type: clients.SecretTypeSharedSecret, Value: string(bcrypted)}}, "guess", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, validation.MatchSharedSecret(tt.secrets, tt.plain, now))
		})
	}
}

func TestApiSecretValidator_Validate(t *testing.T) {
	f := newFixture(t)
	v := validation.NewApiSecretValidator(f.resources)

	t.Run("valid", func(t *testing.T) {
		r := formRequest(url.Values{"token": {"x"}})
		r.SetBasicAuth(url.QueryEscape(apiIndicator), "api-secret")
		result := v.Validate(t.Context(), r)
		require.False(t, result.IsError())
		require.Equal(t, apiIndicator, result.Value().Resource.Name)
	})

	t.Run("api without secrets", func(t *testing.T) {
		r := formRequest(url.Values{})
		r.SetBasicAuth(url.QueryEscape(otherApi), "anything")
		require.Equal(t, oauthmodel.ErrorInvalidClient, v.Validate(t.Context(), r).Err().Code)
	})

	t.Run("client credentials are not api credentials", func(t *testing.T) {
		r := formRequest(url.Values{})
		r.SetBasicAuth("service", "service-secret")
		require.True(t, v.Validate(t.Context(), r).IsError())
	})
}
