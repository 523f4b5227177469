package response_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	grantrepofake "github.com/jrsteele09/go-oidc-engine/grants/repofake"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/resources"
	"github.com/jrsteele09/go-oidc-engine/response"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// fixedUserCodes always returns the same code.
type fixedUserCodes struct {
	code  string
	limit int
	calls int
}

func (g *fixedUserCodes) UserCodeType() string { return "Fixed" }
func (g *fixedUserCodes) RetryLimit() int      { return g.limit }
func (g *fixedUserCodes) Generate() (string, error) {
	g.calls++
	return g.code, nil
}

// sequencedUserCodes hands out codes in order.
type sequencedUserCodes struct {
	codes []string
	calls int
}

func (g *sequencedUserCodes) UserCodeType() string { return "Sequenced" }
func (g *sequencedUserCodes) RetryLimit() int      { return len(g.codes) }
func (g *sequencedUserCodes) Generate() (string, error) {
	code := g.codes[g.calls]
	g.calls++
	return code, nil
}

func deviceRequest(client *clients.Client) *validation.ValidatedDeviceAuthorizationRequest {
	req := &validation.ValidatedDeviceAuthorizationRequest{
		RequestedScopes: []string{"openid", "api1"},
		IsOpenIDRequest: true,
	}
	req.Client = client
	req.ValidatedResources = &resources.ValidatedResources{
		Resources:    &resources.Resources{},
		ParsedScopes: resources.ParseScopeValues(req.RequestedScopes).ParsedScopes,
	}
	return req
}

func TestUserCodeGenerators(t *testing.T) {
	t.Run("base20", func(t *testing.T) {
		gen := response.NewBase20UserCodeGenerator(0)
		require.Equal(t, response.DefaultUserCodeRetryLimit, gen.RetryLimit())
		code, err := gen.Generate()
		require.NoError(t, err)
		require.Regexp(t, regexp.MustCompile(`^[BCDFGHJKLMNPQRSTVWXZ]{4}-[BCDFGHJKLMNPQRSTVWXZ]{4}$`), code)
	})
	t.Run("numeric", func(t *testing.T) {
		gen := response.NewNumericUserCodeGenerator(3)
		require.Equal(t, 3, gen.RetryLimit())
		code, err := gen.Generate()
		require.NoError(t, err)
		require.Regexp(t, regexp.MustCompile(`^[0-9]{9}$`), code)
	})
}

func TestDeviceAuthorizationResponseGenerator_Process(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tv := &clients.Client{ClientID: "tv", Enabled: true, PollingInterval: 2 * time.Second, DeviceCodeLifetime: 10 * time.Minute}

	t.Run("codes and verification uris", func(t *testing.T) {
		store := grants.NewDeviceFlowStore(grantrepofake.NewFakeGrantRepo())
		g := response.NewDeviceAuthorizationResponseGenerator(store, "https://id.example.com/", "/device", nil, response.WithNowFunc(func() time.Time { return now }))

		resp, err := g.Process(t.Context(), deviceRequest(tv))
		require.NoError(t, err)
		require.NotEmpty(t, resp.DeviceCode)
		require.Equal(t, "https://id.example.com/device", resp.VerificationURI)
		require.Equal(t, "https://id.example.com/device?user_code="+resp.UserCode, resp.VerificationURIComplete)
		require.Equal(t, 600, resp.ExpiresIn)
		require.Equal(t, 2, resp.Interval)

		stored, err := store.FindByUserCode(t.Context(), resp.UserCode)
		require.NoError(t, err)
		require.Equal(t, "tv", stored.ClientID)
		require.Equal(t, grants.StatusPending, stored.Status)
		require.Equal(t, []string{"openid", "api1"}, stored.RequestedScopes)
	})

	t.Run("client selects the numeric generator", func(t *testing.T) {
		store := grants.NewDeviceFlowStore(grantrepofake.NewFakeGrantRepo())
		g := response.NewDeviceAuthorizationResponseGenerator(store, "https://id.example.com", "https://id.example.com/device", nil)
		numeric := *tv
		numeric.UserCodeType = response.UserCodeTypeNumeric
		resp, err := g.Process(t.Context(), deviceRequest(&numeric))
		require.NoError(t, err)
		require.Regexp(t, regexp.MustCompile(`^[0-9]{9}$`), resp.UserCode)
	})

	t.Run("unknown user code type", func(t *testing.T) {
		store := grants.NewDeviceFlowStore(grantrepofake.NewFakeGrantRepo())
		g := response.NewDeviceAuthorizationResponseGenerator(store, "https://id.example.com", "/device", nil)
		odd := *tv
		odd.UserCodeType = "Emoji"
		_, err := g.Process(t.Context(), deviceRequest(&odd))
		require.Error(t, err)
	})

	t.Run("collisions until the retry limit", func(t *testing.T) {
		store := grants.NewDeviceFlowStore(grantrepofake.NewFakeGrantRepo())
		gen := &fixedUserCodes{code: "SAME-CODE", limit: 3}
		g := response.NewDeviceAuthorizationResponseGenerator(store, "https://id.example.com", "/device", []response.UserCodeGenerator{gen})

		first, err := g.Process(t.Context(), deviceRequest(tv))
		require.NoError(t, err)
		require.Equal(t, "SAME-CODE", first.UserCode)
		require.Equal(t, 1, gen.calls)

		_, err = g.Process(t.Context(), deviceRequest(tv))
		require.ErrorIs(t, err, errors.ErrUserCodeSpaceExhausted)
		require.Equal(t, 4, gen.calls)

		// the first authorization is untouched
		stored, err := store.FindByDeviceCode(t.Context(), first.DeviceCode)
		require.NoError(t, err)
		require.Equal(t, "SAME-CODE", stored.UserCode)
	})

	t.Run("a collision retries with a fresh code", func(t *testing.T) {
		store := grants.NewDeviceFlowStore(grantrepofake.NewFakeGrantRepo())
		gen := &sequencedUserCodes{codes: []string{"BCDF-GHJK", "BCDF-GHJK", "LMNP-QRST"}}
		g := response.NewDeviceAuthorizationResponseGenerator(store, "https://id.example.com", "/device", []response.UserCodeGenerator{gen})

		first, err := g.Process(t.Context(), deviceRequest(tv))
		require.NoError(t, err)
		require.Equal(t, "BCDF-GHJK", first.UserCode)

		second, err := g.Process(t.Context(), deviceRequest(tv))
		require.NoError(t, err)
		require.Equal(t, "LMNP-QRST", second.UserCode)
		require.NotEqual(t, first.DeviceCode, second.DeviceCode)
		require.Equal(t, 3, gen.calls)

		for _, resp := range []*oauthmodel.DeviceAuthorizationResponse{first, second} {
			stored, err := store.FindByUserCode(t.Context(), resp.UserCode)
			require.NoError(t, err)
			require.Equal(t, resp.UserCode, stored.UserCode)

			byDevice, err := store.FindByDeviceCode(t.Context(), resp.DeviceCode)
			require.NoError(t, err)
			require.Equal(t, resp.UserCode, byDevice.UserCode)
		}
	})
}
