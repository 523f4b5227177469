package response

import (
	"context"
	"net/url"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// DeviceAuthorizationResponseGenerator creates device and user codes.
type DeviceAuthorizationResponseGenerator struct {
	store           *grants.DeviceFlowStore
	issuer          string
	verificationURI string
	generators      map[string]UserCodeGenerator
	defaultType     string
	options
}

// NewDeviceAuthorizationResponseGenerator creates the generator. A relative verificationURI
// is resolved against issuer. With no generators the base20 and numeric ones are registered
// and base20 is the default; otherwise the first generator is the default.
func NewDeviceAuthorizationResponseGenerator(store *grants.DeviceFlowStore, issuer, verificationURI string, generators []UserCodeGenerator, opts ...Option) *DeviceAuthorizationResponseGenerator {
	if len(generators) == 0 {
		generators = []UserCodeGenerator{
			NewBase20UserCodeGenerator(DefaultUserCodeRetryLimit),
			NewNumericUserCodeGenerator(DefaultUserCodeRetryLimit),
		}
	}
	g := &DeviceAuthorizationResponseGenerator{
		store:           store,
		issuer:          issuer,
		verificationURI: resolveAgainst(issuer, verificationURI),
		generators:      make(map[string]UserCodeGenerator, len(generators)),
		defaultType:     generators[0].UserCodeType(),
		options:         newOptions("device_authorization_response", opts),
	}
	for _, gen := range generators {
		g.generators[gen.UserCodeType()] = gen
	}
	return g
}

// Process persists the device authorization. A user code space that keeps colliding beyond
// the generator's retry limit fails with errors.ErrUserCodeSpaceExhausted.
func (g *DeviceAuthorizationResponseGenerator) Process(ctx context.Context, req *validation.ValidatedDeviceAuthorizationRequest) (*oauthmodel.DeviceAuthorizationResponse, error) {
	ctx, span := g.start(ctx, "DeviceAuthorizationResponseGenerator.Process")
	defer span.End()

	client := req.Client
	gen, ok := g.generators[client.UserCodeType]
	if !ok {
		if client.UserCodeType != "" {
			return nil, errors.Configurationf("client %s uses unknown user code type %q", client.ClientID, client.UserCodeType)
		}
		gen = g.generators[g.defaultType]
	}

	deviceCode, err := utils.RandomHandle(utils.HandleByteLength)
	if err != nil {
		return nil, err
	}
	lifetime := client.DeviceCodeTTL()
	data := &grants.DeviceCode{
		CreationTime:    g.now().UTC(),
		Lifetime:        lifetime,
		ClientID:        client.ClientID,
		IsOpenID:        req.IsOpenIDRequest,
		RequestedScopes: req.ValidatedResources.RawScopeValues(),
		Status:          grants.StatusPending,
	}

	var userCode string
	for attempt := 0; ; attempt++ {
		if attempt >= gen.RetryLimit() {
			g.logger.Error().Str("user_code_type", gen.UserCodeType()).Int("attempts", attempt).Msg("no free user code")
			return nil, errors.Wrapf(errors.ErrUserCodeSpaceExhausted, "gave up after %d attempts", attempt)
		}
		if userCode, err = gen.Generate(); err != nil {
			return nil, err
		}
		err = g.store.StoreDeviceAuthorization(ctx, deviceCode, userCode, data)
		if err == nil {
			break
		}
		if !errors.Is(err, errors.ErrDuplicateKey) {
			return nil, errors.Wrapf(err, "failed to store device authorization")
		}
		g.logger.Debug().Msg("user code collision")
	}

	interval := client.PollingInterval
	if interval <= 0 {
		interval = validation.DefaultPollingInterval
	}
	return &oauthmodel.DeviceAuthorizationResponse{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         g.verificationURI,
		VerificationURIComplete: withQuery(g.verificationURI, "user_code", userCode),
		ExpiresIn:               int(lifetime / time.Second),
		Interval:                int(interval / time.Second),
	}, nil
}

// resolveAgainst returns ref as an absolute URL, relative to base when it is not already.
func resolveAgainst(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil || r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	if b.Path != "" && b.Path[len(b.Path)-1] != '/' {
		b.Path += "/"
	}
	if len(r.Path) > 0 && r.Path[0] == '/' {
		r.Path = r.Path[1:]
	}
	return b.ResolveReference(r).String()
}

func withQuery(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
