package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-engine/cleanup"
	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/interaction"
	"github.com/jrsteele09/go-oidc-engine/internal/config"
	"github.com/jrsteele09/go-oidc-engine/internal/telemetry"
	"github.com/jrsteele09/go-oidc-engine/logout"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/resources"
	"github.com/jrsteele09/go-oidc-engine/response"
	"github.com/jrsteele09/go-oidc-engine/sessions"
	"github.com/jrsteele09/go-oidc-engine/throttle"
	"github.com/jrsteele09/go-oidc-engine/token"
	"github.com/jrsteele09/go-oidc-engine/token/jwt"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
	"github.com/jrsteele09/go-oidc-engine/token/refresh"
	"github.com/jrsteele09/go-oidc-engine/users"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// Dependencies are the stores and catalogs the engine runs on. The notifiers and the key
// protector are optional.
type Dependencies struct {
	Grants    grants.Store
	Sessions  sessions.Store
	Keys      keys.Store
	Clients   clients.Repo
	Resources resources.Repo
	Users     users.Repo
	Throttle  throttle.PollingThrottle

	KeyProtector   keys.DataProtector
	LogoutNotifier logout.BackchannelLogoutNotifier
	LoginNotifier  response.BackchannelAuthenticationUserNotifier

	// Custom validators run after the built-in checks, in order.
	AuthorizeValidators []validation.CustomValidator[validation.ValidatedAuthorizeRequest]
	TokenValidators     []validation.CustomValidator[validation.ValidatedTokenRequest]
	ExtensionGrants     []validation.ExtensionGrantValidator
}

// Components is the assembled engine behind the HTTP binding.
type Components struct {
	Issuer    string
	Endpoints response.Endpoints

	Keys     *keys.Manager
	Tokens   *token.Service
	Sessions *sessions.Service
	Users    *users.Service
	Clients  clients.Repo

	ClientSecrets *validation.ClientSecretValidator
	ApiSecrets    *validation.ApiSecretValidator

	AuthorizeValidator     *validation.AuthorizeRequestValidator
	TokenRequestValidator  *validation.TokenRequestValidator
	PushedValidator        *validation.PushedAuthorizationRequestValidator
	DeviceValidator        *validation.DeviceAuthorizationRequestValidator
	BackchannelValidator   *validation.BackchannelAuthenticationRequestValidator
	IntrospectionValidator *validation.IntrospectionRequestValidator
	RevocationValidator    *validation.RevocationRequestValidator
	UserInfoValidator      *validation.UserInfoRequestValidator
	EndSessionValidator    *validation.EndSessionRequestValidator

	Interaction           *response.AuthorizeInteractionResponseGenerator
	AuthorizeResponse     *response.AuthorizeResponseGenerator
	TokenResponse         *response.TokenResponseGenerator
	PushedResponse        *response.PushedAuthorizationResponseGenerator
	DeviceResponse        *response.DeviceAuthorizationResponseGenerator
	BackchannelResponse   *response.BackchannelAuthenticationResponseGenerator
	IntrospectionResponse *response.IntrospectionResponseGenerator
	RevocationResponse    *response.RevocationResponseGenerator
	UserInfoResponse      *response.UserInfoResponseGenerator
	Discovery             *response.DiscoveryResponseGenerator

	Consent     *interaction.ConsentService
	DeviceFlow  *interaction.DeviceFlowInteractionService
	Backchannel *interaction.BackchannelAuthenticationInteractionService

	SessionManagement *logout.SessionManagementService
	EndSession        *logout.EndSessionService

	TokenCleanup   *cleanup.TokenCleanupService
	SessionCleanup *cleanup.SessionCleanupService
}

// EndpointsFor returns the absolute endpoint URLs below issuer.
func EndpointsFor(issuer string) response.Endpoints {
	issuer = strings.TrimSuffix(issuer, "/")
	return response.Endpoints{
		Authorization:              issuer + RouteAuthorize,
		Token:                      issuer + RouteToken,
		UserInfo:                   issuer + RouteUserInfo,
		JWKS:                       issuer + RouteWellKnownJWKS,
		EndSession:                 issuer + RouteEndSession,
		Introspection:              issuer + RouteIntrospect,
		Revocation:                 issuer + RouteRevocation,
		DeviceAuthorization:        issuer + RouteDeviceAuthorization,
		BackchannelAuthentication:  issuer + RouteBackchannelAuthentication,
		PushedAuthorizationRequest: issuer + RoutePushedAuthorization,
	}
}

// NewComponents wires every validator, generator and service from cfg.
func NewComponents(cfg *config.Config, deps Dependencies, tel *telemetry.Telemetry, logger zerolog.Logger) (*Components, error) {
	tel = telemetry.OrNoop(tel)
	issuer := cfg.Server.BaseURL
	c := &Components{
		Issuer:    issuer,
		Endpoints: EndpointsFor(issuer),
		Clients:   deps.Clients,
	}

	managerOptions := []keys.ManagerOption{keys.WithLogger(logger), keys.WithTelemetry(tel)}
	if deps.KeyProtector != nil {
		managerOptions = append(managerOptions, keys.WithProtector(deps.KeyProtector))
	}
	km, err := keys.NewManager(deps.Keys, KeyOptions(cfg.KeyManagement), managerOptions...)
	if err != nil {
		return nil, err
	}
	c.Keys = km
	creator := jwt.NewCreator(km)
	inspector := jwt.NewInspector(km, issuer, cfg.Tokens.ClockSkew)

	refs := grants.NewReferenceTokenStore(deps.Grants)
	codes := grants.NewAuthorizationCodeStore(deps.Grants)
	consents := grants.NewConsentStore(deps.Grants)
	devices := grants.NewDeviceFlowStore(deps.Grants)
	pushed := grants.NewPushedAuthorizationRequestStore(deps.Grants)
	backchannel := grants.NewBackchannelAuthenticationRequestStore(deps.Grants)

	c.Users = users.NewService(deps.Users, users.WithLogger(logger))
	c.Sessions = sessions.NewService(deps.Sessions,
		sessions.WithLifetime(cfg.ServerSideSessions.SlidingExpiration),
		sessions.WithSlidingExpiration(cfg.ServerSideSessions.SlidingExpiration > 0))
	c.Tokens = token.NewService(issuer, creator, refs,
		token.WithProfileService(c.Users),
		token.WithLogger(logger),
		token.WithTelemetry(tel))
	refreshTokens := refresh.NewManager(grants.NewRefreshTokenStore(deps.Grants),
		refresh.WithDeleteOneTimeOnlyOnUse(cfg.Tokens.DeleteOneTimeOnlyRefreshTokensOnUse),
		refresh.WithLogger(logger))

	vopts := []validation.Option{validation.WithLogger(logger), validation.WithTelemetry(tel)}
	ropts := []response.Option{response.WithLogger(logger), response.WithTelemetry(tel)}
	iopts := []interaction.Option{interaction.WithLogger(logger)}

	resourceValidator := validation.NewResourceValidator(deps.Resources, vopts...)
	c.ClientSecrets = validation.NewClientSecretValidator(deps.Clients, []string{issuer, c.Endpoints.Token}, nil, vopts...)
	c.ApiSecrets = validation.NewApiSecretValidator(deps.Resources, vopts...)
	tokenValidator := validation.NewTokenValidator(inspector, refs, deps.Clients, c.Users, vopts...)

	authorizeValidators := deps.AuthorizeValidators
	if cfg.Security.RequirePKCE {
		authorizeValidators = append([]validation.CustomValidator[validation.ValidatedAuthorizeRequest]{RequirePKCE}, authorizeValidators...)
	}
	c.AuthorizeValidator = validation.NewAuthorizeRequestValidator(deps.Clients, resourceValidator, pushed, authorizeValidators, vopts...)

	pollingThrottle := deps.Throttle
	if pollingThrottle == nil {
		pollingThrottle = throttle.NewMemory(nil)
	}
	tokenDeps := validation.TokenRequestDependencies{
		Resources:       resourceValidator,
		Codes:           codes,
		RefreshTokens:   refreshTokens,
		DeviceCodes:     devices,
		Backchannel:     backchannel,
		Throttle:        pollingThrottle,
		Users:           c.Users,
		ResourceOwners:  c.Users,
		ExtensionGrants: deps.ExtensionGrants,
	}
	if cfg.ServerSideSessions.Enabled {
		tokenDeps.Sessions = c.Sessions
	}
	c.TokenRequestValidator = validation.NewTokenRequestValidator(tokenDeps, deps.TokenValidators, vopts...)
	c.PushedValidator = validation.NewPushedAuthorizationRequestValidator(c.AuthorizeValidator, nil, vopts...)
	c.DeviceValidator = validation.NewDeviceAuthorizationRequestValidator(resourceValidator, nil, vopts...)
	c.BackchannelValidator = validation.NewBackchannelAuthenticationRequestValidator(resourceValidator, c.Users, inspector, nil, vopts...)
	c.IntrospectionValidator = validation.NewIntrospectionRequestValidator(tokenValidator, refreshTokens, nil, vopts...)
	c.RevocationValidator = validation.NewRevocationRequestValidator(nil, vopts...)
	c.UserInfoValidator = validation.NewUserInfoRequestValidator(tokenValidator, nil, vopts...)
	c.EndSessionValidator = validation.NewEndSessionRequestValidator(tokenValidator, deps.Clients, nil, vopts...)

	var sessionRecorder response.SessionClientRecorder
	if cfg.ServerSideSessions.Enabled {
		sessionRecorder = c.Sessions
	}
	c.Interaction = response.NewAuthorizeInteractionResponseGenerator(consents, c.Users, cfg.Server.CreateAccountURL, ropts...)
	c.AuthorizeResponse = response.NewAuthorizeResponseGenerator(c.Tokens, codes, pushed, sessionRecorder, ropts...)
	c.TokenResponse = response.NewTokenResponseGenerator(c.Tokens, refreshTokens, ropts...)
	c.PushedResponse = response.NewPushedAuthorizationResponseGenerator(pushed, cfg.Tokens.PushedAuthorizationLifetime, ropts...)
	c.DeviceResponse = response.NewDeviceAuthorizationResponseGenerator(devices, issuer, cfg.DeviceFlow.VerificationURI, UserCodeGenerators(cfg.DeviceFlow), ropts...)
	loginNotifier := deps.LoginNotifier
	if loginNotifier == nil {
		loginNotifier = response.NewLoggingUserNotifier(ropts...)
	}
	c.BackchannelResponse = response.NewBackchannelAuthenticationResponseGenerator(backchannel, loginNotifier, ropts...)
	c.IntrospectionResponse = response.NewIntrospectionResponseGenerator(ropts...)
	c.RevocationResponse = response.NewRevocationResponseGenerator(refs, refreshTokens, ropts...)
	c.UserInfoResponse = response.NewUserInfoResponseGenerator(c.Users, deps.Resources, ropts...)
	c.Discovery = response.NewDiscoveryResponseGenerator(issuer, c.Endpoints, km, deps.Resources,
		c.TokenRequestValidator.GrantTypes(), c.ClientSecrets.AuthenticationMethods(), ropts...)

	c.Consent = interaction.NewConsentService(consents, cfg.Tokens.ConsentMessageLifetime, iopts...)
	c.DeviceFlow = interaction.NewDeviceFlowInteractionService(devices, deps.Clients, c.Consent, iopts...)
	c.Backchannel = interaction.NewBackchannelAuthenticationInteractionService(backchannel, iopts...)

	logoutNotifier := deps.LogoutNotifier
	if logoutNotifier == nil {
		logoutNotifier = logout.NewHTTPBackchannelLogoutNotifier(&http.Client{}, cfg.ServerSideSessions.BackchannelLogoutTimeout)
	}
	c.SessionManagement = logout.NewSessionManagementService(deps.Sessions, deps.Grants, deps.Clients, creator, logoutNotifier, issuer, logout.WithLogger(logger))
	c.EndSession = logout.NewEndSessionService(c.SessionManagement, true)

	copts := []cleanup.Option{cleanup.WithLogger(logger), cleanup.WithTelemetry(tel)}
	c.TokenCleanup = cleanup.NewTokenCleanupService(deps.Grants, cleanup.TokenCleanupConfig{
		Interval:                  cfg.Cleanup.Interval,
		BatchSize:                 cfg.Cleanup.BatchSize,
		RemoveConsumedTokens:      cfg.Cleanup.RemoveConsumedTokens,
		ConsumedTokenCleanupDelay: cfg.Cleanup.ConsumedTokenCleanupDelay,
	}, nil, copts...)
	ss := cfg.ServerSideSessions
	c.SessionCleanup = cleanup.NewSessionCleanupService(deps.Sessions, cleanup.SessionCleanupConfig{
		Interval:                 ss.RemoveExpiredSessionsFrequency,
		BatchSize:                ss.RemoveExpiredSessionsBatchSize,
		TriggerBackchannelLogout: ss.ExpiredSessionsTriggerBackchannelLogout,
		RevokeTokens:             ss.RevokeTokensOnExpiredSession,
	}, c.SessionManagement, copts...)

	return c, nil
}

// KeyOptions converts the key management section of the configuration.
func KeyOptions(km config.KeyManagementConfig) keys.Options {
	opts := keys.DefaultOptions()
	if len(km.Algorithms) > 0 {
		opts.Algorithms = make([]keys.AlgorithmOptions, 0, len(km.Algorithms))
		for _, alg := range km.Algorithms {
			opts.Algorithms = append(opts.Algorithms, keys.AlgorithmOptions{Algorithm: alg, UseX509Certificate: km.UseX509Certificate})
		}
	}
	if km.RSAKeySize > 0 {
		opts.RSAKeySize = km.RSAKeySize
	}
	if km.InitializationDuration > 0 {
		opts.InitializationDuration = km.InitializationDuration
	}
	if km.KeyExpiration > 0 {
		opts.KeyExpiration = km.KeyExpiration
	}
	if km.KeyRetirement > 0 {
		opts.KeyRetirement = km.KeyRetirement
	}
	if km.KeyCacheDuration > 0 {
		opts.KeyCacheDuration = km.KeyCacheDuration
	}
	if km.InitializationKeyCacheDuration > 0 {
		opts.InitializationKeyCacheDuration = km.InitializationKeyCacheDuration
	}
	opts.DeleteRetiredKeys = km.DeleteRetiredKeys
	return opts
}

// UserCodeGenerators builds the device flow generators with the configured default first.
func UserCodeGenerators(df config.DeviceFlowConfig) []response.UserCodeGenerator {
	length := df.UserCodeLength
	if length <= 0 {
		length = 8
	}
	base20 := response.NewAlphabetUserCodeGenerator(response.UserCodeTypeBase20, response.Base20Alphabet, length, 4, df.UserCodeRetryLimit)
	numeric := response.NewNumericUserCodeGenerator(df.UserCodeRetryLimit)
	if df.DefaultUserCodeType == response.UserCodeTypeNumeric {
		return []response.UserCodeGenerator{numeric, base20}
	}
	return []response.UserCodeGenerator{base20, numeric}
}

// RequirePKCE rejects code and hybrid requests without a code_challenge, whatever the
// client's own setting.
func RequirePKCE(_ context.Context, req *validation.ValidatedAuthorizeRequest) *validation.Error {
	if req.GrantType == oauthmodel.ImplicitGrant || req.CodeChallenge != "" {
		return nil
	}
	e := validation.NewError(oauthmodel.ErrorInvalidRequest, "code_challenge is required")
	e.Redirect = &validation.ErrorRedirect{RedirectURI: req.RedirectURI, ResponseMode: req.ResponseMode, State: req.State}
	return e
}
