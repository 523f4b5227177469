package validation

import (
	"context"
	"net/url"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/throttle"
	"github.com/jrsteele09/go-oidc-engine/token/refresh"
)

// DefaultPollingInterval applies to clients without a PollingInterval.
const DefaultPollingInterval = 5 * time.Second

// ValidatedTokenRequest is a token request ready for the token response generator.
type ValidatedTokenRequest struct {
	ValidatedRequest

	GrantType string
	// ResourceIndicator is the single resource the tokens are issued for, empty for all.
	ResourceIndicator string
	CodeVerifier      string
	UserName          string

	AuthorizationCode       *grants.AuthorizationCode
	AuthorizationCodeHandle string

	RefreshToken       *grants.RefreshToken
	RefreshTokenHandle string

	DeviceCode       *grants.DeviceCode
	DeviceCodeHandle string

	BackchannelRequest *grants.BackchannelAuthenticationRequest
	AuthReqID          string
}

// TokenRequestDependencies are the stores and collaborators of the token validator.
// Sessions, Users and ResourceOwners are optional; the password grant is only accepted with
// a ResourceOwners validator.
type TokenRequestDependencies struct {
	Resources       *ResourceValidator
	Codes           *grants.AuthorizationCodeStore
	RefreshTokens   *refresh.Manager
	DeviceCodes     *grants.DeviceFlowStore
	Backchannel     *grants.BackchannelAuthenticationRequestStore
	Throttle        throttle.PollingThrottle
	Sessions        SessionChecker
	Users           UserActivityChecker
	ResourceOwners  ResourceOwnerValidator
	ExtensionGrants []ExtensionGrantValidator
}

// TokenRequestValidator validates token endpoint requests for every supported grant type.
type TokenRequestValidator struct {
	deps       TokenRequestDependencies
	extensions map[string]ExtensionGrantValidator
	custom     []CustomValidator[ValidatedTokenRequest]
	options
}

func NewTokenRequestValidator(deps TokenRequestDependencies, custom []CustomValidator[ValidatedTokenRequest], opts ...Option) *TokenRequestValidator {
	v := &TokenRequestValidator{
		deps:       deps,
		extensions: make(map[string]ExtensionGrantValidator, len(deps.ExtensionGrants)),
		custom:     custom,
		options:    newOptions("token_request_validator", opts),
	}
	for _, ext := range deps.ExtensionGrants {
		v.extensions[ext.GrantType()] = ext
	}
	return v
}

// GrantTypes lists the grant types the validator accepts, for discovery.
func (v *TokenRequestValidator) GrantTypes() []string {
	types := []string{
		oauthmodel.AuthorizationCodeGrant,
		oauthmodel.ClientCredentialsGrant,
		oauthmodel.RefreshTokenGrant,
		oauthmodel.DeviceCodeGrant,
		oauthmodel.CibaGrant,
	}
	if v.deps.ResourceOwners != nil {
		types = append(types, oauthmodel.PasswordGrant)
	}
	for gt := range v.extensions {
		types = append(types, gt)
	}
	return types
}

// Validate checks params sent by the authenticated client.
func (v *TokenRequestValidator) Validate(ctx context.Context, params url.Values, clientResult *ClientValidationResult) Result[ValidatedTokenRequest] {
	ctx, span := v.start(ctx, "TokenRequestValidator.Validate")
	return finish(&v.options, span, "token", runCustom(ctx, v.validate(ctx, params, clientResult), v.custom))
}

func (v *TokenRequestValidator) validate(ctx context.Context, params url.Values, clientResult *ClientValidationResult) Result[ValidatedTokenRequest] {
	if clientResult == nil || clientResult.Client == nil {
		return Failure[ValidatedTokenRequest](oauthmodel.ErrorInvalidClient, "client authentication required")
	}
	var tr oauthmodel.TokenRequest
	if e := decode(&tr, params); e != nil {
		return FailureFrom[ValidatedTokenRequest](e)
	}

	grantType, ok := single(params, "grant_type")
	if grantType == "" || !ok {
		return Failure[ValidatedTokenRequest](oauthmodel.ErrorInvalidRequest, "grant_type is required")
	}
	if len(params["resource"]) > 1 {
		return Failure[ValidatedTokenRequest](oauthmodel.ErrorInvalidTarget, "only one resource may be requested")
	}
	if tr.Resource != "" {
		if u, err := url.Parse(tr.Resource); err != nil || !u.IsAbs() || u.Fragment != "" {
			return Failure[ValidatedTokenRequest](oauthmodel.ErrorInvalidTarget, "resource must be an absolute URI")
		}
	}

	req := &ValidatedTokenRequest{
		GrantType:         grantType,
		ResourceIndicator: tr.Resource,
	}
	req.Raw = params
	req.setClient(clientResult.Client, clientResult.Secret)

	var handler func(context.Context, *ValidatedTokenRequest, *oauthmodel.TokenRequest) *Error
	switch grantType {
	case oauthmodel.AuthorizationCodeGrant:
		handler = v.validateAuthorizationCode
	case oauthmodel.ClientCredentialsGrant:
		handler = v.validateClientCredentials
	case oauthmodel.RefreshTokenGrant:
		handler = v.validateRefreshToken
	case oauthmodel.DeviceCodeGrant:
		handler = v.validateDeviceCode
	case oauthmodel.CibaGrant:
		handler = v.validateBackchannel
	case oauthmodel.PasswordGrant:
		if v.deps.ResourceOwners != nil {
			handler = v.validatePassword
		}
	default:
		if ext, found := v.extensions[grantType]; found {
			handler = func(ctx context.Context, req *ValidatedTokenRequest, tr *oauthmodel.TokenRequest) *Error {
				return v.validateExtension(ctx, ext, req, tr)
			}
		}
	}
	if handler == nil {
		return Failure[ValidatedTokenRequest](oauthmodel.ErrorUnsupportedGrantType, "unsupported grant type "+grantType)
	}
	if !req.Client.AllowsGrantType(grantType) {
		return Failure[ValidatedTokenRequest](oauthmodel.ErrorUnauthorizedClient, "grant type not allowed for client")
	}
	if e := handler(ctx, req, &tr); e != nil {
		return FailureFrom[ValidatedTokenRequest](e)
	}
	return Success(req)
}

func (v *TokenRequestValidator) validateAuthorizationCode(ctx context.Context, req *ValidatedTokenRequest, tr *oauthmodel.TokenRequest) *Error {
	if tr.Code == "" {
		return NewError(oauthmodel.ErrorInvalidRequest, "code is required")
	}
	code, err := v.deps.Codes.RedeemAuthorizationCode(ctx, tr.Code)
	if err != nil {
		if errors.IsNotFound(err) || errors.Is(err, grants.ErrAlreadyConsumed) {
			return NewError(oauthmodel.ErrorInvalidGrant, "invalid authorization code")
		}
		return v.storeFailed(err, "authorization code")
	}
	if code.ClientID != req.Client.ClientID {
		return NewError(oauthmodel.ErrorInvalidGrant, "authorization code was issued to another client")
	}
	if !v.now().Before(code.Expiration()) {
		return NewError(oauthmodel.ErrorInvalidGrant, "authorization code expired")
	}
	if code.RedirectURI != tr.RedirectURI {
		return NewError(oauthmodel.ErrorInvalidGrant, "redirect_uri does not match")
	}

	if code.CodeChallenge == "" {
		if req.Client.RequirePkce {
			return NewError(oauthmodel.ErrorInvalidGrant, "client requires PKCE")
		}
		if tr.CodeVerifier != "" {
			return NewError(oauthmodel.ErrorInvalidGrant, "unexpected code_verifier")
		}
	} else {
		if tr.CodeVerifier == "" {
			return NewError(oauthmodel.ErrorInvalidGrant, "code_verifier is required")
		}
		if !checkCodeVerifier(code.CodeChallenge, code.CodeChallengeMethod, tr.CodeVerifier) {
			return NewError(oauthmodel.ErrorInvalidGrant, "invalid code_verifier")
		}
	}
	if e := v.checkActive(ctx, code.Subject.SubjectID); e != nil {
		return e
	}

	req.AuthorizationCode = code
	req.AuthorizationCodeHandle = tr.Code
	req.CodeVerifier = tr.CodeVerifier
	req.setSubject(&code.Subject)
	return v.resolveResources(ctx, req, code.RequestedScopes, code.RequestedResourceIndicators)
}

func (v *TokenRequestValidator) validateClientCredentials(ctx context.Context, req *ValidatedTokenRequest, tr *oauthmodel.TokenRequest) *Error {
	if req.Client.IsPublic() {
		return NewError(oauthmodel.ErrorUnauthorizedClient, "public clients cannot use client_credentials")
	}
	if tr.RedirectURI != "" {
		return NewError(oauthmodel.ErrorInvalidRequest, "redirect_uri is not allowed")
	}

	scopes := utils.SplitSpaceDelimited(tr.Scope)
	defaulted := len(scopes) == 0
	if defaulted {
		scopes = v.clientApiScopes(ctx, req)
		if len(scopes) == 0 {
			return NewError(oauthmodel.ErrorInvalidScope, "client has no API scopes")
		}
	}
	if e := v.resolveResources(ctx, req, scopes, indicatorList(req.ResourceIndicator)); e != nil {
		return e
	}
	vr := req.ValidatedResources
	if vr.HasIdentityScopes() {
		return NewError(oauthmodel.ErrorInvalidScope, "identity scopes cannot be requested with client_credentials")
	}
	if vr.HasOfflineAccess() {
		return NewError(oauthmodel.ErrorInvalidScope, "offline_access cannot be requested with client_credentials")
	}
	if len(vr.Resources.ApiScopes) == 0 {
		return NewError(oauthmodel.ErrorInvalidScope, "no API scope requested")
	}
	return nil
}

// clientApiScopes are the default scopes of a client_credentials request: every allowed
// scope that names an API scope.
func (v *TokenRequestValidator) clientApiScopes(ctx context.Context, req *ValidatedTokenRequest) []string {
	found, err := v.deps.Resources.repo.FindApiScopesByName(ctx, req.Client.AllowedScopes)
	if err != nil {
		v.logger.Err(err).Msg("api scope lookup failed")
		return nil
	}
	var scopes []string
	for _, s := range found {
		if s.Enabled {
			scopes = append(scopes, s.Name)
		}
	}
	return scopes
}

func (v *TokenRequestValidator) validatePassword(ctx context.Context, req *ValidatedTokenRequest, tr *oauthmodel.TokenRequest) *Error {
	if tr.Username == "" {
		return NewError(oauthmodel.ErrorInvalidGrant, "username is required")
	}
	if e := v.resolveResources(ctx, req, utils.SplitSpaceDelimited(tr.Scope), indicatorList(req.ResourceIndicator)); e != nil {
		return e
	}
	subject, err := v.deps.ResourceOwners.ValidateResourceOwner(ctx, tr.Username, tr.Password)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidCredentials) || errors.Is(err, errors.ErrUserBlocked) {
			return NewError(oauthmodel.ErrorInvalidGrant, "invalid username or password")
		}
		v.logger.Err(err).Msg("resource owner validation failed")
		return NewError(oauthmodel.ErrorServerError, "resource owner validation failed")
	}
	req.UserName = tr.Username
	req.setSubject(subject)
	return nil
}

func (v *TokenRequestValidator) validateRefreshToken(ctx context.Context, req *ValidatedTokenRequest, tr *oauthmodel.TokenRequest) *Error {
	if tr.RefreshToken == "" {
		return NewError(oauthmodel.ErrorInvalidRequest, "refresh_token is required")
	}
	rt, err := v.deps.RefreshTokens.Get(ctx, tr.RefreshToken)
	if err != nil {
		if errors.IsNotFound(err) {
			return NewError(oauthmodel.ErrorInvalidGrant, "invalid refresh token")
		}
		return v.storeFailed(err, "refresh token")
	}
	if rt.ClientID != req.Client.ClientID {
		return NewError(oauthmodel.ErrorInvalidGrant, "refresh token was issued to another client")
	}
	if rt.ConsumedTime != nil {
		return NewError(oauthmodel.ErrorInvalidGrant, "refresh token already used")
	}
	if !v.now().Before(rt.Expiration()) {
		return NewError(oauthmodel.ErrorInvalidGrant, "refresh token expired")
	}
	if !req.Client.AllowOfflineAccess {
		return NewError(oauthmodel.ErrorInvalidGrant, "client may not use refresh tokens")
	}
	if v.deps.Sessions != nil && rt.SessionID() != "" {
		alive, err := v.deps.Sessions.Exists(ctx, rt.SubjectID(), rt.SessionID())
		if err != nil {
			return v.storeFailed(err, "session")
		}
		if !alive {
			return NewError(oauthmodel.ErrorInvalidGrant, "session has ended")
		}
	}
	if e := v.checkActive(ctx, rt.SubjectID()); e != nil {
		return e
	}

	scopes := rt.AuthorizedScopes
	if requested := utils.SplitSpaceDelimited(tr.Scope); len(requested) > 0 {
		if !utils.IsSubset(requested, rt.AuthorizedScopes) {
			return NewError(oauthmodel.ErrorInvalidScope, "scope exceeds the original grant")
		}
		scopes = requested
	}
	if req.ResourceIndicator != "" && !utils.Contains(rt.AuthorizedResourceIndicators, req.ResourceIndicator) {
		return NewError(oauthmodel.ErrorInvalidTarget, "resource was not part of the original grant")
	}

	req.RefreshToken = rt
	req.RefreshTokenHandle = tr.RefreshToken
	subject := rt.Subject
	req.setSubject(&subject)
	if e := v.resolveResources(ctx, req, scopes, indicatorList(req.ResourceIndicator)); e != nil {
		return e
	}
	req.RequestedResourceIndicators = rt.AuthorizedResourceIndicators
	return nil
}

func (v *TokenRequestValidator) validateDeviceCode(ctx context.Context, req *ValidatedTokenRequest, tr *oauthmodel.TokenRequest) *Error {
	if tr.DeviceCode == "" {
		return NewError(oauthmodel.ErrorInvalidRequest, "device_code is required")
	}
	dc, err := v.deps.DeviceCodes.FindByDeviceCode(ctx, tr.DeviceCode)
	if err != nil {
		if errors.IsNotFound(err) {
			return NewError(oauthmodel.ErrorInvalidGrant, "invalid device code")
		}
		return v.storeFailed(err, "device code")
	}
	if dc.ClientID != req.Client.ClientID {
		return NewError(oauthmodel.ErrorInvalidGrant, "device code was issued to another client")
	}
	if !v.now().Before(dc.Expiration()) {
		return NewError(oauthmodel.ErrorExpiredToken, "device code expired")
	}
	if e := v.throttle(ctx, tr.DeviceCode, req); e != nil {
		return e
	}
	if e := pollStatus(dc.Status, dc.Subject != nil); e != nil {
		return e
	}
	if e := v.checkActive(ctx, dc.Subject.SubjectID); e != nil {
		return e
	}

	req.DeviceCode = dc
	req.DeviceCodeHandle = tr.DeviceCode
	req.setSubject(dc.Subject)
	if e := v.resolveResources(ctx, req, dc.AuthorizedScopes, indicatorList(req.ResourceIndicator)); e != nil {
		return e
	}
	if err := v.deps.DeviceCodes.RemoveByDeviceCode(ctx, tr.DeviceCode); err != nil {
		return v.storeFailed(err, "device code")
	}
	return nil
}

func (v *TokenRequestValidator) validateBackchannel(ctx context.Context, req *ValidatedTokenRequest, tr *oauthmodel.TokenRequest) *Error {
	if tr.AuthReqID == "" {
		return NewError(oauthmodel.ErrorInvalidRequest, "auth_req_id is required")
	}
	br, err := v.deps.Backchannel.GetByAuthorizationRequestID(ctx, tr.AuthReqID)
	if err != nil {
		if errors.IsNotFound(err) {
			return NewError(oauthmodel.ErrorInvalidGrant, "invalid auth_req_id")
		}
		return v.storeFailed(err, "backchannel request")
	}
	if br.ClientID != req.Client.ClientID {
		return NewError(oauthmodel.ErrorInvalidGrant, "auth_req_id was issued to another client")
	}
	if !v.now().Before(br.Expiration()) {
		return NewError(oauthmodel.ErrorExpiredToken, "auth_req_id expired")
	}
	if e := v.throttle(ctx, tr.AuthReqID, req); e != nil {
		return e
	}
	if e := pollStatus(br.Status, br.Subject.SubjectID != ""); e != nil {
		return e
	}
	if e := v.checkActive(ctx, br.Subject.SubjectID); e != nil {
		return e
	}

	req.BackchannelRequest = br
	req.AuthReqID = tr.AuthReqID
	subject := br.Subject
	if subject.SessionID == "" {
		subject.SessionID = br.SessionID
	}
	req.setSubject(&subject)
	if e := v.resolveResources(ctx, req, br.AuthorizedScopes, br.RequestedResourceIndicators); e != nil {
		return e
	}
	if err := v.deps.Backchannel.RemoveByAuthorizationRequestID(ctx, tr.AuthReqID); err != nil {
		return v.storeFailed(err, "backchannel request")
	}
	return nil
}

func (v *TokenRequestValidator) validateExtension(ctx context.Context, ext ExtensionGrantValidator, req *ValidatedTokenRequest, tr *oauthmodel.TokenRequest) *Error {
	if e := v.resolveResources(ctx, req, utils.SplitSpaceDelimited(tr.Scope), indicatorList(req.ResourceIndicator)); e != nil {
		return e
	}
	subject, e := ext.Validate(ctx, req)
	if e != nil {
		return e
	}
	req.setSubject(subject)
	return nil
}

// throttle enforces the polling interval shared by the device and backchannel grants.
func (v *TokenRequestValidator) throttle(ctx context.Context, handle string, req *ValidatedTokenRequest) *Error {
	if v.deps.Throttle == nil {
		return nil
	}
	interval := req.Client.PollingInterval
	if interval <= 0 {
		interval = DefaultPollingInterval
	}
	slow, err := v.deps.Throttle.ShouldSlowDown(ctx, handle, interval)
	if err != nil {
		v.logger.Err(err).Msg("polling throttle failed")
		return nil
	}
	if slow {
		return NewError(oauthmodel.ErrorSlowDown, "polling too frequently")
	}
	return nil
}

func pollStatus(status grants.InteractionStatus, hasSubject bool) *Error {
	switch status {
	case grants.StatusDenied:
		return NewError(oauthmodel.ErrorAccessDenied, "the user denied the request")
	case grants.StatusApproved:
		if hasSubject {
			return nil
		}
	}
	return NewError(oauthmodel.ErrorAuthorizationPending, "authorization pending")
}

// resolveResources validates scopes and narrows them to the requested resource indicator,
// which must be one of indicators when present.
func (v *TokenRequestValidator) resolveResources(ctx context.Context, req *ValidatedTokenRequest, scopes, indicators []string) *Error {
	if req.ResourceIndicator != "" && !utils.Contains(indicators, req.ResourceIndicator) {
		return NewError(oauthmodel.ErrorInvalidTarget, "resource was not requested")
	}
	vr, e := v.deps.Resources.Validate(ctx, req.Client, scopes, indicators)
	if e != nil {
		return e
	}
	req.ValidatedResources = vr.FilterByResourceIndicator(req.ResourceIndicator)
	req.RequestedResourceIndicators = indicators
	return nil
}

func (v *TokenRequestValidator) checkActive(ctx context.Context, subjectID string) *Error {
	if v.deps.Users == nil || subjectID == "" {
		return nil
	}
	active, err := v.deps.Users.IsActive(ctx, subjectID)
	if err != nil {
		return v.storeFailed(err, "user")
	}
	if !active {
		return NewError(oauthmodel.ErrorInvalidGrant, "user is not active")
	}
	return nil
}

func (v *TokenRequestValidator) storeFailed(err error, what string) *Error {
	v.logger.Err(err).Str("lookup", what).Msg("store lookup failed")
	return NewError(oauthmodel.ErrorServerError, what+" lookup failed")
}

func indicatorList(indicator string) []string {
	if indicator == "" {
		return nil
	}
	return []string{indicator}
}

