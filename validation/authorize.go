package validation

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
)

// ValidatedAuthorizeRequest is an authorize request ready for the interaction and response
// generators.
type ValidatedAuthorizeRequest struct {
	ValidatedRequest

	ResponseType string
	ResponseMode string
	// GrantType is authorization_code, implicit or hybrid.
	GrantType   string
	RedirectURI string
	State       string
	Nonce       string

	RequestedScopes []string
	IsOpenIDRequest bool

	CodeChallenge       string
	CodeChallengeMethod string

	PromptModes []string
	// SuppressedPrompts were already satisfied by an earlier round trip through login or
	// consent and are no longer part of PromptModes.
	SuppressedPrompts []string
	MaxAge            *int
	LoginHint         string
	UILocales         string
	AcrValues         []string

	// RequestURI is the pushed authorization handle, consumed when the request completes.
	RequestURI string
}

// HasPrompt reports whether prompt was requested.
func (r *ValidatedAuthorizeRequest) HasPrompt(prompt string) bool {
	return utils.Contains(r.PromptModes, prompt)
}

// ContainsToken reports whether the response carries an access token.
func (r *ValidatedAuthorizeRequest) ContainsToken() bool {
	return utils.Contains(strings.Fields(r.ResponseType), "token")
}

// ContainsIdentityToken reports whether the response carries an identity token.
func (r *ValidatedAuthorizeRequest) ContainsIdentityToken() bool {
	return utils.Contains(strings.Fields(r.ResponseType), "id_token")
}

// ContainsCode reports whether the response carries an authorization code.
func (r *ValidatedAuthorizeRequest) ContainsCode() bool {
	return utils.Contains(strings.Fields(r.ResponseType), "code")
}

var responseTypeGrants = map[string]string{
	oauthmodel.CodeResponseType:             oauthmodel.AuthorizationCodeGrant,
	oauthmodel.TokenResponseType:            oauthmodel.ImplicitGrant,
	oauthmodel.IDTokenResponseType:          oauthmodel.ImplicitGrant,
	oauthmodel.IDTokenTokenResponseType:     oauthmodel.ImplicitGrant,
	oauthmodel.CodeIDTokenResponseType:      oauthmodel.HybridGrant,
	oauthmodel.CodeTokenResponseType:        oauthmodel.HybridGrant,
	oauthmodel.CodeIDTokenTokenResponseType: oauthmodel.HybridGrant,
}

// normaliseResponseType orders the space separated values the way they are registered, so
// "token id_token" and "id_token token" are the same response type.
func normaliseResponseType(rt string) string {
	parts := strings.Fields(rt)
	order := map[string]int{"code": 0, "id_token": 1, "token": 2}
	sort.SliceStable(parts, func(i, j int) bool { return order[parts[i]] < order[parts[j]] })
	return strings.Join(parts, " ")
}

// SuppressedPromptParameter carries prompt values that were already honoured when the
// authorize request is resumed after login or consent.
const SuppressedPromptParameter = "suppressed_prompt"

var knownPrompts = []string{
	oauthmodel.PromptNone,
	oauthmodel.PromptLogin,
	oauthmodel.PromptConsent,
	oauthmodel.PromptSelectAccount,
	oauthmodel.PromptCreate,
}

// AuthorizeRequestValidator validates front-channel authorize requests, including requests
// that refer to a pushed authorization request.
type AuthorizeRequestValidator struct {
	clients   clients.Repo
	resources *ResourceValidator
	pushed    *grants.PushedAuthorizationRequestStore
	custom    []CustomValidator[ValidatedAuthorizeRequest]
	options
}

func NewAuthorizeRequestValidator(repo clients.Repo, rv *ResourceValidator, pushed *grants.PushedAuthorizationRequestStore, custom []CustomValidator[ValidatedAuthorizeRequest], opts ...Option) *AuthorizeRequestValidator {
	return &AuthorizeRequestValidator{
		clients:   repo,
		resources: rv,
		pushed:    pushed,
		custom:    custom,
		options:   newOptions("authorize_request_validator", opts),
	}
}

// Validate checks params. subject is the currently signed in user, or nil.
func (v *AuthorizeRequestValidator) Validate(ctx context.Context, params url.Values, subject *grants.Subject) Result[ValidatedAuthorizeRequest] {
	ctx, span := v.start(ctx, "AuthorizeRequestValidator.Validate")
	return finish(&v.options, span, "authorize", runCustom(ctx, v.validate(ctx, params, subject), v.custom))
}

func (v *AuthorizeRequestValidator) validate(ctx context.Context, params url.Values, subject *grants.Subject) Result[ValidatedAuthorizeRequest] {
	req := &ValidatedAuthorizeRequest{}

	if requestURI := params.Get("request_uri"); requestURI != "" {
		restored, e := v.restorePushed(ctx, params, requestURI)
		if e != nil {
			return FailureFrom[ValidatedAuthorizeRequest](e)
		}
		params = restored
		req.RequestURI = requestURI
	}

	var ap oauthmodel.AuthorizationParameters
	if e := decode(&ap, params); e != nil {
		return FailureFrom[ValidatedAuthorizeRequest](e)
	}
	req.Raw = params

	if ap.ClientID == "" {
		return Failure[ValidatedAuthorizeRequest](oauthmodel.ErrorInvalidRequest, "client_id is required")
	}
	client, err := v.clients.Get(ctx, ap.ClientID)
	if err != nil {
		if !errors.Is(err, errors.ErrClientNotFound) {
			v.logger.Err(err).Str("client_id", ap.ClientID).Msg("client lookup failed")
			return Failure[ValidatedAuthorizeRequest](oauthmodel.ErrorServerError, "client lookup failed")
		}
		return Failure[ValidatedAuthorizeRequest](oauthmodel.ErrorUnauthorizedClient, "unknown client")
	}
	if !client.Enabled {
		return Failure[ValidatedAuthorizeRequest](oauthmodel.ErrorUnauthorizedClient, "client is disabled")
	}
	req.setClient(client, nil)

	if ap.RedirectURI == "" {
		return Failure[ValidatedAuthorizeRequest](oauthmodel.ErrorInvalidRequest, "redirect_uri is required")
	}
	if u, err := url.Parse(ap.RedirectURI); err != nil || !u.IsAbs() {
		return Failure[ValidatedAuthorizeRequest](oauthmodel.ErrorInvalidRequest, "redirect_uri must be an absolute URI")
	}
	if !client.HasRedirectURI(ap.RedirectURI) {
		return Failure[ValidatedAuthorizeRequest](oauthmodel.ErrorInvalidRequest, "redirect_uri is not registered")
	}
	req.RedirectURI = ap.RedirectURI
	req.State = ap.State

	// from here on errors go back to the client
	redirect := &ErrorRedirect{RedirectURI: ap.RedirectURI, ResponseMode: oauthmodel.QueryResponseMode, State: ap.State}
	fail := func(code, description string) Result[ValidatedAuthorizeRequest] {
		e := NewError(code, description)
		e.Redirect = redirect
		return FailureFrom[ValidatedAuthorizeRequest](e)
	}

	if ap.ResponseType == "" {
		return fail(oauthmodel.ErrorUnsupportedResponseType, "response_type is required")
	}
	req.ResponseType = normaliseResponseType(ap.ResponseType)
	grantType, ok := responseTypeGrants[req.ResponseType]
	if !ok {
		return fail(oauthmodel.ErrorUnsupportedResponseType, "unsupported response_type")
	}
	req.GrantType = grantType

	req.ResponseMode = oauthmodel.FragmentResponseMode
	if grantType == oauthmodel.AuthorizationCodeGrant {
		req.ResponseMode = oauthmodel.QueryResponseMode
	}
	redirect.ResponseMode = req.ResponseMode
	if ap.ResponseMode != "" {
		switch ap.ResponseMode {
		case oauthmodel.QueryResponseMode, oauthmodel.FragmentResponseMode, oauthmodel.FormPostResponseMode:
		default:
			return fail(oauthmodel.ErrorInvalidRequest, "unsupported response_mode")
		}
		if ap.ResponseMode == oauthmodel.QueryResponseMode && grantType != oauthmodel.AuthorizationCodeGrant {
			return fail(oauthmodel.ErrorInvalidRequest, "query response_mode is not allowed for this response_type")
		}
		req.ResponseMode = ap.ResponseMode
		redirect.ResponseMode = req.ResponseMode
	}

	if !client.AllowsGrantType(grantType) {
		return fail(oauthmodel.ErrorUnauthorizedClient, "response_type not allowed for client")
	}
	if req.ContainsToken() && !client.AllowAccessTokensViaBrowser {
		return fail(oauthmodel.ErrorUnauthorizedClient, "client may not receive access tokens via the browser")
	}

	if grantType != oauthmodel.ImplicitGrant {
		if e := validatePKCE(client, ap.CodeChallenge, ap.CodeChallengeMethod); e != nil {
			return fail(e.Code, e.Description)
		}
		req.CodeChallenge = ap.CodeChallenge
		req.CodeChallengeMethod = ap.CodeChallengeMethod
		if req.CodeChallenge != "" && req.CodeChallengeMethod == "" {
			req.CodeChallengeMethod = oauthmodel.CodeMethodTypePlain
		}
	}

	req.RequestedScopes = utils.SplitSpaceDelimited(ap.Scope)
	if len(req.RequestedScopes) == 0 {
		return fail(oauthmodel.ErrorInvalidScope, "scope is required")
	}
	req.IsOpenIDRequest = utils.Contains(req.RequestedScopes, oauthmodel.OpenIDScope)
	if req.ContainsIdentityToken() && !req.IsOpenIDRequest {
		return fail(oauthmodel.ErrorInvalidRequest, "response_type id_token requires the openid scope")
	}
	req.Nonce = ap.Nonce
	if req.ContainsIdentityToken() && grantType == oauthmodel.ImplicitGrant && req.Nonce == "" {
		return fail(oauthmodel.ErrorInvalidRequest, "nonce is required")
	}

	vr, e := v.resources.Validate(ctx, client, req.RequestedScopes, ap.Resource)
	if e != nil {
		return fail(e.Code, e.Description)
	}
	if req.ResponseType == oauthmodel.IDTokenResponseType && len(vr.Resources.ApiScopes) > 0 {
		return fail(oauthmodel.ErrorInvalidScope, "response_type id_token cannot carry API scopes")
	}
	req.ValidatedResources = vr
	req.RequestedResourceIndicators = ap.Resource

	prompts := utils.SplitSpaceDelimited(ap.Prompt)
	for _, p := range prompts {
		if !utils.Contains(knownPrompts, p) {
			return fail(oauthmodel.ErrorInvalidRequest, "unsupported prompt "+p)
		}
	}
	req.SuppressedPrompts = utils.SplitSpaceDelimited(params.Get(SuppressedPromptParameter))
	for _, p := range prompts {
		if !utils.Contains(req.SuppressedPrompts, p) {
			req.PromptModes = append(req.PromptModes, p)
		}
	}
	if utils.Contains(prompts, oauthmodel.PromptNone) && len(prompts) > 1 {
		return fail(oauthmodel.ErrorInvalidRequest, "prompt none cannot be combined with other values")
	}

	if ap.MaxAge != "" {
		maxAge, err := strconv.Atoi(ap.MaxAge)
		if err != nil || maxAge < 0 {
			return fail(oauthmodel.ErrorInvalidRequest, "invalid max_age")
		}
		if maxAge == 0 {
			// max_age=0 is the same as prompt=login
			if !utils.Contains(req.SuppressedPrompts, oauthmodel.PromptLogin) && !req.HasPrompt(oauthmodel.PromptLogin) {
				req.PromptModes = append(req.PromptModes, oauthmodel.PromptLogin)
			}
		} else {
			req.MaxAge = &maxAge
		}
	}
	req.LoginHint = ap.LoginHint
	req.UILocales = ap.UILocales
	req.AcrValues = utils.SplitSpaceDelimited(ap.AcrValues)

	req.setSubject(subject)
	return Success(req)
}

// restorePushed swaps the request parameters for the ones pushed earlier. The request is
// only read here; it is consumed once the authorize response is issued.
func (v *AuthorizeRequestValidator) restorePushed(ctx context.Context, params url.Values, requestURI string) (url.Values, *Error) {
	if v.pushed == nil {
		return nil, NewError(oauthmodel.ErrorInvalidRequestURI, "pushed authorization is not enabled")
	}
	handle, ok := strings.CutPrefix(requestURI, oauthmodel.RequestURIPrefix)
	if !ok || handle == "" {
		return nil, NewError(oauthmodel.ErrorInvalidRequestURI, "malformed request_uri")
	}
	par, err := v.pushed.GetPushedAuthorizationRequest(ctx, handle)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, NewError(oauthmodel.ErrorInvalidRequestURI, "unknown request_uri")
		}
		v.logger.Err(err).Msg("pushed authorization lookup failed")
		return nil, NewError(oauthmodel.ErrorServerError, "pushed authorization lookup failed")
	}
	if !v.now().Before(par.Expiration()) {
		return nil, NewError(oauthmodel.ErrorInvalidRequestURI, "request_uri expired")
	}
	if id := params.Get("client_id"); id != "" && id != par.ClientID {
		return nil, NewError(oauthmodel.ErrorInvalidRequest, "client_id does not match the pushed request")
	}
	restored := url.Values{}
	for k, vals := range par.Parameters {
		restored[k] = append([]string(nil), vals...)
	}
	restored.Set("client_id", par.ClientID)
	if suppressed := params.Get(SuppressedPromptParameter); suppressed != "" {
		restored.Set(SuppressedPromptParameter, suppressed)
	}
	return restored, nil
}

// ConsumePushed removes the pushed request behind requestURI. A second consumption fails
// with errors.ErrNotFound or grants.ErrAlreadyConsumed.
func (v *AuthorizeRequestValidator) ConsumePushed(ctx context.Context, requestURI string) error {
	if requestURI == "" || v.pushed == nil {
		return nil
	}
	handle := strings.TrimPrefix(requestURI, oauthmodel.RequestURIPrefix)
	_, err := v.pushed.ConsumePushedAuthorizationRequest(ctx, handle)
	return err
}
