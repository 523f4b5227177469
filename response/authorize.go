package response

import (
	"context"
	"html/template"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/token"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// AuthorizeResponse is the result of an authorize request, delivered to the client's
// redirect URI in the requested response mode.
type AuthorizeResponse struct {
	RedirectURI  string
	ResponseMode string
	Issuer       string

	Code          string
	AccessToken   string
	ExpiresIn     int
	IdentityToken string
	Scope         string
	State         string

	Error            string
	ErrorDescription string
}

// IsError reports whether the response carries an OAuth error.
func (r *AuthorizeResponse) IsError() bool {
	return r.Error != ""
}

// Parameters returns the response members, iss included (RFC 9207).
func (r *AuthorizeResponse) Parameters() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	if r.IsError() {
		set("error", r.Error)
		set("error_description", r.ErrorDescription)
	} else {
		set("code", r.Code)
		set("id_token", r.IdentityToken)
		if r.AccessToken != "" {
			v.Set("access_token", r.AccessToken)
			v.Set("token_type", oauthmodel.TokenTypeBearer)
			v.Set("expires_in", strconv.Itoa(r.ExpiresIn))
			set("scope", r.Scope)
		}
	}
	set("state", r.State)
	set("iss", r.Issuer)
	return v
}

// Location is the redirect target for the query and fragment response modes.
func (r *AuthorizeResponse) Location() string {
	params := r.Parameters().Encode()
	if r.ResponseMode == oauthmodel.FragmentResponseMode {
		return r.RedirectURI + "#" + params
	}
	sep := "?"
	if strings.Contains(r.RedirectURI, "?") {
		sep = "&"
	}
	return r.RedirectURI + sep + params
}

var formPostTemplate = template.Must(template.New("form_post").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Submit</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.Action}}">
{{range $k, $v := .Params}}<input type="hidden" name="{{$k}}" value="{{index $v 0}}"/>
{{end}}<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>
`))

// WriteFormPost renders the auto-submitting form of the form_post response mode.
func (r *AuthorizeResponse) WriteFormPost(w io.Writer) error {
	return formPostTemplate.Execute(w, struct {
		Action string
		Params url.Values
	}{Action: r.RedirectURI, Params: r.Parameters()})
}

// AuthorizeErrorResponse builds the client-facing response of an authorize error. It returns
// nil when the error was raised before the redirect URI was trusted.
func AuthorizeErrorResponse(issuer string, e *validation.Error) *AuthorizeResponse {
	if e == nil || e.Redirect == nil {
		return nil
	}
	return &AuthorizeResponse{
		RedirectURI:      e.Redirect.RedirectURI,
		ResponseMode:     e.Redirect.ResponseMode,
		Issuer:           issuer,
		State:            e.Redirect.State,
		Error:            e.Code,
		ErrorDescription: e.Description,
	}
}

// PushedRequestConsumer removes a pushed authorization request once it has produced a response.
type PushedRequestConsumer interface {
	ConsumePushed(ctx context.Context, requestURI string) error
}

// SessionClientRecorder remembers which clients took part in a login session.
type SessionClientRecorder interface {
	AddClientToSession(ctx context.Context, subjectID, sessionID, clientID string) error
}

// AuthorizeResponseGenerator issues codes and front-channel tokens for an authorize request
// whose user interaction is complete.
type AuthorizeResponseGenerator struct {
	tokens   *token.Service
	codes    *grants.AuthorizationCodeStore
	pushed   PushedRequestConsumer
	sessions SessionClientRecorder
	options
}

// NewAuthorizeResponseGenerator creates a generator. pushed and sessions may be nil.
func NewAuthorizeResponseGenerator(tokens *token.Service, codes *grants.AuthorizationCodeStore, pushed PushedRequestConsumer, sessions SessionClientRecorder, opts ...Option) *AuthorizeResponseGenerator {
	return &AuthorizeResponseGenerator{
		tokens:   tokens,
		codes:    codes,
		pushed:   pushed,
		sessions: sessions,
		options:  newOptions("authorize_response", opts),
	}
}

// Process builds the response. A pushed request that was already used yields a
// *validation.Error with invalid_request_uri; other errors are server faults.
func (g *AuthorizeResponseGenerator) Process(ctx context.Context, req *validation.ValidatedAuthorizeRequest, wasConsentShown bool) (*AuthorizeResponse, error) {
	ctx, span := g.start(ctx, "AuthorizeResponseGenerator.Process")
	defer span.End()

	if req.Subject == nil {
		return nil, errors.Wrapf(errors.ErrInternal, "authorize response requires a subject")
	}

	if req.RequestURI != "" && g.pushed != nil {
		if err := g.pushed.ConsumePushed(ctx, req.RequestURI); err != nil {
			if errors.IsNotFound(err) || errors.Is(err, grants.ErrAlreadyConsumed) {
				e := validation.NewError(oauthmodel.ErrorInvalidRequestURI, "request_uri was already used")
				e.Redirect = &validation.ErrorRedirect{RedirectURI: req.RedirectURI, ResponseMode: req.ResponseMode, State: req.State}
				return nil, e
			}
			return nil, err
		}
	}

	resp := &AuthorizeResponse{
		RedirectURI:  req.RedirectURI,
		ResponseMode: req.ResponseMode,
		Issuer:       g.tokens.Issuer(),
		State:        req.State,
	}

	if req.ContainsCode() {
		code, err := g.storeCode(ctx, req, wasConsentShown)
		if err != nil {
			return nil, err
		}
		resp.Code = code
	}

	tr := &token.Request{
		GrantType:               req.GrantType,
		Client:                  req.Client,
		Subject:                 req.Subject,
		Resources:               req.ValidatedResources,
		Nonce:                   req.Nonce,
		State:                   req.State,
		AuthorizationCodeToHash: resp.Code,
	}

	if req.ContainsToken() {
		at, err := g.tokens.CreateAccessToken(ctx, tr)
		if err != nil {
			return nil, err
		}
		raw, err := g.tokens.CreateSecurityToken(ctx, at)
		if err != nil {
			return nil, err
		}
		g.issued(req.GrantType, KindAccessToken)
		resp.AccessToken = raw
		resp.ExpiresIn = int(at.Lifetime / time.Second)
		resp.Scope = grants.ScopeString(req.ValidatedResources.RawScopeValues())
		tr.AccessTokenToHash = raw
	}

	if req.ContainsIdentityToken() {
		// without an access token the client cannot call userinfo
		tr.IncludeAllIdentityClaims = !req.ContainsToken()
		it, err := g.tokens.CreateIdentityToken(ctx, tr)
		if err != nil {
			return nil, err
		}
		raw, err := g.tokens.CreateSecurityToken(ctx, it)
		if err != nil {
			return nil, err
		}
		g.issued(req.GrantType, KindIdentityToken)
		resp.IdentityToken = raw
	}

	if g.sessions != nil && req.SessionID != "" {
		if err := g.sessions.AddClientToSession(ctx, req.Subject.SubjectID, req.SessionID, req.Client.ClientID); err != nil {
			g.logger.Warn().Err(err).Str("client_id", req.Client.ClientID).Msg("failed to record client in session")
		}
	}
	return resp, nil
}

func (g *AuthorizeResponseGenerator) storeCode(ctx context.Context, req *validation.ValidatedAuthorizeRequest, wasConsentShown bool) (string, error) {
	code := &grants.AuthorizationCode{
		CreationTime:                g.now().UTC(),
		Lifetime:                    req.Client.AuthorizationCodeTTL(),
		ClientID:                    req.Client.ClientID,
		Subject:                     *req.Subject,
		IsOpenID:                    req.IsOpenIDRequest,
		RequestedScopes:             req.ValidatedResources.RawScopeValues(),
		RequestedResourceIndicators: req.RequestedResourceIndicators,
		RedirectURI:                 req.RedirectURI,
		Nonce:                       req.Nonce,
		CodeChallenge:               req.CodeChallenge,
		CodeChallengeMethod:         req.CodeChallengeMethod,
		WasConsentShown:             wasConsentShown,
	}
	if req.State != "" {
		code.StateHash = utils.Sha256Base64(req.State)
	}
	handle, err := g.codes.StoreAuthorizationCode(ctx, code)
	if err != nil {
		return "", err
	}
	g.issued(req.GrantType, KindCode)
	return handle, nil
}
