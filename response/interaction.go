package response

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// InteractionKind says what has to happen before an authorize request can be answered.
type InteractionKind string

const (
	InteractionProceed  InteractionKind = "proceed"
	InteractionLogin    InteractionKind = "login"
	InteractionConsent  InteractionKind = "consent"
	InteractionRedirect InteractionKind = "redirect"
	InteractionError    InteractionKind = "error"
)

// InteractionResponse is the decision of the interaction generator.
type InteractionResponse struct {
	Kind InteractionKind
	// RedirectURL is set for InteractionRedirect.
	RedirectURL string
	// Error is set for InteractionError. It always carries redirect information.
	Error *validation.Error
	// ReturnParameters resume the authorize request once the user has logged in or consented.
	ReturnParameters url.Values
	// WasConsentShown is set on InteractionProceed when the user just answered a consent page.
	WasConsentShown bool
}

// IdentityProviderPrefix marks an acr_values entry that pins the login to one provider.
const IdentityProviderPrefix = "idp:"

// AuthorizeInteractionResponseGenerator decides whether the user must log in, consent or
// create an account before the authorize response is produced.
type AuthorizeInteractionResponseGenerator struct {
	consent          *grants.ConsentStore
	users            validation.UserActivityChecker
	createAccountURL string
	options
}

// NewAuthorizeInteractionResponseGenerator creates a generator. users may be nil; an empty
// createAccountURL rejects prompt=create.
func NewAuthorizeInteractionResponseGenerator(consent *grants.ConsentStore, users validation.UserActivityChecker, createAccountURL string, opts ...Option) *AuthorizeInteractionResponseGenerator {
	return &AuthorizeInteractionResponseGenerator{
		consent:          consent,
		users:            users,
		createAccountURL: createAccountURL,
		options:          newOptions("authorize_interaction", opts),
	}
}

// Process decides the next step for req.
func (g *AuthorizeInteractionResponseGenerator) Process(ctx context.Context, req *validation.ValidatedAuthorizeRequest) (*InteractionResponse, error) {
	ctx, span := g.start(ctx, "AuthorizeInteractionResponseGenerator.Process")
	defer span.End()

	resp, err := g.login(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		if resp, err = g.consentRequired(ctx, req); err != nil {
			return nil, err
		}
	}
	if resp == nil {
		return &InteractionResponse{Kind: InteractionProceed}, nil
	}
	if resp.Kind == InteractionProceed {
		return resp, nil
	}

	if req.HasPrompt(oauthmodel.PromptNone) {
		return g.noInteraction(req, resp.Kind), nil
	}
	if resp.Kind != InteractionError {
		resp.ReturnParameters = returnParameters(req)
	}
	return resp, nil
}

func (g *AuthorizeInteractionResponseGenerator) login(ctx context.Context, req *validation.ValidatedAuthorizeRequest) (*InteractionResponse, error) {
	if req.HasPrompt(oauthmodel.PromptCreate) {
		if g.createAccountURL == "" {
			return &InteractionResponse{Kind: InteractionError, Error: redirectError(req, oauthmodel.ErrorInvalidRequest, "account creation is not supported")}, nil
		}
		return &InteractionResponse{Kind: InteractionRedirect, RedirectURL: g.createAccountURL}, nil
	}

	loginNeeded := &InteractionResponse{Kind: InteractionLogin}
	subject := req.Subject
	if subject == nil {
		return loginNeeded, nil
	}
	if req.HasPrompt(oauthmodel.PromptLogin) || req.HasPrompt(oauthmodel.PromptSelectAccount) {
		return loginNeeded, nil
	}
	if req.MaxAge != nil && g.now().After(subject.AuthTime.Add(time.Duration(*req.MaxAge)*time.Second)) {
		g.logger.Debug().Str("sub", subject.SubjectID).Msg("authentication older than max_age")
		return loginNeeded, nil
	}
	for _, acr := range req.AcrValues {
		if idp, ok := strings.CutPrefix(acr, IdentityProviderPrefix); ok && idp != subject.IdentityProvider {
			return loginNeeded, nil
		}
	}
	if g.users != nil {
		active, err := g.users.IsActive(ctx, subject.SubjectID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to check user %s", subject.SubjectID)
		}
		if !active {
			return loginNeeded, nil
		}
	}
	return nil, nil
}

func (g *AuthorizeInteractionResponseGenerator) consentRequired(ctx context.Context, req *validation.ValidatedAuthorizeRequest) (*InteractionResponse, error) {
	if !req.Client.RequireConsent {
		return nil, nil
	}
	needed := &InteractionResponse{Kind: InteractionConsent}
	if req.HasPrompt(oauthmodel.PromptConsent) {
		return needed, nil
	}

	consent, err := g.consent.GetUserConsent(ctx, req.Subject.SubjectID, req.Client.ClientID)
	if err != nil {
		if errors.IsNotFound(err) {
			return needed, nil
		}
		return nil, errors.Wrapf(err, "failed to read consent")
	}
	if consent.Expiration != nil && !g.now().Before(*consent.Expiration) {
		return needed, nil
	}
	if consent.Remembered && !req.Client.AllowRememberConsent {
		return needed, nil
	}
	if !utils.IsSubset(req.ValidatedResources.RawScopeValues(), consent.Scopes) {
		return needed, nil
	}
	if consent.Remembered {
		return nil, nil
	}

	// a one-off consent answers exactly this request
	if err := g.consent.RemoveUserConsent(ctx, req.Subject.SubjectID, req.Client.ClientID); err != nil {
		return nil, errors.Wrapf(err, "failed to remove consent")
	}
	return &InteractionResponse{Kind: InteractionProceed, WasConsentShown: true}, nil
}

// noInteraction turns a required interaction into the prompt=none error.
func (g *AuthorizeInteractionResponseGenerator) noInteraction(req *validation.ValidatedAuthorizeRequest, kind InteractionKind) *InteractionResponse {
	code := oauthmodel.ErrorInteractionRequired
	switch kind {
	case InteractionLogin:
		code = oauthmodel.ErrorLoginRequired
	case InteractionConsent:
		code = oauthmodel.ErrorConsentRequired
	}
	return &InteractionResponse{Kind: InteractionError, Error: redirectError(req, code, "")}
}

func redirectError(req *validation.ValidatedAuthorizeRequest, code, description string) *validation.Error {
	e := validation.NewError(code, description)
	e.Redirect = &validation.ErrorRedirect{RedirectURI: req.RedirectURI, ResponseMode: req.ResponseMode, State: req.State}
	return e
}

// returnParameters rebuilds the authorize request with the honoured prompts suppressed so the
// resumed request does not loop back into login or consent.
func returnParameters(req *validation.ValidatedAuthorizeRequest) url.Values {
	params := url.Values{}
	if req.RequestURI != "" {
		params.Set("client_id", req.Client.ClientID)
		params.Set("request_uri", req.RequestURI)
	} else {
		for k, v := range req.Raw {
			params[k] = append([]string(nil), v...)
		}
	}
	suppressed := append(append([]string(nil), req.SuppressedPrompts...), req.PromptModes...)
	if len(suppressed) > 0 {
		params.Set(validation.SuppressedPromptParameter, strings.Join(utils.Distinct(suppressed), " "))
	}
	return params
}
