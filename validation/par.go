package validation

import (
	"context"
	"net/url"

	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
)

// ValidatedPushedAuthorizationRequest holds the parameters to persist for a later authorize
// request.
type ValidatedPushedAuthorizationRequest struct {
	Authorize  *ValidatedAuthorizeRequest
	Parameters url.Values
}

// PushedAuthorizationRequestValidator validates RFC 9126 requests with the authorize rules.
// Errors are returned to the caller directly, never by redirect.
type PushedAuthorizationRequestValidator struct {
	authorize *AuthorizeRequestValidator
	custom    []CustomValidator[ValidatedPushedAuthorizationRequest]
	options
}

func NewPushedAuthorizationRequestValidator(authorize *AuthorizeRequestValidator, custom []CustomValidator[ValidatedPushedAuthorizationRequest], opts ...Option) *PushedAuthorizationRequestValidator {
	return &PushedAuthorizationRequestValidator{
		authorize: authorize,
		custom:    custom,
		options:   newOptions("par_validator", opts),
	}
}

func (v *PushedAuthorizationRequestValidator) Validate(ctx context.Context, params url.Values, clientResult *ClientValidationResult) Result[ValidatedPushedAuthorizationRequest] {
	ctx, span := v.start(ctx, "PushedAuthorizationRequestValidator.Validate")
	return finish(&v.options, span, "par", runCustom(ctx, v.validate(ctx, params, clientResult), v.custom))
}

func (v *PushedAuthorizationRequestValidator) validate(ctx context.Context, params url.Values, clientResult *ClientValidationResult) Result[ValidatedPushedAuthorizationRequest] {
	if clientResult == nil || clientResult.Client == nil {
		return Failure[ValidatedPushedAuthorizationRequest](oauthmodel.ErrorInvalidClient, "client authentication required")
	}
	if params.Get("request_uri") != "" {
		return Failure[ValidatedPushedAuthorizationRequest](oauthmodel.ErrorInvalidRequest, "request_uri cannot be pushed")
	}
	clientID := clientResult.Client.ClientID
	if id := params.Get("client_id"); id != "" && id != clientID {
		return Failure[ValidatedPushedAuthorizationRequest](oauthmodel.ErrorInvalidRequest, "client_id does not match the authenticated client")
	}

	pushed := url.Values{}
	for k, vals := range params {
		switch k {
		case "client_secret", "client_assertion", "client_assertion_type":
			continue
		}
		pushed[k] = append([]string(nil), vals...)
	}
	pushed.Set("client_id", clientID)

	result := v.authorize.validate(ctx, pushed, nil)
	if result.IsError() {
		e := *result.Err()
		e.Redirect = nil
		return FailureFrom[ValidatedPushedAuthorizationRequest](&e)
	}
	authorize := result.Value()
	authorize.Secret = clientResult.Secret
	return Success(&ValidatedPushedAuthorizationRequest{Authorize: authorize, Parameters: pushed})
}
