package validation

import (
	"context"
	"net/url"

	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
)

// ValidatedRevocationRequest is an RFC 7009 request from an authenticated client.
type ValidatedRevocationRequest struct {
	ValidatedRequest
	Token         string
	TokenTypeHint string
}

type RevocationRequestValidator struct {
	custom []CustomValidator[ValidatedRevocationRequest]
	options
}

func NewRevocationRequestValidator(custom []CustomValidator[ValidatedRevocationRequest], opts ...Option) *RevocationRequestValidator {
	return &RevocationRequestValidator{custom: custom, options: newOptions("revocation_validator", opts)}
}

func (v *RevocationRequestValidator) Validate(ctx context.Context, params url.Values, clientResult *ClientValidationResult) Result[ValidatedRevocationRequest] {
	ctx, span := v.start(ctx, "RevocationRequestValidator.Validate")
	return finish(&v.options, span, "revocation", runCustom(ctx, v.validate(params, clientResult), v.custom))
}

func (v *RevocationRequestValidator) validate(params url.Values, clientResult *ClientValidationResult) Result[ValidatedRevocationRequest] {
	if clientResult == nil || clientResult.Client == nil {
		return Failure[ValidatedRevocationRequest](oauthmodel.ErrorInvalidClient, "client authentication required")
	}
	var rr oauthmodel.RevocationRequest
	if e := decode(&rr, params); e != nil {
		return FailureFrom[ValidatedRevocationRequest](e)
	}
	if rr.Token == "" {
		return Failure[ValidatedRevocationRequest](oauthmodel.ErrorInvalidRequest, "token is required")
	}
	switch rr.TokenTypeHint {
	case "", oauthmodel.TokenTypeHintAccess, oauthmodel.TokenTypeHintRefresh:
	default:
		return Failure[ValidatedRevocationRequest](oauthmodel.ErrorUnsupportedTokenType, "unsupported token_type_hint")
	}
	req := &ValidatedRevocationRequest{Token: rr.Token, TokenTypeHint: rr.TokenTypeHint}
	req.Raw = params
	req.setClient(clientResult.Client, clientResult.Secret)
	return Success(req)
}
