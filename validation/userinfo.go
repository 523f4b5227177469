package validation

import (
	"context"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
)

// ValidatedUserInfoRequest carries the verified access token and its subject.
type ValidatedUserInfoRequest struct {
	TokenValidationResult
	Subject *grants.Subject
}

// UserInfoRequestValidator accepts access tokens that carry the openid scope and a subject.
type UserInfoRequestValidator struct {
	tokens *TokenValidator
	custom []CustomValidator[ValidatedUserInfoRequest]
	options
}

func NewUserInfoRequestValidator(tokens *TokenValidator, custom []CustomValidator[ValidatedUserInfoRequest], opts ...Option) *UserInfoRequestValidator {
	return &UserInfoRequestValidator{tokens: tokens, custom: custom, options: newOptions("userinfo_validator", opts)}
}

func (v *UserInfoRequestValidator) Validate(ctx context.Context, accessToken string) Result[ValidatedUserInfoRequest] {
	ctx, span := v.start(ctx, "UserInfoRequestValidator.Validate")
	return finish(&v.options, span, "userinfo", runCustom(ctx, v.validate(ctx, accessToken), v.custom))
}

func (v *UserInfoRequestValidator) validate(ctx context.Context, accessToken string) Result[ValidatedUserInfoRequest] {
	result := v.tokens.validateAccessToken(ctx, accessToken, oauthmodel.OpenIDScope)
	if result.IsError() {
		return FailureFrom[ValidatedUserInfoRequest](result.Err())
	}
	t := result.Value().Token
	if t.SubjectID() == "" {
		return Failure[ValidatedUserInfoRequest](oauthmodel.ErrorInvalidToken, "token has no subject")
	}
	return Success(&ValidatedUserInfoRequest{
		TokenValidationResult: *result.Value(),
		Subject:               &grants.Subject{SubjectID: t.SubjectID(), SessionID: t.SessionID()},
	})
}
