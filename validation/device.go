package validation

import (
	"context"
	"net/url"

	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
)

// ValidatedDeviceAuthorizationRequest is an RFC 8628 request ready for the device
// authorization generator.
type ValidatedDeviceAuthorizationRequest struct {
	ValidatedRequest
	RequestedScopes []string
	IsOpenIDRequest bool
}

type DeviceAuthorizationRequestValidator struct {
	resources *ResourceValidator
	custom    []CustomValidator[ValidatedDeviceAuthorizationRequest]
	options
}

func NewDeviceAuthorizationRequestValidator(rv *ResourceValidator, custom []CustomValidator[ValidatedDeviceAuthorizationRequest], opts ...Option) *DeviceAuthorizationRequestValidator {
	return &DeviceAuthorizationRequestValidator{
		resources: rv,
		custom:    custom,
		options:   newOptions("device_authorization_validator", opts),
	}
}

func (v *DeviceAuthorizationRequestValidator) Validate(ctx context.Context, params url.Values, clientResult *ClientValidationResult) Result[ValidatedDeviceAuthorizationRequest] {
	ctx, span := v.start(ctx, "DeviceAuthorizationRequestValidator.Validate")
	return finish(&v.options, span, "device_authorization", runCustom(ctx, v.validate(ctx, params, clientResult), v.custom))
}

func (v *DeviceAuthorizationRequestValidator) validate(ctx context.Context, params url.Values, clientResult *ClientValidationResult) Result[ValidatedDeviceAuthorizationRequest] {
	if clientResult == nil || clientResult.Client == nil {
		return Failure[ValidatedDeviceAuthorizationRequest](oauthmodel.ErrorInvalidClient, "client authentication required")
	}
	var dr oauthmodel.DeviceAuthorizationRequest
	if e := decode(&dr, params); e != nil {
		return FailureFrom[ValidatedDeviceAuthorizationRequest](e)
	}
	client := clientResult.Client
	if !client.AllowsGrantType(oauthmodel.DeviceCodeGrant) {
		return Failure[ValidatedDeviceAuthorizationRequest](oauthmodel.ErrorUnauthorizedClient, "device flow not allowed for client")
	}

	req := &ValidatedDeviceAuthorizationRequest{}
	req.Raw = params
	req.setClient(client, clientResult.Secret)

	// without a scope the client gets everything it is allowed
	req.RequestedScopes = utils.SplitSpaceDelimited(dr.Scope)
	if len(req.RequestedScopes) == 0 {
		req.RequestedScopes = client.AllowedScopes
	}
	vr, e := v.resources.Validate(ctx, client, req.RequestedScopes, nil)
	if e != nil {
		return FailureFrom[ValidatedDeviceAuthorizationRequest](e)
	}
	req.ValidatedResources = vr
	req.IsOpenIDRequest = vr.HasScope(oauthmodel.OpenIDScope)
	return Success(req)
}
