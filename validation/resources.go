package validation

import (
	"context"
	"net/url"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/resources"
)

// ResourceValidator resolves requested scopes and resource indicators against the catalog
// and the client's permissions.
type ResourceValidator struct {
	repo resources.Repo
	options
}

func NewResourceValidator(repo resources.Repo, opts ...Option) *ResourceValidator {
	return &ResourceValidator{repo: repo, options: newOptions("resource_validator", opts)}
}

// Validate checks scopes and indicators for client. Resources that require an indicator are
// only part of the result when named in indicators.
func (v *ResourceValidator) Validate(ctx context.Context, client *clients.Client, scopes, indicators []string) (*resources.ValidatedResources, *Error) {
	parsed := resources.ParseScopeValues(scopes)
	if !parsed.Succeeded() {
		return nil, NewError(oauthmodel.ErrorInvalidScope, parsed.Errors[0].Error())
	}
	if len(parsed.ParsedScopes) == 0 {
		return nil, NewError(oauthmodel.ErrorInvalidScope, "no scope requested")
	}

	names := make([]string, 0, len(parsed.ParsedScopes))
	for _, s := range parsed.ParsedScopes {
		names = append(names, s.ParsedName)
	}
	names = utils.Distinct(names)

	identity, err := v.repo.FindIdentityResourcesByScopeName(ctx, names)
	if err != nil {
		return nil, v.lookupFailed(err)
	}
	apiScopes, err := v.repo.FindApiScopesByName(ctx, names)
	if err != nil {
		return nil, v.lookupFailed(err)
	}
	apiResources, err := v.repo.FindApiResourcesByScopeName(ctx, names)
	if err != nil {
		return nil, v.lookupFailed(err)
	}

	catalog := &resources.Resources{IdentityResources: identity, ApiScopes: apiScopes, ApiResources: apiResources}
	result := &resources.Resources{}
	var accepted []resources.ParsedScopeValue

	for _, s := range parsed.ParsedScopes {
		if s.ParsedName == resources.OfflineAccessScope {
			if !client.AllowOfflineAccess {
				return nil, NewError(oauthmodel.ErrorInvalidScope, "offline_access is not allowed for this client")
			}
			result.OfflineAccess = true
			accepted = append(accepted, s)
			continue
		}
		if ir := catalog.IdentityResource(s.ParsedName); ir != nil {
			if !ir.Enabled || !client.HasScope(s.ParsedName) {
				return nil, NewError(oauthmodel.ErrorInvalidScope, "scope "+s.RawValue+" is not allowed")
			}
			if result.IdentityResource(ir.Name) == nil {
				result.IdentityResources = append(result.IdentityResources, ir)
			}
			accepted = append(accepted, s)
			continue
		}
		if as := catalog.ApiScope(s.ParsedName); as != nil {
			if !as.Enabled || !client.HasScope(s.ParsedName) {
				return nil, NewError(oauthmodel.ErrorInvalidScope, "scope "+s.RawValue+" is not allowed")
			}
			if result.ApiScope(as.Name) == nil {
				result.ApiScopes = append(result.ApiScopes, as)
			}
			accepted = append(accepted, s)
			continue
		}
		return nil, NewError(oauthmodel.ErrorInvalidScope, "unknown scope "+s.RawValue)
	}

	for _, indicator := range indicators {
		if e := validateIndicator(indicator, apiResources, result.ApiScopes); e != nil {
			return nil, e
		}
	}

	for _, ar := range apiResources {
		if !ar.Enabled || !exposesAny(ar, result.ApiScopes) {
			continue
		}
		if ar.RequireResourceIndicator && !utils.Contains(indicators, ar.Name) {
			continue
		}
		result.ApiResources = append(result.ApiResources, ar)
	}

	return &resources.ValidatedResources{Resources: result, ParsedScopes: accepted}, nil
}

func (v *ResourceValidator) lookupFailed(err error) *Error {
	v.logger.Err(err).Msg("resource catalog lookup failed")
	return NewError(oauthmodel.ErrorServerError, "resource lookup failed")
}

// validateIndicator checks an RFC 8707 resource value names an enabled API resource that
// exposes at least one of the requested scopes.
func validateIndicator(indicator string, apis []*resources.ApiResource, scopes []*resources.ApiScope) *Error {
	u, err := url.Parse(indicator)
	if err != nil || !u.IsAbs() || u.Fragment != "" {
		return NewError(oauthmodel.ErrorInvalidTarget, "resource must be an absolute URI")
	}
	for _, ar := range apis {
		if ar.Name == indicator && ar.Enabled && exposesAny(ar, scopes) {
			return nil
		}
	}
	return NewError(oauthmodel.ErrorInvalidTarget, "unknown resource "+indicator)
}

func exposesAny(ar *resources.ApiResource, scopes []*resources.ApiScope) bool {
	for _, s := range scopes {
		if ar.HasScope(s.Name) {
			return true
		}
	}
	return false
}
