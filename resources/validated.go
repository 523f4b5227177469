package resources

import (
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

// OfflineAccessScope is the scope that requests a refresh token.
const OfflineAccessScope = "offline_access"

// ValidatedResources is the outcome of resource validation: the resolved resources and the
// parsed scopes that resolved against them.
type ValidatedResources struct {
	Resources    *Resources
	ParsedScopes []ParsedScopeValue
}

// RawScopeValues returns the scopes as they appear on the wire.
func (v *ValidatedResources) RawScopeValues() []string {
	if v == nil {
		return nil
	}
	return RawValues(v.ParsedScopes)
}

// ScopeNames returns the parsed names, without parameters.
func (v *ValidatedResources) ScopeNames() []string {
	if v == nil {
		return nil
	}
	names := make([]string, 0, len(v.ParsedScopes))
	for _, s := range v.ParsedScopes {
		names = append(names, s.ParsedName)
	}
	return utils.Distinct(names)
}

// HasScope reports whether the parsed scope name was granted.
func (v *ValidatedResources) HasScope(name string) bool {
	return utils.Contains(v.ScopeNames(), name)
}

// HasOfflineAccess reports whether a refresh token was requested.
func (v *ValidatedResources) HasOfflineAccess() bool {
	return v != nil && v.Resources != nil && v.Resources.OfflineAccess
}

// HasIdentityScopes reports whether any identity resource was resolved.
func (v *ValidatedResources) HasIdentityScopes() bool {
	return v != nil && v.Resources != nil && len(v.Resources.IdentityResources) > 0
}

// IsEmpty reports whether nothing resolved.
func (v *ValidatedResources) IsEmpty() bool {
	return v == nil || len(v.ParsedScopes) == 0
}

// FilterByResourceIndicator narrows the result to what a token for indicator may carry.
// With no indicator, API resources that insist on being named explicitly are dropped. With
// an indicator, only that API resource and the API scopes it exposes remain, alongside the
// identity scopes and offline_access.
func (v *ValidatedResources) FilterByResourceIndicator(indicator string) *ValidatedResources {
	if v == nil || v.Resources == nil {
		return v
	}
	out := &Resources{
		IdentityResources: v.Resources.IdentityResources,
		OfflineAccess:     v.Resources.OfflineAccess,
	}
	if indicator == "" {
		for _, ar := range v.Resources.ApiResources {
			if !ar.RequireResourceIndicator {
				out.ApiResources = append(out.ApiResources, ar)
			}
		}
		out.ApiScopes = v.Resources.ApiScopes
		return &ValidatedResources{Resources: out, ParsedScopes: v.ParsedScopes}
	}

	target := v.Resources.ApiResource(indicator)
	if target != nil {
		out.ApiResources = []*ApiResource{target}
	}
	for _, s := range v.Resources.ApiScopes {
		if target != nil && target.HasScope(s.Name) {
			out.ApiScopes = append(out.ApiScopes, s)
		}
	}
	var parsed []ParsedScopeValue
	for _, s := range v.ParsedScopes {
		switch {
		case s.ParsedName == OfflineAccessScope:
			parsed = append(parsed, s)
		case out.IdentityResource(s.ParsedName) != nil:
			parsed = append(parsed, s)
		case out.ApiScope(s.ParsedName) != nil:
			parsed = append(parsed, s)
		}
	}
	return &ValidatedResources{Resources: out, ParsedScopes: parsed}
}
