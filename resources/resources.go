package resources

import (
	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

// IdentityResource is a named group of user claims requested with an identity scope
// (openid, profile, email...).
type IdentityResource struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	UserClaims  []string `json:"user_claims"`
	Required    bool     `json:"required"`
	Emphasize   bool     `json:"emphasize"`
	Enabled     bool     `json:"enabled"`
}

// ApiScope is a permission that can be requested by a client.
type ApiScope struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	UserClaims  []string `json:"user_claims"`
	Required    bool     `json:"required"`
	Enabled     bool     `json:"enabled"`
}

// ApiResource is a protected API. Its Name is the resource indicator and becomes the
// audience of tokens issued for its scopes.
type ApiResource struct {
	Name                                string           `json:"name"`
	DisplayName                         string           `json:"display_name,omitempty"`
	Scopes                              []string         `json:"scopes"`
	UserClaims                          []string         `json:"user_claims"`
	RequireResourceIndicator            bool             `json:"require_resource_indicator"`
	AllowedAccessTokenSigningAlgorithms []string         `json:"allowed_access_token_signing_algorithms"`
	ApiSecrets                          []clients.Secret `json:"api_secrets"`
	Enabled                             bool             `json:"enabled"`
}

// HasScope reports whether the resource exposes scope.
func (r *ApiResource) HasScope(scope string) bool {
	return utils.Contains(r.Scopes, scope)
}

// Resources is the set of resources resolved for a request.
type Resources struct {
	IdentityResources []*IdentityResource
	ApiResources      []*ApiResource
	ApiScopes         []*ApiScope
	OfflineAccess     bool
}

// IdentityResource returns the identity resource named name, or nil.
func (r *Resources) IdentityResource(name string) *IdentityResource {
	for _, ir := range r.IdentityResources {
		if ir.Name == name {
			return ir
		}
	}
	return nil
}

// ApiScope returns the API scope named name, or nil.
func (r *Resources) ApiScope(name string) *ApiScope {
	for _, s := range r.ApiScopes {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// ApiResource returns the API resource named name, or nil.
func (r *Resources) ApiResource(name string) *ApiResource {
	for _, ar := range r.ApiResources {
		if ar.Name == name {
			return ar
		}
	}
	return nil
}

// ApiResourceNames returns the names of the API resources, which form the token audience.
func (r *Resources) ApiResourceNames() []string {
	names := make([]string, 0, len(r.ApiResources))
	for _, ar := range r.ApiResources {
		names = append(names, ar.Name)
	}
	return names
}

// UserClaims collects the claim types required by the identity resources and API scopes.
func (r *Resources) UserClaims() []string {
	var claims []string
	for _, ir := range r.IdentityResources {
		claims = append(claims, ir.UserClaims...)
	}
	for _, s := range r.ApiScopes {
		claims = append(claims, s.UserClaims...)
	}
	for _, ar := range r.ApiResources {
		claims = append(claims, ar.UserClaims...)
	}
	return utils.Distinct(claims)
}

// StandardIdentityResources returns the openid, profile and email identity resources.
func StandardIdentityResources() []*IdentityResource {
	return []*IdentityResource{
		{Name: "openid", DisplayName: "Your user identifier", UserClaims: []string{"sub"}, Required: true, Enabled: true},
		{Name: "profile", DisplayName: "User profile", UserClaims: []string{"name", "given_name", "family_name", "preferred_username", "updated_at"}, Emphasize: true, Enabled: true},
		{Name: "email", DisplayName: "Your email address", UserClaims: []string{"email", "email_verified"}, Emphasize: true, Enabled: true},
	}
}
