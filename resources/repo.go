package resources

import "context"

// Repo is the resource catalog. Find methods return only the entries that exist; unknown
// names are silently absent from the result.
type Repo interface {
	FindIdentityResourcesByScopeName(ctx context.Context, names []string) ([]*IdentityResource, error)
	FindApiScopesByName(ctx context.Context, names []string) ([]*ApiScope, error)
	FindApiResourcesByScopeName(ctx context.Context, names []string) ([]*ApiResource, error)
	FindApiResourcesByName(ctx context.Context, names []string) ([]*ApiResource, error)
	GetAllResources(ctx context.Context) (*Resources, error)
}
