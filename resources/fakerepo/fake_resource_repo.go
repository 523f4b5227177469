package fakeresourcerepo

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/resources"
)

var _ resources.Repo = (*FakeResourceRepo)(nil)

// FakeResourceRepo is an in-memory resource catalog.
type FakeResourceRepo struct {
	identity []*resources.IdentityResource
	scopes   []*resources.ApiScope
	apis     []*resources.ApiResource
	lock     sync.RWMutex
}

func NewFakeResourceRepo(all *resources.Resources) *FakeResourceRepo {
	r := &FakeResourceRepo{}
	if all != nil {
		r.identity = all.IdentityResources
		r.scopes = all.ApiScopes
		r.apis = all.ApiResources
	}
	return r
}

func (r *FakeResourceRepo) AddIdentityResource(ir *resources.IdentityResource) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.identity = append(r.identity, ir)
}

func (r *FakeResourceRepo) AddApiScope(s *resources.ApiScope) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.scopes = append(r.scopes, s)
}

func (r *FakeResourceRepo) AddApiResource(ar *resources.ApiResource) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.apis = append(r.apis, ar)
}

func (r *FakeResourceRepo) FindIdentityResourcesByScopeName(_ context.Context, names []string) ([]*resources.IdentityResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*resources.IdentityResource
	for _, ir := range r.identity {
		if utils.Contains(names, ir.Name) {
			out = append(out, ir)
		}
	}
	return out, nil
}

func (r *FakeResourceRepo) FindApiScopesByName(_ context.Context, names []string) ([]*resources.ApiScope, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*resources.ApiScope
	for _, s := range r.scopes {
		if utils.Contains(names, s.Name) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *FakeResourceRepo) FindApiResourcesByScopeName(_ context.Context, names []string) ([]*resources.ApiResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*resources.ApiResource
	for _, ar := range r.apis {
		for _, name := range names {
			if ar.HasScope(name) {
				out = append(out, ar)
				break
			}
		}
	}
	return out, nil
}

func (r *FakeResourceRepo) FindApiResourcesByName(_ context.Context, names []string) ([]*resources.ApiResource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*resources.ApiResource
	for _, ar := range r.apis {
		if utils.Contains(names, ar.Name) {
			out = append(out, ar)
		}
	}
	return out, nil
}

func (r *FakeResourceRepo) GetAllResources(_ context.Context) (*resources.Resources, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return &resources.Resources{
		IdentityResources: append([]*resources.IdentityResource(nil), r.identity...),
		ApiScopes:         append([]*resources.ApiScope(nil), r.scopes...),
		ApiResources:      append([]*resources.ApiResource(nil), r.apis...),
	}, nil
}
