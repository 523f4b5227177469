package repofake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
)

var _ grants.Store = (*FakeGrantRepo)(nil)

// FakeGrantRepo is an in-memory grant store. A single mutex makes Update atomic.
type FakeGrantRepo struct {
	grants map[string]*grants.PersistedGrant
	lock   sync.RWMutex
}

func NewFakeGrantRepo() *FakeGrantRepo {
	return &FakeGrantRepo{
		grants: make(map[string]*grants.PersistedGrant),
	}
}

func (r *FakeGrantRepo) Create(_ context.Context, grant *grants.PersistedGrant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.grants[grant.Key]; ok {
		return errors.Wrapf(grants.ErrDuplicateKey, "grant %s", grant.Type)
	}
	r.grants[grant.Key] = grant.Clone()
	return nil
}

func (r *FakeGrantRepo) Get(_ context.Context, key string) (*grants.PersistedGrant, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	grant, ok := r.grants[key]
	if !ok {
		return nil, grants.ErrNotFound
	}
	return grant.Clone(), nil
}

func (r *FakeGrantRepo) GetAll(_ context.Context, filter grants.Filter) ([]*grants.PersistedGrant, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*grants.PersistedGrant
	for _, g := range r.grants {
		if filter.Matches(g) {
			out = append(out, g.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

func (r *FakeGrantRepo) Update(_ context.Context, key string, mutate func(*grants.PersistedGrant) error) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	current, ok := r.grants[key]
	if !ok {
		return grants.ErrNotFound
	}
	updated := current.Clone()
	if err := mutate(updated); err != nil {
		return err
	}
	updated.Key = key
	if err := updated.Validate(); err != nil {
		return err
	}
	r.grants[key] = updated
	return nil
}

func (r *FakeGrantRepo) Remove(_ context.Context, key string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.grants, key)
	return nil
}

func (r *FakeGrantRepo) RemoveAll(_ context.Context, filter grants.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	for key, g := range r.grants {
		if filter.Matches(g) {
			delete(r.grants, key)
		}
	}
	return nil
}

func (r *FakeGrantRepo) Expired(_ context.Context, now time.Time, limit int) ([]*grants.PersistedGrant, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*grants.PersistedGrant
	for _, g := range r.grants {
		if g.Expiration != nil && g.Expiration.Before(now) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Expiration.Equal(*out[j].Expiration) {
			return out[i].Key < out[j].Key
		}
		return out[i].Expiration.Before(*out[j].Expiration)
	})
	return truncate(out, limit), nil
}

func (r *FakeGrantRepo) Consumed(_ context.Context, before time.Time, limit int) ([]*grants.PersistedGrant, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*grants.PersistedGrant
	for _, g := range r.grants {
		if g.ConsumedTime != nil && g.ConsumedTime.Before(before) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConsumedTime.Equal(*out[j].ConsumedTime) {
			return out[i].Key < out[j].Key
		}
		return out[i].ConsumedTime.Before(*out[j].ConsumedTime)
	})
	return truncate(out, limit), nil
}

func (r *FakeGrantRepo) RemoveKeys(_ context.Context, keys []string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, key := range keys {
		delete(r.grants, key)
	}
	return nil
}

// Len returns the number of stored grants.
func (r *FakeGrantRepo) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.grants)
}

func sortByCreation(list []*grants.PersistedGrant) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreationTime.Equal(list[j].CreationTime) {
			return list[i].Key < list[j].Key
		}
		return list[i].CreationTime.Before(list[j].CreationTime)
	})
}

func truncate(list []*grants.PersistedGrant, limit int) []*grants.PersistedGrant {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}
