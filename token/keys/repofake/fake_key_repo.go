package repofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-oidc-engine/token/keys"
)

var _ keys.Store = (*FakeKeyRepo)(nil)

type FakeKeyRepo struct {
	keys  map[string]keys.SerializedKey
	lock  sync.RWMutex
	loads int
}

func NewFakeKeyRepo() *FakeKeyRepo {
	return &FakeKeyRepo{
		keys: make(map[string]keys.SerializedKey),
	}
}

func (r *FakeKeyRepo) LoadKeys(_ context.Context) ([]*keys.SerializedKey, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.loads++
	out := make([]*keys.SerializedKey, 0, len(r.keys))
	for _, k := range r.keys {
		k := k
		out = append(out, &k)
	}
	return out, nil
}

func (r *FakeKeyRepo) StoreKey(_ context.Context, key *keys.SerializedKey) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.keys[key.ID] = *key
	return nil
}

func (r *FakeKeyRepo) DeleteKey(_ context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.keys, id)
	return nil
}

// Len returns the number of stored keys.
func (r *FakeKeyRepo) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.keys)
}

// Loads returns how many times LoadKeys was called.
func (r *FakeKeyRepo) Loads() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.loads
}
