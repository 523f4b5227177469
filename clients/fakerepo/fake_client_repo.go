package fakeclientrepo

import (
	"context"
	"sort"
	"sync"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
)

var (
	_ clients.Repo   = (*FakeClientRepo)(nil)
	_ clients.Writer = (*FakeClientRepo)(nil)
)

type FakeClientRepo struct {
	clients map[string]*clients.Client
	lock    sync.RWMutex
}

func NewFakeClientRepo(seed ...*clients.Client) *FakeClientRepo {
	r := &FakeClientRepo{
		clients: make(map[string]*clients.Client),
	}
	for _, c := range seed {
		r.clients[c.ClientID] = c
	}
	return r
}

func (r *FakeClientRepo) Upsert(_ context.Context, clientData *clients.Client) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.clients[clientData.ClientID] = clientData
	return nil
}

func (r *FakeClientRepo) Delete(_ context.Context, clientID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.clients, clientID)
	return nil
}

func (r *FakeClientRepo) Get(_ context.Context, clientID string) (*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrClientNotFound, "client %q", clientID)
	}
	return client, nil
}

func (r *FakeClientRepo) List(_ context.Context, offset, limit int) ([]*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	list := make([]*clients.Client, 0, len(r.clients))
	for _, v := range r.clients {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ClientID < list[j].ClientID
	})

	if offset >= len(list) {
		return nil, nil
	}
	end := len(list)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return list[offset:end], nil
}

func (r *FakeClientRepo) IsOriginAllowed(_ context.Context, origin string) (bool, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	for _, c := range r.clients {
		if c.Enabled && c.AllowsCorsOrigin(origin) {
			return true, nil
		}
	}
	return false, nil
}
