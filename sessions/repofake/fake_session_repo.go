package repofake

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/sessions"
)

var _ sessions.Store = (*FakeSessionRepo)(nil)

type FakeSessionRepo struct {
	sessions map[string]*sessions.ServerSideSession
	lock     sync.RWMutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]*sessions.ServerSideSession),
	}
}

func (r *FakeSessionRepo) Create(_ context.Context, session *sessions.ServerSideSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.sessions[session.Key]; ok {
		return errors.Wrapf(sessions.ErrDuplicateKey, "session")
	}
	r.sessions[session.Key] = session.Clone()
	return nil
}

func (r *FakeSessionRepo) Get(_ context.Context, key string) (*sessions.ServerSideSession, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	session, ok := r.sessions[key]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return session.Clone(), nil
}

func (r *FakeSessionRepo) Update(_ context.Context, session *sessions.ServerSideSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.sessions[session.Key]; !ok {
		return sessions.ErrNotFound
	}
	r.sessions[session.Key] = session.Clone()
	return nil
}

func (r *FakeSessionRepo) Delete(_ context.Context, key string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.sessions, key)
	return nil
}

func (r *FakeSessionRepo) GetSessions(_ context.Context, filter sessions.Filter) ([]*sessions.ServerSideSession, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*sessions.ServerSideSession
	for _, s := range r.sessions {
		if filter.Matches(s) {
			out = append(out, s.Clone())
		}
	}
	sortSessions(out)
	return out, nil
}

func (r *FakeSessionRepo) DeleteSessions(_ context.Context, filter sessions.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	for key, s := range r.sessions {
		if filter.Matches(s) {
			delete(r.sessions, key)
		}
	}
	return nil
}

func (r *FakeSessionRepo) GetAndRemoveExpiredSessions(_ context.Context, now time.Time, count int) ([]*sessions.ServerSideSession, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	var out []*sessions.ServerSideSession
	for _, s := range r.sessions {
		if s.Expires != nil && s.Expires.Before(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Expires.Equal(*out[j].Expires) {
			return out[i].Key < out[j].Key
		}
		return out[i].Expires.Before(*out[j].Expires)
	})
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	for _, s := range out {
		delete(r.sessions, s.Key)
	}
	return out, nil
}

func (r *FakeSessionRepo) QuerySessions(_ context.Context, query sessions.Query) (*sessions.QueryResult, error) {
	query = query.Normalised()
	r.lock.RLock()
	defer r.lock.RUnlock()
	var matched []*sessions.ServerSideSession
	for _, s := range r.sessions {
		if query.Matches(s) {
			matched = append(matched, s.Clone())
		}
	}
	sortSessions(matched)
	start := (query.Page - 1) * query.PageSize
	end := start + query.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	return sessions.NewQueryResult(query, len(matched), matched[start:end]), nil
}

// Len returns the number of stored sessions.
func (r *FakeSessionRepo) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.sessions)
}

func sortSessions(list []*sessions.ServerSideSession) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Created.Equal(list[j].Created) {
			return list[i].Key < list[j].Key
		}
		return list[i].Created.Before(list[j].Created)
	})
}
