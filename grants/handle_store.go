package grants

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// grantMeta carries the indexed columns of a grant alongside its payload.
type grantMeta struct {
	ClientID     string
	SubjectID    string
	SessionID    string
	Description  string
	CreationTime time.Time
	Expiration   *time.Time
}

// handleStore stores payloads of one type under hashed handles. The typed stores compose it.
type handleStore[T any] struct {
	store     Store
	grantType Type
}

func newHandleStore[T any](store Store, grantType Type) handleStore[T] {
	return handleStore[T]{store: store, grantType: grantType}
}

func (h handleStore[T]) key(handle string) string {
	return utils.HashedKey(handle, string(h.grantType))
}

func (h handleStore[T]) createWithKey(ctx context.Context, key string, item *T, meta grantMeta) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", h.grantType, err)
	}
	grant := &PersistedGrant{
		Key:          key,
		Type:         h.grantType,
		ClientID:     meta.ClientID,
		SubjectID:    meta.SubjectID,
		SessionID:    meta.SessionID,
		Description:  meta.Description,
		CreationTime: meta.CreationTime,
		Expiration:   meta.Expiration,
		Data:         string(data),
	}
	if err := h.store.Create(ctx, grant); err != nil {
		return fmt.Errorf("failed to store %s: %w", h.grantType, err)
	}
	return nil
}

func (h handleStore[T]) create(ctx context.Context, handle string, item *T, meta grantMeta) error {
	return h.createWithKey(ctx, h.key(handle), item, meta)
}

// getByKey loads and decodes a grant. Records of another type are reported as not found.
func (h handleStore[T]) getByKey(ctx context.Context, key string) (*T, *PersistedGrant, error) {
	grant, err := h.store.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if grant.Type != h.grantType {
		return nil, nil, errors.Wrapf(ErrNotFound, "grant type %s", h.grantType)
	}
	item, err := h.decode(grant)
	if err != nil {
		return nil, nil, err
	}
	return item, grant, nil
}

func (h handleStore[T]) get(ctx context.Context, handle string) (*T, *PersistedGrant, error) {
	return h.getByKey(ctx, h.key(handle))
}

func (h handleStore[T]) decode(grant *PersistedGrant) (*T, error) {
	item := new(T)
	if err := json.Unmarshal([]byte(grant.Data), item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", h.grantType, err)
	}
	return item, nil
}

// updateByKey decodes the payload, lets fn mutate payload and record, and writes both back.
func (h handleStore[T]) updateByKey(ctx context.Context, key string, fn func(*T, *PersistedGrant) error) error {
	return h.store.Update(ctx, key, func(grant *PersistedGrant) error {
		if grant.Type != h.grantType {
			return errors.Wrapf(ErrNotFound, "grant type %s", h.grantType)
		}
		item, err := h.decode(grant)
		if err != nil {
			return err
		}
		if err := fn(item, grant); err != nil {
			return err
		}
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", h.grantType, err)
		}
		grant.Data = string(data)
		return nil
	})
}

func (h handleStore[T]) update(ctx context.Context, handle string, fn func(*T, *PersistedGrant) error) error {
	return h.updateByKey(ctx, h.key(handle), fn)
}

// consume marks the grant used exactly once. The loser of a race gets ErrAlreadyConsumed.
func (h handleStore[T]) consume(ctx context.Context, handle string) (*T, error) {
	var consumed *T
	err := h.update(ctx, handle, func(item *T, grant *PersistedGrant) error {
		if grant.IsConsumed() {
			return ErrAlreadyConsumed
		}
		now := NowTimeFunc()
		if now.Before(grant.CreationTime) {
			now = grant.CreationTime
		}
		grant.ConsumedTime = utils.Ptr(now)
		consumed = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

func (h handleStore[T]) remove(ctx context.Context, handle string) error {
	return h.store.Remove(ctx, h.key(handle))
}

func (h handleStore[T]) removeAll(ctx context.Context, subjectID, clientID, sessionID string) error {
	return h.store.RemoveAll(ctx, Filter{
		SubjectID: subjectID,
		ClientID:  clientID,
		SessionID: sessionID,
		Type:      h.grantType,
	})
}

func (h handleStore[T]) getAll(ctx context.Context, filter Filter) ([]*T, []*PersistedGrant, error) {
	filter.Type = h.grantType
	filter.Types = nil
	records, err := h.store.GetAll(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	items := make([]*T, 0, len(records))
	for _, r := range records {
		item, err := h.decode(r)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, item)
	}
	return items, records, nil
}

func expiresAt(created time.Time, lifetime time.Duration) *time.Time {
	return utils.Ptr(created.Add(lifetime))
}

func newHandle() (string, error) {
	return utils.RandomHandle(utils.HandleByteLength)
}
