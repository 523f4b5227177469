package grants

import (
	"context"
	"time"
)

// Store is the polymorphic persisted grant store. Implementations must be safe for
// concurrent use.
type Store interface {
	// Create writes a new grant. It fails with ErrDuplicateKey if the key exists.
	Create(ctx context.Context, grant *PersistedGrant) error

	// Get returns the grant or ErrNotFound.
	Get(ctx context.Context, key string) (*PersistedGrant, error)

	// GetAll returns every grant matching filter. An empty filter is rejected.
	GetAll(ctx context.Context, filter Filter) ([]*PersistedGrant, error)

	// Update is an atomic read-modify-write of one grant. mutate receives a copy; an error
	// from mutate aborts the write and is returned. ErrNotFound is returned when the grant is
	// absent, including when it is deleted concurrently, and callers treat it as already gone.
	Update(ctx context.Context, key string, mutate func(*PersistedGrant) error) error

	// Remove deletes a grant. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// RemoveAll deletes every grant matching filter. An empty filter is rejected.
	RemoveAll(ctx context.Context, filter Filter) error

	// Expired returns up to limit grants whose Expiration is before now, oldest first.
	Expired(ctx context.Context, now time.Time, limit int) ([]*PersistedGrant, error)

	// Consumed returns up to limit grants consumed before the given time, oldest first.
	Consumed(ctx context.Context, before time.Time, limit int) ([]*PersistedGrant, error)

	// RemoveKeys deletes the given keys, ignoring any that are already gone.
	RemoveKeys(ctx context.Context, keys []string) error
}
