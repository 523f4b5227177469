package keys

import "context"

// Store persists serialized signing keys. It is the source of truth shared by every server
// instance; duplicate keys created by racing instances are tolerated.
type Store interface {
	LoadKeys(ctx context.Context) ([]*SerializedKey, error)
	StoreKey(ctx context.Context, key *SerializedKey) error

	// DeleteKey removes a key. Deleting a missing key is not an error.
	DeleteKey(ctx context.Context, id string) error
}
