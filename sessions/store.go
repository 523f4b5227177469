package sessions

import (
	"context"
	"time"
)

// Store persists server-side sessions. Implementations must be safe for concurrent use.
type Store interface {
	Create(ctx context.Context, session *ServerSideSession) error
	Get(ctx context.Context, key string) (*ServerSideSession, error)

	// Update replaces an existing session. ErrNotFound if it is gone.
	Update(ctx context.Context, session *ServerSideSession) error

	// Delete removes a session. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	GetSessions(ctx context.Context, filter Filter) ([]*ServerSideSession, error)
	DeleteSessions(ctx context.Context, filter Filter) error

	// GetAndRemoveExpiredSessions atomically claims up to count sessions that expired before now.
	GetAndRemoveExpiredSessions(ctx context.Context, now time.Time, count int) ([]*ServerSideSession, error)

	QuerySessions(ctx context.Context, query Query) (*QueryResult, error)
}
