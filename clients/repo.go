package clients

import "context"

// Repo is the read side of the client catalog used by the engine.
type Repo interface {
	// Get returns the client or an error wrapping errors.ErrClientNotFound.
	Get(ctx context.Context, clientID string) (*Client, error)
	// List pages through clients ordered by ClientID.
	List(ctx context.Context, offset, limit int) ([]*Client, error)
	// IsOriginAllowed reports whether any enabled client lists origin in AllowedCorsOrigins.
	IsOriginAllowed(ctx context.Context, origin string) (bool, error)
}

// Writer is implemented by catalogs that can be seeded.
type Writer interface {
	Upsert(ctx context.Context, client *Client) error
	Delete(ctx context.Context, clientID string) error
}
