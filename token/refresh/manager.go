package refresh

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// ErrInvalidRefreshToken is returned when a handle was redeemed or removed concurrently.
var ErrInvalidRefreshToken = errors.Wrapf(errors.ErrInvalidToken, "refresh token is no longer valid")

// Manager handles refresh token creation and rotation
type Manager struct {
	store                  *grants.RefreshTokenStore
	deleteOneTimeOnlyOnUse bool
	logger                 zerolog.Logger
}

type ManagerOption func(*Manager)

// WithDeleteOneTimeOnlyOnUse removes one-time refresh tokens when redeemed instead of keeping
// them marked as consumed.
func WithDeleteOneTimeOnlyOnUse(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.deleteOneTimeOnlyOnUse = enabled
	}
}

func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a new refresh token manager
func NewManager(store *grants.RefreshTokenStore, options ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		logger: zerolog.Nop(),
	}
	for _, opt := range options {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "refresh_tokens").Logger()
	return m
}

// Create issues a refresh token for subject and returns the handle.
func (m *Manager) Create(ctx context.Context, client *clients.Client, subject grants.Subject, scopes, resourceIndicators []string, description string) (string, error) {
	lifetime := client.AbsoluteRefreshTokenTTL()
	if client.RefreshTokenExpiration == clients.RefreshTokenSliding && client.SlidingRefreshTokenTTL() < lifetime {
		lifetime = client.SlidingRefreshTokenTTL()
	}
	rt := &grants.RefreshToken{
		CreationTime:                 NowTimeFunc().UTC(),
		Lifetime:                     lifetime,
		ClientID:                     client.ClientID,
		Subject:                      subject,
		AuthorizedScopes:             scopes,
		AuthorizedResourceIndicators: resourceIndicators,
		Description:                  description,
		Version:                      1,
	}
	handle, err := m.store.StoreRefreshToken(ctx, rt)
	if err != nil {
		return "", errors.Wrapf(err, "failed to store refresh token")
	}
	return handle, nil
}

// Get returns the refresh token for handle.
func (m *Manager) Get(ctx context.Context, handle string) (*grants.RefreshToken, error) {
	return m.store.GetRefreshToken(ctx, handle)
}

// Update is called after a successful refresh. One-time tokens are consumed atomically and
// replaced by a new handle that keeps the original creation time, so the absolute lifetime
// never grows. Reusable tokens keep their handle and only slide their expiration.
// Losing a consumption race returns ErrInvalidRefreshToken.
func (m *Manager) Update(ctx context.Context, handle string, rt *grants.RefreshToken, client *clients.Client) (string, error) {
	now := NowTimeFunc().UTC()

	if client.RefreshUsage() == clients.RefreshTokenOneTimeOnly {
		consumed, err := m.store.ConsumeRefreshToken(ctx, handle)
		if err != nil {
			if errors.Is(err, grants.ErrAlreadyConsumed) || errors.IsNotFound(err) {
				m.logger.Debug().Str("client_id", client.ClientID).Msg("refresh token redeemed concurrently")
				return "", ErrInvalidRefreshToken
			}
			return "", err
		}
		if m.deleteOneTimeOnlyOnUse {
			if err := m.store.RemoveRefreshToken(ctx, handle); err != nil {
				return "", err
			}
		}

		next := *consumed
		next.ConsumedTime = nil
		next.AuthorizedScopes = rt.AuthorizedScopes
		next.AuthorizedResourceIndicators = rt.AuthorizedResourceIndicators
		next.Version = consumed.Version + 1
		if client.RefreshTokenExpiration == clients.RefreshTokenSliding {
			next.Lifetime = SlidingLifetime(next.CreationTime, now, client)
		}
		newHandle, err := m.store.StoreRefreshToken(ctx, &next)
		if err != nil {
			return "", errors.Wrapf(err, "failed to store rotated refresh token")
		}
		return newHandle, nil
	}

	if client.RefreshTokenExpiration != clients.RefreshTokenSliding {
		return handle, nil
	}
	err := m.store.UpdateRefreshToken(ctx, handle, func(stored *grants.RefreshToken) error {
		stored.Lifetime = SlidingLifetime(stored.CreationTime, now, client)
		return nil
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return "", ErrInvalidRefreshToken
		}
		return "", err
	}
	return handle, nil
}

// Remove deletes the handle. Removing an unknown handle succeeds.
func (m *Manager) Remove(ctx context.Context, handle string) error {
	return m.store.RemoveRefreshToken(ctx, handle)
}

// SlidingLifetime extends the lifetime by the sliding window from now, capped at the
// client's absolute lifetime.
func SlidingLifetime(created, now time.Time, client *clients.Client) time.Duration {
	lifetime := now.Sub(created) + client.SlidingRefreshTokenTTL()
	if absolute := client.AbsoluteRefreshTokenTTL(); lifetime > absolute {
		lifetime = absolute
	}
	return lifetime
}
