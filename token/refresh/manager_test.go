package refresh_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/grants/repofake"
	"github.com/jrsteele09/go-oidc-engine/token/refresh"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func setClock(t *testing.T, now *time.Time) {
	t.Helper()
	prevRefresh, prevGrants := refresh.NowTimeFunc, grants.NowTimeFunc
	refresh.NowTimeFunc = func() time.Time { return *now }
	grants.NowTimeFunc = func() time.Time { return *now }
	t.Cleanup(func() {
		refresh.NowTimeFunc = prevRefresh
		grants.NowTimeFunc = prevGrants
	})
}

func newManager(options ...refresh.ManagerOption) (*refresh.Manager, *repofake.FakeGrantRepo) {
	repo := repofake.NewFakeGrantRepo()
	return refresh.NewManager(grants.NewRefreshTokenStore(repo), options...), repo
}

func testClient(usage clients.RefreshTokenUsage, expiration clients.RefreshTokenExpiration) *clients.Client {
	return &clients.Client{
		ClientID:                     "client",
		RefreshTokenUsage:            usage,
		RefreshTokenExpiration:       expiration,
		AbsoluteRefreshTokenLifetime: 10 * time.Hour,
		SlidingRefreshTokenLifetime:  2 * time.Hour,
	}
}

var alice = grants.Subject{SubjectID: "alice", SessionID: "sid1", AuthTime: t0}

func TestManager_Create(t *testing.T) {
	now := t0
	setClock(t, &now)
	ctx := context.Background()
	m, _ := newManager()

	t.Run("absolute", func(t *testing.T) {
		handle, err := m.Create(ctx, testClient(clients.RefreshTokenOneTimeOnly, clients.RefreshTokenAbsolute), alice, []string{"api", "offline_access"}, nil, "")
		require.NoError(t, err)
		rt, err := m.Get(ctx, handle)
		require.NoError(t, err)
		require.Equal(t, 10*time.Hour, rt.Lifetime)
		require.Equal(t, "alice", rt.SubjectID())
		require.Equal(t, []string{"api", "offline_access"}, rt.AuthorizedScopes)
	})

	t.Run("sliding starts with the sliding window", func(t *testing.T) {
		handle, err := m.Create(ctx, testClient(clients.RefreshTokenReUse, clients.RefreshTokenSliding), alice, []string{"api"}, nil, "")
		require.NoError(t, err)
		rt, err := m.Get(ctx, handle)
		require.NoError(t, err)
		require.Equal(t, 2*time.Hour, rt.Lifetime)
	})
}

func TestManager_OneTimeOnlyRotation(t *testing.T) {
	now := t0
	setClock(t, &now)
	ctx := context.Background()
	client := testClient(clients.RefreshTokenOneTimeOnly, clients.RefreshTokenSliding)
	m, _ := newManager()

	handle, err := m.Create(ctx, client, alice, []string{"api"}, nil, "")
	require.NoError(t, err)
	rt, err := m.Get(ctx, handle)
	require.NoError(t, err)

	now = t0.Add(time.Hour)
	next, err := m.Update(ctx, handle, rt, client)
	require.NoError(t, err)
	require.NotEqual(t, handle, next)

	old, err := m.Get(ctx, handle)
	require.NoError(t, err)
	require.NotNil(t, old.ConsumedTime)
	require.True(t, now.Equal(*old.ConsumedTime))

	rotated, err := m.Get(ctx, next)
	require.NoError(t, err)
	require.Nil(t, rotated.ConsumedTime)
	require.True(t, t0.Equal(rotated.CreationTime))
	require.Equal(t, 3*time.Hour, rotated.Lifetime)
	require.Equal(t, 2, rotated.Version)

	_, err = m.Update(ctx, handle, rt, client)
	require.ErrorIs(t, err, refresh.ErrInvalidRefreshToken)
}

func TestManager_ConcurrentRedemptionHasOneWinner(t *testing.T) {
	ctx := context.Background()
	client := testClient(clients.RefreshTokenOneTimeOnly, clients.RefreshTokenAbsolute)
	m, repo := newManager()

	handle, err := m.Create(ctx, client, alice, []string{"api"}, nil, "")
	require.NoError(t, err)
	rt, err := m.Get(ctx, handle)
	require.NoError(t, err)

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, handle, rt, client)
			switch err {
			case nil:
				wins.Add(1)
			case refresh.ErrInvalidRefreshToken:
				losses.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(9), losses.Load())
	// the consumed original plus exactly one successor
	require.Equal(t, 2, repo.Len())
}

func TestManager_DeleteOneTimeOnlyOnUse(t *testing.T) {
	ctx := context.Background()
	client := testClient(clients.RefreshTokenOneTimeOnly, clients.RefreshTokenAbsolute)
	m, repo := newManager(refresh.WithDeleteOneTimeOnlyOnUse(true))

	handle, err := m.Create(ctx, client, alice, []string{"api"}, nil, "")
	require.NoError(t, err)
	rt, err := m.Get(ctx, handle)
	require.NoError(t, err)

	next, err := m.Update(ctx, handle, rt, client)
	require.NoError(t, err)
	_, err = m.Get(ctx, handle)
	require.ErrorIs(t, err, grants.ErrNotFound)
	_, err = m.Get(ctx, next)
	require.NoError(t, err)
	require.Equal(t, 1, repo.Len())
}

func TestManager_ReUse(t *testing.T) {
	now := t0
	setClock(t, &now)
	ctx := context.Background()

	t.Run("sliding extends up to the absolute lifetime", func(t *testing.T) {
		client := testClient(clients.RefreshTokenReUse, clients.RefreshTokenSliding)
		m, _ := newManager()
		now = t0
		handle, err := m.Create(ctx, client, alice, []string{"api"}, nil, "")
		require.NoError(t, err)
		rt, err := m.Get(ctx, handle)
		require.NoError(t, err)

		now = t0.Add(90 * time.Minute)
		same, err := m.Update(ctx, handle, rt, client)
		require.NoError(t, err)
		require.Equal(t, handle, same)
		rt, err = m.Get(ctx, handle)
		require.NoError(t, err)
		require.Equal(t, 210*time.Minute, rt.Lifetime)

		now = t0.Add(9 * time.Hour)
		_, err = m.Update(ctx, handle, rt, client)
		require.NoError(t, err)
		rt, err = m.Get(ctx, handle)
		require.NoError(t, err)
		require.Equal(t, 10*time.Hour, rt.Lifetime)
	})

	t.Run("absolute keeps the handle untouched", func(t *testing.T) {
		client := testClient(clients.RefreshTokenReUse, clients.RefreshTokenAbsolute)
		m, _ := newManager()
		now = t0
		handle, err := m.Create(ctx, client, alice, []string{"api"}, nil, "")
		require.NoError(t, err)
		rt, err := m.Get(ctx, handle)
		require.NoError(t, err)

		now = t0.Add(time.Hour)
		same, err := m.Update(ctx, handle, rt, client)
		require.NoError(t, err)
		require.Equal(t, handle, same)
		rt, err = m.Get(ctx, handle)
		require.NoError(t, err)
		require.Equal(t, 10*time.Hour, rt.Lifetime)
		require.Nil(t, rt.ConsumedTime)
	})
}
