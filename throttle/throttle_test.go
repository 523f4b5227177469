package throttle_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/throttle"
)

func TestMemory_ShouldSlowDown(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th := throttle.NewMemory(func() time.Time { return now })

	slow, err := th.ShouldSlowDown(ctx, "device", 5*time.Second)
	require.NoError(t, err)
	require.False(t, slow, "first poll")

	now = now.Add(2 * time.Second)
	slow, _ = th.ShouldSlowDown(ctx, "device", 5*time.Second)
	require.True(t, slow, "poll inside the interval")

	now = now.Add(4 * time.Second)
	slow, _ = th.ShouldSlowDown(ctx, "device", 5*time.Second)
	require.True(t, slow, "the throttled poll restarted the interval")

	now = now.Add(5 * time.Second)
	slow, _ = th.ShouldSlowDown(ctx, "device", 5*time.Second)
	require.False(t, slow)

	slow, _ = th.ShouldSlowDown(ctx, "other", 5*time.Second)
	require.False(t, slow, "handles are independent")
}

func TestMemory_Prune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th := throttle.NewMemory(func() time.Time { return now })

	for _, handle := range []string{"a", "b", "c"} {
		_, err := th.ShouldSlowDown(ctx, handle, 5*time.Second)
		require.NoError(t, err)
	}
	require.Equal(t, 3, th.Len())

	now = now.Add(10 * time.Second)
	slow, _ := th.ShouldSlowDown(ctx, "a", 5*time.Second)
	require.False(t, slow, "a closed window no longer throttles")
	require.Equal(t, 3, th.Len(), "closed windows stay until the next sweep")

	now = now.Add(throttle.PruneInterval)
	slow, _ = th.ShouldSlowDown(ctx, "d", 5*time.Second)
	require.False(t, slow)
	require.Equal(t, 1, th.Len(), "the sweep keeps only the handle just polled")
}

func TestRedis_ShouldSlowDown(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	th := throttle.NewRedis(client, "test:")

	slow, err := th.ShouldSlowDown(ctx, "device", 5*time.Second)
	require.NoError(t, err)
	require.False(t, slow)

	slow, err = th.ShouldSlowDown(ctx, "device", 5*time.Second)
	require.NoError(t, err)
	require.True(t, slow)

	mr.FastForward(6 * time.Second)
	slow, err = th.ShouldSlowDown(ctx, "device", 5*time.Second)
	require.NoError(t, err)
	require.False(t, slow)
}
