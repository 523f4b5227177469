package redisrepo_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/grants/redisrepo"
	"github.com/jrsteele09/go-oidc-engine/grants/storetest"
)

func newRepo(t *testing.T) (*redisrepo.RedisGrantRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisrepo.New(client, "test:"), mr
}

func TestRedisGrantRepo(t *testing.T) {
	storetest.Run(t, func(t *testing.T) grants.Store {
		repo, _ := newRepo(t)
		return repo
	})
}

func TestRedisGrantRepo_IndexesFollowUpdates(t *testing.T) {
	ctx := context.Background()
	repo, mr := newRepo(t)

	g := storetest.Grant("dev", grants.DeviceCodeGrant, "tv", "", "", time.Minute)
	require.NoError(t, repo.Create(ctx, g))
	require.True(t, mr.Exists("test:grant:dev"))

	require.NoError(t, repo.Update(ctx, "dev", func(g *grants.PersistedGrant) error {
		g.SubjectID = "alice"
		return nil
	}))
	list, err := repo.GetAll(ctx, grants.Filter{SubjectID: "alice"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, repo.Remove(ctx, "dev"))
	require.False(t, mr.Exists("test:grant:dev"))
	members, err := mr.SMembers("test:idx:sub:alice")
	if err == nil {
		require.Empty(t, members)
	}
}
