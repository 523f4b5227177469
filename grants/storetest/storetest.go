// Package storetest is the behavioural suite every grants.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store.
type Factory func(t *testing.T) grants.Store

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Grant builds a grant fixture expiring after lifetime (never when zero).
func Grant(key string, grantType grants.Type, clientID, subjectID, sessionID string, lifetime time.Duration) *grants.PersistedGrant {
	g := &grants.PersistedGrant{
		Key:          key,
		Type:         grantType,
		ClientID:     clientID,
		SubjectID:    subjectID,
		SessionID:    sessionID,
		CreationTime: baseTime,
		Data:         `{"value":"` + key + `"}`,
	}
	if lifetime > 0 {
		g.Expiration = utils.Ptr(baseTime.Add(lifetime))
	}
	return g
}

// Run executes the suite against the backend.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		g := Grant("k1", grants.RefreshTokenGrant, "client", "alice", "sid1", time.Hour)
		g.Description = "device 1"
		require.NoError(t, s.Create(ctx, g))

		got, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, g.Type, got.Type)
		require.Equal(t, "client", got.ClientID)
		require.Equal(t, "alice", got.SubjectID)
		require.Equal(t, "sid1", got.SessionID)
		require.Equal(t, "device 1", got.Description)
		require.Equal(t, g.Data, got.Data)
		require.True(t, g.CreationTime.Equal(got.CreationTime))
		require.NotNil(t, got.Expiration)
		require.True(t, g.Expiration.Equal(*got.Expiration))
		require.Nil(t, got.ConsumedTime)
	})

	t.Run("duplicate key rejected", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Grant("dup", grants.UserConsentGrant, "c", "s", "", 0)))
		err := s.Create(ctx, Grant("dup", grants.UserConsentGrant, "c", "s", "", 0))
		require.ErrorIs(t, err, grants.ErrDuplicateKey)
	})

	t.Run("missing key is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		require.ErrorIs(t, err, grants.ErrNotFound)
	})

	t.Run("empty filter rejected", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Grant("k", grants.ReferenceTokenGrant, "c", "s", "", time.Hour)))
		_, err := s.GetAll(ctx, grants.Filter{})
		require.ErrorIs(t, err, grants.ErrEmptyFilter)
		require.ErrorIs(t, s.RemoveAll(ctx, grants.Filter{}), grants.ErrEmptyFilter)

		_, err = s.Get(ctx, "k")
		require.NoError(t, err)
	})

	t.Run("get all and remove all by filter", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Grant("a1", grants.RefreshTokenGrant, "c1", "alice", "s1", time.Hour)))
		require.NoError(t, s.Create(ctx, Grant("a2", grants.ReferenceTokenGrant, "c2", "alice", "s1", time.Hour)))
		require.NoError(t, s.Create(ctx, Grant("a3", grants.UserConsentGrant, "c1", "alice", "", 0)))
		require.NoError(t, s.Create(ctx, Grant("b1", grants.RefreshTokenGrant, "c1", "bob", "s2", time.Hour)))

		list, err := s.GetAll(ctx, grants.Filter{SubjectID: "alice"})
		require.NoError(t, err)
		require.Len(t, list, 3)

		list, err = s.GetAll(ctx, grants.Filter{SubjectID: "alice", ClientIDs: []string{"c1"}})
		require.NoError(t, err)
		require.Len(t, list, 2)

		list, err = s.GetAll(ctx, grants.Filter{SubjectID: "alice", Types: []grants.Type{grants.RefreshTokenGrant, grants.ReferenceTokenGrant}})
		require.NoError(t, err)
		require.Len(t, list, 2)

		list, err = s.GetAll(ctx, grants.Filter{SessionID: "s1", ClientID: "c2"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "a2", list[0].Key)

		require.NoError(t, s.RemoveAll(ctx, grants.Filter{SubjectID: "alice", Type: grants.RefreshTokenGrant}))
		_, err = s.Get(ctx, "a1")
		require.ErrorIs(t, err, grants.ErrNotFound)
		_, err = s.Get(ctx, "b1")
		require.NoError(t, err)

		require.NoError(t, s.RemoveAll(ctx, grants.Filter{SubjectID: "alice"}))
		list, err = s.GetAll(ctx, grants.Filter{SubjectID: "alice"})
		require.NoError(t, err)
		require.Empty(t, list)
	})

	t.Run("update", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Grant("u", grants.RefreshTokenGrant, "c", "s", "", time.Hour)))

		consumed := baseTime.Add(time.Minute)
		require.NoError(t, s.Update(ctx, "u", func(g *grants.PersistedGrant) error {
			g.ConsumedTime = &consumed
			g.Data = `{"value":"updated"}`
			return nil
		}))
		got, err := s.Get(ctx, "u")
		require.NoError(t, err)
		require.NotNil(t, got.ConsumedTime)
		require.True(t, consumed.Equal(*got.ConsumedTime))
		require.Equal(t, `{"value":"updated"}`, got.Data)

		abort := errors.New("abort")
		err = s.Update(ctx, "u", func(g *grants.PersistedGrant) error {
			g.Data = "lost"
			return abort
		})
		require.ErrorIs(t, err, abort)
		got, err = s.Get(ctx, "u")
		require.NoError(t, err)
		require.Equal(t, `{"value":"updated"}`, got.Data)

		err = s.Update(ctx, "missing", func(*grants.PersistedGrant) error { return nil })
		require.ErrorIs(t, err, grants.ErrNotFound)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Grant("race", grants.RefreshTokenGrant, "c", "s", "", time.Hour)))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Update(ctx, "race", func(g *grants.PersistedGrant) error {
					if g.ConsumedTime != nil {
						return grants.ErrAlreadyConsumed
					}
					g.ConsumedTime = utils.Ptr(baseTime.Add(time.Second))
					return nil
				})
				if err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Grant("r", grants.ReferenceTokenGrant, "c", "s", "", time.Hour)))
		require.NoError(t, s.Remove(ctx, "r"))
		require.NoError(t, s.Remove(ctx, "r"))
		_, err := s.Get(ctx, "r")
		require.ErrorIs(t, err, grants.ErrNotFound)
	})

	t.Run("expired and consumed queries", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Create(ctx, Grant(fmt.Sprintf("exp%d", i), grants.ReferenceTokenGrant, "c", "s", "", time.Duration(i+1)*time.Minute)))
		}
		require.NoError(t, s.Create(ctx, Grant("forever", grants.UserConsentGrant, "c", "s", "", 0)))
		require.NoError(t, s.Create(ctx, Grant("live", grants.ReferenceTokenGrant, "c", "s", "", 24*time.Hour)))

		now := baseTime.Add(10 * time.Minute)
		expired, err := s.Expired(ctx, now, 3)
		require.NoError(t, err)
		require.Len(t, expired, 3)
		require.Equal(t, "exp0", expired[0].Key)

		expired, err = s.Expired(ctx, now, 100)
		require.NoError(t, err)
		require.Len(t, expired, 5)

		keys := make([]string, 0, len(expired))
		for _, g := range expired {
			keys = append(keys, g.Key)
		}
		require.NoError(t, s.RemoveKeys(ctx, keys))
		require.NoError(t, s.RemoveKeys(ctx, keys))
		expired, err = s.Expired(ctx, now, 100)
		require.NoError(t, err)
		require.Empty(t, expired)

		require.NoError(t, s.Update(ctx, "live", func(g *grants.PersistedGrant) error {
			g.ConsumedTime = utils.Ptr(baseTime.Add(time.Minute))
			return nil
		}))
		consumed, err := s.Consumed(ctx, baseTime.Add(30*time.Second), 10)
		require.NoError(t, err)
		require.Empty(t, consumed)
		consumed, err = s.Consumed(ctx, now, 10)
		require.NoError(t, err)
		require.Len(t, consumed, 1)
		require.Equal(t, "live", consumed[0].Key)
	})
}
