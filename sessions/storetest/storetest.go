// Package storetest is the behavioural suite every sessions.Store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/sessions"
)

type Factory func(t *testing.T) sessions.Store

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Session builds a fixture created at the suite's base time plus offset.
func Session(key, subjectID, sessionID string, offset, lifetime time.Duration) *sessions.ServerSideSession {
	created := baseTime.Add(offset)
	return &sessions.ServerSideSession{
		Key:         key,
		Scheme:      "cookie",
		SubjectID:   subjectID,
		SessionID:   sessionID,
		DisplayName: subjectID,
		Created:     created,
		Renewed:     created,
		Expires:     utils.Ptr(created.Add(lifetime)),
		ClientIDs:   []string{"web"},
		Ticket:      `{"sub":"` + subjectID + `"}`,
	}
}

func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("create get update delete", func(t *testing.T) {
		s := newStore(t)
		session := Session("k1", "alice", "sid1", 0, time.Hour)
		require.NoError(t, s.Create(ctx, session))
		require.ErrorIs(t, s.Create(ctx, session), sessions.ErrDuplicateKey)

		got, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, "alice", got.SubjectID)
		require.Equal(t, []string{"web"}, got.ClientIDs)
		require.Equal(t, session.Ticket, got.Ticket)

		got.AddClient("spa")
		require.NoError(t, s.Update(ctx, got))
		got, err = s.Get(ctx, "k1")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"web", "spa"}, got.ClientIDs)

		require.NoError(t, s.Delete(ctx, "k1"))
		require.NoError(t, s.Delete(ctx, "k1"))
		_, err = s.Get(ctx, "k1")
		require.ErrorIs(t, err, sessions.ErrNotFound)
		require.ErrorIs(t, s.Update(ctx, session), sessions.ErrNotFound)
	})

	t.Run("filters", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, Session("a1", "alice", "s1", 0, time.Hour)))
		require.NoError(t, s.Create(ctx, Session("a2", "alice", "s2", time.Second, time.Hour)))
		require.NoError(t, s.Create(ctx, Session("b1", "bob", "s3", 2*time.Second, time.Hour)))

		_, err := s.GetSessions(ctx, sessions.Filter{})
		require.ErrorIs(t, err, sessions.ErrEmptyFilter)

		list, err := s.GetSessions(ctx, sessions.Filter{SubjectID: "alice"})
		require.NoError(t, err)
		require.Len(t, list, 2)

		require.NoError(t, s.DeleteSessions(ctx, sessions.Filter{SubjectID: "alice", SessionID: "s2"}))
		list, err = s.GetSessions(ctx, sessions.Filter{SubjectID: "alice"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "a1", list[0].Key)
	})

	t.Run("expired sessions are claimed once", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Create(ctx, Session(fmt.Sprintf("e%d", i), "alice", fmt.Sprintf("s%d", i), time.Duration(i)*time.Second, time.Minute)))
		}
		require.NoError(t, s.Create(ctx, Session("live", "bob", "sl", 0, 24*time.Hour)))

		now := baseTime.Add(time.Hour)
		claimed, err := s.GetAndRemoveExpiredSessions(ctx, now, 3)
		require.NoError(t, err)
		require.Len(t, claimed, 3)
		require.Equal(t, "e0", claimed[0].Key)

		claimed, err = s.GetAndRemoveExpiredSessions(ctx, now, 3)
		require.NoError(t, err)
		require.Len(t, claimed, 2)

		claimed, err = s.GetAndRemoveExpiredSessions(ctx, now, 3)
		require.NoError(t, err)
		require.Empty(t, claimed)

		_, err = s.Get(ctx, "live")
		require.NoError(t, err)
	})

	t.Run("query pages", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 7; i++ {
			require.NoError(t, s.Create(ctx, Session(fmt.Sprintf("q%d", i), "carol", fmt.Sprintf("s%d", i), time.Duration(i)*time.Second, time.Hour)))
		}
		require.NoError(t, s.Create(ctx, Session("other", "dave", "sx", 0, time.Hour)))

		res, err := s.QuerySessions(ctx, sessions.Query{SubjectID: "carol", Page: 1, PageSize: 3})
		require.NoError(t, err)
		require.Equal(t, 7, res.TotalCount)
		require.Equal(t, 3, res.TotalPages)
		require.True(t, res.HasNext)
		require.Len(t, res.Results, 3)
		require.Equal(t, "q0", res.Results[0].Key)

		res, err = s.QuerySessions(ctx, sessions.Query{SubjectID: "carol", Page: 3, PageSize: 3})
		require.NoError(t, err)
		require.False(t, res.HasNext)
		require.Len(t, res.Results, 1)
		require.Equal(t, "q6", res.Results[0].Key)

		res, err = s.QuerySessions(ctx, sessions.Query{})
		require.NoError(t, err)
		require.Equal(t, 8, res.TotalCount)
	})
}
