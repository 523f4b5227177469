package logout_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jrsteele09/go-oidc-engine/clients"
	fakeclientrepo "github.com/jrsteele09/go-oidc-engine/clients/fakerepo"
	"github.com/jrsteele09/go-oidc-engine/grants"
	grantrepofake "github.com/jrsteele09/go-oidc-engine/grants/repofake"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/logout"
	"github.com/jrsteele09/go-oidc-engine/logout/mocks"
	"github.com/jrsteele09/go-oidc-engine/sessions"
	sessionrepofake "github.com/jrsteele09/go-oidc-engine/sessions/repofake"
	"github.com/jrsteele09/go-oidc-engine/token/jwt"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
	keyrepofake "github.com/jrsteele09/go-oidc-engine/token/keys/repofake"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

const issuer = "https://id.example.com"

type fixture struct {
	sessions *sessionrepofake.FakeSessionRepo
	grants   *grantrepofake.FakeGrantRepo
	service  *logout.SessionManagementService
}

func newCreator(t *testing.T) *jwt.Creator {
	t.Helper()
	opts := keys.DefaultOptions()
	opts.Algorithms = []keys.AlgorithmOptions{{Algorithm: keys.ES256}}
	km, err := keys.NewManager(keyrepofake.NewFakeKeyRepo(), opts)
	require.NoError(t, err)
	return jwt.NewCreator(km)
}

func newFixture(t *testing.T, notifier logout.BackchannelLogoutNotifier) *fixture {
	t.Helper()
	repo := fakeclientrepo.NewFakeClientRepo(
		&clients.Client{ClientID: "web", Enabled: true, BackChannelLogoutURI: "https://web.example.com/logout"},
		&clients.Client{ClientID: "spa", Enabled: true},
		&clients.Client{ClientID: "api", Enabled: true, BackChannelLogoutURI: "https://api.example.com/logout", BackChannelLogoutSessionRequired: true},
	)
	f := &fixture{
		sessions: sessionrepofake.NewFakeSessionRepo(),
		grants:   grantrepofake.NewFakeGrantRepo(),
	}
	f.service = logout.NewSessionManagementService(f.sessions, f.grants, repo, newCreator(t), notifier, issuer)
	return f
}

func (f *fixture) session(t *testing.T, subjectID, sessionID string, clientIDs ...string) {
	t.Helper()
	require.NoError(t, f.sessions.Create(t.Context(), &sessions.ServerSideSession{
		Key:       "key-" + sessionID,
		SubjectID: subjectID,
		SessionID: sessionID,
		Created:   time.Now(),
		Renewed:   time.Now(),
		ClientIDs: clientIDs,
	}))
}

func (f *fixture) grant(t *testing.T, key string, typ grants.Type, subjectID, sessionID, clientID string) {
	t.Helper()
	require.NoError(t, f.grants.Create(t.Context(), &grants.PersistedGrant{
		Key:          key,
		Type:         typ,
		SubjectID:    subjectID,
		SessionID:    sessionID,
		ClientID:     clientID,
		CreationTime: time.Now(),
		Expiration:   utils.Ptr(time.Now().Add(time.Hour)),
	}))
}

func (f *fixture) exists(t *testing.T, key string) bool {
	t.Helper()
	_, err := f.grants.Get(t.Context(), key)
	return err == nil
}

func TestSessionManagementService_RemoveSessions(t *testing.T) {
	t.Run("empty filter", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.service.RemoveSessions(t.Context(), logout.RemoveSessionsContext{RemoveServerSideSession: true})
		require.ErrorIs(t, err, sessions.ErrEmptyFilter)
	})

	t.Run("session only", func(t *testing.T) {
		f := newFixture(t, nil)
		f.session(t, "alice", "sid-1", "web")
		f.session(t, "alice", "sid-2", "web")
		f.grant(t, "ref-1", grants.ReferenceTokenGrant, "alice", "sid-1", "web")

		require.NoError(t, f.service.RemoveSessions(t.Context(), logout.RemoveSessionsContext{
			SubjectID: "alice", SessionID: "sid-1", RemoveServerSideSession: true,
		}))
		require.Equal(t, 1, f.sessions.Len())
		require.True(t, f.exists(t, "ref-1"))
	})

	t.Run("tokens and consent", func(t *testing.T) {
		f := newFixture(t, nil)
		f.grant(t, "ref-1", grants.ReferenceTokenGrant, "alice", "sid-1", "web")
		f.grant(t, "rt-1", grants.RefreshTokenGrant, "alice", "sid-1", "web")
		f.grant(t, "code-1", grants.AuthorizationCodeGrant, "alice", "sid-1", "spa")
		f.grant(t, "ref-other", grants.ReferenceTokenGrant, "alice", "sid-2", "web")
		f.grant(t, "consent-web", grants.UserConsentGrant, "alice", "", "web")
		f.grant(t, "consent-spa", grants.UserConsentGrant, "alice", "", "spa")

		require.NoError(t, f.service.RemoveSessions(t.Context(), logout.RemoveSessionsContext{
			SubjectID: "alice", SessionID: "sid-1", ClientIDs: []string{"web"},
			RevokeTokens: true, RevokeConsents: true,
		}))
		require.False(t, f.exists(t, "ref-1"))
		require.False(t, f.exists(t, "rt-1"))
		require.True(t, f.exists(t, "code-1"))
		require.True(t, f.exists(t, "ref-other"))
		require.False(t, f.exists(t, "consent-web"))
		require.True(t, f.exists(t, "consent-spa"))
	})

	t.Run("back-channel notifications", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		notifier := mocks.NewMockBackchannelLogoutNotifier(ctrl)
		f := newFixture(t, notifier)
		f.session(t, "alice", "sid-1", "web", "spa", "api", "gone")

		var (
			mu   sync.Mutex
			sent []string
		)
		notifier.EXPECT().SendLogoutNotification(gomock.Any(), gomock.Any()).Times(2).
			DoAndReturn(func(_ context.Context, n logout.LogoutNotification) error {
				mu.Lock()
				defer mu.Unlock()
				sent = append(sent, n.ClientID)
				require.NotEmpty(t, n.LogoutToken)
				require.Contains(t, n.URI, n.ClientID+".example.com")
				return nil
			})

		require.NoError(t, f.service.RemoveSessions(t.Context(), logout.RemoveSessionsContext{
			SubjectID: "alice", RemoveServerSideSession: true, SendBackchannelLogoutNotification: true,
		}))
		sort.Strings(sent)
		require.Equal(t, []string{"api", "web"}, sent)
		require.Zero(t, f.sessions.Len())
	})

	t.Run("notifications limited to the selected clients", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		notifier := mocks.NewMockBackchannelLogoutNotifier(ctrl)
		f := newFixture(t, notifier)
		f.session(t, "alice", "sid-1", "web", "api")

		notifier.EXPECT().SendLogoutNotification(gomock.Any(), gomock.Any()).Times(1).
			DoAndReturn(func(_ context.Context, n logout.LogoutNotification) error {
				require.Equal(t, "web", n.ClientID)
				return nil
			})

		require.NoError(t, f.service.RemoveSessions(t.Context(), logout.RemoveSessionsContext{
			SessionID: "sid-1", ClientIDs: []string{"web"}, SendBackchannelLogoutNotification: true,
		}))
		require.Equal(t, 1, f.sessions.Len())
	})

	t.Run("delivery failures are not returned", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		notifier := mocks.NewMockBackchannelLogoutNotifier(ctrl)
		f := newFixture(t, notifier)
		f.session(t, "alice", "sid-1", "web")

		notifier.EXPECT().SendLogoutNotification(gomock.Any(), gomock.Any()).Return(context.DeadlineExceeded)

		require.NoError(t, f.service.RemoveSessions(t.Context(), logout.RemoveSessionsContext{
			SubjectID: "alice", RemoveServerSideSession: true, SendBackchannelLogoutNotification: true,
		}))
	})
}

func TestSessionManagementService_EndExpiredSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockBackchannelLogoutNotifier(ctrl)
	f := newFixture(t, notifier)
	f.grant(t, "ref-1", grants.ReferenceTokenGrant, "alice", "sid-1", "web")
	expired := &sessions.ServerSideSession{Key: "key-sid-1", SubjectID: "alice", SessionID: "sid-1", ClientIDs: []string{"web"}}

	t.Run("nothing requested", func(t *testing.T) {
		require.NoError(t, f.service.EndExpiredSession(t.Context(), expired, false, false))
		require.True(t, f.exists(t, "ref-1"))
	})

	t.Run("revoke and notify", func(t *testing.T) {
		notifier.EXPECT().SendLogoutNotification(gomock.Any(), gomock.Any()).Return(nil)
		require.NoError(t, f.service.EndExpiredSession(t.Context(), expired, true, true))
		require.False(t, f.exists(t, "ref-1"))
	})
}

func TestEndSessionService_Process(t *testing.T) {
	f := newFixture(t, nil)
	f.session(t, "alice", "sid-1", "web")
	s := logout.NewEndSessionService(f.service, false)

	t.Run("without a session", func(t *testing.T) {
		result, err := s.Process(t.Context(), &validation.ValidatedEndSessionRequest{})
		require.NoError(t, err)
		require.False(t, result.SignedOut)
		require.Empty(t, result.RedirectURI)
	})

	t.Run("signed out with state", func(t *testing.T) {
		req := &validation.ValidatedEndSessionRequest{
			PostLogoutRedirectURI: "https://app.example.com/bye?lang=en",
			State:                 "xyz",
		}
		req.Subject = &grants.Subject{SubjectID: "alice"}
		req.SessionID = "sid-1"

		result, err := s.Process(t.Context(), req)
		require.NoError(t, err)
		require.True(t, result.SignedOut)
		require.Equal(t, "https://app.example.com/bye?lang=en&state=xyz", result.RedirectURI)
		require.Zero(t, f.sessions.Len())
	})
}

func TestHTTPBackchannelLogoutNotifier_SendLogoutNotification(t *testing.T) {
	newServer := func(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
		t.Helper()
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := int(calls.Add(1))
			require.NoError(t, r.ParseForm())
			require.Equal(t, "token", r.PostForm.Get("logout_token"))
			w.WriteHeader(statuses[min(n, len(statuses))-1])
		}))
		t.Cleanup(srv.Close)
		return srv, &calls
	}
	notification := func(uri string) logout.LogoutNotification {
		return logout.LogoutNotification{ClientID: "web", URI: uri, LogoutToken: "token"}
	}
	n := logout.NewHTTPBackchannelLogoutNotifier(nil, time.Second)

	t.Run("ok", func(t *testing.T) {
		srv, calls := newServer(t, http.StatusOK)
		require.NoError(t, n.SendLogoutNotification(t.Context(), notification(srv.URL)))
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("server errors are retried", func(t *testing.T) {
		srv, calls := newServer(t, http.StatusBadGateway, http.StatusOK)
		require.NoError(t, n.SendLogoutNotification(t.Context(), notification(srv.URL)))
		require.Equal(t, int32(2), calls.Load())
	})

	t.Run("client errors are final", func(t *testing.T) {
		srv, calls := newServer(t, http.StatusBadRequest)
		require.Error(t, n.SendLogoutNotification(t.Context(), notification(srv.URL)))
		require.Equal(t, int32(1), calls.Load())
	})

	t.Run("gives up after three tries", func(t *testing.T) {
		srv, calls := newServer(t, http.StatusInternalServerError)
		require.Error(t, n.SendLogoutNotification(t.Context(), notification(srv.URL)))
		require.Equal(t, int32(3), calls.Load())
	})
}
