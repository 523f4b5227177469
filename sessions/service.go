package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

const DefaultLifetime = 8 * time.Hour

// Service manages the session records behind the login cookie.
type Service struct {
	store    Store
	lifetime time.Duration
	sliding  bool
	nowFunc  func() time.Time
}

type Option func(*Service)

func WithLifetime(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lifetime = d
		}
	}
}

// WithSlidingExpiration pushes the expiry out each time the session is used.
func WithSlidingExpiration(enabled bool) Option {
	return func(s *Service) {
		s.sliding = enabled
	}
}

func WithNowFunc(f func() time.Time) Option {
	return func(s *Service) {
		s.nowFunc = f
	}
}

func NewService(store Store, options ...Option) *Service {
	s := &Service{
		store:    store,
		lifetime: DefaultLifetime,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Store exposes the underlying store to the cleanup and logout services.
func (s *Service) Store() Store {
	return s.store
}

// Create starts a session for subject. A session id is generated when the subject has none.
func (s *Service) Create(ctx context.Context, subject grants.Subject, displayName string) (*ServerSideSession, error) {
	if subject.SubjectID == "" {
		return nil, errors.Wrapf(errors.ErrInternal, "session subject is required")
	}
	now := s.nowFunc().UTC()
	if subject.SessionID == "" {
		subject.SessionID = uuid.NewString()
	}
	if subject.AuthTime.IsZero() {
		subject.AuthTime = now
	}
	ticket, err := json.Marshal(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session ticket: %w", err)
	}
	session := &ServerSideSession{
		Key:         uuid.NewString(),
		Scheme:      "cookie",
		SubjectID:   subject.SubjectID,
		SessionID:   subject.SessionID,
		DisplayName: displayName,
		Created:     now,
		Renewed:     now,
		Expires:     utils.Ptr(now.Add(s.lifetime)),
		Ticket:      string(ticket),
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Authenticate resolves a session key to its subject. Expired sessions are reported as not
// found; with sliding expiration a successful lookup renews the session.
func (s *Service) Authenticate(ctx context.Context, key string) (*ServerSideSession, *grants.Subject, error) {
	session, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	now := s.nowFunc().UTC()
	if session.IsExpired(now) {
		return nil, nil, ErrNotFound
	}
	var subject grants.Subject
	if err := json.Unmarshal([]byte(session.Ticket), &subject); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal session ticket: %w", err)
	}
	if s.sliding {
		session.Renewed = now
		session.Expires = utils.Ptr(now.Add(s.lifetime))
		if err := s.store.Update(ctx, session); err != nil {
			return nil, nil, err
		}
	}
	return session, &subject, nil
}

// AddClient records a client in the session so logout can notify it.
func (s *Service) AddClient(ctx context.Context, key, clientID string) error {
	session, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !session.AddClient(clientID) {
		return nil
	}
	return s.store.Update(ctx, session)
}

// AddClientToSession records clientID in every live session matching subject and session id.
// It is used by the authorize endpoint, which only knows the subject.
func (s *Service) AddClientToSession(ctx context.Context, subjectID, sessionID, clientID string) error {
	list, err := s.store.GetSessions(ctx, Filter{SubjectID: subjectID, SessionID: sessionID})
	if err != nil {
		return err
	}
	now := s.nowFunc().UTC()
	for _, session := range list {
		if session.IsExpired(now) || !session.AddClient(clientID) {
			continue
		}
		if err := s.store.Update(ctx, session); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a live session with this subject and session id is still stored.
func (s *Service) Exists(ctx context.Context, subjectID, sessionID string) (bool, error) {
	list, err := s.store.GetSessions(ctx, Filter{SubjectID: subjectID, SessionID: sessionID})
	if err != nil {
		return false, err
	}
	now := s.nowFunc().UTC()
	for _, session := range list {
		if !session.IsExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

// Remove deletes the session behind a cookie.
func (s *Service) Remove(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}
