package users

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
)

// LocalIdentityProvider is the idp claim of users authenticated against this store.
const LocalIdentityProvider = "local"

// Service exposes the user store to the protocol engine: profile claims for tokens and
// userinfo, password grant authentication and backchannel login hints.
type Service struct {
	repo    Repo
	nowFunc func() time.Time
	logger  zerolog.Logger
}

type ServiceOption func(*Service)

func WithNowFunc(f func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = f
	}
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

func NewService(repo Repo, options ...ServiceOption) *Service {
	s := &Service{
		repo:    repo,
		nowFunc: time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "users").Logger()
	return s
}

// GetProfileClaims returns the claims of the subject whose type is in claimTypes.
func (s *Service) GetProfileClaims(ctx context.Context, subject *grants.Subject, claimTypes []string) ([]grants.Claim, error) {
	if subject == nil || len(claimTypes) == 0 {
		return nil, nil
	}
	user, err := s.repo.GetByID(ctx, subject.SubjectID)
	if err != nil {
		return nil, errors.Wrapf(err, "profile of %q", subject.SubjectID)
	}
	wanted := make(map[string]struct{}, len(claimTypes))
	for _, ct := range claimTypes {
		wanted[ct] = struct{}{}
	}
	var out []grants.Claim
	for _, c := range user.Claims() {
		if _, ok := wanted[c.Type]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// IsActive reports whether the subject still exists and may receive tokens.
func (s *Service) IsActive(ctx context.Context, subjectID string) (bool, error) {
	user, err := s.repo.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsActive(), nil
}

// ValidateResourceOwner authenticates a password grant. The username may also be the
// user's email address.
func (s *Service) ValidateResourceOwner(ctx context.Context, username, password string) (*grants.Subject, error) {
	user, err := s.lookup(ctx, username)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			return nil, errors.ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPasswordHash(password, user.PasswordHash) {
		s.logger.Debug().Str("user_id", user.ID).Msg("password mismatch")
		return nil, errors.ErrInvalidCredentials
	}
	if !user.IsActive() {
		return nil, errors.ErrUserBlocked
	}
	return &grants.Subject{
		SubjectID:             user.ID,
		AuthTime:              s.nowFunc().UTC(),
		IdentityProvider:      LocalIdentityProvider,
		AuthenticationMethods: []string{"pwd"},
	}, nil
}

// ResolveLoginHint finds the user a backchannel request is addressed to. hint is a username
// or email; subjectID comes from a validated id_token_hint. Login hint tokens are not
// supported.
func (s *Service) ResolveLoginHint(ctx context.Context, hint, subjectID, hintToken string) (*grants.Subject, error) {
	var (
		user *User
		err  error
	)
	switch {
	case hintToken != "":
		return nil, errors.Wrapf(errors.ErrUnsupported, "login_hint_token")
	case subjectID != "":
		user, err = s.repo.GetByID(ctx, subjectID)
	default:
		user, err = s.lookup(ctx, hint)
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, errors.ErrUserBlocked
	}
	return &grants.Subject{SubjectID: user.ID, IdentityProvider: LocalIdentityProvider}, nil
}

func (s *Service) lookup(ctx context.Context, name string) (*User, error) {
	if strings.Contains(name, "@") {
		if user, err := s.repo.GetByEmail(ctx, name); err == nil {
			return user, nil
		}
	}
	return s.repo.GetByUsername(ctx, name)
}
