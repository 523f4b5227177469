package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/internal/config"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/users"
)

const (
	SystemClientID   = "admin-dashboard"
	SystemClientName = "Admin Dashboard"

	// Public client for general authorization code flows
	PublicClientID   = "oauth-client"
	PublicClientName = "OAuth Public Client"
)

// ClientCatalog is a client store that can be seeded.
type ClientCatalog interface {
	clients.Repo
	clients.Writer
}

// InitialiseSystem makes sure the admin dashboard client, the public client and an
// administrator exist. It returns the administrator's password when it generated one.
func InitialiseSystem(ctx context.Context, cfg *config.Config, clientRepo ClientCatalog, userRepo users.Repo, logger zerolog.Logger) (generatedPassword string, err error) {
	baseURL := cfg.Server.BaseURL

	adminClient, err := ensureClient(ctx, clientRepo, publicClient(SystemClientID, SystemClientName, baseURL+"/admin/callback"), logger)
	if err != nil {
		return "", fmt.Errorf("[InitialiseSystem] failed to bootstrap admin client: %w", err)
	}
	publicOAuthClient, err := ensureClient(ctx, clientRepo, publicClient(PublicClientID, PublicClientName, baseURL+"/callback"), logger)
	if err != nil {
		return "", fmt.Errorf("[InitialiseSystem] failed to bootstrap public client: %w", err)
	}

	adminEmail := generateEmailFromBaseURL(cfg.Bootstrap.AdminUser, baseURL)
	generatedPassword, err = createSuperAdmin(ctx, userRepo, cfg.Bootstrap.AdminUser, adminEmail, cfg.Bootstrap.AdminPassword, logger)
	if err != nil {
		return "", fmt.Errorf("[InitialiseSystem] failed to bootstrap administrator: %w", err)
	}

	logger.Info().
		Str("issuer", baseURL).
		Str("discovery", baseURL+RouteWellKnownOpenIDConfig).
		Strs("clients", []string{adminClient.ClientID, publicOAuthClient.ClientID}).
		Msg("system initialised")
	return generatedPassword, nil
}

func publicClient(id, name, redirectURI string) *clients.Client {
	return &clients.Client{
		ClientID:            id,
		ClientName:          name,
		Enabled:             true,
		RequireClientSecret: false,
		AllowedGrantTypes:   []string{oauthmodel.AuthorizationCodeGrant, oauthmodel.RefreshTokenGrant},
		RedirectURIs: []string{
			redirectURI,
			"http://localhost:3000/callback", // Dev frontend
		},
		AllowedScopes:        []string{oauthmodel.OpenIDScope, "profile", "email", oauthmodel.OfflineAccessScope},
		RequirePkce:          true,
		AllowOfflineAccess:   true,
		AllowRememberConsent: true,
		AccessTokenType:      clients.AccessTokenJWT,
	}
}

func ensureClient(ctx context.Context, repo ClientCatalog, client *clients.Client, logger zerolog.Logger) (*clients.Client, error) {
	existing, err := repo.Get(ctx, client.ClientID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, errors.ErrClientNotFound) {
		return nil, err
	}
	if err := repo.Upsert(ctx, client); err != nil {
		return nil, err
	}
	logger.Info().Str("client_id", client.ClientID).Msg("created public client (PKCE)")
	return client, nil
}

// createSuperAdmin creates the administrator unless a user with the admin role exists. An
// empty password is replaced by a generated one that must be changed on first login.
func createSuperAdmin(ctx context.Context, repo users.Repo, username, email, password string, logger zerolog.Logger) (generatedPassword string, err error) {
	existingUsers, err := repo.List(ctx, 0, 100)
	if err != nil {
		return "", fmt.Errorf("failed to check for existing users: %w", err)
	}
	for _, user := range existingUsers {
		if user.HasRole(users.RoleAdmin) {
			return "", nil
		}
	}

	passwordChangeRequired := false
	if password == "" {
		passwordBytes := make([]byte, 16)
		if _, err := rand.Read(passwordBytes); err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		password = base64.URLEncoding.EncodeToString(passwordBytes)
		generatedPassword = password
		passwordChangeRequired = true
	}
	passwordHash, err := users.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	admin := &users.User{
		ID:                     uuid.NewString(),
		Email:                  email,
		Username:               username,
		PasswordHash:           passwordHash,
		FirstName:              "System",
		LastName:               "Administrator",
		DateJoined:             now,
		UpdatedAt:              now,
		Roles:                  []users.RoleType{users.RoleAdmin},
		Verified:               true,
		PasswordChangeRequired: passwordChangeRequired,
	}
	if err := repo.Upsert(ctx, admin); err != nil {
		return "", fmt.Errorf("failed to create administrator: %w", err)
	}
	logger.Info().Str("email", admin.Email).Msg("created administrator")
	return generatedPassword, nil
}

// generateEmailFromBaseURL creates an email address from a username and base URL
// Example: ("admin", "https://auth.example.com/path") -> "admin@auth.example.com"
func generateEmailFromBaseURL(user, baseURL string) string {
	domain := strings.ReplaceAll(strings.ReplaceAll(baseURL, "https://", ""), "http://", "")
	domain = strings.SplitN(domain, "/", 2)[0]
	domain = strings.SplitN(domain, ":", 2)[0]
	return fmt.Sprintf("%s@%s", user, domain)
}
