package clients

import (
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

// AccessTokenType selects the format of issued access tokens.
type AccessTokenType string

const (
	AccessTokenJWT       AccessTokenType = "jwt"       // Self-contained signed token
	AccessTokenReference AccessTokenType = "reference" // Opaque handle resolved through the grant store
)

// RefreshTokenUsage controls whether a refresh handle may be redeemed more than once.
type RefreshTokenUsage string

const (
	RefreshTokenOneTimeOnly RefreshTokenUsage = "one_time_only"
	RefreshTokenReUse       RefreshTokenUsage = "reuse"
)

// RefreshTokenExpiration controls how refresh token lifetimes are computed.
type RefreshTokenExpiration string

const (
	RefreshTokenAbsolute RefreshTokenExpiration = "absolute"
	RefreshTokenSliding  RefreshTokenExpiration = "sliding"
)

// Secret types.
const (
	SecretTypeSharedSecret   = "SharedSecret"
	SecretTypeX509Thumbprint = "X509Thumbprint"
	// SecretTypeSymmetricKey holds a raw HMAC key that verifies client_secret_jwt assertions.
	SecretTypeSymmetricKey = "SymmetricKey"
)

// Secret is a client credential. Shared secret values are stored either as a base64
// SHA-256 hash or as a bcrypt hash.
type Secret struct {
	Type        string     `json:"type"`
	Value       string     `json:"value"`
	Description string     `json:"description,omitempty"`
	Expiration  *time.Time `json:"expiration,omitempty"`
}

// IsExpired reports whether the secret can no longer be used at now.
func (s Secret) IsExpired(now time.Time) bool {
	return s.Expiration != nil && !now.Before(*s.Expiration)
}

// Client is a registered relying party. The engine only reads clients.
type Client struct {
	ClientID    string   `json:"client_id"`
	ClientName  string   `json:"client_name"`
	Enabled     bool     `json:"enabled"`
	Secrets     []Secret `json:"secrets"`
	Description string   `json:"description,omitempty"`

	// RequireClientSecret is false for public clients (SPAs, native apps, devices).
	RequireClientSecret bool `json:"require_client_secret"`

	AllowedGrantTypes      []string `json:"allowed_grant_types"`
	RedirectURIs           []string `json:"redirect_uris"`
	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris"`
	AllowedScopes          []string `json:"allowed_scopes"`
	AllowedCorsOrigins     []string `json:"allowed_cors_origins"`

	RequirePkce                 bool `json:"require_pkce"`
	AllowPlainTextPkce          bool `json:"allow_plain_text_pkce"`
	RequireConsent              bool `json:"require_consent"`
	AllowRememberConsent        bool `json:"allow_remember_consent"`
	AllowOfflineAccess          bool `json:"allow_offline_access"`
	AllowAccessTokensViaBrowser bool `json:"allow_access_tokens_via_browser"`
	RequireBindingMessage       bool `json:"require_binding_message"`

	// ConsentLifetime of zero means a remembered consent never expires.
	ConsentLifetime time.Duration `json:"consent_lifetime"`

	AccessTokenType           AccessTokenType `json:"access_token_type"`
	AccessTokenLifetime       time.Duration   `json:"access_token_lifetime"`
	IdentityTokenLifetime     time.Duration   `json:"identity_token_lifetime"`
	AuthorizationCodeLifetime time.Duration   `json:"authorization_code_lifetime"`

	RefreshTokenUsage            RefreshTokenUsage      `json:"refresh_token_usage"`
	RefreshTokenExpiration       RefreshTokenExpiration `json:"refresh_token_expiration"`
	AbsoluteRefreshTokenLifetime time.Duration          `json:"absolute_refresh_token_lifetime"`
	SlidingRefreshTokenLifetime  time.Duration          `json:"sliding_refresh_token_lifetime"`

	DeviceCodeLifetime time.Duration `json:"device_code_lifetime"`
	UserCodeType       string        `json:"user_code_type,omitempty"`
	PollingInterval    time.Duration `json:"polling_interval"`
	CibaLifetime       time.Duration `json:"ciba_lifetime"`

	// Empty means any algorithm the key manager signs with.
	AllowedIdentityTokenSigningAlgorithms []string `json:"allowed_identity_token_signing_algorithms"`
	AllowedAccessTokenSigningAlgorithms   []string `json:"allowed_access_token_signing_algorithms"`

	BackChannelLogoutURI             string `json:"back_channel_logout_uri,omitempty"`
	BackChannelLogoutSessionRequired bool   `json:"back_channel_logout_session_required"`

	// Claims added to every access token issued to this client.
	Claims map[string]string `json:"claims,omitempty"`
}

// Defaults used when a client leaves a lifetime unset.
const (
	DefaultAccessTokenLifetime          = time.Hour
	DefaultIdentityTokenLifetime        = 5 * time.Minute
	DefaultAuthorizationCodeLifetime    = 5 * time.Minute
	DefaultAbsoluteRefreshTokenLifetime = 30 * 24 * time.Hour
	DefaultSlidingRefreshTokenLifetime  = 15 * 24 * time.Hour
	DefaultDeviceCodeLifetime           = 5 * time.Minute
	DefaultCibaLifetime                 = 5 * time.Minute
)

// IsPublic returns true if the client authenticates without a secret.
func (c *Client) IsPublic() bool {
	return !c.RequireClientSecret
}

// AllowsGrantType reports whether the client may use the given grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	return utils.Contains(c.AllowedGrantTypes, grantType)
}

// HasScope checks if the client has permission for a specific scope.
func (c *Client) HasScope(scope string) bool {
	return utils.Contains(c.AllowedScopes, scope)
}

// HasRedirectURI checks the redirect URI against the registered set using exact matching.
func (c *Client) HasRedirectURI(uri string) bool {
	return utils.Contains(c.RedirectURIs, uri)
}

// HasPostLogoutRedirectURI checks the URI against the registered post logout set.
func (c *Client) HasPostLogoutRedirectURI(uri string) bool {
	return utils.Contains(c.PostLogoutRedirectURIs, uri)
}

// AllowsCorsOrigin reports whether origin may call the token endpoints from a browser.
func (c *Client) AllowsCorsOrigin(origin string) bool {
	for _, o := range c.AllowedCorsOrigins {
		if strings.EqualFold(strings.TrimSuffix(o, "/"), strings.TrimSuffix(origin, "/")) {
			return true
		}
	}
	return false
}

func (c *Client) AccessTokenTTL() time.Duration {
	return orDefault(c.AccessTokenLifetime, DefaultAccessTokenLifetime)
}

func (c *Client) IdentityTokenTTL() time.Duration {
	return orDefault(c.IdentityTokenLifetime, DefaultIdentityTokenLifetime)
}

func (c *Client) AuthorizationCodeTTL() time.Duration {
	return orDefault(c.AuthorizationCodeLifetime, DefaultAuthorizationCodeLifetime)
}

func (c *Client) AbsoluteRefreshTokenTTL() time.Duration {
	return orDefault(c.AbsoluteRefreshTokenLifetime, DefaultAbsoluteRefreshTokenLifetime)
}

func (c *Client) SlidingRefreshTokenTTL() time.Duration {
	return orDefault(c.SlidingRefreshTokenLifetime, DefaultSlidingRefreshTokenLifetime)
}

func (c *Client) DeviceCodeTTL() time.Duration {
	return orDefault(c.DeviceCodeLifetime, DefaultDeviceCodeLifetime)
}

func (c *Client) CibaTTL() time.Duration {
	return orDefault(c.CibaLifetime, DefaultCibaLifetime)
}

// RefreshUsage returns the refresh token usage, defaulting to one-time use.
func (c *Client) RefreshUsage() RefreshTokenUsage {
	if c.RefreshTokenUsage == "" {
		return RefreshTokenOneTimeOnly
	}
	return c.RefreshTokenUsage
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
