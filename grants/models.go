package grants

import (
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-engine/clients"
)

// Standard claim types used when reading stored tokens.
const (
	ClaimSubject  = "sub"
	ClaimSession  = "sid"
	ClaimScope    = "scope"
	ClaimClientID = "client_id"
	ClaimAuthTime = "auth_time"
	ClaimIdP      = "idp"
	ClaimAMR      = "amr"
	ClaimJTI      = "jti"
	ClaimNonce    = "nonce"
	ClaimAtHash   = "at_hash"
	ClaimCHash    = "c_hash"
	ClaimSHash    = "s_hash"
	ClaimActor    = "act"
)

// Token.Type values.
const (
	TokenTypeAccessToken   = "access_token"
	TokenTypeIdentityToken = "id_token"
)

// Claim is a single claim value. Multi-valued claims are repeated.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Subject is the authenticated principal carried by codes, refresh tokens, device and
// backchannel requests.
type Subject struct {
	SubjectID             string    `json:"sub"`
	SessionID             string    `json:"sid,omitempty"`
	AuthTime              time.Time `json:"auth_time"`
	IdentityProvider      string    `json:"idp,omitempty"`
	AuthenticationMethods []string  `json:"amr,omitempty"`
	Claims                []Claim   `json:"claims,omitempty"`
}

// Token is the payload of a reference access token and the source of JWT claims.
type Token struct {
	Type                     string                  `json:"type"`
	CreationTime             time.Time               `json:"creation_time"`
	Lifetime                 time.Duration           `json:"lifetime"`
	Issuer                   string                  `json:"issuer"`
	ClientID                 string                  `json:"client_id"`
	Audiences                []string                `json:"audiences"`
	Claims                   []Claim                 `json:"claims"`
	AccessTokenType          clients.AccessTokenType `json:"access_token_type"`
	AllowedSigningAlgorithms []string                `json:"allowed_signing_algorithms,omitempty"`
	Description              string                  `json:"description,omitempty"`
	Version                  int                     `json:"version"`
}

// ClaimValue returns the first value of the claim type.
func (t *Token) ClaimValue(claimType string) string {
	for _, c := range t.Claims {
		if c.Type == claimType {
			return c.Value
		}
	}
	return ""
}

// ClaimValues returns every value of the claim type.
func (t *Token) ClaimValues(claimType string) []string {
	var out []string
	for _, c := range t.Claims {
		if c.Type == claimType {
			out = append(out, c.Value)
		}
	}
	return out
}

func (t *Token) SubjectID() string { return t.ClaimValue(ClaimSubject) }
func (t *Token) SessionID() string { return t.ClaimValue(ClaimSession) }
func (t *Token) Scopes() []string  { return t.ClaimValues(ClaimScope) }

// Expiration is the absolute expiry of the token.
func (t *Token) Expiration() time.Time {
	return t.CreationTime.Add(t.Lifetime)
}

// RefreshToken is the payload of a refresh token grant.
type RefreshToken struct {
	CreationTime                 time.Time     `json:"creation_time"`
	Lifetime                     time.Duration `json:"lifetime"`
	ConsumedTime                 *time.Time    `json:"consumed_time,omitempty"`
	ClientID                     string        `json:"client_id"`
	Subject                      Subject       `json:"subject"`
	AuthorizedScopes             []string      `json:"authorized_scopes"`
	AuthorizedResourceIndicators []string      `json:"authorized_resource_indicators,omitempty"`
	Description                  string        `json:"description,omitempty"`
	Version                      int           `json:"version"`
}

func (r *RefreshToken) SubjectID() string { return r.Subject.SubjectID }
func (r *RefreshToken) SessionID() string { return r.Subject.SessionID }

// Expiration is the point the refresh token stops being redeemable.
func (r *RefreshToken) Expiration() time.Time {
	return r.CreationTime.Add(r.Lifetime)
}

// Consent records the scopes a subject granted to a client. A consent that is not Remembered
// answers a single authorize request and is removed when used.
type Consent struct {
	SubjectID    string     `json:"subject_id"`
	ClientID     string     `json:"client_id"`
	Scopes       []string   `json:"scopes"`
	Remembered   bool       `json:"remembered"`
	CreationTime time.Time  `json:"creation_time"`
	Expiration   *time.Time `json:"expiration,omitempty"`
}

// AuthorizationCode is the payload of an authorization code grant.
type AuthorizationCode struct {
	CreationTime                time.Time     `json:"creation_time"`
	Lifetime                    time.Duration `json:"lifetime"`
	ClientID                    string        `json:"client_id"`
	Subject                     Subject       `json:"subject"`
	IsOpenID                    bool          `json:"is_openid"`
	RequestedScopes             []string      `json:"requested_scopes"`
	RequestedResourceIndicators []string      `json:"requested_resource_indicators,omitempty"`
	RedirectURI                 string        `json:"redirect_uri"`
	Nonce                       string        `json:"nonce,omitempty"`
	StateHash                   string        `json:"state_hash,omitempty"`
	CodeChallenge               string        `json:"code_challenge,omitempty"`
	CodeChallengeMethod         string        `json:"code_challenge_method,omitempty"`
	WasConsentShown             bool          `json:"was_consent_shown"`
	Description                 string        `json:"description,omitempty"`
}

// Expiration is the point the code stops being redeemable.
func (c *AuthorizationCode) Expiration() time.Time {
	return c.CreationTime.Add(c.Lifetime)
}

// InteractionStatus is the tri-state outcome of an out-of-band user decision.
type InteractionStatus string

const (
	StatusPending  InteractionStatus = "pending"
	StatusApproved InteractionStatus = "approved"
	StatusDenied   InteractionStatus = "denied"
)

// DeviceCode is the payload of a device authorization grant. Subject is only set once the
// user approved the request.
type DeviceCode struct {
	CreationTime     time.Time         `json:"creation_time"`
	Lifetime         time.Duration     `json:"lifetime"`
	ClientID         string            `json:"client_id"`
	UserCode         string            `json:"user_code"`
	Description      string            `json:"description,omitempty"`
	IsOpenID         bool              `json:"is_openid"`
	RequestedScopes  []string          `json:"requested_scopes"`
	AuthorizedScopes []string          `json:"authorized_scopes,omitempty"`
	Status           InteractionStatus `json:"status"`
	Subject          *Subject          `json:"subject,omitempty"`
	SessionID        string            `json:"session_id,omitempty"`
}

// Expiration is the point the device code stops being redeemable.
func (d *DeviceCode) Expiration() time.Time {
	return d.CreationTime.Add(d.Lifetime)
}

// PushedAuthorizationRequest holds the raw authorize parameters pushed by a client.
type PushedAuthorizationRequest struct {
	ClientID     string              `json:"client_id"`
	CreationTime time.Time           `json:"creation_time"`
	Lifetime     time.Duration       `json:"lifetime"`
	Parameters   map[string][]string `json:"parameters"`
}

// Expiration is the point the request_uri stops being usable.
func (p *PushedAuthorizationRequest) Expiration() time.Time {
	return p.CreationTime.Add(p.Lifetime)
}

// BackchannelAuthenticationRequest is the payload of a CIBA request. InternalID is the
// storage key and is what the user-facing approval flow refers to.
type BackchannelAuthenticationRequest struct {
	InternalID                  string            `json:"internal_id"`
	CreationTime                time.Time         `json:"creation_time"`
	Lifetime                    time.Duration     `json:"lifetime"`
	ClientID                    string            `json:"client_id"`
	Subject                     Subject           `json:"subject"`
	IsOpenID                    bool              `json:"is_openid"`
	RequestedScopes             []string          `json:"requested_scopes"`
	RequestedResourceIndicators []string          `json:"requested_resource_indicators,omitempty"`
	AuthorizedScopes            []string          `json:"authorized_scopes,omitempty"`
	BindingMessage              string            `json:"binding_message,omitempty"`
	AcrValues                   []string          `json:"acr_values,omitempty"`
	Status                      InteractionStatus `json:"status"`
	SessionID                   string            `json:"session_id,omitempty"`
	Description                 string            `json:"description,omitempty"`
}

// Expiration is the point the auth_req_id stops being redeemable.
func (b *BackchannelAuthenticationRequest) Expiration() time.Time {
	return b.CreationTime.Add(b.Lifetime)
}

// ScopeString joins scopes the way they appear on the wire.
func ScopeString(scopes []string) string {
	return strings.Join(scopes, " ")
}
