package oauthmodel

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
// Determines what credentials are required to obtain tokens.
type GrantType = string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	AuthorizationCodeGrant GrantType = "authorization_code"

	// ClientCredentialsGrant allows machine-to-machine authentication (no user context).
	ClientCredentialsGrant GrantType = "client_credentials"

	// RefreshTokenGrant exchanges a refresh token for new tokens.
	RefreshTokenGrant GrantType = "refresh_token"

	// PasswordGrant is the resource owner password credentials grant.
	PasswordGrant GrantType = "password"

	// ImplicitGrant is not sent to the token endpoint but is listed in a client's allowed grants.
	ImplicitGrant GrantType = "implicit"

	// HybridGrant allows response types that combine a code with tokens.
	HybridGrant GrantType = "hybrid"

	// DeviceCodeGrant is the RFC 8628 device authorization grant.
	DeviceCodeGrant GrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// CibaGrant is the OpenID Connect client initiated backchannel authentication grant.
	CibaGrant GrantType = "urn:openid:params:grant-type:ciba"
)

// ResponseType represents the OAuth 2.0 response type.
// Determines what is returned from the authorization endpoint.
type ResponseType = string

const (
	CodeResponseType             ResponseType = "code"
	TokenResponseType            ResponseType = "token"
	IDTokenResponseType          ResponseType = "id_token"
	IDTokenTokenResponseType     ResponseType = "id_token token"
	CodeIDTokenResponseType      ResponseType = "code id_token"
	CodeTokenResponseType        ResponseType = "code token"
	CodeIDTokenTokenResponseType ResponseType = "code id_token token"
)

// ResponseModeType denotes how the authorization response parameters are returned to the client.
type ResponseModeType = string

const (
	// QueryResponseMode returns parameters in the URL query string.
	QueryResponseMode ResponseModeType = "query"

	// FragmentResponseMode returns parameters in the URL fragment (after #).
	FragmentResponseMode ResponseModeType = "fragment"

	// FormPostResponseMode returns parameters via HTTP POST with an auto-submitting HTML form.
	FormPostResponseMode ResponseModeType = "form_post"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
type CodeMethodType = string

const (
	// CodeMethodTypeS256: code_challenge = BASE64URL(SHA256(code_verifier))
	CodeMethodTypeS256 CodeMethodType = "S256"

	// CodeMethodTypePlain: code_challenge = code_verifier
	CodeMethodTypePlain CodeMethodType = "plain"
)

// PKCE verifier and challenge lengths (RFC 7636 section 4.1).
const (
	CodeVerifierMinLength = 43
	CodeVerifierMaxLength = 128
)

// Prompt values of the authorize request.
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
	PromptCreate        = "create"
)

// Scopes with protocol meaning.
const (
	OpenIDScope        = "openid"
	OfflineAccessScope = "offline_access"
)

// Token type identifiers.
const (
	TokenTypeBearer        = "Bearer"
	TokenTypeHintAccess    = "access_token"
	TokenTypeHintRefresh   = "refresh_token"
	AccessTokenTypeJWT     = "at+jwt"
	LogoutTokenType        = "logout+jwt"
	RequestURIPrefix       = "urn:ietf:params:oauth:request_uri:"
	BackchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"
)

// Client authentication methods advertised in discovery.
const (
	ClientSecretBasic = "client_secret_basic"
	ClientSecretPost  = "client_secret_post"
	ClientSecretJWT   = "client_secret_jwt"
	TLSClientAuth     = "tls_client_auth"

	ClientAssertionJWTBearerType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)
