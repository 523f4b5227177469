package oauthmodel

// ClientCredentials are the client authentication parameters that may accompany any
// back-channel request.
type ClientCredentials struct {
	ClientID            string `schema:"client_id"`
	ClientSecret        string `schema:"client_secret"`
	ClientAssertion     string `schema:"client_assertion"`
	ClientAssertionType string `schema:"client_assertion_type"`
}

// TokenRequest holds parameters for the OAuth2 token request.
// Supports authorization_code, client_credentials, refresh_token, password, device_code,
// ciba and extension grants.
type TokenRequest struct {
	ClientCredentials

	GrantType GrantType `schema:"grant_type"`

	// authorization_code
	Code         string `schema:"code"`
	RedirectURI  string `schema:"redirect_uri"`
	CodeVerifier string `schema:"code_verifier"`

	// refresh_token
	RefreshToken string `schema:"refresh_token"`

	// password
	Username string `schema:"username"`
	Password string `schema:"password"`

	// device_code
	DeviceCode string `schema:"device_code"`

	// ciba
	AuthReqID string `schema:"auth_req_id"`

	Scope    string `schema:"scope"`
	Resource string `schema:"resource"`
}

// AuthorizationParameters holds parameters for the OAuth2 authorization request.
// These are received as query parameters (or form fields) at the authorize endpoint,
// or restored from a pushed authorization request.
type AuthorizationParameters struct {
	ClientID     string           `schema:"client_id"`
	ResponseType ResponseType     `schema:"response_type"`
	RedirectURI  string           `schema:"redirect_uri"`
	ResponseMode ResponseModeType `schema:"response_mode"`
	Scope        string           `schema:"scope"`
	State        string           `schema:"state"`

	// PKCE
	CodeChallenge       string         `schema:"code_challenge"`
	CodeChallengeMethod CodeMethodType `schema:"code_challenge_method"`

	// OpenID Connect
	Nonce       string `schema:"nonce"`
	Prompt      string `schema:"prompt"`
	MaxAge      string `schema:"max_age"`
	LoginHint   string `schema:"login_hint"`
	IDTokenHint string `schema:"id_token_hint"`
	UILocales   string `schema:"ui_locales"`
	AcrValues   string `schema:"acr_values"`

	// Resource indicators (RFC 8707), may repeat
	Resource []string `schema:"resource"`

	// Pushed authorization request reference (RFC 9126)
	RequestURI string `schema:"request_uri"`
}

// DeviceAuthorizationRequest is the RFC 8628 device authorization request.
type DeviceAuthorizationRequest struct {
	ClientCredentials
	Scope string `schema:"scope"`
}

// BackchannelAuthenticationRequest is the CIBA authentication request.
type BackchannelAuthenticationRequest struct {
	ClientCredentials
	Scope                   string   `schema:"scope"`
	ClientNotificationToken string   `schema:"client_notification_token"`
	AcrValues               string   `schema:"acr_values"`
	LoginHintToken          string   `schema:"login_hint_token"`
	IDTokenHint             string   `schema:"id_token_hint"`
	LoginHint               string   `schema:"login_hint"`
	BindingMessage          string   `schema:"binding_message"`
	UserCode                string   `schema:"user_code"`
	RequestedExpiry         string   `schema:"requested_expiry"`
	Resource                []string `schema:"resource"`
}

// IntrospectionRequest is the RFC 7662 token introspection request.
type IntrospectionRequest struct {
	ClientCredentials
	Token         string `schema:"token"`
	TokenTypeHint string `schema:"token_type_hint"`
}

// RevocationRequest is the RFC 7009 token revocation request.
type RevocationRequest struct {
	ClientCredentials
	Token         string `schema:"token"`
	TokenTypeHint string `schema:"token_type_hint"`
}

// EndSessionRequest is the RP-initiated logout request.
type EndSessionRequest struct {
	IDTokenHint           string `schema:"id_token_hint"`
	PostLogoutRedirectURI string `schema:"post_logout_redirect_uri"`
	State                 string `schema:"state"`
	ClientID              string `schema:"client_id"`
}
