package oauthmodel

// TokenResponse represents the response from an OAuth2 token request (RFC 6749 section 5.1).
// Returned from the token endpoint for all grant types.
type TokenResponse struct {
	// AccessToken is a JWT or a reference handle depending on the client's access token type.
	AccessToken string `json:"access_token"`

	// IDToken is present when the openid scope was granted.
	IDToken string `json:"id_token,omitempty"`

	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token.
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is an opaque handle, present when offline_access was granted.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space-separated list of granted scopes.
	Scope string `json:"scope,omitempty"`
}

// DeviceAuthorizationResponse is the RFC 8628 section 3.2 response.
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// BackchannelAuthenticationResponse is the CIBA authentication response.
type BackchannelAuthenticationResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int    `json:"expires_in"`
	Interval  int    `json:"interval,omitempty"`
}

// PushedAuthorizationResponse is the RFC 9126 section 2.2 response.
type PushedAuthorizationResponse struct {
	RequestURI string `json:"request_uri"`
	ExpiresIn  int    `json:"expires_in"`
}

// IntrospectionResponse is the RFC 7662 section 2.2 response. Only Active is present when the
// token is not active.
type IntrospectionResponse map[string]any

// InactiveIntrospection returns the body for a token that is missing, expired or consumed.
func InactiveIntrospection() IntrospectionResponse {
	return IntrospectionResponse{"active": false}
}

// IsActive reports the value of the active member.
func (r IntrospectionResponse) IsActive() bool {
	active, _ := r["active"].(bool)
	return active
}

// ErrorResponse is the OAuth error body returned by every endpoint.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
