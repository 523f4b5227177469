package oauthmodel

// OAuth and OpenID Connect error codes.
const (
	ErrorInvalidRequest          = "invalid_request"
	ErrorInvalidClient           = "invalid_client"
	ErrorInvalidGrant            = "invalid_grant"
	ErrorUnauthorizedClient      = "unauthorized_client"
	ErrorUnsupportedGrantType    = "unsupported_grant_type"
	ErrorUnsupportedResponseType = "unsupported_response_type"
	ErrorInvalidScope            = "invalid_scope"
	ErrorInvalidTarget           = "invalid_target"
	ErrorAccessDenied            = "access_denied"
	ErrorServerError             = "server_error"
	ErrorTemporarilyUnavailable  = "temporarily_unavailable"
	ErrorUnsupportedTokenType    = "unsupported_token_type"
	ErrorInvalidRequestURI       = "invalid_request_uri"
	ErrorInvalidToken            = "invalid_token"
	ErrorInsufficientScope       = "insufficient_scope"

	// Device and CIBA polling
	ErrorAuthorizationPending = "authorization_pending"
	ErrorSlowDown             = "slow_down"
	ErrorExpiredToken         = "expired_token"

	// CIBA
	ErrorUnknownUserID         = "unknown_user_id"
	ErrorExpiredLoginHintToken = "expired_login_hint_token"
	ErrorInvalidBindingMessage = "invalid_binding_message"
	ErrorMissingUserCode       = "missing_user_code"

	// OpenID Connect interaction
	ErrorLoginRequired       = "login_required"
	ErrorConsentRequired     = "consent_required"
	ErrorInteractionRequired = "interaction_required"
	ErrorAccountSelection    = "account_selection_required"
)
