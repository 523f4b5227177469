package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Discovery
	RouteWellKnownOpenIDConfig = "/.well-known/openid-configuration"
	RouteWellKnownJWKS         = "/.well-known/jwks"

	// Protocol endpoints
	RouteAuthorize                 = "/connect/authorize"
	RouteToken                     = "/connect/token"
	RoutePushedAuthorization       = "/connect/par"
	RouteDeviceAuthorization       = "/connect/deviceauthorization"
	RouteBackchannelAuthentication = "/connect/ciba"
	RouteIntrospect                = "/connect/introspect"
	RouteRevocation                = "/connect/revocation"
	RouteUserInfo                  = "/connect/userinfo"
	RouteEndSession                = "/connect/endsession"

	// Interaction API used by the login, consent and approval pages
	RouteLogin         = "/connect/login"
	RouteConsent       = "/connect/consent"
	RouteDeviceApprove = "/connect/device/approve"
	RouteCibaPending   = "/connect/ciba/pending"
	RouteCibaComplete  = "/connect/ciba/complete"

	// Operations
	RouteHealth  = "/healthz"
	RouteMetrics = "/metrics"
)
