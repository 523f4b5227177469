package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) initRoutes() {
	s.router.Use(s.StdMiddleware()...)

	cors := s.CorsMiddleware()
	api := chi.Chain(cors)
	backchannel := chi.Chain(s.NoStoreMiddleware, s.RateLimitMiddleware)
	public := chi.Chain(cors, s.NoStoreMiddleware, s.RateLimitMiddleware)
	browser := chi.Chain(s.FrameSecurityMiddleware)
	pages := chi.Chain(s.NoStoreMiddleware, s.FrameSecurityMiddleware)

	// Discovery
	s.RegisterRouteHandler(http.MethodGet, RouteWellKnownOpenIDConfig, api.HandlerFunc(s.WellKnownOpenIDConfig()))
	s.RegisterRouteHandler(http.MethodGet, RouteWellKnownJWKS, api.HandlerFunc(s.JWKS()))

	// Back-channel endpoints. The token endpoint is also called from browser based clients.
	s.RegisterRouteHandler(http.MethodPost, RouteToken, public.HandlerFunc(s.Token()))
	s.RegisterRouteHandler(http.MethodOptions, RouteToken, api.HandlerFunc(s.Token()))
	s.RegisterRouteHandler(http.MethodPost, RoutePushedAuthorization, backchannel.HandlerFunc(s.PushedAuthorization()))
	s.RegisterRouteHandler(http.MethodPost, RouteDeviceAuthorization, backchannel.HandlerFunc(s.DeviceAuthorization()))
	s.RegisterRouteHandler(http.MethodPost, RouteBackchannelAuthentication, backchannel.HandlerFunc(s.BackchannelAuthentication()))
	s.RegisterRouteHandler(http.MethodPost, RouteIntrospect, backchannel.HandlerFunc(s.Introspect()))
	s.RegisterRouteHandler(http.MethodPost, RouteRevocation, public.HandlerFunc(s.Revoke()))
	s.RegisterRouteHandler(http.MethodOptions, RouteRevocation, api.HandlerFunc(s.Revoke()))

	// Protected resource
	s.RegisterRouteHandler(http.MethodGet, RouteUserInfo, api.HandlerFunc(s.UserInfo()))
	s.RegisterRouteHandler(http.MethodPost, RouteUserInfo, api.HandlerFunc(s.UserInfo()))
	s.RegisterRouteHandler(http.MethodOptions, RouteUserInfo, api.HandlerFunc(s.UserInfo()))

	// Front-channel endpoints
	s.RegisterRouteHandler(http.MethodGet, RouteAuthorize, browser.HandlerFunc(s.Authorize()))
	s.RegisterRouteHandler(http.MethodPost, RouteAuthorize, browser.HandlerFunc(s.Authorize()))
	s.RegisterRouteHandler(http.MethodGet, RouteEndSession, browser.HandlerFunc(s.EndSession()))
	s.RegisterRouteHandler(http.MethodPost, RouteEndSession, browser.HandlerFunc(s.EndSession()))

	// Interaction API for the host application's pages
	s.RegisterRouteHandler(http.MethodPost, RouteLogin, pages.HandlerFunc(s.Login()))
	s.RegisterRouteHandler(http.MethodPost, RouteConsent, pages.HandlerFunc(s.Consent()))
	s.RegisterRouteHandler(http.MethodGet, RouteDeviceApprove, pages.HandlerFunc(s.DeviceContext()))
	s.RegisterRouteHandler(http.MethodPost, RouteDeviceApprove, pages.HandlerFunc(s.DeviceApprove()))
	s.RegisterRouteHandler(http.MethodGet, RouteCibaPending, pages.HandlerFunc(s.CibaPending()))
	s.RegisterRouteHandler(http.MethodPost, RouteCibaComplete, pages.HandlerFunc(s.CibaComplete()))

	// Operations
	s.RegisterRouteFunc(http.MethodGet, RouteHealth, s.Health())
	if s.metrics != nil {
		s.RegisterRouteHandler(http.MethodGet, RouteMetrics, s.metrics)
	}
}
