// Package server binds the protocol engine to HTTP: it authenticates callers, hands form
// parameters to the validators and writes what the generators produce.
package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-engine/internal/config"
)

type Server struct {
	env     string // Environment (e.g., "DEV", "PROD")
	router  chi.Router
	routes  []string
	config  *config.Config
	c       *Components
	logger  zerolog.Logger
	metrics http.Handler
	limiter *RateLimiter
}

type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetricsHandler serves h at /metrics, normally promhttp.HandlerFor the registry the
// telemetry was registered on.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func New(cfg *config.Config, components *Components, options ...Option) *Server {
	s := &Server{
		env:    strings.ToUpper(cfg.Server.Env),
		router: chi.NewRouter(),
		config: cfg,
		c:      components,
		logger: zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "http").Logger()
	if cfg.Security.EnableRateLimiting {
		s.limiter = NewRateLimiter(cfg.Security.RateLimitPerSecond, cfg.Security.RateLimitBurst)
	}

	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// RegisterRouteHandler mounts handler for method and pattern on the router.
func (s *Server) RegisterRouteHandler(method, pattern string, handler http.Handler) {
	s.routes = append(s.routes, method+" "+pattern)
	s.router.Method(method, pattern, handler)
}

func (s *Server) RegisterRouteFunc(method, pattern string, handler http.HandlerFunc) {
	s.RegisterRouteHandler(method, pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		s.logRoute(parts[0], parts[1])
	}
}

func (s *Server) logRoute(method, path string) {
	s.logger.Info().Msgf("[%s %-7s%s] %s", methodColour(method), method, ansiReset, path)
}
