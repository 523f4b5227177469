package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
)

// StdMiddleware runs on every route.
func (s *Server) StdMiddleware() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		hlog.NewHandler(s.logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		s.LoggingMiddleware,
		s.RecoverMiddleware,
	}
}

// LoggingMiddleware logs each finished request. In DEV the line is coloured by method and
// status like the route listing.
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		if s.env == "DEV" {
			hlog.FromRequest(r).Info().Msgf("[%s%-7s%s] %s%d%s %s %s", methodColour(r.Method), r.Method, ansiReset, statusColour(status), status, ansiReset, r.URL.Path, duration)
			return
		}
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
}

// RecoverMiddleware turns a panic into a 500 so one bad request cannot stop the server.
func (s *Server) RecoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				hlog.FromRequest(r).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				writeJSONError(w, oauthmodel.ErrorServerError, "", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// FrameSecurityMiddleware stops the browser-facing endpoints from being framed.
func (s *Server) FrameSecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'self'")
		next.ServeHTTP(w, r)
	})
}

// NoStoreMiddleware forbids caching of token bearing responses (RFC 6749 section 5.1).
func (s *Server) NoStoreMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// CorsMiddleware answers CORS for the endpoints a browser client calls directly. An origin
// is allowed when it is configured or when an enabled client lists it.
func (s *Server) CorsMiddleware() func(http.Handler) http.Handler {
	cfg := s.config.Cors
	opts := cors.Options{
		AllowCredentials: true,
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   []string{"Location", "Content-Length"},
		MaxAge:           cfg.MaxAge,
		AllowOriginFunc:  s.isOriginAllowed,
	}
	return cors.New(opts).Handler
}

func (s *Server) isOriginAllowed(origin string) bool {
	if utils.Contains(s.config.Cors.AllowedOrigins, origin) || utils.Contains(s.config.Cors.AllowedOrigins, "*") {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	allowed, err := s.c.Clients.IsOriginAllowed(ctx, origin)
	if err != nil {
		s.logger.Err(err).Str("origin", origin).Msg("cors origin lookup failed")
		return false
	}
	return allowed
}

// RateLimitMiddleware applies the configured per-address limit. Without rate limiting it
// passes requests through.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	return s.limiter.Handler(next)
}

// loggerFrom returns the request scoped logger set up by hlog.
func loggerFrom(r *http.Request) *zerolog.Logger {
	return hlog.FromRequest(r)
}
