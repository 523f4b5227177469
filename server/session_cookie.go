package server

import (
	"net/http"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/sessions"
)

// SetSessionCookie points the browser at session.
func (s *Server) SetSessionCookie(w http.ResponseWriter, r *http.Request, session *sessions.ServerSideSession) {
	cookie := &http.Cookie{
		Name:     s.config.ServerSideSessions.CookieName,
		Value:    session.Key,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
	}
	if session.Expires != nil {
		cookie.Expires = *session.Expires
	}
	http.SetCookie(w, cookie)
}

func (s *Server) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.ServerSideSessions.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// currentUser resolves the session cookie. No cookie, or a cookie for a session that is
// gone, is an anonymous request and not an error.
func (s *Server) currentUser(r *http.Request) (*sessions.ServerSideSession, *grants.Subject, error) {
	cookie, err := r.Cookie(s.config.ServerSideSessions.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil, nil
	}
	session, subject, err := s.c.Sessions.Authenticate(r.Context(), cookie.Value)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return session, subject, nil
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
