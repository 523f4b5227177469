package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// WellKnownOpenIDConfig serves the OIDC discovery document
func (s *Server) WellKnownOpenIDConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.c.Discovery.Discovery(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// JWKS serves the public signing keys.
func (s *Server) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := s.c.Discovery.JWKS(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "max-age=3600")
		writeJSON(w, http.StatusOK, set)
	}
}

// authenticateClient parses the form and checks the client credentials. It writes the error
// response and returns nil when the client cannot be authenticated.
func (s *Server) authenticateClient(w http.ResponseWriter, r *http.Request) *validation.ClientValidationResult {
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, oauthmodel.ErrorInvalidRequest, "malformed form body", http.StatusBadRequest)
		return nil
	}
	result := s.c.ClientSecrets.Validate(r.Context(), r)
	if result.IsError() {
		writeValidationError(w, r, result.Err())
		return nil
	}
	return result.Value()
}

// Token handles every grant type at the token endpoint.
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := s.authenticateClient(w, r)
		if client == nil {
			return
		}
		result := s.c.TokenRequestValidator.Validate(r.Context(), r.PostForm, client)
		if result.IsError() {
			writeValidationError(w, r, result.Err())
			return
		}
		resp, err := s.c.TokenResponse.Process(r.Context(), result.Value())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// PushedAuthorization stores an authorization request for a later request_uri (RFC 9126).
func (s *Server) PushedAuthorization() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := s.authenticateClient(w, r)
		if client == nil {
			return
		}
		result := s.c.PushedValidator.Validate(r.Context(), r.PostForm, client)
		if result.IsError() {
			writeValidationError(w, r, result.Err())
			return
		}
		resp, err := s.c.PushedResponse.Process(r.Context(), result.Value())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// DeviceAuthorization starts the device flow (RFC 8628 section 3.1).
func (s *Server) DeviceAuthorization() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := s.authenticateClient(w, r)
		if client == nil {
			return
		}
		result := s.c.DeviceValidator.Validate(r.Context(), r.PostForm, client)
		if result.IsError() {
			writeValidationError(w, r, result.Err())
			return
		}
		resp, err := s.c.DeviceResponse.Process(r.Context(), result.Value())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// BackchannelAuthentication starts a CIBA login request.
func (s *Server) BackchannelAuthentication() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := s.authenticateClient(w, r)
		if client == nil {
			return
		}
		result := s.c.BackchannelValidator.Validate(r.Context(), r.PostForm, client)
		if result.IsError() {
			writeValidationError(w, r, result.Err())
			return
		}
		resp, err := s.c.BackchannelResponse.Process(r.Context(), result.Value())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Introspect answers RFC 7662 requests from API resources and from clients.
func (s *Server) Introspect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauthmodel.ErrorInvalidRequest, "malformed form body", http.StatusBadRequest)
			return
		}
		var caller validation.IntrospectionCaller
		if api := s.c.ApiSecrets.Validate(r.Context(), r); !api.IsError() {
			caller.Api = api.Value().Resource
		} else {
			client := s.c.ClientSecrets.Validate(r.Context(), r)
			if client.IsError() {
				writeValidationError(w, r, client.Err())
				return
			}
			caller.Client = client.Value().Client
		}

		result := s.c.IntrospectionValidator.Validate(r.Context(), r.PostForm, caller)
		if result.IsError() {
			writeValidationError(w, r, result.Err())
			return
		}
		resp, err := s.c.IntrospectionResponse.Process(r.Context(), result.Value())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Revoke handles RFC 7009 revocation. Unknown tokens are not an error.
func (s *Server) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := s.authenticateClient(w, r)
		if client == nil {
			return
		}
		result := s.c.RevocationValidator.Validate(r.Context(), r.PostForm, client)
		if result.IsError() {
			writeValidationError(w, r, result.Err())
			return
		}
		if err := s.c.RevocationResponse.Process(r.Context(), result.Value()); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// UserInfo returns the claims of the access token's subject.
func (s *Server) UserInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accessToken := bearerToken(r)
		if accessToken == "" {
			w.Header().Set("WWW-Authenticate", `Bearer`)
			writeJSONError(w, oauthmodel.ErrorInvalidToken, "access token required", http.StatusUnauthorized)
			return
		}
		result := s.c.UserInfoValidator.Validate(r.Context(), accessToken)
		if result.IsError() {
			writeBearerError(w, result.Err())
			return
		}
		claims, err := s.c.UserInfoResponse.Process(r.Context(), result.Value())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, claims)
	}
}

// bearerToken reads the access token from the Authorization header, or from the form body
// as RFC 6750 section 2.2 allows.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if r.Method == http.MethodPost {
		return r.PostFormValue("access_token")
	}
	return ""
}

// Health reports that the server is up.
func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
