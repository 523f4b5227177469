package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/interaction"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// These endpoints back the login, consent, device and CIBA pages of the host application.
// Apart from login they act for the user of the session cookie.

// Login authenticates a local user, starts a session and resumes the authorize request.
func (s *Server) Login() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, oauthmodel.ErrorInvalidRequest, "malformed form body", http.StatusBadRequest)
			return
		}
		username := strings.TrimSpace(r.PostForm.Get("username"))
		password := r.PostForm.Get("password")
		if username == "" || password == "" {
			writeJSONError(w, oauthmodel.ErrorInvalidRequest, "username and password are required", http.StatusBadRequest)
			return
		}

		subject, err := s.c.Users.ValidateResourceOwner(r.Context(), username, password)
		if err != nil {
			if errors.Is(err, errors.ErrInvalidCredentials) || errors.Is(err, errors.ErrUserBlocked) {
				loggerFrom(r).Info().Str("username", username).Msg("login rejected")
				writeJSONError(w, oauthmodel.ErrorAccessDenied, "invalid username or password", http.StatusUnauthorized)
				return
			}
			writeError(w, r, err)
			return
		}
		session, err := s.c.Sessions.Create(r.Context(), *subject, username)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.SetSessionCookie(w, r, session)

		returnURL := r.PostForm.Get(returnURLParameter)
		if _, ok := authorizeParamsFrom(returnURL); ok {
			http.Redirect(w, r, returnURL, http.StatusSeeOther)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"sub": session.SubjectID, "sid": session.SessionID})
	}
}

// Consent records the user's answer to a consent page and resumes the authorize request.
func (s *Server) Consent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := s.requireUser(w, r)
		if subject == nil {
			return
		}
		returnURL := r.PostForm.Get(returnURLParameter)
		params, ok := authorizeParamsFrom(returnURL)
		if !ok {
			writeJSONError(w, oauthmodel.ErrorInvalidRequest, "invalid return url", http.StatusBadRequest)
			return
		}
		result := s.c.AuthorizeValidator.Validate(r.Context(), params, subject)
		if result.IsError() {
			s.authorizeError(w, r, result.Err())
			return
		}
		req := result.Value()

		answer := consentFrom(r)
		if answer.Granted && len(answer.ScopesValuesConsented) == 0 {
			answer.ScopesValuesConsented = req.RequestedScopes
		}
		if err := s.c.Consent.GrantConsent(r.Context(), subject.SubjectID, req.Client, req.RequestedScopes, answer); err != nil {
			writeInteractionError(w, r, err)
			return
		}
		if !answer.Granted {
			e := validation.NewError(oauthmodel.ErrorAccessDenied, "the user denied the request")
			e.Redirect = &validation.ErrorRedirect{RedirectURI: req.RedirectURI, ResponseMode: req.ResponseMode, State: req.State}
			s.authorizeError(w, r, e)
			return
		}
		http.Redirect(w, r, returnURL, http.StatusSeeOther)
	}
}

// DeviceContext shows what the device behind user_code asks for.
func (s *Server) DeviceContext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.requireUser(w, r) == nil {
			return
		}
		dr, err := s.c.DeviceFlow.GetAuthorizationContext(r.Context(), r.URL.Query().Get("user_code"))
		if err != nil {
			writeInteractionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"client_id":   dr.Client.ClientID,
			"client_name": dr.Client.ClientName,
			"user_code":   dr.UserCode,
			"scope":       grants.ScopeString(dr.RequestedScopes),
			"description": dr.Description,
		})
	}
}

// DeviceApprove records the user's answer for a device.
func (s *Server) DeviceApprove() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := s.requireUser(w, r)
		if subject == nil {
			return
		}
		userCode := r.PostForm.Get("user_code")
		if userCode == "" {
			writeJSONError(w, oauthmodel.ErrorInvalidRequest, "user_code is required", http.StatusBadRequest)
			return
		}
		answer := consentFrom(r)
		if answer.Granted && len(answer.ScopesValuesConsented) == 0 {
			dr, err := s.c.DeviceFlow.GetAuthorizationContext(r.Context(), userCode)
			if err != nil {
				writeInteractionError(w, r, err)
				return
			}
			answer.ScopesValuesConsented = dr.RequestedScopes
		}
		if err := s.c.DeviceFlow.HandleRequest(r.Context(), userCode, subject, &answer); err != nil {
			writeInteractionError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type pendingLoginRequest struct {
	InternalID     string    `json:"internal_id"`
	ClientID       string    `json:"client_id"`
	Scope          string    `json:"scope"`
	BindingMessage string    `json:"binding_message,omitempty"`
	Expires        time.Time `json:"expires"`
}

// CibaPending lists the CIBA requests waiting for the current user.
func (s *Server) CibaPending() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := s.requireUser(w, r)
		if subject == nil {
			return
		}
		items, err := s.c.Backchannel.GetPendingLoginRequestsForCurrentUser(r.Context(), subject.SubjectID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]pendingLoginRequest, 0, len(items))
		for _, item := range items {
			out = append(out, pendingLoginRequest{
				InternalID:     item.InternalID,
				ClientID:       item.ClientID,
				Scope:          grants.ScopeString(item.RequestedScopes),
				BindingMessage: item.BindingMessage,
				Expires:        item.Expiration(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// CibaComplete answers a CIBA request. No consented scopes denies it.
func (s *Server) CibaComplete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := s.requireUser(w, r)
		if subject == nil {
			return
		}
		internalID := r.PostForm.Get("internal_id")
		if internalID == "" {
			writeJSONError(w, oauthmodel.ErrorInvalidRequest, "internal_id is required", http.StatusBadRequest)
			return
		}
		answer := consentFrom(r)
		var scopes []string
		if answer.Granted {
			scopes = answer.ScopesValuesConsented
			if len(scopes) == 0 {
				req, err := s.c.Backchannel.GetLoginRequestByInternalID(r.Context(), internalID)
				if err != nil {
					writeInteractionError(w, r, err)
					return
				}
				scopes = req.RequestedScopes
			}
		}
		err := s.c.Backchannel.CompleteLoginRequest(r.Context(), interaction.CompleteBackchannelLoginRequest{
			InternalID:            internalID,
			Subject:               subject,
			ScopesValuesConsented: scopes,
			Description:           answer.Description,
		})
		if err != nil {
			writeInteractionError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// requireUser parses the form and resolves the session cookie. It writes a 401 and returns
// nil for anonymous requests.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) *grants.Subject {
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, oauthmodel.ErrorInvalidRequest, "malformed form body", http.StatusBadRequest)
		return nil
	}
	_, subject, err := s.currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return nil
	}
	if subject == nil {
		writeJSONError(w, oauthmodel.ErrorLoginRequired, "no active session", http.StatusUnauthorized)
		return nil
	}
	return subject
}

// consentFrom reads granted, scope, remember and description from the form.
func consentFrom(r *http.Request) interaction.ConsentResponse {
	granted, _ := strconv.ParseBool(r.PostForm.Get("granted"))
	remember, _ := strconv.ParseBool(r.PostForm.Get("remember"))
	return interaction.ConsentResponse{
		Granted:               granted,
		ScopesValuesConsented: strings.Fields(r.PostForm.Get("scope")),
		RememberConsent:       remember,
		Description:           r.PostForm.Get("description"),
	}
}

func writeInteractionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, interaction.ErrRequestNotFound):
		writeJSONError(w, oauthmodel.ErrorInvalidRequest, "request not found", http.StatusNotFound)
	case errors.Is(err, interaction.ErrRequestExpired):
		writeJSONError(w, oauthmodel.ErrorExpiredToken, "request expired", http.StatusBadRequest)
	case errors.Is(err, interaction.ErrAlreadyCompleted):
		writeJSONError(w, oauthmodel.ErrorInvalidRequest, "request already answered", http.StatusConflict)
	case errors.Is(err, interaction.ErrScopesNotRequested):
		writeJSONError(w, oauthmodel.ErrorInvalidScope, "consented scopes were not requested", http.StatusBadRequest)
	case errors.Is(err, interaction.ErrSubjectMismatch):
		writeJSONError(w, oauthmodel.ErrorAccessDenied, "request belongs to another user", http.StatusForbidden)
	default:
		writeError(w, r, err)
	}
}
