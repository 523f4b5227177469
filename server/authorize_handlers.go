package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/response"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// returnURLParameter names the query parameter carrying the resumed authorize request to the
// login and consent pages.
const returnURLParameter = "returnUrl"

// requestParams returns the query of a GET and the form body of a POST.
func requestParams(r *http.Request) (url.Values, error) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	}
	return r.URL.Query(), nil
}

// Authorize is the front-channel authorization endpoint.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := requestParams(r)
		if err != nil {
			s.showError(w, r, validation.NewError(oauthmodel.ErrorInvalidRequest, "malformed form body"))
			return
		}
		_, subject, err := s.currentUser(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.authorize(w, r, params, subject)
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, params url.Values, subject *grants.Subject) {
	ctx := r.Context()
	result := s.c.AuthorizeValidator.Validate(ctx, params, subject)
	if result.IsError() {
		s.authorizeError(w, r, result.Err())
		return
	}
	req := result.Value()

	next, err := s.c.Interaction.Process(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	switch next.Kind {
	case response.InteractionLogin:
		http.Redirect(w, r, withReturnURL(s.config.Server.LoginURL, next.ReturnParameters), http.StatusFound)
	case response.InteractionConsent:
		http.Redirect(w, r, withReturnURL(s.config.Server.ConsentURL, next.ReturnParameters), http.StatusFound)
	case response.InteractionRedirect:
		http.Redirect(w, r, next.RedirectURL, http.StatusFound)
	case response.InteractionError:
		s.authorizeError(w, r, next.Error)
	default:
		resp, err := s.c.AuthorizeResponse.Process(ctx, req, next.WasConsentShown)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.writeAuthorizeResponse(w, r, resp)
	}
}

// authorizeError returns e to the client when its redirect URI is trusted and shows it to the
// user otherwise.
func (s *Server) authorizeError(w http.ResponseWriter, r *http.Request, e *validation.Error) {
	if resp := response.AuthorizeErrorResponse(s.c.Issuer, e); resp != nil {
		s.writeAuthorizeResponse(w, r, resp)
		return
	}
	s.showError(w, r, e)
}

// showError sends the user to the error page, or writes the error when none is configured.
func (s *Server) showError(w http.ResponseWriter, r *http.Request, e *validation.Error) {
	loggerFrom(r).Info().Str("error", e.Code).Str("error_description", e.Description).Msg("request rejected")
	if s.config.Server.ErrorURL == "" {
		writeJSONError(w, e.Code, e.Description, statusFor(e.Code))
		return
	}
	q := url.Values{"error": {e.Code}}
	if e.Description != "" {
		q.Set("error_description", e.Description)
	}
	http.Redirect(w, r, appendQuery(s.config.Server.ErrorURL, q), http.StatusFound)
}

func (s *Server) writeAuthorizeResponse(w http.ResponseWriter, r *http.Request, resp *response.AuthorizeResponse) {
	if resp.ResponseMode == oauthmodel.FormPostResponseMode {
		w.Header().Set("Content-Type", contentTypeHTML)
		w.Header().Set("Cache-Control", "no-store")
		if err := resp.WriteFormPost(w); err != nil {
			loggerFrom(r).Err(err).Msg("failed to render form_post response")
		}
		return
	}
	status := http.StatusFound
	if r.Method == http.MethodPost {
		status = http.StatusSeeOther
	}
	http.Redirect(w, r, resp.Location(), status)
}

// EndSession is the RP-initiated logout endpoint.
func (s *Server) EndSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := requestParams(r)
		if err != nil {
			s.showError(w, r, validation.NewError(oauthmodel.ErrorInvalidRequest, "malformed form body"))
			return
		}
		_, subject, err := s.currentUser(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		result := s.c.EndSessionValidator.Validate(r.Context(), params, subject)
		if result.IsError() {
			s.showError(w, r, result.Err())
			return
		}
		out, err := s.c.EndSession.Process(r.Context(), result.Value())
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.clearSessionCookie(w, r)
		if out.RedirectURI != "" {
			http.Redirect(w, r, out.RedirectURI, http.StatusFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"signed_out": out.SignedOut})
	}
}

// withReturnURL points page at the authorize endpoint with params.
func withReturnURL(page string, params url.Values) string {
	return appendQuery(page, url.Values{returnURLParameter: {RouteAuthorize + "?" + params.Encode()}})
}

func appendQuery(rawURL string, q url.Values) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + q.Encode()
}

// authorizeParamsFrom returns the authorize parameters of a return URL produced by
// withReturnURL. Anything pointing elsewhere is rejected so the login and consent endpoints
// cannot be used as open redirectors.
func authorizeParamsFrom(returnURL string) (url.Values, bool) {
	u, err := url.Parse(returnURL)
	if err != nil || u.IsAbs() || u.Host != "" || u.Path != RouteAuthorize {
		return nil, false
	}
	return u.Query(), true
}
