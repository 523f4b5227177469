package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json; charset=utf-8"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, oauthmodel.ErrorResponse{Error: errorCode, ErrorDescription: description})
}

// statusFor maps an OAuth error code to the status of a back-channel response.
func statusFor(code string) int {
	switch code {
	case oauthmodel.ErrorInvalidClient, oauthmodel.ErrorInvalidToken:
		return http.StatusUnauthorized
	case oauthmodel.ErrorInsufficientScope:
		return http.StatusForbidden
	case oauthmodel.ErrorServerError:
		return http.StatusInternalServerError
	case oauthmodel.ErrorTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// writeValidationError writes a rejected request. invalid_client carries a Basic challenge
// when the client tried to authenticate with the Authorization header.
func writeValidationError(w http.ResponseWriter, r *http.Request, e *validation.Error) {
	status := statusFor(e.Code)
	if e.Code == oauthmodel.ErrorInvalidClient && r.Header.Get("Authorization") != "" {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	writeJSONError(w, e.Code, e.Description, status)
}

// writeError writes err from a generator or service. A *validation.Error is the client's
// fault; anything else is a server fault and logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validation.Error
	if errors.As(err, &ve) {
		writeValidationError(w, r, ve)
		return
	}
	logger := loggerFrom(r)
	switch {
	case errors.Is(err, errors.ErrConfiguration):
		logger.Error().Err(err).Msg("configuration error")
	case errors.Is(err, errors.ErrUserCodeSpaceExhausted):
		logger.Error().Err(err).Msg("user code space exhausted")
	default:
		logger.Err(err).Msg("request failed")
	}
	writeJSONError(w, oauthmodel.ErrorServerError, "", http.StatusInternalServerError)
}

// writeBearerError answers a protected resource request per RFC 6750 section 3.
func writeBearerError(w http.ResponseWriter, e *validation.Error) {
	status := statusFor(e.Code)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+e.Code+`"`)
	}
	writeJSONError(w, e.Code, e.Description, status)
}
