package validation

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
)

// validatePKCE checks the code_challenge of an authorize request against the client's
// PKCE requirements.
func validatePKCE(client *clients.Client, codeChallenge, method string) *Error {
	if codeChallenge == "" {
		if client.RequirePkce {
			return NewError(oauthmodel.ErrorInvalidRequest, "code challenge required")
		}
		return nil
	}

	if len(codeChallenge) < oauthmodel.CodeVerifierMinLength || len(codeChallenge) > oauthmodel.CodeVerifierMaxLength {
		return NewError(oauthmodel.ErrorInvalidRequest, "code_challenge length must be between 43 and 128 characters")
	}

	switch method {
	case "", oauthmodel.CodeMethodTypePlain:
		if !client.AllowPlainTextPkce {
			return NewError(oauthmodel.ErrorInvalidRequest, "transform algorithm not supported")
		}
	case oauthmodel.CodeMethodTypeS256:
	default:
		return NewError(oauthmodel.ErrorInvalidRequest, "transform algorithm not supported")
	}
	return nil
}

// checkCodeVerifier verifies a token request verifier against the stored challenge.
func checkCodeVerifier(storedChallenge, method, verifier string) bool {
	if len(verifier) < oauthmodel.CodeVerifierMinLength || len(verifier) > oauthmodel.CodeVerifierMaxLength {
		return false
	}
	var computed string
	switch method {
	case oauthmodel.CodeMethodTypeS256:
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case "", oauthmodel.CodeMethodTypePlain:
		computed = verifier
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedChallenge)) == 1
}
