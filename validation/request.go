package validation

import (
	"net/url"
	"time"

	"github.com/zitadel/schema"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/resources"
)

// ValidatedRequest is the part every validated request shares.
type ValidatedRequest struct {
	Client *clients.Client
	Secret *ParsedSecret
	Raw    url.Values

	// Subject is the authenticated user, nil for client-only requests.
	Subject   *grants.Subject
	SessionID string

	ValidatedResources          *resources.ValidatedResources
	RequestedResourceIndicators []string

	AccessTokenType     clients.AccessTokenType
	AccessTokenLifetime time.Duration
}

func (r *ValidatedRequest) setClient(c *clients.Client, secret *ParsedSecret) {
	r.Client = c
	r.Secret = secret
	r.AccessTokenType = c.AccessTokenType
	if r.AccessTokenType == "" {
		r.AccessTokenType = clients.AccessTokenJWT
	}
	r.AccessTokenLifetime = c.AccessTokenTTL()
}

func (r *ValidatedRequest) setSubject(s *grants.Subject) {
	r.Subject = s
	if s != nil {
		r.SessionID = s.SessionID
	}
}

// ClientValidationResult is the authenticated caller of a back-channel endpoint.
type ClientValidationResult struct {
	Client *clients.Client
	Secret *ParsedSecret
}

var decoder = newDecoder()

func newDecoder() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}

// decode fills dst from form parameters.
func decode(dst any, params url.Values) *Error {
	if err := decoder.Decode(dst, params); err != nil {
		return NewError(oauthmodel.ErrorInvalidRequest, "malformed request parameters")
	}
	return nil
}

// single returns the parameter and whether it was sent more than once.
func single(params url.Values, name string) (string, bool) {
	values := params[name]
	if len(values) == 0 {
		return "", true
	}
	return values[0], len(values) == 1
}
