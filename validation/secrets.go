package validation

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/oauthmodel"
	"github.com/jrsteele09/go-oidc-engine/resources"
)

// Parsed secret types.
const (
	ParsedSecretNone      = "NoSecret"
	ParsedSecretShared    = "SharedSecret"
	ParsedSecretJWTBearer = "JwtBearer"
	ParsedSecretX509      = "X509Certificate"
)

// ParsedSecret is a credential found on a request before it is checked against the catalog.
// Credential is a string for shared secrets and assertions and an *x509.Certificate for mTLS.
type ParsedSecret struct {
	ID                   string
	Credential           any
	Type                 string
	AuthenticationMethod string
}

// SecretParser extracts one kind of credential. It returns nil without an error when the
// request does not carry that kind.
type SecretParser interface {
	Parse(r *http.Request) (*ParsedSecret, error)
	AuthenticationMethod() string
}

var errMalformedCredentials = errors.Wrapf(errors.ErrInvalidClient, "malformed client credentials")

// BasicAuthSecretParser reads client_secret_basic credentials. Both parts are form encoded
// before being joined, per RFC 6749 section 2.3.1.
type BasicAuthSecretParser struct{}

func (BasicAuthSecretParser) AuthenticationMethod() string { return oauthmodel.ClientSecretBasic }

func (BasicAuthSecretParser) Parse(r *http.Request) (*ParsedSecret, error) {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}
	id, err := url.QueryUnescape(user)
	if err != nil {
		return nil, errMalformedCredentials
	}
	secret, err := url.QueryUnescape(pass)
	if err != nil {
		return nil, errMalformedCredentials
	}
	if id == "" {
		return nil, errMalformedCredentials
	}
	return &ParsedSecret{ID: id, Credential: secret, Type: ParsedSecretShared, AuthenticationMethod: oauthmodel.ClientSecretBasic}, nil
}

// PostBodySecretParser reads client_id and client_secret form fields. A client_id without a
// secret identifies a public client.
type PostBodySecretParser struct{}

func (PostBodySecretParser) AuthenticationMethod() string { return oauthmodel.ClientSecretPost }

func (PostBodySecretParser) Parse(r *http.Request) (*ParsedSecret, error) {
	if err := r.ParseForm(); err != nil {
		return nil, errMalformedCredentials
	}
	id := r.PostForm.Get("client_id")
	if id == "" {
		return nil, nil
	}
	secret := r.PostForm.Get("client_secret")
	if secret == "" {
		return &ParsedSecret{ID: id, Type: ParsedSecretNone}, nil
	}
	return &ParsedSecret{ID: id, Credential: secret, Type: ParsedSecretShared, AuthenticationMethod: oauthmodel.ClientSecretPost}, nil
}

// JWTBearerSecretParser reads client_secret_jwt assertions. The client is identified by the
// unverified sub claim, which must equal iss and any client_id sent alongside.
type JWTBearerSecretParser struct{}

func (JWTBearerSecretParser) AuthenticationMethod() string { return oauthmodel.ClientSecretJWT }

func (JWTBearerSecretParser) Parse(r *http.Request) (*ParsedSecret, error) {
	if err := r.ParseForm(); err != nil {
		return nil, errMalformedCredentials
	}
	if r.PostForm.Get("client_assertion_type") != oauthmodel.ClientAssertionJWTBearerType {
		return nil, nil
	}
	assertion := r.PostForm.Get("client_assertion")
	if assertion == "" {
		return nil, errMalformedCredentials
	}
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(assertion, claims); err != nil {
		return nil, errMalformedCredentials
	}
	sub, _ := claims.GetSubject()
	iss, _ := claims.GetIssuer()
	if sub == "" || sub != iss {
		return nil, errMalformedCredentials
	}
	if id := r.PostForm.Get("client_id"); id != "" && id != sub {
		return nil, errMalformedCredentials
	}
	return &ParsedSecret{ID: sub, Credential: assertion, Type: ParsedSecretJWTBearer, AuthenticationMethod: oauthmodel.ClientSecretJWT}, nil
}

// MutualTLSSecretParser authenticates with the TLS client certificate of the connection.
type MutualTLSSecretParser struct{}

func (MutualTLSSecretParser) AuthenticationMethod() string { return oauthmodel.TLSClientAuth }

func (MutualTLSSecretParser) Parse(r *http.Request) (*ParsedSecret, error) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, errMalformedCredentials
	}
	id := r.PostForm.Get("client_id")
	if id == "" {
		return nil, nil
	}
	return &ParsedSecret{ID: id, Credential: r.TLS.PeerCertificates[0], Type: ParsedSecretX509, AuthenticationMethod: oauthmodel.TLSClientAuth}, nil
}

// DefaultSecretParsers is the parser order used when none is configured. The body parser
// runs last because it also matches a bare client_id sent with an assertion or certificate.
func DefaultSecretParsers() []SecretParser {
	return []SecretParser{
		BasicAuthSecretParser{},
		JWTBearerSecretParser{},
		MutualTLSSecretParser{},
		PostBodySecretParser{},
	}
}

// parseSecret runs the parsers in order and returns the first credential found.
func parseSecret(r *http.Request, parsers []SecretParser) (*ParsedSecret, error) {
	for _, p := range parsers {
		secret, err := p.Parse(r)
		if err != nil {
			return nil, err
		}
		if secret != nil {
			return secret, nil
		}
	}
	return nil, nil
}

// ClientSecretValidator authenticates the client of a back-channel request.
type ClientSecretValidator struct {
	clients   clients.Repo
	parsers   []SecretParser
	audiences []string
	options
}

// NewClientSecretValidator creates a validator that accepts client assertions addressed to
// any of audiences, normally the issuer and the token endpoint URL.
func NewClientSecretValidator(repo clients.Repo, audiences []string, parsers []SecretParser, opts ...Option) *ClientSecretValidator {
	if len(parsers) == 0 {
		parsers = DefaultSecretParsers()
	}
	return &ClientSecretValidator{
		clients:   repo,
		parsers:   parsers,
		audiences: audiences,
		options:   newOptions("client_secret_validator", opts),
	}
}

// AuthenticationMethods lists the methods the configured parsers accept.
func (v *ClientSecretValidator) AuthenticationMethods() []string {
	methods := make([]string, 0, len(v.parsers))
	for _, p := range v.parsers {
		methods = append(methods, p.AuthenticationMethod())
	}
	return utils.Distinct(methods)
}

// Validate finds and checks the client credentials on r.
func (v *ClientSecretValidator) Validate(ctx context.Context, r *http.Request) Result[ClientValidationResult] {
	ctx, span := v.start(ctx, "ClientSecretValidator.Validate")
	return finish(&v.options, span, "client_authentication", v.validate(ctx, r))
}

func (v *ClientSecretValidator) validate(ctx context.Context, r *http.Request) Result[ClientValidationResult] {
	parsed, err := parseSecret(r, v.parsers)
	if err != nil {
		return Failure[ClientValidationResult](oauthmodel.ErrorInvalidClient, "malformed client credentials")
	}
	if parsed == nil {
		return Failure[ClientValidationResult](oauthmodel.ErrorInvalidClient, "no client credentials")
	}

	client, err := v.clients.Get(ctx, parsed.ID)
	if err != nil {
		if !errors.Is(err, errors.ErrClientNotFound) {
			v.logger.Err(err).Str("client_id", parsed.ID).Msg("client lookup failed")
			return Failure[ClientValidationResult](oauthmodel.ErrorServerError, "client lookup failed")
		}
		return Failure[ClientValidationResult](oauthmodel.ErrorInvalidClient, "unknown client")
	}
	if !client.Enabled {
		return Failure[ClientValidationResult](oauthmodel.ErrorInvalidClient, "client is disabled")
	}

	if client.IsPublic() {
		return Success(&ClientValidationResult{Client: client, Secret: parsed})
	}
	if parsed.Type == ParsedSecretNone {
		return Failure[ClientValidationResult](oauthmodel.ErrorInvalidClient, "client secret required")
	}
	if !v.matches(client, parsed) {
		return Failure[ClientValidationResult](oauthmodel.ErrorInvalidClient, "invalid client credentials")
	}
	return Success(&ClientValidationResult{Client: client, Secret: parsed})
}

func (v *ClientSecretValidator) matches(client *clients.Client, parsed *ParsedSecret) bool {
	now := v.now()
	switch parsed.Type {
	case ParsedSecretShared:
		plain, _ := parsed.Credential.(string)
		return MatchSharedSecret(client.Secrets, plain, now)
	case ParsedSecretJWTBearer:
		assertion, _ := parsed.Credential.(string)
		return v.matchAssertion(client, assertion, now)
	case ParsedSecretX509:
		cert, _ := parsed.Credential.(*x509.Certificate)
		return cert != nil && matchThumbprint(client.Secrets, cert, now)
	}
	return false
}

func (v *ClientSecretValidator) matchAssertion(client *clients.Client, assertion string, now time.Time) bool {
	for _, s := range client.Secrets {
		if s.Type != clients.SecretTypeSymmetricKey || s.IsExpired(now) {
			continue
		}
		key := []byte(s.Value)
		token, err := jwtlib.Parse(assertion,
			func(*jwtlib.Token) (any, error) { return key, nil },
			jwtlib.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwtlib.WithIssuer(client.ClientID),
			jwtlib.WithSubject(client.ClientID),
			jwtlib.WithExpirationRequired(),
			jwtlib.WithTimeFunc(func() time.Time { return now }),
		)
		if err != nil {
			continue
		}
		aud, err := token.Claims.GetAudience()
		if err != nil {
			continue
		}
		for _, a := range aud {
			if utils.Contains(v.audiences, a) {
				return true
			}
		}
	}
	return false
}

// MatchSharedSecret compares plain against the non-expired shared secrets. Stored values are
// bcrypt hashes when they carry the $2 prefix and base64 SHA-256 hashes otherwise.
func MatchSharedSecret(secrets []clients.Secret, plain string, now time.Time) bool {
	if plain == "" {
		return false
	}
	hashed := []byte(utils.Sha256Base64(plain))
	for _, s := range secrets {
		if s.Type != clients.SecretTypeSharedSecret || s.IsExpired(now) {
			continue
		}
		if strings.HasPrefix(s.Value, "$2") {
			if bcrypt.CompareHashAndPassword([]byte(s.Value), []byte(plain)) == nil {
				return true
			}
			continue
		}
		if subtle.ConstantTimeCompare(hashed, []byte(s.Value)) == 1 {
			return true
		}
	}
	return false
}

// Thumbprint is the hex SHA-256 of the DER certificate.
func Thumbprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func matchThumbprint(secrets []clients.Secret, cert *x509.Certificate, now time.Time) bool {
	thumb := []byte(Thumbprint(cert))
	for _, s := range secrets {
		if s.Type != clients.SecretTypeX509Thumbprint || s.IsExpired(now) {
			continue
		}
		stored := strings.ToLower(strings.ReplaceAll(s.Value, ":", ""))
		if subtle.ConstantTimeCompare(thumb, []byte(stored)) == 1 {
			return true
		}
	}
	return false
}

// ApiValidationResult is an API resource authenticated with one of its secrets.
type ApiValidationResult struct {
	Resource *resources.ApiResource
	Secret   *ParsedSecret
}

// ApiSecretValidator authenticates protected APIs calling the introspection endpoint.
type ApiSecretValidator struct {
	resources resources.Repo
	parsers   []SecretParser
	options
}

func NewApiSecretValidator(repo resources.Repo, opts ...Option) *ApiSecretValidator {
	return &ApiSecretValidator{
		resources: repo,
		parsers:   []SecretParser{BasicAuthSecretParser{}, PostBodySecretParser{}},
		options:   newOptions("api_secret_validator", opts),
	}
}

func (v *ApiSecretValidator) Validate(ctx context.Context, r *http.Request) Result[ApiValidationResult] {
	ctx, span := v.start(ctx, "ApiSecretValidator.Validate")
	return finish(&v.options, span, "api_authentication", v.validate(ctx, r))
}

func (v *ApiSecretValidator) validate(ctx context.Context, r *http.Request) Result[ApiValidationResult] {
	parsed, err := parseSecret(r, v.parsers)
	if err != nil || parsed == nil || parsed.Type != ParsedSecretShared {
		return Failure[ApiValidationResult](oauthmodel.ErrorInvalidClient, "api credentials required")
	}
	found, err := v.resources.FindApiResourcesByName(ctx, []string{parsed.ID})
	if err != nil {
		v.logger.Err(err).Str("api", parsed.ID).Msg("api resource lookup failed")
		return Failure[ApiValidationResult](oauthmodel.ErrorServerError, "api resource lookup failed")
	}
	if len(found) == 0 || !found[0].Enabled {
		return Failure[ApiValidationResult](oauthmodel.ErrorInvalidClient, "unknown api resource")
	}
	plain, _ := parsed.Credential.(string)
	if !MatchSharedSecret(found[0].ApiSecrets, plain, v.now()) {
		return Failure[ApiValidationResult](oauthmodel.ErrorInvalidClient, "invalid api credentials")
	}
	return Success(&ApiValidationResult{Resource: found[0], Secret: parsed})
}
