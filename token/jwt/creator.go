package jwt

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Header typ values.
const (
	TypeAccessToken = "at+jwt"
	TypeLogoutToken = "logout+jwt"
)

const backchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// Claims that are serialised as numbers or booleans rather than strings.
var (
	numericClaims = map[string]bool{grants.ClaimAuthTime: true, "updated_at": true}
	booleanClaims = map[string]bool{"email_verified": true, "phone_number_verified": true}
	arrayClaims   = map[string]bool{grants.ClaimAMR: true}
)

// Creator signs tokens with the key manager's current credential.
type Creator struct {
	keys *keys.Manager
}

// NewCreator creates a new JWT creator
func NewCreator(keyManager *keys.Manager) *Creator {
	return &Creator{
		keys: keyManager,
	}
}

// CreateToken signs t with a key whose algorithm t allows. Access tokens carry the at+jwt
// type header.
func (c *Creator) CreateToken(ctx context.Context, t *grants.Token) (string, error) {
	signer, err := c.keys.Signer(ctx, t.AllowedSigningAlgorithms)
	if err != nil {
		return "", err
	}
	if t.Type == grants.TokenTypeAccessToken {
		signer = signer.WithHeader("typ", TypeAccessToken)
	}
	return c.signTokenWithSigner(Claims(t), signer)
}

// LogoutToken describes an OIDC back-channel logout token.
type LogoutToken struct {
	Issuer                   string
	ClientID                 string
	SubjectID                string
	SessionID                string
	Lifetime                 time.Duration
	AllowedSigningAlgorithms []string
}

// CreateLogoutToken signs a logout_token. It never carries a nonce.
func (c *Creator) CreateLogoutToken(ctx context.Context, lt LogoutToken) (string, error) {
	signer, err := c.keys.Signer(ctx, lt.AllowedSigningAlgorithms)
	if err != nil {
		return "", err
	}
	now := NowTimeFunc()
	claims := jwtlib.MapClaims{
		"iss":    lt.Issuer,
		"aud":    lt.ClientID,
		"iat":    now.Unix(),
		"exp":    now.Add(lt.Lifetime).Unix(),
		"jti":    uuid.NewString(),
		"events": map[string]any{backchannelLogoutEvent: map[string]any{}},
	}
	if lt.SubjectID != "" {
		claims["sub"] = lt.SubjectID
	}
	if lt.SessionID != "" {
		claims["sid"] = lt.SessionID
	}
	return c.signTokenWithSigner(claims, signer.WithHeader("typ", TypeLogoutToken))
}

// Claims converts a token to its JWT payload. Repeated claim types become arrays; the scope
// of an access token is a single space-delimited string.
func Claims(t *grants.Token) jwtlib.MapClaims {
	claims := jwtlib.MapClaims{
		"iss": t.Issuer,
		"iat": t.CreationTime.Unix(),
		"nbf": t.CreationTime.Unix(),
		"exp": t.Expiration().Unix(),
	}
	switch len(t.Audiences) {
	case 0:
	case 1:
		claims["aud"] = t.Audiences[0]
	default:
		claims["aud"] = append([]string(nil), t.Audiences...)
	}
	if t.Type == grants.TokenTypeAccessToken && t.ClientID != "" {
		claims[grants.ClaimClientID] = t.ClientID
	}

	grouped := make(map[string][]string)
	var order []string
	for _, c := range t.Claims {
		if _, ok := grouped[c.Type]; !ok {
			order = append(order, c.Type)
		}
		grouped[c.Type] = append(grouped[c.Type], c.Value)
	}
	for _, claimType := range order {
		values := grouped[claimType]
		switch {
		case claimType == grants.ClaimScope && t.Type == grants.TokenTypeAccessToken:
			claims[claimType] = grants.ScopeString(values)
		case arrayClaims[claimType]:
			claims[claimType] = values
		case numericClaims[claimType] && len(values) == 1:
			if n, err := strconv.ParseInt(values[0], 10, 64); err == nil {
				claims[claimType] = n
			} else {
				claims[claimType] = values[0]
			}
		case booleanClaims[claimType] && len(values) == 1:
			if b, err := strconv.ParseBool(values[0]); err == nil {
				claims[claimType] = b
			} else {
				claims[claimType] = values[0]
			}
		case len(values) == 1:
			claims[claimType] = values[0]
		default:
			claims[claimType] = values
		}
	}
	return claims
}

// signTokenWithSigner signs JWT claims using the specified signer
func (c *Creator) signTokenWithSigner(claims jwtlib.MapClaims, signer keys.Signer) (string, error) {
	signedToken, err := signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signedToken, nil
}

// Algorithm returns the algorithm a token restricted to allowed would be signed with.
func (c *Creator) Algorithm(allowed []string) (string, error) {
	return c.keys.SelectAlgorithm(allowed)
}

// HashClaim computes at_hash, c_hash and s_hash values: the left half of the hash of value,
// using the hash size of the signing algorithm, base64url encoded.
func HashClaim(value, alg string) string {
	var sum []byte
	switch {
	case strings.HasSuffix(alg, "384"):
		s := sha512.Sum384([]byte(value))
		sum = s[:]
	case strings.HasSuffix(alg, "512"):
		s := sha512.Sum512([]byte(value))
		sum = s[:]
	default:
		s := sha256.Sum256([]byte(value))
		sum = s[:]
	}
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
