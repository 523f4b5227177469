package jwt

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
)

// registered claims are carried in Token fields rather than Token.Claims
var registeredClaims = map[string]bool{
	"iss": true, "aud": true, "iat": true, "nbf": true, "exp": true, grants.ClaimClientID: true,
}

// ValidateOptions narrows what Inspector.Validate accepts.
type ValidateOptions struct {
	// Audience, when set, must be one of the token's audiences.
	Audience string
	// Type, when set, must equal the typ header.
	Type string
	// SkipLifetime accepts expired tokens (id_token_hint at end session).
	SkipLifetime bool
}

// Inspector verifies JWTs issued by this server.
type Inspector struct {
	keys   *keys.Manager
	issuer string
	leeway time.Duration
}

// NewInspector creates a new JWT inspector
func NewInspector(keyManager *keys.Manager, issuer string, leeway time.Duration) *Inspector {
	return &Inspector{
		keys:   keyManager,
		issuer: issuer,
		leeway: leeway,
	}
}

// Validate checks signature, issuer, lifetime and options, and returns the claims.
// Expired tokens fail with an error wrapping errors.ErrTokenExpired.
func (i *Inspector) Validate(ctx context.Context, rawToken string, opts ValidateOptions) (jwtlib.MapClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "empty token")
	}
	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithIssuer(i.issuer),
		jwtlib.WithTimeFunc(NowTimeFunc),
		jwtlib.WithLeeway(i.leeway),
		jwtlib.WithValidMethods(keys.SupportedAlgorithms),
		jwtlib.WithIssuedAt(),
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwtlib.WithAudience(opts.Audience))
	}
	if !opts.SkipLifetime {
		parserOpts = append(parserOpts, jwtlib.WithExpirationRequired())
	} else {
		parserOpts = append(parserOpts, jwtlib.WithoutClaimsValidation())
	}

	token, err := jwtlib.Parse(rawToken, i.keys.Keyfunc(ctx), parserOpts...)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, errors.Wrapf(errors.ErrTokenExpired, "%s", err.Error())
		}
		return nil, errors.Wrapf(errors.ErrInvalidToken, "%s", err.Error())
	}
	if opts.SkipLifetime {
		// claims validation was disabled as a whole, so the issuer is checked by hand
		if iss, _ := token.Claims.GetIssuer(); iss != i.issuer {
			return nil, errors.Wrapf(errors.ErrInvalidToken, "unexpected issuer %q", iss)
		}
	}
	if opts.Type != "" {
		typ, _ := token.Header["typ"].(string)
		if !strings.EqualFold(typ, opts.Type) {
			return nil, errors.Wrapf(errors.ErrInvalidToken, "unexpected token type %q", typ)
		}
	}
	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidToken, "error extracting claims from token")
	}
	return claims, nil
}

// ToToken rebuilds a Token from verified claims so JWT and reference tokens are handled alike.
func ToToken(claims jwtlib.MapClaims, tokenType string) *grants.Token {
	t := &grants.Token{Type: tokenType}
	t.Issuer, _ = claims.GetIssuer()
	t.Audiences, _ = claims.GetAudience()
	t.ClientID, _ = claims[grants.ClaimClientID].(string)
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		t.CreationTime = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t.Lifetime = exp.Time.Sub(t.CreationTime)
	}

	names := make([]string, 0, len(claims))
	for name := range claims {
		if !registeredClaims[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		value := claims[name]
		if name == grants.ClaimScope {
			if s, ok := value.(string); ok {
				for _, scope := range strings.Fields(s) {
					t.Claims = append(t.Claims, grants.Claim{Type: name, Value: scope})
				}
				continue
			}
		}
		for _, v := range flatten(value) {
			t.Claims = append(t.Claims, grants.Claim{Type: name, Value: v})
		}
	}
	return t
}

func flatten(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case bool:
		return []string{strconv.FormatBool(v)}
	case float64:
		return []string{strconv.FormatFloat(v, 'f', -1, 64)}
	case int64:
		return []string{strconv.FormatInt(v, 10)}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, flatten(item)...)
		}
		return out
	case []string:
		return v
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(v)}
	}
}
