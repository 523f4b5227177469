// Package token turns validated requests into access and identity tokens and renders them
// either as signed JWTs or as reference handles backed by the grant store.
package token

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oidc-engine/clients"
	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/telemetry"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/resources"
	"github.com/jrsteele09/go-oidc-engine/token/jwt"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
)

// ClientClaimPrefix is prepended to the static claims a client adds to its access tokens.
const ClientClaimPrefix = "client_"

// ProfileService supplies user claims and tells whether a user may still receive tokens.
type ProfileService interface {
	GetProfileClaims(ctx context.Context, subject *grants.Subject, claimTypes []string) ([]grants.Claim, error)
	IsActive(ctx context.Context, subjectID string) (bool, error)
}

// Request is everything needed to mint tokens for one validated request.
type Request struct {
	GrantType string
	Client    *clients.Client
	// Subject is nil for client credentials.
	Subject   *grants.Subject
	Resources *resources.ValidatedResources
	// ResourceIndicator restricts the audience to one API resource.
	ResourceIndicator string

	Nonce                   string
	State                   string
	AccessTokenToHash       string
	AuthorizationCodeToHash string
	// IncludeAllIdentityClaims puts identity claims in the id_token when no access token
	// is returned to fetch them from userinfo.
	IncludeAllIdentityClaims bool
	Description              string
}

type Service struct {
	issuer          string
	creator         *jwt.Creator
	referenceTokens *grants.ReferenceTokenStore
	profile         ProfileService
	nowFunc         func() time.Time
	logger          zerolog.Logger
	telemetry       *telemetry.Telemetry
}

type ServiceOption func(*Service)

func WithProfileService(p ProfileService) ServiceOption {
	return func(s *Service) {
		s.profile = p
	}
}

func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = l
	}
}

func WithTelemetry(t *telemetry.Telemetry) ServiceOption {
	return func(s *Service) {
		s.telemetry = t
	}
}

func NewService(issuer string, creator *jwt.Creator, referenceTokens *grants.ReferenceTokenStore, options ...ServiceOption) *Service {
	s := &Service{
		issuer:          issuer,
		creator:         creator,
		referenceTokens: referenceTokens,
		nowFunc:         time.Now,
		logger:          zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.telemetry = telemetry.OrNoop(s.telemetry)
	s.logger = s.logger.With().Str("component", "token_service").Logger()
	return s
}

func (s *Service) Issuer() string {
	return s.issuer
}

// CreateAccessToken builds the access token model for req. The audience is the requested
// resource indicator or, without one, every API resource the scopes resolved to.
func (s *Service) CreateAccessToken(ctx context.Context, req *Request) (*grants.Token, error) {
	ctx, span := s.telemetry.Tracer.Start(ctx, "TokenService.CreateAccessToken")
	defer span.End()

	client := req.Client
	claims := make([]grants.Claim, 0, 16)
	claims = append(claims, grants.Claim{Type: grants.ClaimJTI, Value: uuid.NewString()})

	if req.Subject != nil {
		claims = append(claims, subjectClaims(req.Subject)...)
	}
	for _, scope := range req.Resources.RawScopeValues() {
		claims = append(claims, grants.Claim{Type: grants.ClaimScope, Value: scope})
	}
	for _, name := range sortedKeys(client.Claims) {
		claims = append(claims, grants.Claim{Type: ClientClaimPrefix + name, Value: client.Claims[name]})
	}
	var resolved *resources.Resources
	if req.Resources != nil {
		resolved = req.Resources.Resources
	}
	if req.Subject != nil && s.profile != nil && resolved != nil {
		claimTypes := apiUserClaims(resolved)
		if len(claimTypes) > 0 {
			profileClaims, err := s.profile.GetProfileClaims(ctx, req.Subject, claimTypes)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to load profile claims")
			}
			claims = appendMissing(claims, profileClaims)
		}
	}

	var audiences []string
	var resourceAlgs []string
	if resolved != nil {
		if req.ResourceIndicator != "" {
			audiences = []string{req.ResourceIndicator}
		} else {
			audiences = resolved.ApiResourceNames()
		}
		var err error
		if resourceAlgs, err = resourceSigningAlgorithms(resolved); err != nil {
			return nil, err
		}
	}
	algs, err := combineAlgorithms(client.AllowedAccessTokenSigningAlgorithms, resourceAlgs)
	if err != nil {
		return nil, err
	}

	tokenType := client.AccessTokenType
	if tokenType == "" {
		tokenType = clients.AccessTokenJWT
	}
	return &grants.Token{
		Type:                     grants.TokenTypeAccessToken,
		CreationTime:             s.nowFunc().UTC(),
		Lifetime:                 client.AccessTokenTTL(),
		Issuer:                   s.issuer,
		ClientID:                 client.ClientID,
		Audiences:                utils.Distinct(audiences),
		Claims:                   claims,
		AccessTokenType:          tokenType,
		AllowedSigningAlgorithms: algs,
		Description:              req.Description,
	}, nil
}

// CreateIdentityToken builds the id_token model. The access token, code and state, when set,
// are hashed with the hash size of the signing algorithm.
func (s *Service) CreateIdentityToken(ctx context.Context, req *Request) (*grants.Token, error) {
	ctx, span := s.telemetry.Tracer.Start(ctx, "TokenService.CreateIdentityToken")
	defer span.End()

	if req.Subject == nil {
		return nil, errors.Wrapf(errors.ErrInternal, "identity token requires a subject")
	}
	client := req.Client
	alg, err := s.creator.Algorithm(client.AllowedIdentityTokenSigningAlgorithms)
	if err != nil {
		return nil, err
	}

	claims := subjectClaims(req.Subject)
	if req.Nonce != "" {
		claims = append(claims, grants.Claim{Type: grants.ClaimNonce, Value: req.Nonce})
	}
	if req.AccessTokenToHash != "" {
		claims = append(claims, grants.Claim{Type: grants.ClaimAtHash, Value: jwt.HashClaim(req.AccessTokenToHash, alg)})
	}
	if req.AuthorizationCodeToHash != "" {
		claims = append(claims, grants.Claim{Type: grants.ClaimCHash, Value: jwt.HashClaim(req.AuthorizationCodeToHash, alg)})
	}
	if req.State != "" {
		claims = append(claims, grants.Claim{Type: grants.ClaimSHash, Value: jwt.HashClaim(req.State, alg)})
	}
	if req.IncludeAllIdentityClaims && s.profile != nil && req.Resources != nil && req.Resources.Resources != nil {
		var claimTypes []string
		for _, ir := range req.Resources.Resources.IdentityResources {
			claimTypes = append(claimTypes, ir.UserClaims...)
		}
		if len(claimTypes) > 0 {
			profileClaims, err := s.profile.GetProfileClaims(ctx, req.Subject, utils.Distinct(claimTypes))
			if err != nil {
				return nil, errors.Wrapf(err, "failed to load profile claims")
			}
			claims = appendMissing(claims, profileClaims)
		}
	}

	return &grants.Token{
		Type:                     grants.TokenTypeIdentityToken,
		CreationTime:             s.nowFunc().UTC(),
		Lifetime:                 client.IdentityTokenTTL(),
		Issuer:                   s.issuer,
		ClientID:                 client.ClientID,
		Audiences:                []string{client.ClientID},
		Claims:                   claims,
		AllowedSigningAlgorithms: []string{alg},
	}, nil
}

// CreateSecurityToken renders t. Reference access tokens are persisted and their handle
// returned; everything else is signed.
func (s *Service) CreateSecurityToken(ctx context.Context, t *grants.Token) (string, error) {
	ctx, span := s.telemetry.Tracer.Start(ctx, "TokenService.CreateSecurityToken")
	defer span.End()

	if t.Type == grants.TokenTypeAccessToken && t.AccessTokenType == clients.AccessTokenReference {
		handle, err := s.referenceTokens.StoreReferenceToken(ctx, t)
		if err != nil {
			return "", errors.Wrapf(err, "failed to store reference token")
		}
		return handle, nil
	}
	raw, err := s.creator.CreateToken(ctx, t)
	if err != nil {
		if errors.Is(err, errors.ErrConfiguration) {
			s.logger.Error().Err(err).Str("client_id", t.ClientID).Msg("no signing credential for token")
		}
		return "", err
	}
	return raw, nil
}

func subjectClaims(subject *grants.Subject) []grants.Claim {
	claims := []grants.Claim{{Type: grants.ClaimSubject, Value: subject.SubjectID}}
	if !subject.AuthTime.IsZero() {
		claims = append(claims, grants.Claim{Type: grants.ClaimAuthTime, Value: strconv.FormatInt(subject.AuthTime.Unix(), 10)})
	}
	if subject.IdentityProvider != "" {
		claims = append(claims, grants.Claim{Type: grants.ClaimIdP, Value: subject.IdentityProvider})
	}
	for _, amr := range subject.AuthenticationMethods {
		claims = append(claims, grants.Claim{Type: grants.ClaimAMR, Value: amr})
	}
	if subject.SessionID != "" {
		claims = append(claims, grants.Claim{Type: grants.ClaimSession, Value: subject.SessionID})
	}
	return claims
}

// apiUserClaims are the user claims the API scopes and resources ask to see in access tokens.
func apiUserClaims(r *resources.Resources) []string {
	var types []string
	for _, s := range r.ApiScopes {
		types = append(types, s.UserClaims...)
	}
	for _, ar := range r.ApiResources {
		types = append(types, ar.UserClaims...)
	}
	return utils.Distinct(types)
}

// resourceSigningAlgorithms intersects the algorithm restrictions of every API resource.
func resourceSigningAlgorithms(r *resources.Resources) ([]string, error) {
	var algs []string
	restricted := false
	for _, ar := range r.ApiResources {
		if len(ar.AllowedAccessTokenSigningAlgorithms) == 0 {
			continue
		}
		if !restricted {
			algs = append([]string(nil), ar.AllowedAccessTokenSigningAlgorithms...)
			restricted = true
			continue
		}
		algs = intersect(algs, ar.AllowedAccessTokenSigningAlgorithms)
	}
	if restricted && len(algs) == 0 {
		return nil, errors.Wrapf(keys.ErrNoSigningKey, "requested API resources share no signing algorithm")
	}
	return algs, nil
}

func combineAlgorithms(client, resource []string) ([]string, error) {
	switch {
	case len(client) == 0:
		return resource, nil
	case len(resource) == 0:
		return client, nil
	}
	algs := intersect(client, resource)
	if len(algs) == 0 {
		return nil, errors.Wrapf(keys.ErrNoSigningKey, "client algorithms %v and resource algorithms %v do not overlap", client, resource)
	}
	return algs, nil
}

func intersect(a, b []string) []string {
	var out []string
	for _, v := range a {
		if utils.Contains(b, v) {
			out = append(out, v)
		}
	}
	return out
}

// appendMissing adds profile claims whose type is not already present.
func appendMissing(claims, extra []grants.Claim) []grants.Claim {
	present := make(map[string]bool, len(claims))
	for _, c := range claims {
		present[c.Type] = true
	}
	for _, c := range extra {
		if !present[c.Type] {
			claims = append(claims, c)
		}
	}
	return claims
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
