package response

import (
	"context"
	"strconv"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
	"github.com/jrsteele09/go-oidc-engine/resources"
	"github.com/jrsteele09/go-oidc-engine/token"
	"github.com/jrsteele09/go-oidc-engine/validation"
)

// UserInfoResponseGenerator returns the claims of the identity scopes granted to the token.
type UserInfoResponseGenerator struct {
	profile   token.ProfileService
	resources resources.Repo
	options
}

func NewUserInfoResponseGenerator(profile token.ProfileService, repo resources.Repo, opts ...Option) *UserInfoResponseGenerator {
	return &UserInfoResponseGenerator{
		profile:   profile,
		resources: repo,
		options:   newOptions("userinfo_response", opts),
	}
}

func (g *UserInfoResponseGenerator) Process(ctx context.Context, req *validation.ValidatedUserInfoRequest) (map[string]any, error) {
	ctx, span := g.start(ctx, "UserInfoResponseGenerator.Process")
	defer span.End()

	identity, err := g.resources.FindIdentityResourcesByScopeName(ctx, req.Token.Scopes())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load identity resources")
	}
	var claimTypes []string
	for _, ir := range identity {
		if ir.Enabled {
			claimTypes = append(claimTypes, ir.UserClaims...)
		}
	}
	claimTypes = utils.Distinct(claimTypes)

	resp := map[string]any{grants.ClaimSubject: req.Subject.SubjectID}
	if len(claimTypes) == 0 {
		return resp, nil
	}
	claims, err := g.profile.GetProfileClaims(ctx, req.Subject, claimTypes)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load profile claims")
	}
	for claimType, value := range claimMap(claims) {
		if claimType == grants.ClaimSubject {
			continue
		}
		resp[claimType] = value
	}
	return resp, nil
}

// claimMap renders claims as JSON values: repeated types become arrays, and the verified flags
// and updated_at keep their JSON types.
func claimMap(claims []grants.Claim) map[string]any {
	grouped := make(map[string][]string)
	for _, c := range claims {
		grouped[c.Type] = append(grouped[c.Type], c.Value)
	}
	out := make(map[string]any, len(grouped))
	for claimType, values := range grouped {
		if len(values) > 1 {
			out[claimType] = values
			continue
		}
		v := values[0]
		switch claimType {
		case "email_verified", "phone_number_verified":
			if b, err := strconv.ParseBool(v); err == nil {
				out[claimType] = b
				continue
			}
		case "updated_at":
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[claimType] = n
				continue
			}
		}
		out[claimType] = v
	}
	return out
}
