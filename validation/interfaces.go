package validation

import (
	"context"

	"github.com/jrsteele09/go-oidc-engine/grants"
)

// SessionChecker reports whether a server-side session is still alive.
type SessionChecker interface {
	Exists(ctx context.Context, subjectID, sessionID string) (bool, error)
}

// UserActivityChecker reports whether a subject may still receive tokens.
type UserActivityChecker interface {
	IsActive(ctx context.Context, subjectID string) (bool, error)
}

// ResourceOwnerValidator authenticates password grant credentials. Bad credentials return
// errors.ErrInvalidCredentials or errors.ErrUserBlocked.
type ResourceOwnerValidator interface {
	ValidateResourceOwner(ctx context.Context, username, password string) (*grants.Subject, error)
}

// BackchannelUserValidator resolves the user a CIBA request targets. subjectID is the sub of
// an already validated id_token_hint. Unknown users return errors.ErrUserNotFound.
type BackchannelUserValidator interface {
	ResolveLoginHint(ctx context.Context, loginHint, subjectID, loginHintToken string) (*grants.Subject, error)
}

// ExtensionGrantValidator handles a custom grant_type at the token endpoint. It returns the
// subject the tokens are issued for, nil for a client-only grant.
type ExtensionGrantValidator interface {
	GrantType() string
	Validate(ctx context.Context, request *ValidatedTokenRequest) (*grants.Subject, *Error)
}
