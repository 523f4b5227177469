// Package grants is the persistence abstraction for everything the engine hands out by
// reference: reference tokens, refresh tokens, consent, authorization codes, device codes,
// pushed authorization requests and backchannel authentication requests.
//
// A single polymorphic Store holds every PersistedGrant; typed wrappers in this package
// encode their payload into PersistedGrant.Data and never see each other's records.
package grants

import (
	"time"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

// Type discriminates the payload of a PersistedGrant.
type Type string

const (
	ReferenceTokenGrant                   Type = "reference_token"
	RefreshTokenGrant                     Type = "refresh_token"
	UserConsentGrant                      Type = "user_consent"
	AuthorizationCodeGrant                Type = "authorization_code"
	DeviceCodeGrant                       Type = "device_code"
	PushedAuthorizationRequestGrant       Type = "pushed_authorization_request"
	BackchannelAuthenticationRequestGrant Type = "backchannel_authentication_request"
)

// AllTypes lists every grant type the store can hold.
var AllTypes = []Type{
	ReferenceTokenGrant,
	RefreshTokenGrant,
	UserConsentGrant,
	AuthorizationCodeGrant,
	DeviceCodeGrant,
	PushedAuthorizationRequestGrant,
	BackchannelAuthenticationRequestGrant,
}

var (
	ErrNotFound        = errors.ErrNotFound
	ErrDuplicateKey    = errors.ErrDuplicateKey
	ErrEmptyFilter     = errors.ErrEmptyFilter
	ErrAlreadyConsumed = errors.Wrapf(errors.ErrInvalidToken, "grant already consumed")
)

// PersistedGrant is the storage record. Key is unique and is always a hash of the handle
// given to the client, never the handle itself.
type PersistedGrant struct {
	Key          string     `json:"key"`
	Type         Type       `json:"type"`
	SubjectID    string     `json:"subject_id,omitempty"`
	SessionID    string     `json:"session_id,omitempty"`
	ClientID     string     `json:"client_id"`
	Description  string     `json:"description,omitempty"`
	CreationTime time.Time  `json:"creation_time"`
	Expiration   *time.Time `json:"expiration,omitempty"`
	ConsumedTime *time.Time `json:"consumed_time,omitempty"`
	Data         string     `json:"data"`
}

// Validate checks the record invariants before it is written.
func (g *PersistedGrant) Validate() error {
	if g.Key == "" {
		return errors.Wrapf(errors.ErrInternal, "persisted grant key is required")
	}
	if g.Type == "" {
		return errors.Wrapf(errors.ErrInternal, "persisted grant type is required")
	}
	if g.ClientID == "" {
		return errors.Wrapf(errors.ErrInternal, "persisted grant client id is required")
	}
	if g.Expiration != nil && g.Expiration.Before(g.CreationTime) {
		return errors.Wrapf(errors.ErrInternal, "persisted grant %s expires before it was created", g.Type)
	}
	if g.ConsumedTime != nil && g.ConsumedTime.Before(g.CreationTime) {
		return errors.Wrapf(errors.ErrInternal, "persisted grant %s consumed before it was created", g.Type)
	}
	return nil
}

// IsExpired reports whether the grant has passed its expiration at now.
func (g *PersistedGrant) IsExpired(now time.Time) bool {
	return g.Expiration != nil && !now.Before(*g.Expiration)
}

// IsConsumed reports whether the grant has been used.
func (g *PersistedGrant) IsConsumed() bool {
	return g.ConsumedTime != nil
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (g *PersistedGrant) Clone() *PersistedGrant {
	c := *g
	if g.Expiration != nil {
		c.Expiration = utils.Ptr(*g.Expiration)
	}
	if g.ConsumedTime != nil {
		c.ConsumedTime = utils.Ptr(*g.ConsumedTime)
	}
	return &c
}

// Filter selects grants for GetAll and RemoveAll. ClientID and ClientIDs are combined, as
// are Type and Types. At least one criterion must be set.
type Filter struct {
	SubjectID string
	SessionID string
	ClientID  string
	ClientIDs []string
	Type      Type
	Types     []Type
}

// Validate rejects an empty filter so RemoveAll can never wipe the store.
func (f Filter) Validate() error {
	if f.SubjectID == "" && f.SessionID == "" && f.ClientID == "" && len(f.ClientIDs) == 0 &&
		f.Type == "" && len(f.Types) == 0 {
		return ErrEmptyFilter
	}
	return nil
}

// ClientSet returns the combined client ids.
func (f Filter) ClientSet() []string {
	ids := append([]string(nil), f.ClientIDs...)
	if f.ClientID != "" {
		ids = append(ids, f.ClientID)
	}
	return utils.Distinct(ids)
}

// TypeSet returns the combined grant types.
func (f Filter) TypeSet() []Type {
	types := append([]Type(nil), f.Types...)
	if f.Type != "" {
		types = append(types, f.Type)
	}
	return types
}

// Matches reports whether g satisfies the filter.
func (f Filter) Matches(g *PersistedGrant) bool {
	if f.SubjectID != "" && g.SubjectID != f.SubjectID {
		return false
	}
	if f.SessionID != "" && g.SessionID != f.SessionID {
		return false
	}
	if ids := f.ClientSet(); len(ids) > 0 && !utils.Contains(ids, g.ClientID) {
		return false
	}
	if types := f.TypeSet(); len(types) > 0 {
		found := false
		for _, t := range types {
			if t == g.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
