// Package sessions holds server-side user sessions: one record per browser login, shared by
// the authorize endpoint, end-session, and the session cleanup service.
package sessions

import (
	"time"

	"github.com/jrsteele09/go-oidc-engine/internal/errors"
	"github.com/jrsteele09/go-oidc-engine/internal/utils"
)

var (
	ErrNotFound     = errors.ErrSessionNotFound
	ErrDuplicateKey = errors.ErrDuplicateKey
	ErrEmptyFilter  = errors.ErrEmptyFilter
)

// ServerSideSession is the persisted form of a login session. Ticket carries the serialized
// authentication details and is opaque to the stores.
type ServerSideSession struct {
	Key         string     `json:"key"`
	Scheme      string     `json:"scheme"`
	SubjectID   string     `json:"subject_id"`
	SessionID   string     `json:"session_id"`
	DisplayName string     `json:"display_name,omitempty"`
	Created     time.Time  `json:"created"`
	Renewed     time.Time  `json:"renewed"`
	Expires     *time.Time `json:"expires,omitempty"`
	ClientIDs   []string   `json:"client_ids,omitempty"`
	Ticket      string     `json:"ticket"`
}

func (s *ServerSideSession) Validate() error {
	if s.Key == "" {
		return errors.Wrapf(errors.ErrInternal, "session key is required")
	}
	if s.SubjectID == "" {
		return errors.Wrapf(errors.ErrInternal, "session subject is required")
	}
	return nil
}

// IsExpired reports whether the session has passed its expiry at now.
func (s *ServerSideSession) IsExpired(now time.Time) bool {
	return s.Expires != nil && !now.Before(*s.Expires)
}

// AddClient records that a client received tokens in this session.
func (s *ServerSideSession) AddClient(clientID string) bool {
	if clientID == "" || utils.Contains(s.ClientIDs, clientID) {
		return false
	}
	s.ClientIDs = append(s.ClientIDs, clientID)
	return true
}

func (s *ServerSideSession) Clone() *ServerSideSession {
	c := *s
	c.ClientIDs = append([]string(nil), s.ClientIDs...)
	if s.Expires != nil {
		c.Expires = utils.Ptr(*s.Expires)
	}
	return &c
}

// Filter selects sessions by subject and/or session id. At least one must be set.
type Filter struct {
	SubjectID string
	SessionID string
}

func (f Filter) Validate() error {
	if f.SubjectID == "" && f.SessionID == "" {
		return ErrEmptyFilter
	}
	return nil
}

func (f Filter) Matches(s *ServerSideSession) bool {
	if f.SubjectID != "" && s.SubjectID != f.SubjectID {
		return false
	}
	if f.SessionID != "" && s.SessionID != f.SessionID {
		return false
	}
	return true
}

// Query pages through sessions. Empty criteria select every session. Page is 1-based.
type Query struct {
	SubjectID   string
	SessionID   string
	DisplayName string
	Page        int
	PageSize    int
}

const DefaultPageSize = 25

// Normalised fills in paging defaults.
func (q Query) Normalised() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	return q
}

func (q Query) Matches(s *ServerSideSession) bool {
	if q.SubjectID != "" && s.SubjectID != q.SubjectID {
		return false
	}
	if q.SessionID != "" && s.SessionID != q.SessionID {
		return false
	}
	if q.DisplayName != "" && s.DisplayName != q.DisplayName {
		return false
	}
	return true
}

type QueryResult struct {
	Results     []*ServerSideSession
	TotalCount  int
	TotalPages  int
	CurrentPage int
	HasNext     bool
}

// NewQueryResult computes paging metadata for a page of results.
func NewQueryResult(q Query, total int, page []*ServerSideSession) *QueryResult {
	pages := (total + q.PageSize - 1) / q.PageSize
	return &QueryResult{
		Results:     page,
		TotalCount:  total,
		TotalPages:  pages,
		CurrentPage: q.Page,
		HasNext:     q.Page < pages,
	}
}
