// Package sqliterepo stores server-side sessions in SQLite.
package sqliterepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-engine/internal/sqlitedb"
	"github.com/jrsteele09/go-oidc-engine/sessions"
)

var _ sessions.Store = (*SQLiteSessionRepo)(nil)

const sessionColumns = `key, scheme, subject_id, session_id, display_name, created, renewed, expires, data`

type SQLiteSessionRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLiteSessionRepo {
	return &SQLiteSessionRepo{db: db}
}

// sessionData holds the columns that are never queried on.
type sessionData struct {
	ClientIDs []string `json:"client_ids,omitempty"`
	Ticket    string   `json:"ticket"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*sessions.ServerSideSession, error) {
	var (
		s                sessions.ServerSideSession
		created, renewed int64
		expires          sql.NullInt64
		raw              string
	)
	if err := row.Scan(&s.Key, &s.Scheme, &s.SubjectID, &s.SessionID, &s.DisplayName,
		&created, &renewed, &expires, &raw); err != nil {
		return nil, err
	}
	var data sessionData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decoding session data: %w", err)
	}
	s.Created = sqlitedb.FromMillis(created)
	s.Renewed = sqlitedb.FromMillis(renewed)
	s.Expires = sqlitedb.FromNullMillis(expires)
	s.ClientIDs = data.ClientIDs
	s.Ticket = data.Ticket
	return &s, nil
}

func encodeData(s *sessions.ServerSideSession) (string, error) {
	data, err := json.Marshal(sessionData{ClientIDs: s.ClientIDs, Ticket: s.Ticket})
	if err != nil {
		return "", fmt.Errorf("encoding session data: %w", err)
	}
	return string(data), nil
}

func (r *SQLiteSessionRepo) Create(ctx context.Context, session *sessions.ServerSideSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	data, err := encodeData(session)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO server_side_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.Key, session.Scheme, session.SubjectID, session.SessionID, session.DisplayName,
		sqlitedb.ToMillis(session.Created), sqlitedb.ToMillis(session.Renewed),
		sqlitedb.NullMillis(session.Expires), data,
	)
	if err != nil {
		if sqlitedb.IsUniqueViolation(err) {
			return fmt.Errorf("session: %w", sessions.ErrDuplicateKey)
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (r *SQLiteSessionRepo) Get(ctx context.Context, key string) (*sessions.ServerSideSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM server_side_sessions WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sessions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return s, nil
}

func (r *SQLiteSessionRepo) Update(ctx context.Context, session *sessions.ServerSideSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	data, err := encodeData(session)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE server_side_sessions
		SET scheme = ?, subject_id = ?, session_id = ?, display_name = ?, created = ?, renewed = ?,
			expires = ?, data = ?
		WHERE key = ?`,
		session.Scheme, session.SubjectID, session.SessionID, session.DisplayName,
		sqlitedb.ToMillis(session.Created), sqlitedb.ToMillis(session.Renewed),
		sqlitedb.NullMillis(session.Expires), data, session.Key,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n == 0 {
		return sessions.ErrNotFound
	}
	return nil
}

func (r *SQLiteSessionRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM server_side_sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func filterClause(subjectID, sessionID, displayName string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if subjectID != "" {
		clauses = append(clauses, "subject_id = ?")
		args = append(args, subjectID)
	}
	if sessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, sessionID)
	}
	if displayName != "" {
		clauses = append(clauses, "display_name = ?")
		args = append(args, displayName)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *SQLiteSessionRepo) query(ctx context.Context, q string, args ...any) ([]*sessions.ServerSideSession, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*sessions.ServerSideSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return out, nil
}

func (r *SQLiteSessionRepo) GetSessions(ctx context.Context, filter sessions.Filter) ([]*sessions.ServerSideSession, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	clause, args := filterClause(filter.SubjectID, filter.SessionID, "")
	return r.query(ctx, `SELECT `+sessionColumns+` FROM server_side_sessions`+clause+` ORDER BY created, key`, args...)
}

func (r *SQLiteSessionRepo) DeleteSessions(ctx context.Context, filter sessions.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	clause, args := filterClause(filter.SubjectID, filter.SessionID, "")
	if _, err := r.db.ExecContext(ctx, `DELETE FROM server_side_sessions`+clause, args...); err != nil {
		return fmt.Errorf("deleting sessions: %w", err)
	}
	return nil
}

func (r *SQLiteSessionRepo) GetAndRemoveExpiredSessions(ctx context.Context, now time.Time, count int) ([]*sessions.ServerSideSession, error) {
	if count <= 0 {
		count = -1
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlitedb.Rollback(tx)

	rows, err := tx.QueryContext(ctx, `SELECT `+sessionColumns+` FROM server_side_sessions
		WHERE expires IS NOT NULL AND expires < ?
		ORDER BY expires, key LIMIT ?`, sqlitedb.ToMillis(now), count)
	if err != nil {
		return nil, fmt.Errorf("querying expired sessions: %w", err)
	}
	var expired []*sessions.ServerSideSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		expired = append(expired, s)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("closing rows: %w", err)
	}
	for _, s := range expired {
		if _, err := tx.ExecContext(ctx, `DELETE FROM server_side_sessions WHERE key = ?`, s.Key); err != nil {
			return nil, fmt.Errorf("deleting expired session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return expired, nil
}

func (r *SQLiteSessionRepo) QuerySessions(ctx context.Context, query sessions.Query) (*sessions.QueryResult, error) {
	query = query.Normalised()
	clause, args := filterClause(query.SubjectID, query.SessionID, query.DisplayName)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM server_side_sessions`+clause, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	pageArgs := append(append([]any(nil), args...), query.PageSize, (query.Page-1)*query.PageSize)
	page, err := r.query(ctx, `SELECT `+sessionColumns+` FROM server_side_sessions`+clause+`
		ORDER BY created, key LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, err
	}
	return sessions.NewQueryResult(query, total, page), nil
}
