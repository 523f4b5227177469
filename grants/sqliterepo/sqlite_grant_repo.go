// Package sqliterepo stores persisted grants in SQLite.
package sqliterepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-engine/grants"
	"github.com/jrsteele09/go-oidc-engine/internal/sqlitedb"
)

var _ grants.Store = (*SQLiteGrantRepo)(nil)

const grantColumns = `key, type, subject_id, session_id, client_id, description,
	creation_time, expiration, consumed_time, data`

// SQLiteGrantRepo implements grants.Store on a migrated sqlitedb database.
type SQLiteGrantRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLiteGrantRepo {
	return &SQLiteGrantRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*grants.PersistedGrant, error) {
	var (
		g                    grants.PersistedGrant
		grantType            string
		created              int64
		expiration, consumed sql.NullInt64
	)
	err := row.Scan(&g.Key, &grantType, &g.SubjectID, &g.SessionID, &g.ClientID, &g.Description,
		&created, &expiration, &consumed, &g.Data)
	if err != nil {
		return nil, err
	}
	g.Type = grants.Type(grantType)
	g.CreationTime = sqlitedb.FromMillis(created)
	g.Expiration = sqlitedb.FromNullMillis(expiration)
	g.ConsumedTime = sqlitedb.FromNullMillis(consumed)
	return &g, nil
}

func (r *SQLiteGrantRepo) Create(ctx context.Context, grant *grants.PersistedGrant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO persisted_grants (`+grantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		grant.Key, string(grant.Type), grant.SubjectID, grant.SessionID, grant.ClientID, grant.Description,
		sqlitedb.ToMillis(grant.CreationTime), sqlitedb.NullMillis(grant.Expiration),
		sqlitedb.NullMillis(grant.ConsumedTime), grant.Data,
	)
	if err != nil {
		if sqlitedb.IsUniqueViolation(err) {
			return fmt.Errorf("grant %s: %w", grant.Type, grants.ErrDuplicateKey)
		}
		return fmt.Errorf("inserting grant: %w", err)
	}
	return nil
}

func (r *SQLiteGrantRepo) Get(ctx context.Context, key string) (*grants.PersistedGrant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM persisted_grants WHERE key = ?`, key)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, grants.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying grant: %w", err)
	}
	return g, nil
}

// where renders the filter as a WHERE clause.
func where(filter grants.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.SubjectID != "" {
		clauses = append(clauses, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if ids := filter.ClientSet(); len(ids) > 0 {
		clauses = append(clauses, "client_id IN ("+placeholders(len(ids))+")")
		for _, id := range ids {
			args = append(args, id)
		}
	}
	if types := filter.TypeSet(); len(types) > 0 {
		clauses = append(clauses, "type IN ("+placeholders(len(types))+")")
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (r *SQLiteGrantRepo) query(ctx context.Context, query string, args ...any) ([]*grants.PersistedGrant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*grants.PersistedGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grants: %w", err)
	}
	return out, nil
}

func (r *SQLiteGrantRepo) GetAll(ctx context.Context, filter grants.Filter) ([]*grants.PersistedGrant, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	clause, args := where(filter)
	return r.query(ctx, `SELECT `+grantColumns+` FROM persisted_grants`+clause+` ORDER BY creation_time, key`, args...)
}

func (r *SQLiteGrantRepo) Update(ctx context.Context, key string, mutate func(*grants.PersistedGrant) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlitedb.Rollback(tx)

	current, err := scanGrant(tx.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM persisted_grants WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return grants.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying grant: %w", err)
	}
	if err := mutate(current); err != nil {
		return err
	}
	current.Key = key
	if err := current.Validate(); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE persisted_grants
		SET type = ?, subject_id = ?, session_id = ?, client_id = ?, description = ?,
			creation_time = ?, expiration = ?, consumed_time = ?, data = ?
		WHERE key = ?`,
		string(current.Type), current.SubjectID, current.SessionID, current.ClientID, current.Description,
		sqlitedb.ToMillis(current.CreationTime), sqlitedb.NullMillis(current.Expiration),
		sqlitedb.NullMillis(current.ConsumedTime), current.Data, key,
	)
	if err != nil {
		return fmt.Errorf("updating grant: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return grants.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (r *SQLiteGrantRepo) Remove(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM persisted_grants WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}
	return nil
}

func (r *SQLiteGrantRepo) RemoveAll(ctx context.Context, filter grants.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	clause, args := where(filter)
	if _, err := r.db.ExecContext(ctx, `DELETE FROM persisted_grants`+clause, args...); err != nil {
		return fmt.Errorf("deleting grants: %w", err)
	}
	return nil
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func (r *SQLiteGrantRepo) Expired(ctx context.Context, now time.Time, limit int) ([]*grants.PersistedGrant, error) {
	return r.query(ctx, `SELECT `+grantColumns+` FROM persisted_grants
		WHERE expiration IS NOT NULL AND expiration < ?
		ORDER BY expiration, key LIMIT ?`, sqlitedb.ToMillis(now), limitOrAll(limit))
}

func (r *SQLiteGrantRepo) Consumed(ctx context.Context, before time.Time, limit int) ([]*grants.PersistedGrant, error) {
	return r.query(ctx, `SELECT `+grantColumns+` FROM persisted_grants
		WHERE consumed_time IS NOT NULL AND consumed_time < ?
		ORDER BY consumed_time, key LIMIT ?`, sqlitedb.ToMillis(before), limitOrAll(limit))
}

func (r *SQLiteGrantRepo) RemoveKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		args = append(args, k)
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM persisted_grants WHERE key IN (`+placeholders(len(keys))+`)`, args...)
	if err != nil {
		return fmt.Errorf("deleting grants: %w", err)
	}
	return nil
}
