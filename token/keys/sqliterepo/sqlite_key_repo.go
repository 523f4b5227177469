// Package sqliterepo stores signing keys in SQLite.
package sqliterepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jrsteele09/go-oidc-engine/internal/sqlitedb"
	"github.com/jrsteele09/go-oidc-engine/token/keys"
)

var _ keys.Store = (*SQLiteKeyRepo)(nil)

type SQLiteKeyRepo struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLiteKeyRepo {
	return &SQLiteKeyRepo{db: db}
}

func (r *SQLiteKeyRepo) LoadKeys(ctx context.Context) ([]*keys.SerializedKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, version, created, algorithm, is_x509, protected, data FROM signing_keys ORDER BY created`)
	if err != nil {
		return nil, fmt.Errorf("querying signing keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*keys.SerializedKey
	for rows.Next() {
		var (
			k       keys.SerializedKey
			created int64
		)
		if err := rows.Scan(&k.ID, &k.Version, &created, &k.Algorithm, &k.IsX509Certificate, &k.DataProtected, &k.Data); err != nil {
			return nil, fmt.Errorf("scanning signing key: %w", err)
		}
		k.Created = sqlitedb.FromMillis(created)
		out = append(out, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signing keys: %w", err)
	}
	return out, nil
}

func (r *SQLiteKeyRepo) StoreKey(ctx context.Context, key *keys.SerializedKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO signing_keys (id, version, created, algorithm, is_x509, protected, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, protected = excluded.protected`,
		key.ID, key.Version, sqlitedb.ToMillis(key.Created), key.Algorithm,
		key.IsX509Certificate, key.DataProtected, key.Data,
	)
	if err != nil {
		return fmt.Errorf("storing signing key: %w", err)
	}
	return nil
}

func (r *SQLiteKeyRepo) DeleteKey(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM signing_keys WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting signing key: %w", err)
	}
	return nil
}
