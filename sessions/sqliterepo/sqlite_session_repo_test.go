package sqliterepo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oidc-engine/internal/sqlitedb"
	"github.com/jrsteele09/go-oidc-engine/sessions"
	"github.com/jrsteele09/go-oidc-engine/sessions/sqliterepo"
	"github.com/jrsteele09/go-oidc-engine/sessions/storetest"
)

func TestSQLiteSessionRepo(t *testing.T) {
	storetest.Run(t, func(t *testing.T) sessions.Store {
		db, err := sqlitedb.Open(context.Background(), sqlitedb.InMemoryDSN)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		return sqliterepo.New(db)
	})
}
