package manifest

import (
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/jkarhu/floe/internal/testutil"
)

func newTestPostgresStore(t *testing.T) Store {
	t.Helper()

	dsn := testutil.GetPostgresDSN(t)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	// The container is shared across subtests; start each one empty.
	for _, table := range []string{"snapshot_records", "manifest_entries"} {
		_, err := db.Exec("TRUNCATE TABLE " + table)
		require.NoError(t, err)
	}
	return store
}

func TestPostgresStore_Contract(t *testing.T) {
	runStoreTests(t, newTestPostgresStore)
}
