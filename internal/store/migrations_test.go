package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)

	assert.Equal(t, 1, ms[0].version)
	assert.Equal(t, "initial_schema", ms[0].name)
	assert.Contains(t, ms[0].script, "layout_positions")

	for i := 1; i < len(ms); i++ {
		assert.Greater(t, ms[i].version, ms[i-1].version, "migrations ordered by version")
	}
}

func TestSQLStatements(t *testing.T) {
	script := `-- leading comment
CREATE TABLE a (id INTEGER);

-- another comment
CREATE INDEX idx_a ON a (id);
`
	stmts := sqlStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id INTEGER)", stmts[0])
	assert.Equal(t, "CREATE INDEX idx_a ON a (id)", stmts[1])

	assert.Empty(t, sqlStatements("-- only comments\n-- nothing else"))
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Store is already migrated by the helper; a second run must not fail
	// and must not re-apply anything.
	require.NoError(t, s.Migrate(ctx))

	var count int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, len(mustMigrations(t)), count)
}

func mustMigrations(t *testing.T) []migration {
	t.Helper()
	ms, err := loadMigrations()
	require.NoError(t, err)
	return ms
}
