package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBSQLiteMigrates(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, DriverSQLite, filepath.Join(t.TempDir(), "attendance.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.Healthy(ctx))

	var tables []string
	require.NoError(t, db.Client.SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`))
	assert.Equal(t, []string{"attendance_records", "attendance_sessions", "students"}, tables)

	// Migrating twice is a no-op.
	require.NoError(t, db.Migrate(ctx))
}

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	_, err := NewDB(context.Background(), "mysql", "whatever")
	assert.ErrorContains(t, err, "unsupported driver")
}

func TestNilHandlesAreSafe(t *testing.T) {
	var db *DB
	assert.False(t, db.Healthy(context.Background()))
	assert.NoError(t, db.Close())

	var r *Redis
	assert.False(t, r.Healthy(context.Background()))
	assert.NoError(t, r.Close())
}
