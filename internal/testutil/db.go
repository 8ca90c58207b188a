// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/puppals/mediastore/internal/db"
	"github.com/stretchr/testify/require"
)

// NewDB returns a migrated sqlite database in a temp dir, closed when the test ends.
// A single connection keeps writes serialized the way busy production databases behave.
func NewDB(t testing.TB) *sqlx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "media.db")
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)

	conn, err := db.Init("sqlite", dsn)
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)

	t.Cleanup(func() { _ = db.Close(conn) })

	err = db.RunMigrations(context.Background(), conn.DB, "sqlite")
	require.NoError(t, err)

	return conn
}
