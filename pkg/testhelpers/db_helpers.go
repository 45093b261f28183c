// Package testhelpers provides database fixtures for integration tests.
package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

// NewTestPool connects to a real Postgres instance for integration tests.
// Skips if DATABASE_URL_FOR_TEST is not set to keep CI deterministic.
func NewTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if err := godotenv.Load(); err != nil {
		t.Log("No .env file found, using environment variables")
	}
	dsn := os.Getenv("DATABASE_URL_FOR_TEST")
	if dsn == "" {
		t.Skip("DATABASE_URL_FOR_TEST not set; skipping integration tests")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.MaxConns = 4

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)

	schemaPath := os.Getenv("SCHEMA_PATH")
	if schemaPath == "" {
		// Tests run with the package directory as cwd.
		schemaPath = filepath.Join("..", "db", "schema.sql")
	}
	schema, err := os.ReadFile(schemaPath)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	truncate := func() {
		_, err := pool.Exec(context.Background(), "TRUNCATE messages RESTART IDENTITY")
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(func() { pool.Close() })
	return pool
}
