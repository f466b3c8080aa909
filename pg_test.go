package dbpatch_test

import (
	"context"
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcomnes/dbpatch"
)

const pgTestDatabase = "dbpatch_test"

// pgTestConfig points at the temporary test database, or is nil when
// DBPATCH_PG_URL is not set.
var pgTestConfig *pgx.ConnConfig

// TestMain creates a temporary Postgres database when DBPATCH_PG_URL is set
// and drops it after the tests.
func TestMain(m *testing.M) {
	url := os.Getenv("DBPATCH_PG_URL")
	if url == "" {
		os.Exit(m.Run())
	}

	adminConfig, err := pgx.ParseConfig(url)
	if err != nil {
		log.Fatalf("failed to parse DBPATCH_PG_URL: %v", err)
	}
	db := stdlib.OpenDB(*adminConfig)
	if err = db.Ping(); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}

	// Drop if exists and then create our test database.
	_, _ = db.Exec("DROP DATABASE IF EXISTS " + pgTestDatabase)
	if _, err = db.Exec("CREATE DATABASE " + pgTestDatabase); err != nil {
		log.Fatalf("failed to create test database: %v", err)
	}

	// Wait briefly to ensure the test database is ready.
	time.Sleep(500 * time.Millisecond)

	pgTestConfig = adminConfig.Copy()
	pgTestConfig.Database = pgTestDatabase

	code := m.Run()

	// Terminate active connections before dropping.
	_, err = db.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, pgTestDatabase)
	if err != nil {
		log.Printf("warning: could not terminate connections: %v", err)
	}
	if _, err = db.Exec("DROP DATABASE IF EXISTS " + pgTestDatabase); err != nil {
		log.Printf("failed to drop test database: %v", err)
	}
	db.Close()

	os.Exit(code)
}

func openPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if pgTestConfig == nil {
		t.Skip("DBPATCH_PG_URL not set")
	}
	db := stdlib.OpenDB(*pgTestConfig)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresManifest(t *testing.T) {
	runManifestScenario(t, "pg", openPostgres(t))
}

func TestPostgresSchemaPatch(t *testing.T) {
	runSchemaScenario(t, "pg", openPostgres(t))
}

func TestPostgresTypeRoundTrip(t *testing.T) {
	runTypeRoundTrip(t, "pg", openPostgres(t))
}

func TestPostgresNonPublicSchema(t *testing.T) {
	db := openPostgres(t)
	ctx := context.Background()
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS app`)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = db.Exec(`DROP SCHEMA IF EXISTS app CASCADE`) })

	logger, _ := test.NewNullLogger()
	r, err := dbpatch.NewRunner(dbpatch.Config{
		Driver:        "pg",
		CurrentSchema: "app",
		RootDir:       "testdata",
		SnapshotPath:  filepath.Join(t.TempDir(), "schema.json"),
		Logger:        logger,
	}, db)
	require.NoError(t, err)

	tableIn := func(schema, table string) bool {
		var n int
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT count(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
			schema, table).Scan(&n))
		return n == 1
	}

	require.NoError(t, r.Registry().EnsureTable(ctx))
	require.NoError(t, r.Registry().EnsureTable(ctx))
	assert.True(t, tableIn("app", "patches"))
	assert.False(t, tableIn("public", "patches"))

	p := dbpatch.NewSchemaMigrationPatch("001-accounts", accountsModel, func(s *dbpatch.Schema) error {
		s.DropTable("sessions")
		s.DropTable("accounts")
		return nil
	})
	require.NoError(t, r.Register(p))
	require.NoError(t, p.Apply(ctx))
	assert.True(t, tableIn("app", "accounts"))
	assert.False(t, tableIn("public", "accounts"))

	stmts, err := p.Statements(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, stmts)

	status, err := r.Status(ctx, "001-accounts")
	require.NoError(t, err)
	assert.Equal(t, dbpatch.StatusApplied, status)

	require.NoError(t, p.Revert(ctx))
	assert.False(t, tableIn("app", "accounts"))
}
