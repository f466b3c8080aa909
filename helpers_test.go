package dbpatch

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// fixedNow is the clock used by tests.
var fixedNow = time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)

// testEnv bundles a runner over a temp-file SQLite database.
type testEnv struct {
	dir    string
	db     *sql.DB
	runner *Runner
	hook   *test.Hook
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	cfg := Config{
		Driver:  "sqlite3",
		RootDir: dir,
		Logger:  logger,
		Now:     func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	r, err := NewRunner(cfg, db)
	require.NoError(t, err)
	return &testEnv{dir: dir, db: db, runner: r, hook: hook}
}

// writeSQL writes content below the env root and returns the relative path.
func (e *testEnv) writeSQL(t *testing.T, rel, content string) string {
	t.Helper()
	full := filepath.Join(e.dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return rel
}

func (e *testEnv) hasTable(t *testing.T, name string) bool {
	t.Helper()
	var n int
	err := e.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func (e *testEnv) exec(t *testing.T, query string) {
	t.Helper()
	_, err := e.db.Exec(query)
	require.NoError(t, err)
}

func (e *testEnv) status(t *testing.T, name string) Status {
	t.Helper()
	s, err := e.runner.Status(context.Background(), name)
	require.NoError(t, err)
	return s
}

// recordingExecer records statements and fails those containing failOn.
type recordingExecer struct {
	stmts  []string
	failOn string
}

func (r *recordingExecer) Exec(_ context.Context, query string, _ ...any) (int64, error) {
	if r.failOn != "" && strings.Contains(query, r.failOn) {
		return 0, errors.New("boom")
	}
	r.stmts = append(r.stmts, query)
	return 1, nil
}
