package dbpatch_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/bcomnes/dbpatch"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioPatchTable = "dbpatch_test_patches"

func newScenarioRunner(t *testing.T, driver string, db *sql.DB) *dbpatch.Runner {
	t.Helper()
	logger, _ := test.NewNullLogger()
	r, err := dbpatch.NewRunner(dbpatch.Config{
		Driver:       driver,
		RootDir:      "testdata",
		PatchTable:   scenarioPatchTable,
		SnapshotPath: filepath.Join(t.TempDir(), "schema.json"),
		Logger:       logger,
	}, db)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, table := range append([]string{"gadgets", "widgets", "sessions", "accounts", scenarioPatchTable}, everyTypeTables...) {
			_, _ = db.Exec("DROP TABLE IF EXISTS " + table)
		}
	})
	return r
}

// runManifestScenario drives the patches in testdata/patches.yaml through
// apply, failure, revert and skip on any supported backend.
func runManifestScenario(t *testing.T, driver string, db *sql.DB) {
	ctx := context.Background()
	r := newScenarioRunner(t, driver, db)
	require.NoError(t, r.RegisterManifest())
	require.Len(t, r.Patches(), 3)

	applied, err := r.ApplyPending(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbpatch.ErrStatementExecution)
	assert.Len(t, applied, 2)

	status, err := r.Status(ctx, "003-broken")
	require.NoError(t, err)
	assert.Equal(t, dbpatch.StatusError, status)
	msg, err := r.LastErrorMessage(ctx, "003-broken")
	require.NoError(t, err)
	assert.Contains(t, msg, "no_such_table")

	// Statements before the failing one are not rolled back.
	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT count(*) FROM widgets").Scan(&count))
	assert.Equal(t, 2, count)

	require.NoError(t, r.Skip(ctx, "003-broken"))
	require.NoError(t, r.Revert(ctx, "002-gadgets"))
	require.NoError(t, r.Revert(ctx, "001-widgets"))

	has, err := r.Client().HasTable(ctx, "widgets")
	require.NoError(t, err)
	assert.False(t, has)

	states, err := r.States(ctx)
	require.NoError(t, err)
	var got []dbpatch.Status
	for _, s := range states {
		got = append(got, s.Status)
	}
	assert.Equal(t, []dbpatch.Status{dbpatch.StatusAwaiting, dbpatch.StatusAwaiting, dbpatch.StatusSkipped}, got)
}

func accountsModel(s *dbpatch.Schema) error {
	accounts := s.CreateTable("accounts")
	accounts.AddColumn("id", dbpatch.TypeInteger, dbpatch.AutoIncrement())
	accounts.AddColumn("email", dbpatch.TypeString, dbpatch.Length(120))
	accounts.AddColumn("bio", dbpatch.TypeText, dbpatch.Nullable())
	accounts.AddColumn("balance", dbpatch.TypeDecimal, dbpatch.Precision(12, 2))
	accounts.AddColumn("created_at", dbpatch.TypeDateTime)
	accounts.SetPrimaryKey("id")
	accounts.AddUniqueIndex("", "email")

	sessions := s.CreateTable("sessions")
	sessions.AddColumn("id", dbpatch.TypeBigInt, dbpatch.AutoIncrement())
	sessions.AddColumn("account_id", dbpatch.TypeInteger)
	sessions.SetPrimaryKey("id")
	sessions.AddIndex("", "account_id")
	sessions.AddForeignKey(dbpatch.ForeignKey{
		Columns:           []string{"account_id"},
		ReferencedTable:   "accounts",
		ReferencedColumns: []string{"id"},
		OnDelete:          "cascade",
	})
	return nil
}

// nicknameUp and nicknameDown alter a table that already holds a foreign key
// target, which SQLite can only undo by rebuilding it.
func nicknameUp(s *dbpatch.Schema) error {
	accounts := s.Table("accounts")
	accounts.AddColumn("nickname", dbpatch.TypeString, dbpatch.Length(40), dbpatch.Nullable())
	accounts.AddIndex("", "nickname")
	return nil
}

func nicknameDown(s *dbpatch.Schema) error {
	s.Table("accounts").DropColumn("nickname")
	return nil
}

// assertSameSchema fails when the live database no longer matches want.
func assertSameSchema(t *testing.T, r *dbpatch.Runner, want *dbpatch.Schema) {
	t.Helper()
	live, err := r.Client().IntrospectSchema(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dbpatch.Diff(want, live, r.Client()), "live schema drifted")
	assert.Empty(t, dbpatch.Diff(live, want, r.Client()), "live schema drifted")
}

// runSchemaScenario applies a code-defined schema and checks that the live
// database introspects back to the same model, and that reverting restores
// the structure captured before each apply.
func runSchemaScenario(t *testing.T, driver string, db *sql.DB) {
	ctx := context.Background()
	r := newScenarioRunner(t, driver, db)
	p := dbpatch.NewSchemaMigrationPatch("001-accounts", accountsModel, func(s *dbpatch.Schema) error {
		s.DropTable("sessions")
		s.DropTable("accounts")
		return nil
	})
	nickname := dbpatch.NewSchemaMigrationPatch("002-nickname", nicknameUp, nicknameDown)
	require.NoError(t, r.Register(p, nickname))

	empty, err := r.Client().IntrospectSchema(ctx)
	require.NoError(t, err)

	require.NoError(t, p.Apply(ctx))
	stmts, err := p.Statements(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, stmts, "live schema differs from model")

	pending, err := r.PendingChanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	beforeNickname, err := r.Client().IntrospectSchema(ctx)
	require.NoError(t, err)
	require.NoError(t, nickname.Apply(ctx))
	accounts, err := r.Client().IntrospectSchema(ctx)
	require.NoError(t, err)
	require.NotNil(t, accounts.Table("accounts"))
	assert.True(t, accounts.Table("accounts").HasColumn("nickname"))
	assert.NotNil(t, accounts.Table("accounts").Index("idx_accounts_nickname"))

	require.NoError(t, nickname.Revert(ctx))
	assertSameSchema(t, r, beforeNickname)

	require.NoError(t, p.Revert(ctx))
	for _, table := range []string{"accounts", "sessions"} {
		has, err := r.Client().HasTable(ctx, table)
		require.NoError(t, err)
		assert.False(t, has, table)
	}
	assertSameSchema(t, r, empty)
}

var everyTypeTables = []string{"every_type", "serial_integer", "serial_bigint", "serial_smallint"}

// everyTypeModel declares a column of each abstract type and an
// autoincrement key of each integer width.
func everyTypeModel(s *dbpatch.Schema) error {
	t := s.CreateTable("every_type")
	t.AddColumn("c_integer", dbpatch.TypeInteger)
	t.AddColumn("c_bigint", dbpatch.TypeBigInt)
	t.AddColumn("c_smallint", dbpatch.TypeSmallInt)
	t.AddColumn("c_string", dbpatch.TypeString, dbpatch.Length(80))
	t.AddColumn("c_text", dbpatch.TypeText, dbpatch.Nullable())
	t.AddColumn("c_boolean", dbpatch.TypeBoolean)
	t.AddColumn("c_datetime", dbpatch.TypeDateTime)
	t.AddColumn("c_datetimetz", dbpatch.TypeDateTimeTZ)
	t.AddColumn("c_date", dbpatch.TypeDate)
	t.AddColumn("c_time", dbpatch.TypeTime)
	t.AddColumn("c_float", dbpatch.TypeFloat)
	t.AddColumn("c_decimal", dbpatch.TypeDecimal, dbpatch.Precision(12, 3))
	t.AddColumn("c_blob", dbpatch.TypeBlob, dbpatch.Nullable())

	for _, typ := range []string{dbpatch.TypeInteger, dbpatch.TypeBigInt, dbpatch.TypeSmallInt} {
		serial := s.CreateTable("serial_" + typ)
		serial.AddColumn("id", typ, dbpatch.AutoIncrement())
		serial.SetPrimaryKey("id")
	}
	return nil
}

// runTypeRoundTrip checks that every abstract type reads back as declared,
// so a freshly applied model never diffs against itself.
func runTypeRoundTrip(t *testing.T, driver string, db *sql.DB) {
	ctx := context.Background()
	r := newScenarioRunner(t, driver, db)
	p := dbpatch.NewSchemaMigrationPatch("001-every-type", everyTypeModel, func(s *dbpatch.Schema) error {
		for _, table := range everyTypeTables {
			s.DropTable(table)
		}
		return nil
	})
	require.NoError(t, r.Register(p))
	before, err := r.Client().IntrospectSchema(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Apply(ctx))

	stmts, err := p.Statements(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, stmts, "live schema differs from model")

	model := dbpatch.NewSchema()
	require.NoError(t, everyTypeModel(model))
	assertSameSchema(t, r, model)

	require.NoError(t, p.Revert(ctx))
	assertSameSchema(t, r, before)
}
