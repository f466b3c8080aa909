// SPDX-License-Identifier: MIT

// Package dbpatch tracks and executes incremental database changes
// ("patches") and records, per patch, whether it has been applied, skipped
// or has failed, so that later environments can replay the same sequence of
// changes deterministically.
//
// A thin dialect layer (PostgreSQL, SQLite and MySQL) supplies SQL
// differences and schema introspection. Companion CLI tools live under the
// *pg* and *sqlite* sub-packages and cmd/dbpatch; the engine is here.
//
// # Install
//
//	go get github.com/bcomnes/dbpatch@latest
//
// # Quick start
//
//	import (
//	    "context"
//	    "database/sql"
//	    "os"
//
//	    _ "github.com/jackc/pgx/v5/stdlib" // or sqlite3
//	    "github.com/bcomnes/dbpatch"
//	)
//
//	func main() {
//	    db, _ := sql.Open("pgx", os.Getenv("DATABASE_URL"))
//	    r, _ := dbpatch.NewRunner(dbpatch.Config{Driver: "pg"}, db)
//	    r.RegisterManifest()
//	    r.Register(dbpatch.NewSQLFilePatch("20240101-patch",
//	        "database/up/20240101-patch.sql",
//	        "database/down/20240101-patch.sql"))
//	    r.Apply(context.Background(), "20240101-patch")
//	}
//
// # Patches
//
// Three kinds of patch share the same life cycle:
//
//   - SQLFilePatch         runs an up SQL file, and a down file on revert
//   - SchemaMigrationPatch edits a copy of the live Schema in Go; the SQL is
//     derived by diffing the copy against the live schema
//   - DataMigrationPatch   runs Go code against the connection
//
// Statuses move awaiting → applied (Apply), applied → awaiting (Revert) and
// awaiting → skipped (Skip). Any failure during Apply or Revert records the
// error status together with the error message and returns the error. There
// is no transaction around a patch: statements that ran before a failure
// stay committed.
//
// # Status table
//
// Runner creates the status table (default "patches") on first use:
//
//	id            integer, auto increment, primary key
//	unique_name   varchar(255), unique
//	status        varchar(10): awaiting, applied, skipped or error
//	exec_date     datetime of the last transition
//	error_message text, set only for the error status
//
// # Schema snapshots
//
// After every successful operation the live schema is written to the
// snapshot file (default "generated/schema.json"). GenerateDiffPatch and
// PendingChanges compare that snapshot with the live database, so changes
// made by hand can be captured as a new SQL file patch.
//
// # Configuration
//
// Use Config to tweak behaviour:
//
//   - Driver        — database driver name ("pg", "sqlite3", "mysql")
//   - PatchTable    — table that stores patch state (default "patches")
//   - SnapshotPath  — schema snapshot file
//   - RootDir       — base directory for relative SQL file paths
//   - ManifestPath  — YAML list of SQL file patches
//   - Logger        — logrus logger for engine output
//   - Dumper        — receives every statement that modifies the database
//
// # Errors
//
// Errors wrap the sentinels ErrFileNotFound, ErrUnreadableFile,
// ErrConnectionNotConfigured, ErrStatementExecution, ErrUnknownPatch and
// ErrDiffGeneration; branch on them with errors.Is. A *StatementError
// carries the failing statement.
//
// # Versioning
//
// A semantic version string is exposed as:
//
//	var Version = "vX.Y.Z"
//
// Generated documentation; update whenever public API or CLI flags change.
package dbpatch
