// SPDX-License-Identifier: MIT

// Package main provides dbpatch-pg, a PostgreSQL command-line interface for
// the dbpatch engine.
//
// # Install
//
//	go install github.com/bcomnes/dbpatch/pg@latest
//
// # Synopsis
//
//	dbpatch-pg [options] [command] [arguments]
//
// # Commands
//
//	apply <name>      Apply one patch.
//	apply-all         Apply every awaiting patch in manifest order.
//	revert <name>     Revert a patch with its down file.
//	skip <name>       Mark a patch as skipped without running it.
//	status [name]     Show one patch's status, or a count per status.
//	list              List every patch with status and last execution date.
//	new <desc>        Scaffold an empty up/down SQL pair and add it to the manifest.
//	generate <desc>   Capture schema changes since the last snapshot as a patch.
//	check             Exit 1 when the live schema differs from the snapshot.
//	snapshot          Store the live schema as the new snapshot.
//
// # Global flags
//
//	-conn string         PostgreSQL connection URL.
//	-config string       YAML or JSON file mirroring dbpatch.Config plus "conn".
//	-env-file string     Dotenv file loaded before configuration is read.
//	-patch-table string  Table storing patch status (default "patches").
//	-root-dir string     Base directory for the manifest and SQL files.
//	-manifest string     Manifest path relative to the root dir (default "patches.yaml").
//	-snapshot string     Snapshot path relative to the root dir.
//	-newline string      LF, CR or CRLF for generated files.
//	-log-level string    logrus level (default "warning").
//	-dump                Echo every modifying statement to stdout.
//	-mark-applied        With generate, record the new patch as skipped.
//
// Flags must come before the command.
//
// *Precedence:* -conn flag ➜ $DATABASE_URL ➜ "conn" in -config
//
// Every config key can also be set through a DBPATCH_ prefixed variable,
// e.g. DBPATCH_PATCHTABLE.
//
// # Examples
//
//	# Apply everything pending
//	dbpatch-pg -conn $DATABASE_URL apply-all
//
//	# Capture hand-made changes without re-running them
//	dbpatch-pg -mark-applied generate "add audit columns"
//
// The program exits non-zero on any error. Each command runs with a context
// that times out after ten minutes.
package main
