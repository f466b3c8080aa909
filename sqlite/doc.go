// SPDX-License-Identifier: MIT

// Package main provides dbpatch-sqlite, a SQLite command-line interface for
// the dbpatch engine, built on github.com/mattn/go-sqlite3.
//
// # Install
//
//	go install github.com/bcomnes/dbpatch/sqlite@latest
//
// # Synopsis
//
//	dbpatch-sqlite [options] [command] [arguments]
//
// The commands and flags match dbpatch-pg. The connection string is a file
// path such as "./app.db".
//
// *Precedence:* -conn flag ➜ $SQLITE_URL ➜ "conn" in -config
//
// # Examples
//
//	# Show every patch and when it last ran
//	dbpatch-sqlite -conn ./app.db list
//
//	# Record a patch as skipped after fixing the data by hand
//	dbpatch-sqlite -conn ./app.db skip 20240101120000-backfill-users
//
// The program exits non-zero on any error.
package main
