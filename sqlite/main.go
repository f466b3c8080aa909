package main

import (
	"database/sql"
	"os"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/bcomnes/dbpatch/internal/cli"
)

func main() {
	os.Exit(cli.Run(cli.Options{
		Name:     "dbpatch-sqlite",
		Driver:   "sqlite3",
		ConnEnv:  "SQLITE_URL",
		ConnHelp: "SQLite connection string (file path). Overrides SQLITE_URL and the config file.",
		Open: func(_, conn string) (*sql.DB, error) {
			return sql.Open("sqlite3", conn)
		},
		Getenv: os.Getenv,
	}, os.Args[1:], os.Stdout, os.Stderr))
}
