package main

import (
	"database/sql"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/bcomnes/dbpatch/internal/cli"
)

func main() {
	os.Exit(cli.Run(cli.Options{
		Name:     "dbpatch-pg",
		Driver:   "pg",
		ConnEnv:  "DATABASE_URL",
		ConnHelp: "PostgreSQL connection URL. Overrides DATABASE_URL and the config file.",
		Open: func(_, conn string) (*sql.DB, error) {
			return sql.Open("pgx", conn)
		},
		Getenv: os.Getenv,
	}, os.Args[1:], os.Stdout, os.Stderr))
}
