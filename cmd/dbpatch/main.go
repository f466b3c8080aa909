package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "modernc.org/sqlite"             // pure Go SQLite driver

	"github.com/bcomnes/dbpatch"
	"github.com/bcomnes/dbpatch/internal/cli"
)

// open maps a dbpatch driver name onto the database/sql driver compiled into
// this binary.
func open(driver, conn string) (*sql.DB, error) {
	switch driver {
	case "pg", "postgres", "postgresql":
		return sql.Open("postgres", conn)
	case "mysql":
		dsn, err := dbpatch.MySQLDSN(conn)
		if err != nil {
			return nil, err
		}
		return sql.Open("mysql", dsn)
	case "sqlite", "sqlite3":
		return sql.Open("sqlite", conn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func main() {
	os.Exit(cli.Run(cli.Options{
		Name:          "dbpatch",
		DefaultDriver: "pg",
		ConnEnv:       "DATABASE_URL",
		ConnHelp:      "Connection URL for the selected driver. Overrides DATABASE_URL and the config file.",
		Open:          open,
		Getenv:        os.Getenv,
	}, os.Args[1:], os.Stdout, os.Stderr))
}
