package dbpatch

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NewClient creates a new Client based on the provided configuration and database connection.
// A nil db yields a client that can render SQL but fails every database call
// with ErrConnectionNotConfigured.
func NewClient(cfg Config, db *sql.DB) (Client, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(cfg.Driver) {
	case "pg", "postgres", "postgresql", "pgx":
		return NewPostgresClient(cfg, db), nil
	case "sqlite3", "sqlite":
		return NewSqlite3Client(cfg, db), nil
	case "mysql":
		return NewMySQLClient(cfg, db), nil
	default:
		return nil, fmt.Errorf("db driver '%s' not supported. Must be one of: pg, sqlite3 or mysql", cfg.Driver)
	}
}

// Execer runs a statement and reports the number of affected rows.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

// Client is the connection handle the engine works through.
type Client interface {
	Dialect
	Execer

	DB() *sql.DB
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error)

	// ListTables returns every user table, including the patch table.
	ListTables(ctx context.Context) ([]string, error)
	HasTable(ctx context.Context, name string) (bool, error)

	// IntrospectSchema reads the live structure, leaving out the patch
	// table and Config.IgnoreTables.
	IntrospectSchema(ctx context.Context) (*Schema, error)
	DatabaseName(ctx context.Context) (string, error)
}

// baseClient provides the dialect-independent parts of a Client. Concrete
// clients set the function fields so shared code reaches their overrides.
type baseClient struct {
	cfg Config
	db  *sql.DB
	log logrus.FieldLogger

	quoteFn            func(name string) string
	tableFn            func(name string) string
	columnDefinitionFn func(t *Table, c *Column) string
	inlinePrimaryKeyFn func(t *Table) bool
	inlineForeignKeys  bool
	listTablesSqlFn    func() string
	databaseNameSqlFn  func() string
	introspectTableFn  func(ctx context.Context, name string) (*Table, error)
}

func newBaseClient(cfg Config, db *sql.DB, dialect string) baseClient {
	return baseClient{
		cfg: cfg,
		db:  db,
		log: cfg.Logger.WithField("dialect", dialect),
	}
}

func (c *baseClient) DB() *sql.DB {
	return c.db
}

// Exec runs a statement, logs it, and writes it to the configured dumper.
func (c *baseClient) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if c.db == nil {
		return 0, ErrConnectionNotConfigured
	}
	start := time.Now()
	res, err := c.db.ExecContext(ctx, query, args...)
	entry := c.log.WithField("duration", time.Since(start))
	if err != nil {
		entry.WithError(err).Debugf("exec failed: %s", query)
		return 0, err
	}
	entry.Debugf("exec: %s", query)
	c.dump(query, args)
	n, err := res.RowsAffected()
	if err != nil {
		// Not every driver reports affected rows for DDL.
		return 0, nil
	}
	return n, nil
}

// dump writes statements that modify the database to the configured dumper.
func (c *baseClient) dump(query string, args []any) {
	if c.cfg.Dumper == nil || isReadOnly(query) {
		return
	}
	writeStatement(c.cfg.Dumper, query, args)
}

func writeStatement(w io.Writer, query string, args []any) {
	stmt := strings.TrimRight(strings.TrimSpace(query), ";")
	if len(args) > 0 {
		fmt.Fprintf(w, "%s; -- args: %v\n", stmt, args)
		return
	}
	fmt.Fprintf(w, "%s;\n", stmt)
}

func isReadOnly(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	return strings.HasPrefix(q, "SELECT") || strings.HasPrefix(q, "SHOW") || strings.HasPrefix(q, "PRAGMA")
}

func (c *baseClient) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.db == nil {
		return nil, ErrConnectionNotConfigured
	}
	c.log.Debugf("query: %s", query)
	return c.db.QueryContext(ctx, query, args...)
}

func (c *baseClient) QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	if c.db == nil {
		return nil, ErrConnectionNotConfigured
	}
	c.log.Debugf("query: %s", query)
	return c.db.QueryRowContext(ctx, query, args...), nil
}

func (c *baseClient) ListTables(ctx context.Context) ([]string, error) {
	rows, err := c.Query(ctx, c.listTablesSqlFn())
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (c *baseClient) HasTable(ctx context.Context, name string) (bool, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return false, err
	}
	return hasName(tables, name), nil
}

func (c *baseClient) DatabaseName(ctx context.Context) (string, error) {
	row, err := c.QueryRow(ctx, c.databaseNameSqlFn())
	if err != nil {
		return "", err
	}
	var name sql.NullString
	if err := row.Scan(&name); err != nil {
		return "", fmt.Errorf("database name: %w", err)
	}
	return name.String, nil
}

func (c *baseClient) IntrospectSchema(ctx context.Context) (*Schema, error) {
	tables, err := c.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	schema := NewSchema()
	for _, name := range tables {
		if c.ignored(name) {
			continue
		}
		t, err := c.introspectTableFn(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("introspect table %s: %w", name, err)
		}
		schema.Tables = append(schema.Tables, t)
	}
	return schema, nil
}

// ignored reports whether a table is hidden from introspection.
func (c *baseClient) ignored(name string) bool {
	return strings.EqualFold(name, unqualified(c.cfg.PatchTable)) || hasName(c.cfg.IgnoreTables, name)
}

func (c *baseClient) Placeholder(int) string {
	return "?"
}

func (c *baseClient) QuoteIdentifier(name string) string {
	return c.quoteFn(name)
}

// QuoteTable quotes a table name. Dialects with schemas qualify it.
func (c *baseClient) QuoteTable(name string) string {
	if c.tableFn != nil {
		return c.tableFn(name)
	}
	return c.quoteFn(name)
}

func (c *baseClient) StoredType(col *Column) string {
	return strings.ToLower(col.Type)
}

func (c *baseClient) CreateTableSQL(t *Table) string {
	var defs []string
	for _, col := range t.Columns {
		defs = append(defs, c.columnDefinitionFn(t, col))
	}
	if len(t.PrimaryKey) > 0 && !c.inlinePrimaryKeyFn(t) {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", c.quoteList(t.PrimaryKey)))
	}
	if c.inlineForeignKeys {
		for _, fk := range t.ForeignKeys {
			defs = append(defs, c.foreignKeyClause(fk))
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", c.QuoteTable(t.Name), strings.Join(defs, ",\n  "))
}

func (c *baseClient) DropTableSQL(table string) string {
	return fmt.Sprintf("DROP TABLE %s", c.QuoteTable(table))
}

func (c *baseClient) AddColumnSQL(table string, col *Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", c.QuoteTable(table), c.columnDefinitionFn(nil, col))
}

func (c *baseClient) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", c.QuoteTable(table), c.quoteFn(column))
}

func (c *baseClient) CreateIndexSQL(table string, ix *Index) string {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, c.quoteFn(ix.Name), c.QuoteTable(table), c.quoteList(ix.Columns))
}

func (c *baseClient) DropIndexSQL(_ string, ix *Index) string {
	return fmt.Sprintf("DROP INDEX %s", c.quoteFn(ix.Name))
}

func (c *baseClient) AddPrimaryKeySQL(table string, columns []string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", c.QuoteTable(table), c.quoteList(columns))
}

func (c *baseClient) DropPrimaryKeySQL(t *Table) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", c.QuoteTable(t.Name), c.quoteFn(t.Name+"_pkey"))
}

func (c *baseClient) AddForeignKeySQL(table string, fk *ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s", c.QuoteTable(table), c.foreignKeyClause(fk))
}

func (c *baseClient) DropForeignKeySQL(table string, fk *ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", c.QuoteTable(table), c.quoteFn(fk.Name))
}

func (c *baseClient) AlterTableInPlace(*TableDiff) bool {
	return true
}

func (c *baseClient) RebuildTableSQL(*TableDiff) []string {
	return nil
}

func (c *baseClient) InlineForeignKeys() bool {
	return c.inlineForeignKeys
}

func (c *baseClient) quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = c.quoteFn(n)
	}
	return strings.Join(quoted, ", ")
}

func (c *baseClient) foreignKeyClause(fk *ForeignKey) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		c.quoteFn(fk.Name),
		c.quoteList(fk.Columns),
		c.QuoteTable(fk.ReferencedTable),
		c.quoteList(fk.ReferencedColumns))
	if fkAction(fk.OnDelete) != "NO ACTION" {
		fmt.Fprintf(&b, " ON DELETE %s", fkAction(fk.OnDelete))
	}
	if fkAction(fk.OnUpdate) != "NO ACTION" {
		fmt.Fprintf(&b, " ON UPDATE %s", fkAction(fk.OnUpdate))
	}
	return b.String()
}

// columnDefinition renders "name TYPE [extra] [NOT NULL] [DEFAULT x]".
func (c *baseClient) columnDefinition(col *Column, typ, extra string) string {
	var b strings.Builder
	b.WriteString(c.quoteFn(col.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if extra != "" {
		b.WriteString(" ")
		b.WriteString(extra)
	}
	if !col.Nullable {
		b.WriteString(" NOT NULL")
	}
	if col.Default != nil && !col.AutoIncrement {
		fmt.Fprintf(&b, " DEFAULT %s", *col.Default)
	}
	return b.String()
}

// unqualified strips a leading schema from a table name.
func unqualified(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// doubleQuote quotes an identifier ANSI style.
func doubleQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// scanStrings reads a single nullable string column and closes rows.
func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s sql.NullString
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s.String)
	}
	return out, rows.Err()
}
