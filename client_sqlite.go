package dbpatch

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Sqlite3Client implements the Client interface for SQLite. It serves both
// the mattn/go-sqlite3 ("sqlite3") and modernc.org/sqlite ("sqlite") drivers.
type Sqlite3Client struct {
	baseClient
}

// NewSqlite3Client creates a new Sqlite3Client.
func NewSqlite3Client(cfg Config, db *sql.DB) *Sqlite3Client {
	sqliteClient := &Sqlite3Client{
		baseClient: newBaseClient(cfg.withDefaults(), db, "sqlite"),
	}
	// Set function pointers.
	sqliteClient.quoteFn = doubleQuote
	sqliteClient.columnDefinitionFn = sqliteClient.definition
	sqliteClient.inlinePrimaryKeyFn = sqliteClient.inlinePrimaryKey
	sqliteClient.inlineForeignKeys = true
	sqliteClient.listTablesSqlFn = sqliteClient.getListTablesSql
	sqliteClient.databaseNameSqlFn = sqliteClient.getDatabaseNameSql
	sqliteClient.introspectTableFn = sqliteClient.introspectTable
	return sqliteClient
}

func (c *Sqlite3Client) Name() string {
	return "sqlite"
}

// StoredType reads every AUTOINCREMENT key back as INTEGER.
func (c *Sqlite3Client) StoredType(col *Column) string {
	if col.AutoIncrement {
		return TypeInteger
	}
	return strings.ToLower(col.Type)
}

func (c *Sqlite3Client) ColumnType(col *Column) string {
	if col.AutoIncrement {
		return "INTEGER"
	}
	switch strings.ToLower(col.Type) {
	case TypeInteger:
		return "INTEGER"
	case TypeBigInt:
		return "BIGINT"
	case TypeSmallInt:
		return "SMALLINT"
	case TypeString:
		return fmt.Sprintf("VARCHAR(%d)", stringLength(col))
	case TypeText:
		return "TEXT"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeDateTime:
		return "DATETIME"
	case TypeDateTimeTZ:
		return "TIMESTAMP WITH TIME ZONE"
	case TypeDate:
		return "DATE"
	case TypeTime:
		return "TIME"
	case TypeFloat:
		return "DOUBLE PRECISION"
	case TypeDecimal:
		p, s := decimalArgs(col)
		return fmt.Sprintf("NUMERIC(%d, %d)", p, s)
	case TypeBlob:
		return "BLOB"
	}
	return col.Type
}

// inlinePrimaryKey reports whether the primary key is a single AUTOINCREMENT
// column, which SQLite only accepts as a column constraint.
func (c *Sqlite3Client) inlinePrimaryKey(t *Table) bool {
	if t == nil || len(t.PrimaryKey) != 1 {
		return false
	}
	col := t.Column(t.PrimaryKey[0])
	return col != nil && col.AutoIncrement
}

func (c *Sqlite3Client) definition(t *Table, col *Column) string {
	extra := ""
	if c.inlinePrimaryKey(t) && strings.EqualFold(t.PrimaryKey[0], col.Name) {
		extra = "PRIMARY KEY AUTOINCREMENT"
	}
	return c.columnDefinition(col, c.ColumnType(col), extra)
}

// AlterColumnSQL returns nothing; SQLite changes columns by rebuilding the table.
func (c *Sqlite3Client) AlterColumnSQL(string, *Column, *Column) []string {
	return nil
}

// AlterTableInPlace allows only index changes and added columns that SQLite's
// ALTER TABLE ADD COLUMN accepts.
func (c *Sqlite3Client) AlterTableInPlace(td *TableDiff) bool {
	if len(td.ChangedColumns) > 0 || len(td.RemovedColumns) > 0 || td.PrimaryKeyChanged ||
		len(td.AddedForeignKeys) > 0 || len(td.RemovedForeignKeys) > 0 {
		return false
	}
	for _, col := range td.AddedColumns {
		if col.AutoIncrement || hasName(td.To.PrimaryKey, col.Name) {
			return false
		}
		if !col.Nullable && col.Default == nil {
			return false
		}
		if col.Default != nil && strings.HasPrefix(strings.ToUpper(*col.Default), "CURRENT_") {
			return false
		}
	}
	return true
}

// RebuildTableSQL copies the table aside, recreates it with the new
// definition, and copies the shared columns back.
func (c *Sqlite3Client) RebuildTableSQL(td *TableDiff) []string {
	tmp := c.quoteFn("__temp__" + td.To.Name)
	table := c.quoteFn(td.To.Name)

	var common []string
	for _, col := range td.To.Columns {
		if td.From.HasColumn(col.Name) {
			common = append(common, col.Name)
		}
	}

	var stmts []string
	if len(common) > 0 {
		cols := c.quoteList(common)
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE %s AS SELECT %s FROM %s", tmp, cols, c.quoteFn(td.From.Name)))
		stmts = append(stmts, c.DropTableSQL(td.From.Name))
		stmts = append(stmts, c.CreateTableSQL(td.To))
		stmts = append(stmts, fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", table, cols, cols, tmp))
		stmts = append(stmts, fmt.Sprintf("DROP TABLE %s", tmp))
	} else {
		stmts = append(stmts, c.DropTableSQL(td.From.Name))
		stmts = append(stmts, c.CreateTableSQL(td.To))
	}
	for _, ix := range td.To.Indexes {
		stmts = append(stmts, c.CreateIndexSQL(td.To.Name, ix))
	}
	return stmts
}

func (c *Sqlite3Client) getListTablesSql() string {
	return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
}

func (c *Sqlite3Client) getDatabaseNameSql() string {
	return `SELECT file FROM pragma_database_list WHERE name = 'main'`
}

// DatabaseName returns the database file name without extension, or "main"
// for in-memory databases.
func (c *Sqlite3Client) DatabaseName(ctx context.Context) (string, error) {
	file, err := c.baseClient.DatabaseName(ctx)
	if err != nil {
		return "", err
	}
	if file == "" {
		return "main", nil
	}
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base)), nil
}

var (
	sqliteAutoIncrementRe = regexp.MustCompile(`(?i)\bAUTOINCREMENT\b`)
	sqliteConstraintFKRe  = regexp.MustCompile("(?is)CONSTRAINT\\s+[\"`\\[]?(\\w+)[\"`\\]]?\\s+FOREIGN\\s+KEY\\s*\\(([^)]*)\\)")
)

func (c *Sqlite3Client) introspectTable(ctx context.Context, name string) (*Table, error) {
	t := &Table{Name: name}

	row, err := c.QueryRow(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	if err != nil {
		return nil, err
	}
	var ddl sql.NullString
	if err := row.Scan(&ddl); err != nil {
		return nil, err
	}

	rows, err := c.Query(ctx, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, name)
	if err != nil {
		return nil, err
	}
	type pkCol struct {
		name string
		pos  int
	}
	var pks []pkCol
	for rows.Next() {
		var (
			colName, colType string
			notNull, pk      int
			dflt             sql.NullString
		)
		if err := rows.Scan(&colName, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return nil, err
		}
		typ, length, precision, scale := parseColumnType(colType)
		col := &Column{
			Name:      colName,
			Type:      typ,
			Length:    length,
			Precision: precision,
			Scale:     scale,
			Nullable:  notNull == 0,
		}
		if dflt.Valid {
			d := dflt.String
			col.Default = &d
		}
		t.Columns = append(t.Columns, col)
		if pk > 0 {
			pks = append(pks, pkCol{colName, pk})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	sort.Slice(pks, func(i, j int) bool { return pks[i].pos < pks[j].pos })
	for _, pk := range pks {
		t.PrimaryKey = append(t.PrimaryKey, pk.name)
	}
	if len(t.PrimaryKey) == 1 && sqliteAutoIncrementRe.MatchString(ddl.String) {
		t.Column(t.PrimaryKey[0]).AutoIncrement = true
	}

	if err := c.introspectIndexes(ctx, t); err != nil {
		return nil, err
	}
	if err := c.introspectForeignKeys(ctx, t, ddl.String); err != nil {
		return nil, err
	}
	return t, nil
}

func (c *Sqlite3Client) introspectIndexes(ctx context.Context, t *Table) error {
	rows, err := c.Query(ctx, `SELECT name, "unique", origin FROM pragma_index_list(?)`, t.Name)
	if err != nil {
		return err
	}
	type indexRow struct {
		name   string
		unique bool
		origin string
	}
	var list []indexRow
	for rows.Next() {
		var r indexRow
		if err := rows.Scan(&r.name, &r.unique, &r.origin); err != nil {
			rows.Close()
			return err
		}
		if r.origin == "pk" {
			continue
		}
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	sort.Slice(list, func(i, j int) bool { return list[i].name < list[j].name })
	for _, r := range list {
		colRows, err := c.Query(ctx, `SELECT name FROM pragma_index_info(?) ORDER BY seqno`, r.name)
		if err != nil {
			return err
		}
		cols, err := scanStrings(colRows)
		if err != nil {
			return err
		}
		name := r.name
		if r.origin == "u" {
			name = derivedName("uniq", t.Name, cols)
		}
		t.Indexes = append(t.Indexes, &Index{Name: name, Columns: cols, Unique: r.unique})
	}
	return nil
}

func (c *Sqlite3Client) introspectForeignKeys(ctx context.Context, t *Table, ddl string) error {
	named := make(map[string]string)
	for _, m := range sqliteConstraintFKRe.FindAllStringSubmatch(ddl, -1) {
		named[normalizeColumnList(m[2])] = m[1]
	}

	rows, err := c.Query(ctx, `SELECT id, "table", "from", "to", on_update, on_delete FROM pragma_foreign_key_list(?) ORDER BY id, seq`, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	byID := make(map[int]*ForeignKey)
	var order []int
	for rows.Next() {
		var (
			id                 int
			refTable, from     string
			to                 sql.NullString
			onUpdate, onDelete string
		)
		if err := rows.Scan(&id, &refTable, &from, &to, &onUpdate, &onDelete); err != nil {
			return err
		}
		fk, ok := byID[id]
		if !ok {
			fk = &ForeignKey{ReferencedTable: refTable, OnDelete: explicitAction(onDelete), OnUpdate: explicitAction(onUpdate)}
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, from)
		fk.ReferencedColumns = append(fk.ReferencedColumns, to.String)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	// pragma_foreign_key_list numbers constraints in reverse declaration order.
	sort.Sort(sort.Reverse(sort.IntSlice(order)))
	for _, id := range order {
		fk := byID[id]
		fk.Name = named[normalizeColumnList(strings.Join(fk.Columns, ","))]
		if fk.Name == "" {
			fk.Name = derivedName("fk", t.Name, fk.Columns)
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	return nil
}

// normalizeColumnList turns `"a", b` into "a,b".
func normalizeColumnList(s string) string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.Trim(strings.TrimSpace(p), "\"`[]"))
	}
	return strings.Join(parts, ",")
}

// explicitAction drops the implicit referential action so stored schemas
// match models that never set one.
func explicitAction(action string) string {
	if strings.EqualFold(action, "NO ACTION") {
		return ""
	}
	return strings.ToUpper(action)
}
