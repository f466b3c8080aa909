package dbpatch

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// PostgresClient implements Client for PostgreSQL and embeds baseClient.
type PostgresClient struct {
	baseClient
}

// NewPostgresClient creates a new PostgresClient.
func NewPostgresClient(cfg Config, db *sql.DB) *PostgresClient {
	pgClient := &PostgresClient{
		baseClient: newBaseClient(cfg.withDefaults(), db, "postgres"),
	}
	pgClient.quoteFn = doubleQuote
	pgClient.tableFn = pgClient.qualify
	pgClient.columnDefinitionFn = pgClient.definition
	pgClient.inlinePrimaryKeyFn = func(*Table) bool { return false }
	pgClient.listTablesSqlFn = pgClient.getListTablesSql
	pgClient.databaseNameSqlFn = func() string { return `SELECT current_database()` }
	pgClient.introspectTableFn = pgClient.introspectTable
	return pgClient
}

func (c *PostgresClient) Name() string {
	return "postgres"
}

func (c *PostgresClient) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// QuoteIdentifier quotes each dot separated part of name.
func (c *PostgresClient) QuoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = doubleQuote(part)
	}
	return strings.Join(parts, ".")
}

// qualify quotes a table or index name, prefixing CurrentSchema unless the
// name already carries a schema.
func (c *PostgresClient) qualify(name string) string {
	if strings.Contains(name, ".") {
		return c.QuoteIdentifier(name)
	}
	return doubleQuote(c.cfg.CurrentSchema) + "." + doubleQuote(name)
}

// splitTable returns the schema and bare name of a possibly qualified table.
func (c *PostgresClient) splitTable(name string) (string, string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return c.cfg.CurrentSchema, name
}

// HasTable looks in the schema named by a qualified name, or in CurrentSchema.
func (c *PostgresClient) HasTable(ctx context.Context, name string) (bool, error) {
	schema, table := c.splitTable(name)
	row, err := c.QueryRow(ctx, `
      SELECT count(*) FROM information_schema.tables
      WHERE table_schema = $1 AND table_name = $2 AND table_type = 'BASE TABLE'`, schema, table)
	if err != nil {
		return false, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

// DropIndexSQL qualifies the index, which lives in the schema of its table.
func (c *PostgresClient) DropIndexSQL(table string, ix *Index) string {
	schema, _ := c.splitTable(table)
	return fmt.Sprintf("DROP INDEX %s.%s", doubleQuote(schema), doubleQuote(ix.Name))
}

func (c *PostgresClient) ColumnType(col *Column) string {
	if col.AutoIncrement {
		if strings.EqualFold(col.Type, TypeBigInt) {
			return "BIGSERIAL"
		}
		return "SERIAL"
	}
	return c.baseType(col)
}

// StoredType reads SERIAL back as an integer, so a small autoincrement
// column round-trips as one.
func (c *PostgresClient) StoredType(col *Column) string {
	if col.AutoIncrement && strings.EqualFold(col.Type, TypeSmallInt) {
		return TypeInteger
	}
	return strings.ToLower(col.Type)
}

func (c *PostgresClient) baseType(col *Column) string {
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
		return "TIMESTAMP(0) WITHOUT TIME ZONE"
	case TypeDateTimeTZ:
		return "TIMESTAMP(0) WITH TIME ZONE"
	case TypeDate:
		return "DATE"
	case TypeTime:
		return "TIME(0) WITHOUT TIME ZONE"
	case TypeFloat:
		return "DOUBLE PRECISION"
	case TypeDecimal:
		p, s := decimalArgs(col)
		return fmt.Sprintf("NUMERIC(%d, %d)", p, s)
	case TypeBlob:
		return "BYTEA"
	}
	return col.Type
}

func (c *PostgresClient) definition(_ *Table, col *Column) string {
	return c.columnDefinition(col, c.ColumnType(col), "")
}

// AlterColumnSQL emits one ALTER COLUMN clause per changed attribute.
func (c *PostgresClient) AlterColumnSQL(table string, from, to *Column) []string {
	prefix := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s", c.QuoteTable(table), c.quoteFn(to.Name))
	var stmts []string

	nf, nt := normalizeColumn(from, c.StoredType), normalizeColumn(to, c.StoredType)
	if nf.Type != nt.Type || nf.Length != nt.Length || nf.Precision != nt.Precision || nf.Scale != nt.Scale {
		stmts = append(stmts, fmt.Sprintf("%s TYPE %s", prefix, c.baseType(to)))
	}
	if from.Nullable != to.Nullable {
		if to.Nullable {
			stmts = append(stmts, prefix+" DROP NOT NULL")
		} else {
			stmts = append(stmts, prefix+" SET NOT NULL")
		}
	}
	switch {
	case to.AutoIncrement && !from.AutoIncrement:
		schema, bare := c.splitTable(table)
		seq := doubleQuote(schema) + "." + doubleQuote(fmt.Sprintf("%s_%s_seq", bare, to.Name))
		stmts = append(stmts,
			fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", seq),
			fmt.Sprintf("%s SET DEFAULT nextval('%s')", prefix, strings.ReplaceAll(seq, "'", "''")))
	case from.AutoIncrement && !to.AutoIncrement:
		stmts = append(stmts, prefix+" DROP DEFAULT")
		if to.Default != nil {
			stmts = append(stmts, fmt.Sprintf("%s SET DEFAULT %s", prefix, *to.Default))
		}
	case to.AutoIncrement:
	case to.Default == nil && from.Default != nil:
		stmts = append(stmts, prefix+" DROP DEFAULT")
	case to.Default != nil && (from.Default == nil || *from.Default != *to.Default):
		stmts = append(stmts, fmt.Sprintf("%s SET DEFAULT %s", prefix, *to.Default))
	}
	return stmts
}

func (c *PostgresClient) getListTablesSql() string {
	return fmt.Sprintf(`SELECT table_name FROM information_schema.tables WHERE table_schema = '%s' AND table_type = 'BASE TABLE' ORDER BY table_name`,
		strings.ReplaceAll(c.cfg.CurrentSchema, "'", "''"))
}

var pgCastRe = regexp.MustCompile(`::[a-zA-Z ]+(\[\])?$`)

func (c *PostgresClient) introspectTable(ctx context.Context, name string) (*Table, error) {
	t := &Table{Name: name}
	schema := c.cfg.CurrentSchema

	rows, err := c.Query(ctx, `
      SELECT column_name, data_type, is_nullable, column_default,
             character_maximum_length, numeric_precision, numeric_scale
      FROM information_schema.columns
      WHERE table_schema = $1 AND table_name = $2
      ORDER BY ordinal_position`, schema, name)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			colName, dataType, isNullable string
			dflt                          sql.NullString
			maxLen, precision, scale      sql.NullInt64
		)
		if err := rows.Scan(&colName, &dataType, &isNullable, &dflt, &maxLen, &precision, &scale); err != nil {
			rows.Close()
			return nil, err
		}
		raw := dataType
		switch {
		case maxLen.Valid && dataType == "character varying":
			raw = fmt.Sprintf("%s(%d)", dataType, maxLen.Int64)
		case precision.Valid && dataType == "numeric":
			raw = fmt.Sprintf("numeric(%d,%d)", precision.Int64, scale.Int64)
		}
		typ, length, prec, sc := parseColumnType(raw)
		col := &Column{
			Name:      colName,
			Type:      typ,
			Length:    length,
			Precision: prec,
			Scale:     sc,
			Nullable:  isNullable == "YES",
		}
		if dflt.Valid {
			if strings.HasPrefix(dflt.String, "nextval(") {
				col.AutoIncrement = true
			} else {
				d := pgCastRe.ReplaceAllString(dflt.String, "")
				col.Default = &d
			}
		}
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := c.introspectKeys(ctx, t); err != nil {
		return nil, err
	}
	if err := c.introspectForeignKeys(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// introspectKeys reads the primary key and secondary indexes from pg_index.
func (c *PostgresClient) introspectKeys(ctx context.Context, t *Table) error {
	rows, err := c.Query(ctx, `
      SELECT ic.relname, ix.indisprimary, ix.indisunique, a.attname
      FROM pg_index ix
      JOIN pg_class tc ON tc.oid = ix.indrelid
      JOIN pg_namespace n ON n.oid = tc.relnamespace
      JOIN pg_class ic ON ic.oid = ix.indexrelid
      CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
      JOIN pg_attribute a ON a.attrelid = tc.oid AND a.attnum = k.attnum
      WHERE n.nspname = $1 AND tc.relname = $2
      ORDER BY ic.relname, k.ord`, c.cfg.CurrentSchema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			indexName, column string
			primary, unique   bool
		)
		if err := rows.Scan(&indexName, &primary, &unique, &column); err != nil {
			return err
		}
		if primary {
			t.PrimaryKey = append(t.PrimaryKey, column)
			continue
		}
		if ix := t.Index(indexName); ix != nil {
			ix.Columns = append(ix.Columns, column)
			continue
		}
		t.Indexes = append(t.Indexes, &Index{Name: indexName, Columns: []string{column}, Unique: unique})
	}
	return rows.Err()
}

func (c *PostgresClient) introspectForeignKeys(ctx context.Context, t *Table) error {
	rows, err := c.Query(ctx, `
      SELECT con.conname, a.attname, rt.relname, ra.attname, con.confdeltype::text, con.confupdtype::text
      FROM pg_constraint con
      JOIN pg_class tc ON tc.oid = con.conrelid
      JOIN pg_namespace n ON n.oid = tc.relnamespace
      JOIN pg_class rt ON rt.oid = con.confrelid
      CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, refnum, ord)
      JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
      JOIN pg_attribute ra ON ra.attrelid = con.confrelid AND ra.attnum = k.refnum
      WHERE con.contype = 'f' AND n.nspname = $1 AND tc.relname = $2
      ORDER BY con.conname, k.ord`, c.cfg.CurrentSchema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, column, refTable, refColumn, onDelete, onUpdate string
		if err := rows.Scan(&name, &column, &refTable, &refColumn, &onDelete, &onUpdate); err != nil {
			return err
		}
		fk := t.ForeignKey(name)
		if fk == nil {
			fk = &ForeignKey{
				Name:            name,
				ReferencedTable: refTable,
				OnDelete:        pgAction(onDelete),
				OnUpdate:        pgAction(onUpdate),
			}
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
	}
	return rows.Err()
}

// pgAction decodes pg_constraint.confdeltype and confupdtype.
func pgAction(code string) string {
	switch code {
	case "c":
		return "CASCADE"
	case "n":
		return "SET NULL"
	case "d":
		return "SET DEFAULT"
	case "r":
		return "RESTRICT"
	}
	return ""
}
