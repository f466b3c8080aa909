package dbpatch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// MySQLClient implements Client for MySQL and MariaDB.
type MySQLClient struct {
	baseClient
}

// NewMySQLClient creates a new MySQLClient.
func NewMySQLClient(cfg Config, db *sql.DB) *MySQLClient {
	mysqlClient := &MySQLClient{
		baseClient: newBaseClient(cfg.withDefaults(), db, "mysql"),
	}
	mysqlClient.quoteFn = backtickQuote
	mysqlClient.columnDefinitionFn = mysqlClient.definition
	mysqlClient.inlinePrimaryKeyFn = func(*Table) bool { return false }
	mysqlClient.listTablesSqlFn = func() string {
		return `SELECT TABLE_NAME FROM information_schema.TABLES WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`
	}
	mysqlClient.databaseNameSqlFn = func() string { return `SELECT DATABASE()` }
	mysqlClient.introspectTableFn = mysqlClient.introspectTable
	return mysqlClient
}

// MySQLDSN normalises a go-sql-driver DSN so DATETIME columns scan into
// time.Time and multi-statement files are rejected.
func MySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = false
	return cfg.FormatDSN(), nil
}

func backtickQuote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (c *MySQLClient) Name() string {
	return "mysql"
}

// StoredType reads DATETIME back without a time zone.
func (c *MySQLClient) StoredType(col *Column) string {
	if strings.EqualFold(col.Type, TypeDateTimeTZ) {
		return TypeDateTime
	}
	return strings.ToLower(col.Type)
}

func (c *MySQLClient) ColumnType(col *Column) string {
	switch strings.ToLower(col.Type) {
	case TypeInteger:
		return "INT"
	case TypeBigInt:
		return "BIGINT"
	case TypeSmallInt:
		return "SMALLINT"
	case TypeString:
		return fmt.Sprintf("VARCHAR(%d)", stringLength(col))
	case TypeText:
		return "LONGTEXT"
	case TypeBoolean:
		return "TINYINT(1)"
	case TypeDateTime, TypeDateTimeTZ:
		return "DATETIME"
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
		return "LONGBLOB"
	}
	return col.Type
}

func (c *MySQLClient) definition(_ *Table, col *Column) string {
	extra := ""
	if col.AutoIncrement {
		extra = "AUTO_INCREMENT"
	}
	return c.columnDefinition(col, c.ColumnType(col), extra)
}

// AlterColumnSQL redefines the whole column with MODIFY.
func (c *MySQLClient) AlterColumnSQL(table string, _, to *Column) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s MODIFY %s", c.quoteFn(table), c.definition(nil, to))}
}

func (c *MySQLClient) DropIndexSQL(table string, ix *Index) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", c.quoteFn(ix.Name), c.quoteFn(table))
}

func (c *MySQLClient) DropPrimaryKeySQL(t *Table) string {
	return fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY", c.quoteFn(t.Name))
}

func (c *MySQLClient) DropForeignKeySQL(table string, fk *ForeignKey) string {
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", c.quoteFn(table), c.quoteFn(fk.Name))
}

func (c *MySQLClient) introspectTable(ctx context.Context, name string) (*Table, error) {
	t := &Table{Name: name}

	rows, err := c.Query(ctx, `
      SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, EXTRA, DATA_TYPE
      FROM information_schema.COLUMNS
      WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
      ORDER BY ORDINAL_POSITION`, name)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			colName, colType, isNullable, extra, dataType string
			dflt                                          sql.NullString
		)
		if err := rows.Scan(&colName, &colType, &isNullable, &dflt, &extra, &dataType); err != nil {
			rows.Close()
			return nil, err
		}
		typ, length, precision, scale := parseColumnType(colType)
		col := &Column{
			Name:          colName,
			Type:          typ,
			Length:        length,
			Precision:     precision,
			Scale:         scale,
			Nullable:      isNullable == "YES",
			AutoIncrement: strings.Contains(strings.ToLower(extra), "auto_increment"),
		}
		if dflt.Valid && !col.AutoIncrement {
			d := dflt.String
			if isCharType(dataType) && !strings.HasPrefix(d, "'") {
				d = "'" + strings.ReplaceAll(d, "'", "''") + "'"
			}
			col.Default = &d
		}
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := c.introspectIndexes(ctx, t); err != nil {
		return nil, err
	}
	if err := c.introspectForeignKeys(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func isCharType(dataType string) bool {
	switch strings.ToLower(dataType) {
	case "char", "varchar", "text", "tinytext", "mediumtext", "longtext", "enum", "set":
		return true
	}
	return false
}

func (c *MySQLClient) introspectIndexes(ctx context.Context, t *Table) error {
	rows, err := c.Query(ctx, `
      SELECT INDEX_NAME, NON_UNIQUE, COLUMN_NAME
      FROM information_schema.STATISTICS
      WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
      ORDER BY INDEX_NAME, SEQ_IN_INDEX`, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			indexName, column string
			nonUnique         int
		)
		if err := rows.Scan(&indexName, &nonUnique, &column); err != nil {
			return err
		}
		if indexName == "PRIMARY" {
			t.PrimaryKey = append(t.PrimaryKey, column)
			continue
		}
		if ix := t.Index(indexName); ix != nil {
			ix.Columns = append(ix.Columns, column)
			continue
		}
		t.Indexes = append(t.Indexes, &Index{Name: indexName, Columns: []string{column}, Unique: nonUnique == 0})
	}
	return rows.Err()
}

func (c *MySQLClient) introspectForeignKeys(ctx context.Context, t *Table) error {
	rows, err := c.Query(ctx, `
      SELECT k.CONSTRAINT_NAME, k.COLUMN_NAME, k.REFERENCED_TABLE_NAME, k.REFERENCED_COLUMN_NAME,
             r.DELETE_RULE, r.UPDATE_RULE
      FROM information_schema.KEY_COLUMN_USAGE k
      JOIN information_schema.REFERENTIAL_CONSTRAINTS r
        ON r.CONSTRAINT_SCHEMA = k.CONSTRAINT_SCHEMA AND r.CONSTRAINT_NAME = k.CONSTRAINT_NAME
      WHERE k.TABLE_SCHEMA = DATABASE() AND k.TABLE_NAME = ? AND k.REFERENCED_TABLE_NAME IS NOT NULL
      ORDER BY k.CONSTRAINT_NAME, k.ORDINAL_POSITION`, t.Name)
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
				OnDelete:        mysqlAction(onDelete),
				OnUpdate:        mysqlAction(onUpdate),
			}
			t.ForeignKeys = append(t.ForeignKeys, fk)
			// Drop the implicit index MySQL created for the constraint.
			t.DropIndex(name)
		}
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
	}
	return rows.Err()
}

// mysqlAction treats RESTRICT as the implicit action; InnoDB does not
// distinguish it from NO ACTION.
func mysqlAction(rule string) string {
	if strings.EqualFold(rule, "RESTRICT") {
		return ""
	}
	return explicitAction(rule)
}
