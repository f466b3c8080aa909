package dbpatch

import (
	"regexp"
	"strconv"
	"strings"
)

// Dialect renders schema changes in the SQL flavour of one database.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	QuoteIdentifier(name string) string
	// QuoteTable quotes a table name, qualified with the current schema on
	// PostgreSQL.
	QuoteTable(name string) string
	ColumnType(c *Column) string
	// StoredType returns the abstract type c reads back as once the
	// database has stored it.
	StoredType(c *Column) string

	CreateTableSQL(t *Table) string
	DropTableSQL(table string) string
	AddColumnSQL(table string, c *Column) string
	AlterColumnSQL(table string, from, to *Column) []string
	DropColumnSQL(table, column string) string
	CreateIndexSQL(table string, ix *Index) string
	DropIndexSQL(table string, ix *Index) string
	AddPrimaryKeySQL(table string, columns []string) string
	DropPrimaryKeySQL(t *Table) string
	AddForeignKeySQL(table string, fk *ForeignKey) string
	DropForeignKeySQL(table string, fk *ForeignKey) string

	// AlterTableInPlace reports whether td can be expressed as ALTER
	// statements. When false the differ asks for RebuildTableSQL instead.
	AlterTableInPlace(td *TableDiff) bool
	RebuildTableSQL(td *TableDiff) []string

	// InlineForeignKeys reports whether foreign keys are declared inside
	// CREATE TABLE rather than added with ALTER TABLE.
	InlineForeignKeys() bool
}

// DialectFor returns the dialect for a driver name without a connection.
func DialectFor(driver string) (Dialect, error) {
	return NewClient(Config{Driver: driver}, nil)
}

var sqlTypeRe = regexp.MustCompile(`^\s*([a-zA-Z][a-zA-Z0-9_ ]*?)\s*(?:\(\s*(\d+)\s*(?:,\s*(\d+)\s*)?\))?\s*(unsigned)?\s*$`)

// parseColumnType maps a database type declaration back to an abstract
// column type. Unknown declarations are returned verbatim.
func parseColumnType(raw string) (typ string, length, precision, scale int) {
	m := sqlTypeRe.FindStringSubmatch(raw)
	if m == nil {
		return raw, 0, 0, 0
	}
	name := strings.ToLower(strings.Join(strings.Fields(m[1]), " "))
	a, _ := strconv.Atoi(m[2])
	b, _ := strconv.Atoi(m[3])

	switch name {
	case "int", "integer", "int4", "serial", "mediumint":
		return TypeInteger, 0, 0, 0
	case "bigint", "int8", "bigserial":
		return TypeBigInt, 0, 0, 0
	case "smallint", "int2", "smallserial":
		return TypeSmallInt, 0, 0, 0
	case "tinyint":
		if a == 1 {
			return TypeBoolean, 0, 0, 0
		}
		return TypeSmallInt, 0, 0, 0
	case "varchar", "character varying", "nvarchar", "varchar2":
		return TypeString, a, 0, 0
	case "text", "tinytext", "mediumtext", "longtext", "clob":
		return TypeText, 0, 0, 0
	case "boolean", "bool":
		return TypeBoolean, 0, 0, 0
	case "datetime", "timestamp", "timestamp without time zone":
		return TypeDateTime, 0, 0, 0
	case "timestamptz", "timestamp with time zone":
		return TypeDateTimeTZ, 0, 0, 0
	case "date":
		return TypeDate, 0, 0, 0
	case "time", "time without time zone":
		return TypeTime, 0, 0, 0
	case "float", "double", "double precision", "real", "float8", "float4":
		return TypeFloat, 0, 0, 0
	case "decimal", "numeric":
		return TypeDecimal, 0, a, b
	case "blob", "bytea", "longblob", "mediumblob", "tinyblob", "varbinary", "binary":
		return TypeBlob, 0, 0, 0
	}
	return raw, 0, 0, 0
}

// stringLength returns the declared length of a string column or the default.
func stringLength(c *Column) int {
	if c.Length > 0 {
		return c.Length
	}
	return 255
}

// decimalArgs returns the precision and scale of a decimal column or the defaults.
func decimalArgs(c *Column) (int, int) {
	if c.Precision > 0 {
		return c.Precision, c.Scale
	}
	return 10, 0
}
