package dbpatch

import (
	"strings"
)

// SchemaDiff is the set of structural differences between two schemas.
type SchemaDiff struct {
	NewTables     []*Table
	RemovedTables []*Table
	ChangedTables []*TableDiff
}

// ColumnChange pairs the old and new definition of a column.
type ColumnChange struct {
	From *Column
	To   *Column
}

// TableDiff lists the changes to a table present in both schemas. A modified
// index or foreign key shows up as removed and added.
type TableDiff struct {
	Name string
	From *Table
	To   *Table

	AddedColumns   []*Column
	RemovedColumns []*Column
	ChangedColumns []ColumnChange

	AddedIndexes   []*Index
	RemovedIndexes []*Index

	AddedForeignKeys   []*ForeignKey
	RemovedForeignKeys []*ForeignKey

	PrimaryKeyChanged bool
}

// Empty reports whether the diff carries no change.
func (d *SchemaDiff) Empty() bool {
	return d == nil || len(d.NewTables) == 0 && len(d.RemovedTables) == 0 && len(d.ChangedTables) == 0
}

func (td *TableDiff) empty() bool {
	return len(td.AddedColumns) == 0 && len(td.RemovedColumns) == 0 && len(td.ChangedColumns) == 0 &&
		len(td.AddedIndexes) == 0 && len(td.RemovedIndexes) == 0 &&
		len(td.AddedForeignKeys) == 0 && len(td.RemovedForeignKeys) == 0 &&
		!td.PrimaryKeyChanged
}

// Compare computes the changes needed to turn from into to. Objects are
// matched by name, ignoring case. A nil schema is treated as empty.
func Compare(from, to *Schema) *SchemaDiff {
	return compare(from, to, nil)
}

// storedTypeFunc maps a column to the abstract type it reads back as.
type storedTypeFunc func(c *Column) string

func compare(from, to *Schema, stored storedTypeFunc) *SchemaDiff {
	d := &SchemaDiff{}
	for _, t := range to.sorted() {
		old := from.Table(t.Name)
		if old == nil {
			d.NewTables = append(d.NewTables, t)
			continue
		}
		if td := compareTables(old, t, stored); !td.empty() {
			d.ChangedTables = append(d.ChangedTables, td)
		}
	}
	for _, t := range from.sorted() {
		if !to.HasTable(t.Name) {
			d.RemovedTables = append(d.RemovedTables, t)
		}
	}
	return d
}

func compareTables(from, to *Table, stored storedTypeFunc) *TableDiff {
	td := &TableDiff{Name: to.Name, From: from, To: to}

	for _, c := range to.Columns {
		old := from.Column(c.Name)
		switch {
		case old == nil:
			td.AddedColumns = append(td.AddedColumns, c)
		case !columnsEqual(old, c, stored):
			td.ChangedColumns = append(td.ChangedColumns, ColumnChange{From: old, To: c})
		}
	}
	for _, c := range from.Columns {
		if !to.HasColumn(c.Name) {
			td.RemovedColumns = append(td.RemovedColumns, c)
		}
	}

	for _, ix := range to.Indexes {
		old := from.Index(ix.Name)
		if old == nil {
			td.AddedIndexes = append(td.AddedIndexes, ix)
			continue
		}
		if old.Unique != ix.Unique || !sameNames(old.Columns, ix.Columns) {
			td.RemovedIndexes = append(td.RemovedIndexes, old)
			td.AddedIndexes = append(td.AddedIndexes, ix)
		}
	}
	for _, ix := range from.Indexes {
		if to.Index(ix.Name) == nil {
			td.RemovedIndexes = append(td.RemovedIndexes, ix)
		}
	}

	for _, fk := range to.ForeignKeys {
		old := from.ForeignKey(fk.Name)
		if old == nil {
			td.AddedForeignKeys = append(td.AddedForeignKeys, fk)
			continue
		}
		if !foreignKeysEqual(old, fk) {
			td.RemovedForeignKeys = append(td.RemovedForeignKeys, old)
			td.AddedForeignKeys = append(td.AddedForeignKeys, fk)
		}
	}
	for _, fk := range from.ForeignKeys {
		if to.ForeignKey(fk.Name) == nil {
			td.RemovedForeignKeys = append(td.RemovedForeignKeys, fk)
		}
	}

	td.PrimaryKeyChanged = !sameNames(from.PrimaryKey, to.PrimaryKey)
	return td
}

// columnsEqual compares two column definitions after applying type defaults.
func columnsEqual(a, b *Column, stored storedTypeFunc) bool {
	na, nb := normalizeColumn(a, stored), normalizeColumn(b, stored)
	if !strings.EqualFold(na.Type, nb.Type) ||
		na.Length != nb.Length ||
		na.Precision != nb.Precision ||
		na.Scale != nb.Scale ||
		na.Nullable != nb.Nullable ||
		na.AutoIncrement != nb.AutoIncrement {
		return false
	}
	if na.AutoIncrement {
		return true
	}
	switch {
	case na.Default == nil && nb.Default == nil:
		return true
	case na.Default == nil || nb.Default == nil:
		return false
	}
	return strings.TrimSpace(*na.Default) == strings.TrimSpace(*nb.Default)
}

// normalizeColumn applies type defaults. A non-nil stored replaces the type
// with the one the database keeps.
func normalizeColumn(c *Column, stored storedTypeFunc) Column {
	n := *c
	if stored != nil {
		n.Type = stored(c)
	}
	n.Type = strings.ToLower(n.Type)
	switch n.Type {
	case TypeString:
		if n.Length == 0 {
			n.Length = 255
		}
	case TypeDecimal:
		if n.Precision == 0 {
			n.Precision = 10
		}
	default:
		n.Length = 0
	}
	if n.Type != TypeDecimal {
		n.Precision, n.Scale = 0, 0
	}
	return n
}

func foreignKeysEqual(a, b *ForeignKey) bool {
	return sameNames(a.Columns, b.Columns) &&
		strings.EqualFold(a.ReferencedTable, b.ReferencedTable) &&
		sameNames(a.ReferencedColumns, b.ReferencedColumns) &&
		strings.EqualFold(fkAction(a.OnDelete), fkAction(b.OnDelete)) &&
		strings.EqualFold(fkAction(a.OnUpdate), fkAction(b.OnUpdate))
}

// fkAction maps the implicit action to its explicit spelling.
func fkAction(action string) string {
	if action == "" {
		return "NO ACTION"
	}
	return strings.ToUpper(action)
}

// ToSQL renders the diff as an ordered list of DDL statements in the given
// dialect. Foreign keys are dropped first and added last so that table
// creation and removal never trips over a constraint.
func (d *SchemaDiff) ToSQL(dialect Dialect) []string {
	if d.Empty() {
		return nil
	}
	var stmts []string
	inline := dialect.InlineForeignKeys()

	rebuild := make(map[*TableDiff]bool, len(d.ChangedTables))
	for _, td := range d.ChangedTables {
		rebuild[td] = !dialect.AlterTableInPlace(td)
	}

	if !inline {
		for _, td := range d.ChangedTables {
			for _, fk := range td.RemovedForeignKeys {
				stmts = append(stmts, dialect.DropForeignKeySQL(td.Name, fk))
			}
		}
		for _, t := range d.RemovedTables {
			for _, fk := range t.ForeignKeys {
				stmts = append(stmts, dialect.DropForeignKeySQL(t.Name, fk))
			}
		}
	}

	for _, td := range d.ChangedTables {
		if rebuild[td] {
			continue
		}
		for _, ix := range td.RemovedIndexes {
			stmts = append(stmts, dialect.DropIndexSQL(td.Name, ix))
		}
	}

	for _, t := range d.NewTables {
		stmts = append(stmts, dialect.CreateTableSQL(t))
		for _, ix := range t.Indexes {
			stmts = append(stmts, dialect.CreateIndexSQL(t.Name, ix))
		}
	}

	for _, td := range d.ChangedTables {
		if rebuild[td] {
			stmts = append(stmts, dialect.RebuildTableSQL(td)...)
			continue
		}
		if td.PrimaryKeyChanged && len(td.From.PrimaryKey) > 0 {
			stmts = append(stmts, dialect.DropPrimaryKeySQL(td.From))
		}
		for _, c := range td.AddedColumns {
			stmts = append(stmts, dialect.AddColumnSQL(td.Name, c))
		}
		for _, ch := range td.ChangedColumns {
			stmts = append(stmts, dialect.AlterColumnSQL(td.Name, ch.From, ch.To)...)
		}
		for _, c := range td.RemovedColumns {
			stmts = append(stmts, dialect.DropColumnSQL(td.Name, c.Name))
		}
		if td.PrimaryKeyChanged && len(td.To.PrimaryKey) > 0 {
			stmts = append(stmts, dialect.AddPrimaryKeySQL(td.Name, td.To.PrimaryKey))
		}
		for _, ix := range td.AddedIndexes {
			stmts = append(stmts, dialect.CreateIndexSQL(td.Name, ix))
		}
	}

	for _, t := range d.RemovedTables {
		stmts = append(stmts, dialect.DropTableSQL(t.Name))
	}

	if !inline {
		for _, t := range d.NewTables {
			for _, fk := range t.ForeignKeys {
				stmts = append(stmts, dialect.AddForeignKeySQL(t.Name, fk))
			}
		}
		for _, td := range d.ChangedTables {
			for _, fk := range td.AddedForeignKeys {
				stmts = append(stmts, dialect.AddForeignKeySQL(td.Name, fk))
			}
		}
	}
	return stmts
}

// Diff returns the statements that migrate from into to. Swapping the
// arguments yields the revert script. Column types are compared as the
// dialect stores them.
func Diff(from, to *Schema, dialect Dialect) []string {
	return compare(from, to, dialect.StoredType).ToSQL(dialect)
}
