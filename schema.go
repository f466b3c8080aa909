package dbpatch

import (
	"fmt"
	"sort"
	"strings"
)

// Abstract column types understood by every dialect. Any other value is
// emitted verbatim.
const (
	TypeInteger    = "integer"
	TypeBigInt     = "bigint"
	TypeSmallInt   = "smallint"
	TypeString     = "string"
	TypeText       = "text"
	TypeBoolean    = "boolean"
	TypeDateTime   = "datetime"
	TypeDateTimeTZ = "datetimetz"
	TypeDate       = "date"
	TypeTime       = "time"
	TypeFloat      = "float"
	TypeDecimal    = "decimal"
	TypeBlob       = "blob"
)

// Schema is an in-memory model of a database structure.
type Schema struct {
	Tables []*Table `json:"tables"`
}

// Table describes a table and the objects attached to it.
type Table struct {
	Name        string        `json:"name"`
	Columns     []*Column     `json:"columns"`
	PrimaryKey  []string      `json:"primaryKey,omitempty"`
	Indexes     []*Index      `json:"indexes,omitempty"`
	ForeignKeys []*ForeignKey `json:"foreignKeys,omitempty"`
}

// Column describes a single table column.
type Column struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Length        int     `json:"length,omitempty"`
	Precision     int     `json:"precision,omitempty"`
	Scale         int     `json:"scale,omitempty"`
	Nullable      bool    `json:"nullable"`
	Default       *string `json:"default,omitempty"`
	AutoIncrement bool    `json:"autoIncrement,omitempty"`
}

// Index describes a (possibly unique) secondary index.
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// ForeignKey describes a foreign key constraint.
type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referencedTable"`
	ReferencedColumns []string `json:"referencedColumns"`
	OnDelete          string   `json:"onDelete,omitempty"`
	OnUpdate          string   `json:"onUpdate,omitempty"`
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{}
}

// Table returns the table with the given name, ignoring case.
func (s *Schema) Table(name string) *Table {
	if s == nil {
		return nil
	}
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	return nil
}

// HasTable reports whether the schema contains the named table.
func (s *Schema) HasTable(name string) bool {
	return s.Table(name) != nil
}

// TableNames returns the table names in sorted order.
func (s *Schema) TableNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// CreateTable adds an empty table or returns the existing one.
func (s *Schema) CreateTable(name string) *Table {
	if t := s.Table(name); t != nil {
		return t
	}
	t := &Table{Name: name}
	s.Tables = append(s.Tables, t)
	return t
}

// DropTable removes the named table. It reports whether a table was removed.
func (s *Schema) DropTable(name string) bool {
	for i, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			s.Tables = append(s.Tables[:i], s.Tables[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the schema.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return NewSchema()
	}
	out := &Schema{Tables: make([]*Table, 0, len(s.Tables))}
	for _, t := range s.Tables {
		out.Tables = append(out.Tables, t.Clone())
	}
	return out
}

// sorted returns the tables ordered by lowercased name.
func (s *Schema) sorted() []*Table {
	if s == nil {
		return nil
	}
	tables := append([]*Table(nil), s.Tables...)
	sort.Slice(tables, func(i, j int) bool {
		return strings.ToLower(tables[i].Name) < strings.ToLower(tables[j].Name)
	})
	return tables
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		Name:       t.Name,
		PrimaryKey: append([]string(nil), t.PrimaryKey...),
	}
	for _, c := range t.Columns {
		cc := *c
		if c.Default != nil {
			d := *c.Default
			cc.Default = &d
		}
		out.Columns = append(out.Columns, &cc)
	}
	for _, idx := range t.Indexes {
		out.Indexes = append(out.Indexes, &Index{
			Name:    idx.Name,
			Columns: append([]string(nil), idx.Columns...),
			Unique:  idx.Unique,
		})
	}
	for _, fk := range t.ForeignKeys {
		f := *fk
		f.Columns = append([]string(nil), fk.Columns...)
		f.ReferencedColumns = append([]string(nil), fk.ReferencedColumns...)
		out.ForeignKeys = append(out.ForeignKeys, &f)
	}
	return out
}

// ColumnOption customises a column added with AddColumn.
type ColumnOption func(*Column)

// Length sets the length of a string column.
func Length(n int) ColumnOption {
	return func(c *Column) { c.Length = n }
}

// Precision sets precision and scale of a decimal column.
func Precision(precision, scale int) ColumnOption {
	return func(c *Column) {
		c.Precision = precision
		c.Scale = scale
	}
}

// Nullable marks the column as accepting NULL.
func Nullable() ColumnOption {
	return func(c *Column) { c.Nullable = true }
}

// Default sets the column default as a raw SQL expression.
func Default(expr string) ColumnOption {
	return func(c *Column) { c.Default = &expr }
}

// AutoIncrement marks the column as generated by the database.
func AutoIncrement() ColumnOption {
	return func(c *Column) { c.AutoIncrement = true }
}

// AddColumn adds a column, replacing any existing column of the same name.
// Columns are NOT NULL unless the Nullable option is given.
func (t *Table) AddColumn(name, typ string, opts ...ColumnOption) *Column {
	c := &Column{Name: name, Type: typ}
	for _, opt := range opts {
		opt(c)
	}
	for i, existing := range t.Columns {
		if strings.EqualFold(existing.Name, name) {
			t.Columns[i] = c
			return c
		}
	}
	t.Columns = append(t.Columns, c)
	return c
}

// Column returns the named column, ignoring case.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	return t.Column(name) != nil
}

// DropColumn removes a column along with any index or key that references it.
func (t *Table) DropColumn(name string) bool {
	idx := -1
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	t.Columns = append(t.Columns[:idx], t.Columns[idx+1:]...)
	if hasName(t.PrimaryKey, name) {
		t.PrimaryKey = nil
	}
	indexes := t.Indexes[:0]
	for _, ix := range t.Indexes {
		if !hasName(ix.Columns, name) {
			indexes = append(indexes, ix)
		}
	}
	t.Indexes = indexes
	fks := t.ForeignKeys[:0]
	for _, fk := range t.ForeignKeys {
		if !hasName(fk.Columns, name) {
			fks = append(fks, fk)
		}
	}
	t.ForeignKeys = fks
	return true
}

// SetPrimaryKey replaces the primary key columns.
func (t *Table) SetPrimaryKey(columns ...string) {
	t.PrimaryKey = append([]string(nil), columns...)
}

// AddIndex adds a non-unique index. An empty name is derived from the columns.
func (t *Table) AddIndex(name string, columns ...string) *Index {
	return t.addIndex(name, false, columns)
}

// AddUniqueIndex adds a unique index. An empty name is derived from the columns.
func (t *Table) AddUniqueIndex(name string, columns ...string) *Index {
	return t.addIndex(name, true, columns)
}

func (t *Table) addIndex(name string, unique bool, columns []string) *Index {
	if name == "" {
		prefix := "idx"
		if unique {
			prefix = "uniq"
		}
		name = derivedName(prefix, t.Name, columns)
	}
	ix := &Index{Name: name, Columns: append([]string(nil), columns...), Unique: unique}
	for i, existing := range t.Indexes {
		if strings.EqualFold(existing.Name, name) {
			t.Indexes[i] = ix
			return ix
		}
	}
	t.Indexes = append(t.Indexes, ix)
	return ix
}

// Index returns the named index, ignoring case.
func (t *Table) Index(name string) *Index {
	for _, ix := range t.Indexes {
		if strings.EqualFold(ix.Name, name) {
			return ix
		}
	}
	return nil
}

// DropIndex removes the named index.
func (t *Table) DropIndex(name string) bool {
	for i, ix := range t.Indexes {
		if strings.EqualFold(ix.Name, name) {
			t.Indexes = append(t.Indexes[:i], t.Indexes[i+1:]...)
			return true
		}
	}
	return false
}

// AddForeignKey adds a foreign key constraint. An empty fk.Name is derived
// from the table and columns.
func (t *Table) AddForeignKey(fk ForeignKey) *ForeignKey {
	if fk.Name == "" {
		fk.Name = derivedName("fk", t.Name, fk.Columns)
	}
	f := fk
	f.Columns = append([]string(nil), fk.Columns...)
	f.ReferencedColumns = append([]string(nil), fk.ReferencedColumns...)
	for i, existing := range t.ForeignKeys {
		if strings.EqualFold(existing.Name, f.Name) {
			t.ForeignKeys[i] = &f
			return &f
		}
	}
	t.ForeignKeys = append(t.ForeignKeys, &f)
	return &f
}

// ForeignKey returns the named foreign key, ignoring case.
func (t *Table) ForeignKey(name string) *ForeignKey {
	for _, fk := range t.ForeignKeys {
		if strings.EqualFold(fk.Name, name) {
			return fk
		}
	}
	return nil
}

// DropForeignKey removes the named foreign key.
func (t *Table) DropForeignKey(name string) bool {
	for i, fk := range t.ForeignKeys {
		if strings.EqualFold(fk.Name, name) {
			t.ForeignKeys = append(t.ForeignKeys[:i], t.ForeignKeys[i+1:]...)
			return true
		}
	}
	return false
}

// derivedName builds a deterministic object name such as idx_users_email.
func derivedName(prefix, table string, columns []string) string {
	parts := append([]string{prefix, table}, columns...)
	return strings.ToLower(strings.Join(parts, "_"))
}

// hasName reports whether names contains name, ignoring case.
func hasName(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// sameNames reports whether a and b list the same names in the same order.
func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

func (c *Column) String() string {
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}
