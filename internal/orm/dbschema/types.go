// Package dbschema models relational schemas as the database sees them.
//
// The same model describes both sides of a schema comparison: FromMetadata projects a resolved
// metadata registry into the schema it implies, and the introspectors read the schema a live
// database actually has.
package dbschema

import (
	"github.com/conduit-lang/entmap/internal/orm/platform"
)

// Column represents a table column
type Column struct {
	Name          string
	Type          string
	Nullable      bool
	Default       *string
	Autoincrement bool
	Primary       bool
	Unique        bool
}

// Info returns the dialect-relevant part of the column
func (c *Column) Info() platform.ColumnInfo {
	return platform.ColumnInfo{
		Name:          c.Name,
		Type:          c.Type,
		Nullable:      c.Nullable,
		Default:       c.Default,
		Autoincrement: c.Autoincrement,
	}
}

// Clone returns a deep copy of the column
func (c *Column) Clone() *Column {
	out := *c
	if c.Default != nil {
		d := *c.Default
		out.Default = &d
	}
	return &out
}

// Index represents a database index or unique constraint
type Index struct {
	Name       string
	Columns    []string
	Unique     bool
	Primary    bool
	Expression string
}

// ForeignKey represents a foreign key constraint
type ForeignKey struct {
	Name              string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
	OnDelete          string
	OnUpdate          string
}

// Info returns the dialect-relevant part of the foreign key
func (f *ForeignKey) Info() platform.ForeignKeyInfo {
	return platform.ForeignKeyInfo{
		Name:              f.Name,
		Columns:           f.Columns,
		ReferencedTable:   f.ReferencedTable,
		ReferencedColumns: f.ReferencedColumns,
		OnDelete:          f.OnDelete,
		OnUpdate:          f.OnUpdate,
	}
}

// Table represents a database table
type Table struct {
	Name        string
	Schema      string
	Columns     []*Column
	Indexes     []*Index
	ForeignKeys []*ForeignKey
	PrimaryKey  []string
}

// QualifiedName returns schema.table when the table lives in an explicit schema
func (t *Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column returns the column with the given name
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Index returns the index with the given name
func (t *Table) Index(name string) (*Index, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return nil, false
}

// ForeignKey returns the foreign key with the given name
func (t *Table) ForeignKey(name string) (*ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.Name == name {
			return fk, true
		}
	}
	return nil, false
}

// ColumnNames returns the column names in table order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// DatabaseSchema is a set of tables
type DatabaseSchema struct {
	Tables []*Table
}

// Table returns the table with the given qualified name. Tables of the default schema are
// looked up by their bare name.
func (s *DatabaseSchema) Table(name string) (*Table, bool) {
	for _, t := range s.Tables {
		if t.QualifiedName() == name {
			return t, true
		}
	}
	return nil, false
}

// TableNames returns the table names in schema order
func (s *DatabaseSchema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}
