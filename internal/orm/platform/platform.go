// Package platform describes the SQL dialects entmap can target.
//
// A Platform answers every dialect question asked by the schema differ, the DDL generator and the
// query compiler: identifier and value quoting, parameter placeholders, logical type mapping, column
// comparison, index naming, lock clauses and the capabilities that switch whole features on or off.
package platform

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// IndexKind identifies what an index or constraint name is derived for
type IndexKind int

const (
	IndexPlain IndexKind = iota
	IndexUnique
	IndexPrimary
	IndexForeign
)

func (k IndexKind) suffix() string {
	switch k {
	case IndexUnique:
		return "unique"
	case IndexPrimary:
		return "pkey"
	case IndexForeign:
		return "foreign"
	default:
		return "index"
	}
}

// LockMode is a row locking mode
type LockMode int

const (
	LockNone LockMode = iota
	LockOptimistic
	LockPessimisticRead
	LockPessimisticWrite
	LockPessimisticPartialRead  // skip locked rows
	LockPessimisticPartialWrite // skip locked rows
	LockPessimisticReadOrFail   // nowait
	LockPessimisticWriteOrFail  // nowait
)

// IsPessimistic reports whether the mode locks rows in the database
func (m LockMode) IsPessimistic() bool {
	return m >= LockPessimisticRead
}

// String returns the string representation of the lock mode
func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "none"
	case LockOptimistic:
		return "optimistic"
	case LockPessimisticRead:
		return "pessimistic_read"
	case LockPessimisticWrite:
		return "pessimistic_write"
	case LockPessimisticPartialRead:
		return "pessimistic_partial_read"
	case LockPessimisticPartialWrite:
		return "pessimistic_partial_write"
	case LockPessimisticReadOrFail:
		return "pessimistic_read_or_fail"
	case LockPessimisticWriteOrFail:
		return "pessimistic_write_or_fail"
	default:
		return "unknown"
	}
}

// ParseLockMode returns the lock mode named s, as printed by LockMode.String
func ParseLockMode(s string) (LockMode, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return LockNone, nil
	}
	for m := LockNone; m <= LockPessimisticWriteOrFail; m++ {
		if m.String() == name {
			return m, nil
		}
	}
	return LockNone, fmt.Errorf("%w: lock mode %q", ErrUnsupported, s)
}

// ColumnInfo is the dialect-relevant part of a column definition
type ColumnInfo struct {
	Name          string
	Type          string
	Nullable      bool
	Default       *string
	Autoincrement bool
}

// ColumnComparison reports which parts of two column definitions agree
type ColumnComparison struct {
	SameType     bool
	SameNullable bool
	SameDefault  bool
}

// Changed reports whether any part differs
func (c ColumnComparison) Changed() bool {
	return !c.SameType || !c.SameNullable || !c.SameDefault
}

// Platform is the capability interface of a SQL dialect
type Platform interface {
	Name() string
	NamingStrategy() schema.NamingStrategy

	QuoteIdentifier(id string) string
	QuoteValue(v interface{}) string
	// Placeholder returns the n-th (1-based) positional parameter marker
	Placeholder(n int) string

	ColumnType(prop *schema.Property) string
	NormalizeType(columnType string) string
	NormalizeDefault(def *string) *string
	CompareColumns(desired, live ColumnInfo) ColumnComparison
	ColumnDefinition(col ColumnInfo, inlinePrimaryKey bool) string
	IndexName(table string, columns []string, kind IndexKind) string

	CreateDatabaseSQL(name string) string
	DropDatabaseSQL(name string) string
	AlterColumnSQL(table string, col ColumnInfo, change ColumnComparison) []string
	RenameColumnSQL(table, from, to string) string
	CreateIndexSQL(table, name string, columns []string, unique bool) string
	DropIndexSQL(table, name string) string
	AddForeignKeySQL(table string, fk ForeignKeyInfo) string
	DropForeignKeySQL(table, name string) string

	RegexpOperator() string
	FullTextClause(column, placeholder string) string
	// TupleList renders the right-hand side of a composite IN
	TupleList(rows [][]string) string
	LockClause(mode LockMode) string

	SupportsReturning() bool
	SupportsSchemaConstraints() bool
	SupportsColumnAlter() bool
	// InlinesAutoincrementKey reports whether an autoincrement key is declared on the column itself
	InlinesAutoincrementKey() bool
}

// ForeignKeyInfo is the dialect-relevant part of a foreign key
type ForeignKeyInfo struct {
	Name              string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
	OnDelete          string
	OnUpdate          string
}

// ByName returns the platform registered under name
func ByName(name string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pgx":
		return NewPostgres(), nil
	case "mysql", "mariadb":
		return NewMySQL(), nil
	case "sqlite", "sqlite3":
		return NewSQLite(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}
}

// Names returns the supported platform names
func Names() []string {
	names := []string{"postgres", "mysql", "sqlite"}
	sort.Strings(names)
	return names
}

// base holds dialect-independent behavior; quote is set by each dialect
type base struct {
	name   string
	naming schema.NamingStrategy
	quote  func(string) string
}

func (b *base) Name() string {
	return b.name
}

func (b *base) NamingStrategy() schema.NamingStrategy {
	return b.naming
}

// QuoteIdentifier quotes each dot separated part of id
func (b *base) QuoteIdentifier(id string) string {
	if id == "*" {
		return id
	}
	parts := strings.Split(id, ".")
	for i, p := range parts {
		if p != "*" {
			parts[i] = b.quote(p)
		}
	}
	return strings.Join(parts, ".")
}

func (b *base) Placeholder(n int) string {
	return "?"
}

func (b *base) quoteAll(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = b.QuoteIdentifier(id)
	}
	return strings.Join(quoted, ", ")
}

// IndexName derives "<table>_<columns>_<kind>", shortened with a hash past 64 characters
func (b *base) IndexName(table string, columns []string, kind IndexKind) string {
	if i := strings.LastIndex(table, "."); i >= 0 {
		table = table[i+1:]
	}
	var name string
	if kind == IndexPrimary {
		name = table + "_pkey"
	} else {
		name = fmt.Sprintf("%s_%s_%s", table, strings.Join(columns, "_"), kind.suffix())
	}
	return shorten(name, 64)
}

func shorten(name string, max int) string {
	if len(name) <= max {
		return name
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	return fmt.Sprintf("%s_%08x", name[:max-9], h.Sum32())
}

func (b *base) columnDefinition(typ string, col ColumnInfo) string {
	var s strings.Builder
	s.WriteString(b.QuoteIdentifier(col.Name))
	s.WriteString(" ")
	s.WriteString(typ)
	if col.Nullable {
		s.WriteString(" null")
	} else {
		s.WriteString(" not null")
	}
	if col.Default != nil {
		s.WriteString(" default ")
		s.WriteString(*col.Default)
	}
	return s.String()
}

func (b *base) RenameColumnSQL(table, from, to string) string {
	return fmt.Sprintf("alter table %s rename column %s to %s",
		b.QuoteIdentifier(table), b.QuoteIdentifier(from), b.QuoteIdentifier(to))
}

func (b *base) CreateIndexSQL(table, name string, columns []string, unique bool) string {
	kind := "index"
	if unique {
		kind = "unique index"
	}
	return fmt.Sprintf("create %s %s on %s (%s)",
		kind, b.QuoteIdentifier(name), b.QuoteIdentifier(table), b.quoteAll(columns))
}

func (b *base) DropIndexSQL(table, name string) string {
	return fmt.Sprintf("drop index %s", b.QuoteIdentifier(name))
}

func (b *base) AddForeignKeySQL(table string, fk ForeignKeyInfo) string {
	var s strings.Builder
	fmt.Fprintf(&s, "alter table %s add constraint %s foreign key (%s) references %s (%s)",
		b.QuoteIdentifier(table),
		b.QuoteIdentifier(fk.Name),
		b.quoteAll(fk.Columns),
		b.QuoteIdentifier(fk.ReferencedTable),
		b.quoteAll(fk.ReferencedColumns))
	if fk.OnDelete != "" {
		s.WriteString(" on delete ")
		s.WriteString(fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		s.WriteString(" on update ")
		s.WriteString(fk.OnUpdate)
	}
	return s.String()
}

func (b *base) DropForeignKeySQL(table, name string) string {
	return fmt.Sprintf("alter table %s drop constraint %s", b.QuoteIdentifier(table), b.QuoteIdentifier(name))
}

func (b *base) TupleList(rows [][]string) string {
	return "(values " + tuples(rows) + ")"
}

func tuples(rows [][]string) string {
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = "(" + strings.Join(row, ", ") + ")"
	}
	return strings.Join(out, ", ")
}

func (b *base) SupportsReturning() bool         { return false }
func (b *base) SupportsSchemaConstraints() bool { return true }
func (b *base) SupportsColumnAlter() bool       { return true }
func (b *base) InlinesAutoincrementKey() bool   { return false }

// compareColumns compares two columns after normalizing them with the dialect's rules
func compareColumns(p Platform, desired, live ColumnInfo) ColumnComparison {
	dd, ld := p.NormalizeDefault(desired.Default), p.NormalizeDefault(live.Default)
	if desired.Autoincrement {
		dd, ld = nil, nil
	}
	return ColumnComparison{
		SameType:     p.NormalizeType(desired.Type) == p.NormalizeType(live.Type),
		SameNullable: desired.Nullable == live.Nullable,
		SameDefault:  (dd == nil && ld == nil) || (dd != nil && ld != nil && *dd == *ld),
	}
}

// normalizeDefault strips casts, wrapping parentheses and quotes so equivalent defaults compare equal
func normalizeDefault(def *string) *string {
	if def == nil {
		return nil
	}
	s := strings.TrimSpace(*def)
	if strings.EqualFold(s, "null") {
		return nil
	}
	if i := strings.Index(s, "::"); i > 0 && balanced(s[:i]) && !strings.ContainsAny(s[i:], "()") {
		s = s[:i]
	}
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' && balanced(s[1:len(s)-1]) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		s = strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	} else {
		s = strings.ToLower(s)
	}
	return &s
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// logicalType returns the lower-cased type tag of a scalar, "enum" when it carries enum values
func logicalType(prop *schema.Property) string {
	t := strings.ToLower(strings.TrimSpace(prop.Type))
	if t == "" && len(prop.Enum) > 0 {
		return "enum"
	}
	return t
}

func stringLength(prop *schema.Property) int {
	if prop.Length > 0 {
		return prop.Length
	}
	return 255
}

func decimalType(name string, prop *schema.Property) string {
	if prop.Precision > 0 {
		return fmt.Sprintf("%s(%d,%d)", name, prop.Precision, prop.Scale)
	}
	return fmt.Sprintf("%s(10,0)", name)
}

func quoteStringLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
