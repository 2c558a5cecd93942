package platform

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// SQLite is the SQLite dialect. It cannot alter columns or constraints of existing tables and
// has no row locks.
type SQLite struct {
	base
}

// NewSQLite creates the SQLite platform with the default naming strategy
func NewSQLite() *SQLite {
	return &SQLite{base: base{
		name:   "sqlite",
		naming: schema.NewUnderscoreNamingStrategy(),
		quote: func(id string) string {
			return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
		},
	}}
}

// QuoteValue renders v as a SQL literal
func (s *SQLite) QuoteValue(v interface{}) string {
	return formatValue(v, quoteStringLiteral, "1", "0")
}

// ColumnType maps a scalar property onto a SQLite column type
func (s *SQLite) ColumnType(prop *schema.Property) string {
	if prop.ColumnType != "" {
		return strings.ToLower(prop.ColumnType)
	}

	switch t := logicalType(prop); t {
	case "string", "email", "url", "varchar":
		return fmt.Sprintf("varchar(%d)", stringLength(prop))
	case "char":
		return fmt.Sprintf("char(%d)", stringLength(prop))
	case "text", "enum", "markdown", "uuid":
		return "text"
	case "int", "integer", "smallint", "bool", "boolean":
		return "integer"
	case "bigint":
		if prop.Autoincrement {
			return "integer"
		}
		return "bigint"
	case "float", "real", "double":
		return "real"
	case "decimal", "numeric":
		return decimalType("numeric", prop)
	case "timestamp", "datetime":
		return "datetime"
	case "date", "time", "json", "blob":
		return t
	case "jsonb":
		return "json"
	case "bytes":
		return "blob"
	default:
		return t
	}
}

// NormalizeType lower-cases and collapses whitespace; SQLite keeps declared types verbatim
func (s *SQLite) NormalizeType(columnType string) string {
	t := strings.Join(strings.Fields(strings.ToLower(columnType)), " ")
	t = strings.ReplaceAll(t, ", ", ",")
	if t == "int" {
		return "integer"
	}
	return t
}

// NormalizeDefault strips quoting from a default expression
func (s *SQLite) NormalizeDefault(def *string) *string {
	return normalizeDefault(def)
}

// CompareColumns compares a desired column with a live one
func (s *SQLite) CompareColumns(desired, live ColumnInfo) ColumnComparison {
	return compareColumns(s, desired, live)
}

// ColumnDefinition renders a column; a sole autoincrement key is declared inline
func (s *SQLite) ColumnDefinition(col ColumnInfo, inlinePrimaryKey bool) string {
	if col.Autoincrement && inlinePrimaryKey {
		return s.QuoteIdentifier(col.Name) + " integer not null primary key autoincrement"
	}
	return s.columnDefinition(col.Type, col)
}

// CreateDatabaseSQL returns "": a SQLite database is a file created on connect
func (s *SQLite) CreateDatabaseSQL(name string) string {
	return ""
}

// DropDatabaseSQL returns "": a SQLite database is removed by deleting its file
func (s *SQLite) DropDatabaseSQL(name string) string {
	return ""
}

// AlterColumnSQL returns nothing; SQLite cannot alter columns in place
func (s *SQLite) AlterColumnSQL(table string, col ColumnInfo, change ColumnComparison) []string {
	return nil
}

// AddForeignKeySQL returns ""; foreign keys are declared inside create table
func (s *SQLite) AddForeignKeySQL(table string, fk ForeignKeyInfo) string {
	return ""
}

// DropForeignKeySQL returns ""; foreign keys cannot be dropped from existing tables
func (s *SQLite) DropForeignKeySQL(table, name string) string {
	return ""
}

// RegexpOperator returns the regexp operator, backed by a user function in the driver
func (s *SQLite) RegexpOperator() string {
	return "regexp"
}

// FullTextClause matches an fts virtual table column
func (s *SQLite) FullTextClause(column, placeholder string) string {
	return fmt.Sprintf("%s match %s", column, placeholder)
}

// LockClause returns ""; SQLite locks the whole database
func (s *SQLite) LockClause(mode LockMode) string {
	return ""
}

func (s *SQLite) SupportsSchemaConstraints() bool { return false }
func (s *SQLite) SupportsColumnAlter() bool       { return false }
func (s *SQLite) InlinesAutoincrementKey() bool   { return true }
