package platform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// MySQL is the MySQL / MariaDB dialect
type MySQL struct {
	base
}

// NewMySQL creates the MySQL platform with the default naming strategy
func NewMySQL() *MySQL {
	return &MySQL{base: base{
		name:   "mysql",
		naming: schema.NewUnderscoreNamingStrategy(),
		quote: func(id string) string {
			return "`" + strings.ReplaceAll(id, "`", "``") + "`"
		},
	}}
}

// QuoteValue renders v as a SQL literal
func (m *MySQL) QuoteValue(v interface{}) string {
	return formatValue(v, func(s string) string {
		return quoteStringLiteral(strings.ReplaceAll(s, `\`, `\\`))
	}, "1", "0")
}

// ColumnType maps a scalar property onto a MySQL column type
func (m *MySQL) ColumnType(prop *schema.Property) string {
	if prop.ColumnType != "" {
		return strings.ToLower(prop.ColumnType)
	}

	switch t := logicalType(prop); t {
	case "string", "email", "url", "varchar":
		return fmt.Sprintf("varchar(%d)", stringLength(prop))
	case "char":
		return fmt.Sprintf("char(%d)", stringLength(prop))
	case "text", "markdown":
		return "text"
	case "enum":
		if len(prop.Enum) == 0 {
			return "varchar(255)"
		}
		values := make([]string, len(prop.Enum))
		for i, v := range prop.Enum {
			values[i] = quoteStringLiteral(v)
		}
		return "enum(" + strings.Join(values, ",") + ")"
	case "int", "integer":
		return "int"
	case "bigint", "smallint", "float", "double", "date", "time", "json", "blob":
		return t
	case "real":
		return "float"
	case "decimal", "numeric":
		return decimalType("decimal", prop)
	case "bool", "boolean":
		return "tinyint(1)"
	case "timestamp", "datetime":
		return "datetime"
	case "uuid":
		return "char(36)"
	case "jsonb":
		return "json"
	case "bytes":
		return "blob"
	default:
		return t
	}
}

var mysqlDisplayWidth = regexp.MustCompile(`^(smallint|mediumint|int|bigint)\(\d+\)`)

var mysqlTypeAliases = map[string]string{
	"integer":          "int",
	"bool":             "tinyint(1)",
	"boolean":          "tinyint(1)",
	"numeric":          "decimal",
	"double precision": "double",
	"real":             "double",
	"dec":              "decimal",
}

// NormalizeType converts MySQL type spellings to a canonical form
func (m *MySQL) NormalizeType(columnType string) string {
	t := strings.Join(strings.Fields(strings.ToLower(columnType)), " ")
	t = mysqlDisplayWidth.ReplaceAllString(t, "$1")
	t = strings.TrimSuffix(t, " signed")

	args := ""
	if i := strings.Index(t, "("); i >= 0 && !strings.HasPrefix(t, "tinyint") {
		args = strings.ReplaceAll(t[i:], " ", "")
		t = strings.TrimSpace(t[:i])
	}
	if alias, ok := mysqlTypeAliases[t]; ok {
		t = alias
	}
	return t + args
}

// NormalizeDefault strips quoting from a default expression
func (m *MySQL) NormalizeDefault(def *string) *string {
	return normalizeDefault(def)
}

// CompareColumns compares a desired column with a live one
func (m *MySQL) CompareColumns(desired, live ColumnInfo) ColumnComparison {
	return compareColumns(m, desired, live)
}

// ColumnDefinition renders a column for create table / add column
func (m *MySQL) ColumnDefinition(col ColumnInfo, inlinePrimaryKey bool) string {
	def := m.columnDefinition(col.Type, col)
	if col.Autoincrement {
		def += " auto_increment"
	}
	return def
}

// CreateDatabaseSQL returns the statement creating a database
func (m *MySQL) CreateDatabaseSQL(name string) string {
	return "create database if not exists " + m.QuoteIdentifier(name)
}

// DropDatabaseSQL returns the statement dropping a database
func (m *MySQL) DropDatabaseSQL(name string) string {
	return "drop database if exists " + m.QuoteIdentifier(name)
}

// AlterColumnSQL redefines the whole column with a single modify
func (m *MySQL) AlterColumnSQL(table string, col ColumnInfo, change ColumnComparison) []string {
	if !change.Changed() {
		return nil
	}
	return []string{fmt.Sprintf("alter table %s modify %s", m.QuoteIdentifier(table), m.ColumnDefinition(col, false))}
}

// DropIndexSQL drops an index of table
func (m *MySQL) DropIndexSQL(table, name string) string {
	return fmt.Sprintf("alter table %s drop index %s", m.QuoteIdentifier(table), m.QuoteIdentifier(name))
}

// DropForeignKeySQL drops a foreign key of table
func (m *MySQL) DropForeignKeySQL(table, name string) string {
	return fmt.Sprintf("alter table %s drop foreign key %s", m.QuoteIdentifier(table), m.QuoteIdentifier(name))
}

// RegexpOperator returns the regexp match operator
func (m *MySQL) RegexpOperator() string {
	return "regexp"
}

// FullTextClause matches column against a boolean mode full text query
func (m *MySQL) FullTextClause(column, placeholder string) string {
	return fmt.Sprintf("match(%s) against (%s in boolean mode)", column, placeholder)
}

// TupleList renders plain row constructors; MySQL rejects values lists inside in
func (m *MySQL) TupleList(rows [][]string) string {
	return "(" + tuples(rows) + ")"
}

// LockClause returns the row lock suffix for mode
func (m *MySQL) LockClause(mode LockMode) string {
	switch mode {
	case LockPessimisticRead:
		return "lock in share mode"
	case LockPessimisticWrite:
		return "for update"
	case LockPessimisticPartialRead:
		return "for share skip locked"
	case LockPessimisticPartialWrite:
		return "for update skip locked"
	case LockPessimisticReadOrFail:
		return "for share nowait"
	case LockPessimisticWriteOrFail:
		return "for update nowait"
	default:
		return ""
	}
}
