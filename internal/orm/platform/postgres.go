package platform

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// Postgres is the PostgreSQL dialect
type Postgres struct {
	base
}

// NewPostgres creates the PostgreSQL platform with the default naming strategy
func NewPostgres() *Postgres {
	return &Postgres{base: base{
		name:   "postgres",
		naming: schema.NewUnderscoreNamingStrategy(),
		quote:  pq.QuoteIdentifier,
	}}
}

// QuoteValue renders v as a SQL literal
func (p *Postgres) QuoteValue(v interface{}) string {
	return formatValue(v, pq.QuoteLiteral, "true", "false")
}

// Placeholder returns $n
func (p *Postgres) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// ColumnType maps a scalar property onto a PostgreSQL column type
func (p *Postgres) ColumnType(prop *schema.Property) string {
	if prop.ColumnType != "" {
		return strings.ToLower(prop.ColumnType)
	}

	switch t := logicalType(prop); t {
	case "string", "email", "url", "varchar":
		return fmt.Sprintf("varchar(%d)", stringLength(prop))
	case "char":
		return fmt.Sprintf("char(%d)", stringLength(prop))
	case "text", "enum", "markdown":
		return "text"
	case "int", "integer":
		if prop.Autoincrement {
			return "serial"
		}
		return "int"
	case "bigint":
		if prop.Autoincrement {
			return "bigserial"
		}
		return "bigint"
	case "smallint":
		if prop.Autoincrement {
			return "smallserial"
		}
		return "smallint"
	case "float", "real":
		return "real"
	case "double":
		return "double precision"
	case "decimal", "numeric":
		return decimalType("numeric", prop)
	case "bool", "boolean":
		return "boolean"
	case "timestamp", "datetime":
		return "timestamptz"
	case "date", "time", "uuid", "json", "jsonb":
		return t
	case "blob", "bytes":
		return "bytea"
	default:
		return t
	}
}

var postgresTypeAliases = map[string]string{
	"integer":                     "int",
	"int4":                        "int",
	"serial":                      "int",
	"serial4":                     "int",
	"int8":                        "bigint",
	"bigserial":                   "bigint",
	"serial8":                     "bigint",
	"int2":                        "smallint",
	"smallserial":                 "smallint",
	"float4":                      "real",
	"float8":                      "double precision",
	"bool":                        "boolean",
	"timestamp with time zone":    "timestamptz",
	"timestamp without time zone": "timestamp",
	"time without time zone":      "time",
	"time with time zone":         "timetz",
	"character varying":           "varchar",
	"character":                   "char",
	"decimal":                     "numeric",
}

// NormalizeType converts PostgreSQL type spellings to a canonical form
func (p *Postgres) NormalizeType(columnType string) string {
	t := strings.Join(strings.Fields(strings.ToLower(columnType)), " ")

	args := ""
	if i := strings.Index(t, "("); i >= 0 {
		args = strings.ReplaceAll(t[i:], " ", "")
		t = strings.TrimSpace(t[:i])
	}
	if alias, ok := postgresTypeAliases[t]; ok {
		t = alias
	}
	return t + args
}

// NormalizeDefault strips casts and quoting from a default expression
func (p *Postgres) NormalizeDefault(def *string) *string {
	return normalizeDefault(def)
}

// CompareColumns compares a desired column with a live one
func (p *Postgres) CompareColumns(desired, live ColumnInfo) ColumnComparison {
	return compareColumns(p, desired, live)
}

// ColumnDefinition renders a column for create table / add column
func (p *Postgres) ColumnDefinition(col ColumnInfo, inlinePrimaryKey bool) string {
	return p.columnDefinition(col.Type, col)
}

// CreateDatabaseSQL returns the statement creating a database
func (p *Postgres) CreateDatabaseSQL(name string) string {
	return "create database " + p.QuoteIdentifier(name)
}

// DropDatabaseSQL returns the statement dropping a database
func (p *Postgres) DropDatabaseSQL(name string) string {
	return "drop database if exists " + p.QuoteIdentifier(name)
}

// AlterColumnSQL returns one statement per changed aspect of the column
func (p *Postgres) AlterColumnSQL(table string, col ColumnInfo, change ColumnComparison) []string {
	prefix := fmt.Sprintf("alter table %s alter column %s", p.QuoteIdentifier(table), p.QuoteIdentifier(col.Name))

	var stmts []string
	if !change.SameType {
		typ := p.NormalizeType(col.Type)
		stmts = append(stmts, fmt.Sprintf("%s type %s using (%s::%s)", prefix, typ, p.QuoteIdentifier(col.Name), typ))
	}
	if !change.SameNullable {
		if col.Nullable {
			stmts = append(stmts, prefix+" drop not null")
		} else {
			stmts = append(stmts, prefix+" set not null")
		}
	}
	if !change.SameDefault {
		if col.Default == nil {
			stmts = append(stmts, prefix+" drop default")
		} else {
			stmts = append(stmts, prefix+" set default "+*col.Default)
		}
	}
	return stmts
}

// RegexpOperator returns the case sensitive POSIX match operator
func (p *Postgres) RegexpOperator() string {
	return "~"
}

// FullTextClause matches column against a plain text query
func (p *Postgres) FullTextClause(column, placeholder string) string {
	return fmt.Sprintf("to_tsvector('simple', %s) @@ plainto_tsquery('simple', %s)", column, placeholder)
}

// LockClause returns the row lock suffix for mode
func (p *Postgres) LockClause(mode LockMode) string {
	switch mode {
	case LockPessimisticRead:
		return "for share"
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

// SupportsReturning reports insert/update ... returning support
func (p *Postgres) SupportsReturning() bool {
	return true
}
