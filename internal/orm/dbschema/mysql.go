package dbschema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// MySQLIntrospector reads tables from information_schema
type MySQLIntrospector struct {
	*introspector
}

// NewMySQLIntrospector creates an introspector for the given database; the connection's current
// database is used when schemaName is empty
func NewMySQLIntrospector(db Queryer, schemaName string, opts ...Option) *MySQLIntrospector {
	r := &mysqlReader{db: db, schema: schemaName}
	return &MySQLIntrospector{introspector: newIntrospector("mysql", r, opts)}
}

type mysqlReader struct {
	db     Queryer
	schema string
}

// schemaFilter returns the table_schema predicate and its arguments
func (r *mysqlReader) schemaFilter(column string) (string, []interface{}) {
	if r.schema == "" {
		return column + " = DATABASE()", nil
	}
	return column + " = ?", []interface{}{r.schema}
}

func (r *mysqlReader) tableNames(ctx context.Context) ([]string, error) {
	filter, args := r.schemaFilter("table_schema")
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE ` + filter + ` AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (r *mysqlReader) readTable(ctx context.Context, name string) (*Table, error) {
	t := &Table{Name: name}

	var err error
	if t.Columns, err = r.columns(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if len(t.Columns) == 0 {
		return nil, nil
	}
	if t.Indexes, err = r.indexes(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to extract indexes: %w", err)
	}
	if t.ForeignKeys, err = r.foreignKeys(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to extract foreign keys: %w", err)
	}

	finishTable(t)
	return t, nil
}

func (r *mysqlReader) columns(ctx context.Context, table string) ([]*Column, error) {
	filter, args := r.schemaFilter("table_schema")
	query := `
		SELECT column_name, column_type, is_nullable, column_default, extra
		FROM information_schema.columns
		WHERE ` + filter + ` AND table_name = ?
		ORDER BY ordinal_position`

	rows, err := r.db.QueryContext(ctx, query, append(args, table)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []*Column
	for rows.Next() {
		var (
			name, columnType, nullable, extra string
			def                               sql.NullString
		)
		if err := rows.Scan(&name, &columnType, &nullable, &def, &extra); err != nil {
			return nil, err
		}
		cols = append(cols, &Column{
			Name:          name,
			Type:          columnType,
			Nullable:      nullable == "YES",
			Default:       nullString(def),
			Autoincrement: strings.Contains(strings.ToLower(extra), "auto_increment"),
		})
	}
	return cols, rows.Err()
}

func (r *mysqlReader) indexes(ctx context.Context, table string) ([]*Index, error) {
	filter, args := r.schemaFilter("table_schema")
	query := `
		SELECT index_name, non_unique, GROUP_CONCAT(column_name ORDER BY seq_in_index)
		FROM information_schema.statistics
		WHERE ` + filter + ` AND table_name = ?
		GROUP BY index_name, non_unique
		ORDER BY index_name`

	rows, err := r.db.QueryContext(ctx, query, append(args, table)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Index
	for rows.Next() {
		var (
			name, columns string
			nonUnique     int
		)
		if err := rows.Scan(&name, &nonUnique, &columns); err != nil {
			return nil, err
		}
		out = append(out, &Index{
			Name:    name,
			Columns: strings.Split(columns, ","),
			Unique:  nonUnique == 0,
			Primary: name == "PRIMARY",
		})
	}
	return out, rows.Err()
}

func (r *mysqlReader) foreignKeys(ctx context.Context, table string) ([]*ForeignKey, error) {
	filter, args := r.schemaFilter("k.table_schema")
	query := `
		SELECT
			k.constraint_name,
			k.column_name,
			k.referenced_table_name,
			k.referenced_column_name,
			rc.delete_rule,
			rc.update_rule
		FROM information_schema.key_column_usage k
		JOIN information_schema.referential_constraints rc
			ON rc.constraint_schema = k.constraint_schema
			AND rc.constraint_name = k.constraint_name
		WHERE ` + filter + ` AND k.table_name = ? AND k.referenced_table_name IS NOT NULL
		ORDER BY k.constraint_name, k.ordinal_position`

	rows, err := r.db.QueryContext(ctx, query, append(args, table)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ForeignKey
	for rows.Next() {
		var name, column, refTable, refColumn, onDelete, onUpdate string
		if err := rows.Scan(&name, &column, &refTable, &refColumn, &onDelete, &onUpdate); err != nil {
			return nil, err
		}

		if n := len(out); n > 0 && out[n-1].Name == name {
			out[n-1].Columns = append(out[n-1].Columns, column)
			out[n-1].ReferencedColumns = append(out[n-1].ReferencedColumns, refColumn)
			continue
		}
		out = append(out, &ForeignKey{
			Name:              name,
			Columns:           []string{column},
			ReferencedTable:   refTable,
			ReferencedColumns: []string{refColumn},
			OnDelete:          strings.ToLower(onDelete),
			OnUpdate:          strings.ToLower(onUpdate),
		})
	}
	return out, rows.Err()
}
