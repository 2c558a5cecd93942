package dbschema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresIntrospector reads tables from information_schema and the pg_catalog
type PostgresIntrospector struct {
	*introspector
}

// NewPostgresIntrospector creates an introspector for the given schema, "public" when empty
func NewPostgresIntrospector(db Queryer, schemaName string, opts ...Option) *PostgresIntrospector {
	if schemaName == "" {
		schemaName = "public"
	}
	r := &postgresReader{db: db, schema: schemaName}
	return &PostgresIntrospector{introspector: newIntrospector("postgres", r, opts)}
}

type postgresReader struct {
	db     Queryer
	schema string
}

const postgresTablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`

const postgresColumnsQuery = `
		SELECT
			c.column_name,
			c.data_type,
			c.udt_name,
			c.character_maximum_length,
			c.numeric_precision,
			c.numeric_scale,
			c.is_nullable,
			c.column_default,
			c.is_identity
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

const postgresIndexesQuery = `
		SELECT
			i.relname,
			ix.indisunique,
			ix.indisprimary,
			array_agg(a.attname::text ORDER BY k.ord)
		FROM pg_class t
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_index ix ON ix.indrelid = t.oid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord) ON true
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = $1 AND t.relname = $2
		GROUP BY i.relname, ix.indisunique, ix.indisprimary
		ORDER BY i.relname`

const postgresForeignKeysQuery = `
		SELECT
			c.conname,
			array_agg(a.attname::text ORDER BY k.ord),
			ft.relname,
			array_agg(fa.attname::text ORDER BY k.ord),
			c.confdeltype::text,
			c.confupdtype::text
		FROM pg_constraint c
		JOIN pg_class t ON t.oid = c.conrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		JOIN pg_class ft ON ft.oid = c.confrelid
		JOIN LATERAL unnest(c.conkey, c.confkey) WITH ORDINALITY AS k(attnum, fattnum, ord) ON true
		JOIN pg_attribute a ON a.attrelid = c.conrelid AND a.attnum = k.attnum
		JOIN pg_attribute fa ON fa.attrelid = c.confrelid AND fa.attnum = k.fattnum
		WHERE c.contype = 'f' AND n.nspname = $1 AND t.relname = $2
		GROUP BY c.conname, ft.relname, c.confdeltype, c.confupdtype
		ORDER BY c.conname`

func (r *postgresReader) tableNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, postgresTablesQuery, r.schema)
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

func (r *postgresReader) readTable(ctx context.Context, name string) (*Table, error) {
	t := &Table{Name: name}
	if r.schema != "public" {
		t.Schema = r.schema
	}

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

func (r *postgresReader) columns(ctx context.Context, table string) ([]*Column, error) {
	rows, err := r.db.QueryContext(ctx, postgresColumnsQuery, r.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []*Column
	for rows.Next() {
		var (
			name, dataType, udtName, nullable string
			charLength, precision, scale      sql.NullInt64
			def, identity                     sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &udtName, &charLength, &precision, &scale, &nullable, &def, &identity); err != nil {
			return nil, err
		}

		c := &Column{
			Name:     name,
			Type:     postgresColumnType(dataType, udtName, charLength, precision, scale),
			Nullable: nullable == "YES",
			Default:  nullString(def),
		}
		if identity.String == "YES" || (c.Default != nil && strings.HasPrefix(*c.Default, "nextval(")) {
			c.Autoincrement = true
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (r *postgresReader) indexes(ctx context.Context, table string) ([]*Index, error) {
	rows, err := r.db.QueryContext(ctx, postgresIndexesQuery, r.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Index
	for rows.Next() {
		idx := &Index{}
		if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Primary, pq.Array(&idx.Columns)); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

func (r *postgresReader) foreignKeys(ctx context.Context, table string) ([]*ForeignKey, error) {
	rows, err := r.db.QueryContext(ctx, postgresForeignKeysQuery, r.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ForeignKey
	for rows.Next() {
		var onDelete, onUpdate string
		fk := &ForeignKey{}
		if err := rows.Scan(&fk.Name, pq.Array(&fk.Columns), &fk.ReferencedTable, pq.Array(&fk.ReferencedColumns), &onDelete, &onUpdate); err != nil {
			return nil, err
		}
		fk.OnDelete = postgresAction(onDelete)
		fk.OnUpdate = postgresAction(onUpdate)
		out = append(out, fk)
	}
	return out, rows.Err()
}

// postgresColumnType maps information_schema type names onto the names the platform emits
func postgresColumnType(dataType, udtName string, charLength, precision, scale sql.NullInt64) string {
	switch dataType {
	case "character varying":
		if charLength.Valid {
			return fmt.Sprintf("varchar(%d)", charLength.Int64)
		}
		return "varchar"
	case "character":
		if charLength.Valid {
			return fmt.Sprintf("char(%d)", charLength.Int64)
		}
		return "char"
	case "numeric":
		if precision.Valid {
			return fmt.Sprintf("numeric(%d,%d)", precision.Int64, scale.Int64)
		}
		return "numeric"
	case "timestamp with time zone":
		return "timestamptz"
	case "timestamp without time zone":
		return "timestamp"
	case "time without time zone":
		return "time"
	case "USER-DEFINED", "ARRAY":
		return udtName
	default:
		return dataType
	}
}

// postgresAction decodes pg_constraint.confdeltype / confupdtype
func postgresAction(code string) string {
	switch code {
	case "c":
		return "cascade"
	case "n":
		return "set null"
	case "r":
		return "restrict"
	case "d":
		return "set default"
	default:
		return "no action"
	}
}
