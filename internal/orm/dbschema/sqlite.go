package dbschema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/conduit-lang/entmap/internal/orm/platform"
)

// SQLiteIntrospector reads tables through sqlite_master and the table PRAGMAs
type SQLiteIntrospector struct {
	*introspector
}

// NewSQLiteIntrospector creates an introspector for the main database
func NewSQLiteIntrospector(db Queryer, opts ...Option) *SQLiteIntrospector {
	r := &sqliteReader{db: db, platform: platform.NewSQLite()}
	return &SQLiteIntrospector{introspector: newIntrospector("sqlite", r, opts)}
}

type sqliteReader struct {
	db       Queryer
	platform *platform.SQLite
}

func (r *sqliteReader) tableNames(ctx context.Context) ([]string, error) {
	query := `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
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

func (r *sqliteReader) readTable(ctx context.Context, name string) (*Table, error) {
	var ddl string
	err := r.db.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&ddl)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read table definition: %w", err)
	}

	t := &Table{Name: name}
	if err := r.columns(ctx, t, strings.Contains(strings.ToLower(ddl), "autoincrement")); err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
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

func (r *sqliteReader) columns(ctx context.Context, t *Table, autoincrement bool) error {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", r.platform.QuoteIdentifier(t.Name)))
	if err != nil {
		return err
	}
	defer rows.Close()

	keyPos := map[int]string{}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			def              sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &def, &pk); err != nil {
			return err
		}
		t.Columns = append(t.Columns, &Column{
			Name:     name,
			Type:     strings.ToLower(typ),
			Nullable: notNull == 0 && pk == 0,
			Default:  nullString(def),
		})
		if pk > 0 {
			keyPos[pk] = name
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := 1; i <= len(keyPos); i++ {
		t.PrimaryKey = append(t.PrimaryKey, keyPos[i])
	}
	if autoincrement && len(t.PrimaryKey) == 1 {
		if c, ok := t.Column(t.PrimaryKey[0]); ok {
			c.Autoincrement = true
		}
	}
	return nil
}

func (r *sqliteReader) indexes(ctx context.Context, table string) ([]*Index, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", r.platform.QuoteIdentifier(table)))
	if err != nil {
		return nil, err
	}

	var out []*Index
	for rows.Next() {
		var (
			seq, unique, partial int
			name, origin         string
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			rows.Close()
			return nil, err
		}
		// implicit indexes backing primary keys and inline unique constraints
		if strings.HasPrefix(name, "sqlite_autoindex_") {
			continue
		}
		out = append(out, &Index{Name: name, Unique: unique == 1, Primary: origin == "pk"})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, idx := range out {
		if idx.Columns, err = r.indexColumns(ctx, idx.Name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *sqliteReader) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", r.platform.QuoteIdentifier(index)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			seqno, cid int
			name       sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	return cols, rows.Err()
}

// foreignKeys reads PRAGMA foreign_key_list. SQLite does not keep constraint names, so they
// are derived with the platform's naming convention.
func (r *sqliteReader) foreignKeys(ctx context.Context, table string) ([]*ForeignKey, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", r.platform.QuoteIdentifier(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out  []*ForeignKey
		byID = map[int]*ForeignKey{}
	)
	for rows.Next() {
		var (
			id, seq                                 int
			refTable, from, onUpdate, onDelete, how string
			to                                      sql.NullString
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &how); err != nil {
			return nil, err
		}

		fk, ok := byID[id]
		if !ok {
			fk = &ForeignKey{
				ReferencedTable: refTable,
				OnDelete:        strings.ToLower(onDelete),
				OnUpdate:        strings.ToLower(onUpdate),
			}
			byID[id] = fk
			out = append(out, fk)
		}
		fk.Columns = append(fk.Columns, from)
		fk.ReferencedColumns = append(fk.ReferencedColumns, to.String)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, fk := range out {
		fk.Name = r.platform.IndexName(table, fk.Columns, platform.IndexForeign)
	}
	return out, nil
}
