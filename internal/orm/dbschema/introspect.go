package dbschema

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/entmap/internal/orm/platform"
)

const defaultConcurrency = 4

// Queryer is the part of *sql.DB the introspectors need
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Introspector reads the schema a live database currently has.
// When no table names are given every base table of the configured schema is read.
type Introspector interface {
	Introspect(ctx context.Context, tables ...string) (*DatabaseSchema, error)
}

// Option configures an introspector
type Option func(*options)

type options struct {
	concurrency int
	logger      *zap.Logger
}

// WithConcurrency bounds the number of tables read at the same time
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// tableReader is the dialect-specific half of an introspector
type tableReader interface {
	tableNames(ctx context.Context) ([]string, error)
	readTable(ctx context.Context, name string) (*Table, error)
}

type introspector struct {
	dialect string
	reader  tableReader
	opts    options
}

func newIntrospector(dialect string, reader tableReader, opts []Option) *introspector {
	o := options{concurrency: defaultConcurrency, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &introspector{dialect: dialect, reader: reader, opts: o}
}

// Introspect reads the requested tables concurrently. Tables are returned in request order
// (or name order when all tables are read); requested tables that do not exist are left out.
func (i *introspector) Introspect(ctx context.Context, tables ...string) (*DatabaseSchema, error) {
	names := tables
	if len(names) == 0 {
		var err error
		names, err = i.reader.tableNames(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get table names: %w", err)
		}
	}

	read := make([]*Table, len(names))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(i.opts.concurrency)

	for idx, name := range names {
		idx, name := idx, name
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			t, err := i.reader.readTable(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to extract table %s: %w", name, err)
			}
			read[idx] = t
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := &DatabaseSchema{}
	for _, t := range read {
		if t != nil && len(t.Columns) > 0 {
			out.Tables = append(out.Tables, t)
		}
	}

	i.opts.logger.Debug("schema introspected",
		zap.String("platform", i.dialect),
		zap.Int("tables", len(out.Tables)))
	return out, nil
}

// NewIntrospector returns the introspector matching the platform
func NewIntrospector(p platform.Platform, db Queryer, schemaName string, opts ...Option) (Introspector, error) {
	switch p.Name() {
	case "postgres":
		return NewPostgresIntrospector(db, schemaName, opts...), nil
	case "mysql":
		return NewMySQLIntrospector(db, schemaName, opts...), nil
	case "sqlite":
		return NewSQLiteIntrospector(db, opts...), nil
	default:
		return nil, fmt.Errorf("%w: introspection on %s", platform.ErrUnsupported, p.Name())
	}
}

// finishTable marks primary and single-column unique columns from the table's indexes
func finishTable(t *Table) {
	if len(t.PrimaryKey) == 0 {
		for _, idx := range t.Indexes {
			if idx.Primary {
				t.PrimaryKey = idx.Columns
				break
			}
		}
	}
	for _, name := range t.PrimaryKey {
		if c, ok := t.Column(name); ok {
			c.Primary = true
		}
	}
	for _, idx := range t.Indexes {
		if idx.Unique && !idx.Primary && len(idx.Columns) == 1 {
			if c, ok := t.Column(idx.Columns[0]); ok {
				c.Unique = true
			}
		}
	}
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
