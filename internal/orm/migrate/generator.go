package migrate

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/entmap/internal/orm/dbschema"
	"github.com/conduit-lang/entmap/internal/orm/platform"
	"github.com/conduit-lang/entmap/internal/orm/schema"
)

// Generator renders schema differences as ordered DDL statements
type Generator struct {
	differ   *Differ
	platform platform.Platform
	config
}

// NewGenerator creates a new DDL generator for the registry
func NewGenerator(reg *schema.Registry, p platform.Platform, opts ...Option) *Generator {
	d := NewDiffer(reg, p, opts...)
	return &Generator{differ: d, platform: p, config: d.config}
}

// Differ returns the differ backing the generator
func (g *Generator) Differ() *Differ {
	return g.differ
}

// CreateSchemaSQL returns the statements creating every table from scratch
func (g *Generator) CreateSchemaSQL() ([]string, error) {
	desired, _, err := g.differ.Desired()
	if err != nil {
		return nil, err
	}
	stmts := g.SQL(&SchemaDifference{NewTables: desired.Tables})
	g.logStatements("create", stmts)
	return stmts, nil
}

// DropSchemaSQL returns the statements dropping every table, in reverse commit order.
// Foreign keys that close a nullable cycle are dropped first.
func (g *Generator) DropSchemaSQL() ([]string, error) {
	desired, order, err := g.differ.Desired()
	if err != nil {
		return nil, err
	}

	var stmts []string
	if g.platform.SupportsSchemaConstraints() {
		for _, edge := range order.Deferred {
			meta, ok := g.differ.reg.Get(edge.From)
			if !ok {
				continue
			}
			prop, ok := meta.Property(edge.Property)
			if !ok {
				continue
			}
			name := g.platform.IndexName(meta.TableName, prop.JoinColumns, platform.IndexForeign)
			stmts = append(stmts, g.platform.DropForeignKeySQL(qualifiedName(meta.Schema, meta.TableName), name))
		}
	}

	for i := len(desired.Tables) - 1; i >= 0; i-- {
		stmts = append(stmts, g.dropTableSQL(desired.Tables[i]))
	}
	g.logStatements("drop", stmts)
	return stmts, nil
}

// UpdateSchemaSQL returns the statements turning the live schema into the desired one
func (g *Generator) UpdateSchemaSQL(live *dbschema.DatabaseSchema) ([]string, error) {
	diff, err := g.differ.Diff(live)
	if err != nil {
		return nil, err
	}
	stmts := g.SQL(diff)
	g.logStatements("update", stmts)
	return stmts, nil
}

// CreateDatabaseSQL returns the statement creating the database, if the platform has one
func (g *Generator) CreateDatabaseSQL(name string) []string {
	return nonEmpty(g.platform.CreateDatabaseSQL(name))
}

// DropDatabaseSQL returns the statement dropping the database, if the platform has one
func (g *Generator) DropDatabaseSQL(name string) []string {
	if g.safe {
		return nil
	}
	return nonEmpty(g.platform.DropDatabaseSQL(name))
}

// SQL renders a difference. Statement order: drop foreign keys, create tables, then per changed
// table drop indexes, renames, add columns, alter columns, drop columns and add indexes, then the
// foreign key pass, and finally drop tables.
func (g *Generator) SQL(diff *SchemaDifference) []string {
	var stmts []string
	p := g.platform

	if p.SupportsSchemaConstraints() {
		for _, td := range diff.ChangedTables {
			for _, fk := range td.DropForeignKey {
				stmts = append(stmts, nonEmpty(p.DropForeignKeySQL(td.Table.QualifiedName(), fk.Name))...)
			}
		}
		for _, t := range diff.RemovedTables {
			for _, fk := range t.ForeignKeys {
				stmts = append(stmts, nonEmpty(p.DropForeignKeySQL(t.QualifiedName(), fk.Name))...)
			}
		}
	}

	for _, t := range diff.NewTables {
		stmts = append(stmts, g.createTableSQL(t))
		for _, idx := range t.Indexes {
			if !idx.Primary {
				stmts = append(stmts, g.createIndexSQL(t, idx))
			}
		}
	}

	for _, td := range diff.ChangedTables {
		table := td.Table.QualifiedName()
		for _, idx := range td.DropIndex {
			stmts = append(stmts, p.DropIndexSQL(table, idx.Name))
		}
		for _, r := range td.Rename {
			stmts = append(stmts, p.RenameColumnSQL(table, r.From.Name, r.To.Name))
		}
		for _, c := range td.Create {
			stmts = append(stmts, fmt.Sprintf("alter table %s add column %s",
				p.QuoteIdentifier(table), p.ColumnDefinition(c.Info(), false)))
		}
		for _, u := range td.Update {
			stmts = append(stmts, p.AlterColumnSQL(table, u.Column.Info(), u.Diff)...)
		}
		for _, c := range td.Remove {
			stmts = append(stmts, fmt.Sprintf("alter table %s drop column %s",
				p.QuoteIdentifier(table), p.QuoteIdentifier(c.Name)))
		}
		for _, idx := range td.AddIndex {
			stmts = append(stmts, g.createIndexSQL(td.Table, idx))
		}
	}

	if p.SupportsSchemaConstraints() {
		for _, t := range diff.NewTables {
			for _, fk := range t.ForeignKeys {
				stmts = append(stmts, nonEmpty(p.AddForeignKeySQL(t.QualifiedName(), fk.Info()))...)
			}
		}
		for _, td := range diff.ChangedTables {
			for _, fk := range td.AddForeignKey {
				stmts = append(stmts, nonEmpty(p.AddForeignKeySQL(td.Table.QualifiedName(), fk.Info()))...)
			}
		}
	}

	for _, t := range diff.RemovedTables {
		stmts = append(stmts, g.dropTableSQL(t))
	}

	return stmts
}

func (g *Generator) createTableSQL(t *dbschema.Table) string {
	p := g.platform
	inlineKey := p.InlinesAutoincrementKey() && len(t.PrimaryKey) == 1

	var defs []string
	keyInlined := false
	for _, c := range t.Columns {
		inline := inlineKey && c.Primary && c.Autoincrement
		keyInlined = keyInlined || inline
		defs = append(defs, p.ColumnDefinition(c.Info(), inline))
	}

	if len(t.PrimaryKey) > 0 && !keyInlined {
		defs = append(defs, "primary key ("+g.quoteAll(t.PrimaryKey)+")")
	}

	// constraints cannot be added to existing tables, so they go inline
	if !p.SupportsSchemaConstraints() {
		for _, fk := range t.ForeignKeys {
			defs = append(defs, g.foreignKeyClause(fk))
		}
	}

	return fmt.Sprintf("create table %s (%s)", p.QuoteIdentifier(t.QualifiedName()), strings.Join(defs, ", "))
}

func (g *Generator) createIndexSQL(t *dbschema.Table, idx *dbschema.Index) string {
	if idx.Expression != "" {
		return idx.Expression
	}
	return g.platform.CreateIndexSQL(t.QualifiedName(), idx.Name, idx.Columns, idx.Unique)
}

func (g *Generator) foreignKeyClause(fk *dbschema.ForeignKey) string {
	var s strings.Builder
	fmt.Fprintf(&s, "foreign key (%s) references %s (%s)",
		g.quoteAll(fk.Columns),
		g.platform.QuoteIdentifier(fk.ReferencedTable),
		g.quoteAll(fk.ReferencedColumns))
	if fk.OnDelete != "" {
		s.WriteString(" on delete " + fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		s.WriteString(" on update " + fk.OnUpdate)
	}
	return s.String()
}

func (g *Generator) dropTableSQL(t *dbschema.Table) string {
	return "drop table if exists " + g.platform.QuoteIdentifier(t.QualifiedName())
}

func (g *Generator) quoteAll(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = g.platform.QuoteIdentifier(id)
	}
	return strings.Join(quoted, ", ")
}

func (g *Generator) logStatements(kind string, stmts []string) {
	g.logger.Debug("ddl generated",
		zap.String("kind", kind),
		zap.String("platform", g.platform.Name()),
		zap.Int("statements", len(stmts)))
}

func qualifiedName(schemaName, table string) string {
	if schemaName == "" {
		return table
	}
	return schemaName + "." + table
}

func nonEmpty(stmts ...string) []string {
	out := make([]string, 0, len(stmts))
	for _, s := range stmts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
