package migrate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/entmap/internal/orm/dbschema"
	"github.com/conduit-lang/entmap/internal/orm/platform"
	"github.com/conduit-lang/entmap/internal/orm/schema"
)

func resolve(t *testing.T, entities ...*schema.EntityMetadata) *schema.Registry {
	t.Helper()
	reg, err := schema.NewResolver(schema.NewUnderscoreNamingStrategy()).Resolve(entities)
	require.NoError(t, err)
	return reg
}

func authorBookRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	book := schema.NewEntity("Book").Prop(
		schema.Scalar("id", "int").Primary().Autoincrement(),
		schema.Scalar("title", "string"),
		schema.ManyToOne("author", "Author"),
	).MustBuild()
	author := schema.NewEntity("Author").Prop(
		schema.Scalar("id", "int").Primary().Autoincrement(),
		schema.Scalar("name", "string"),
		schema.OneToMany("books", "Book", "author"),
	).MustBuild()
	return resolve(t, book, author)
}

func desiredSchema(t *testing.T, reg *schema.Registry, p platform.Platform) *dbschema.DatabaseSchema {
	t.Helper()
	s, err := dbschema.FromMetadata(reg, p)
	require.NoError(t, err)
	return cloneSchema(s)
}

func cloneSchema(s *dbschema.DatabaseSchema) *dbschema.DatabaseSchema {
	out := &dbschema.DatabaseSchema{}
	for _, t := range s.Tables {
		out.Tables = append(out.Tables, cloneTable(t))
	}
	return out
}

func cloneTable(t *dbschema.Table) *dbschema.Table {
	c := &dbschema.Table{Name: t.Name, Schema: t.Schema, PrimaryKey: append([]string(nil), t.PrimaryKey...)}
	for _, col := range t.Columns {
		c.Columns = append(c.Columns, col.Clone())
	}
	for _, idx := range t.Indexes {
		cp := *idx
		cp.Columns = append([]string(nil), idx.Columns...)
		c.Indexes = append(c.Indexes, &cp)
	}
	for _, fk := range t.ForeignKeys {
		cp := *fk
		c.ForeignKeys = append(c.ForeignKeys, &cp)
	}
	return c
}

// apply plays a difference onto a live schema model the way the generated DDL would
func apply(live *dbschema.DatabaseSchema, diff *SchemaDifference) {
	for _, t := range diff.NewTables {
		live.Tables = append(live.Tables, cloneTable(t))
	}
	for _, td := range diff.ChangedTables {
		table, _ := live.Table(td.Table.QualifiedName())
		for _, r := range td.Rename {
			col, _ := table.Column(r.From.Name)
			col.Name = r.To.Name
		}
		for _, c := range td.Create {
			table.Columns = append(table.Columns, c.Clone())
		}
		for _, u := range td.Update {
			col, _ := table.Column(u.Column.Name)
			*col = *u.Column.Clone()
		}
		for _, c := range td.Remove {
			for i, col := range table.Columns {
				if col.Name == c.Name {
					table.Columns = append(table.Columns[:i], table.Columns[i+1:]...)
					break
				}
			}
		}
		table.Indexes = removeIndexes(table.Indexes, td.DropIndex)
		for _, idx := range td.AddIndex {
			cp := *idx
			table.Indexes = append(table.Indexes, &cp)
		}
		for _, fk := range td.DropForeignKey {
			for i, existing := range table.ForeignKeys {
				if existing.Name == fk.Name {
					table.ForeignKeys = append(table.ForeignKeys[:i], table.ForeignKeys[i+1:]...)
					break
				}
			}
		}
		for _, fk := range td.AddForeignKey {
			cp := *fk
			table.ForeignKeys = append(table.ForeignKeys, &cp)
		}
	}
	for _, removed := range diff.RemovedTables {
		for i, t := range live.Tables {
			if t.QualifiedName() == removed.QualifiedName() {
				live.Tables = append(live.Tables[:i], live.Tables[i+1:]...)
				break
			}
		}
	}
}

func dropLiveTables(t *testing.T, s *dbschema.DatabaseSchema, names ...string) {
	t.Helper()
	for _, name := range names {
		_, ok := s.Table(name)
		require.True(t, ok, name)
	}
	kept := s.Tables[:0]
	for _, table := range s.Tables {
		drop := false
		for _, name := range names {
			if table.Name == name {
				drop = true
			}
		}
		if !drop {
			kept = append(kept, table)
		}
	}
	s.Tables = kept
}

func removeIndexes(indexes, drop []*dbschema.Index) []*dbschema.Index {
	var out []*dbschema.Index
	for _, idx := range indexes {
		keep := true
		for _, d := range drop {
			if d.Name == idx.Name {
				keep = false
			}
		}
		if keep {
			out = append(out, idx)
		}
	}
	return out
}

func mustLiveTable(t *testing.T, s *dbschema.DatabaseSchema, name string) *dbschema.Table {
	t.Helper()
	table, ok := s.Table(name)
	require.True(t, ok)
	return table
}

func TestDiff_NewTablesFollowCommitOrder(t *testing.T) {
	reg := authorBookRegistry(t)

	diff, err := NewDiffer(reg, platform.NewPostgres()).Diff(nil)
	require.NoError(t, err)

	var names []string
	for _, table := range diff.NewTables {
		names = append(names, table.Name)
	}
	assert.Equal(t, []string{"author", "book"}, names)
	assert.Empty(t, diff.ChangedTables)
}

func TestDiff_Idempotent(t *testing.T) {
	for _, p := range []platform.Platform{platform.NewPostgres(), platform.NewMySQL(), platform.NewSQLite()} {
		t.Run(p.Name(), func(t *testing.T) {
			reg := authorBookRegistry(t)
			live := desiredSchema(t, reg, p)
			differ := NewDiffer(reg, p)

			first, err := differ.Diff(live)
			require.NoError(t, err)
			assert.True(t, first.Empty(), first.Summary())

			second, err := differ.Diff(live)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestDiff_LiveTypesNormalized(t *testing.T) {
	reg := authorBookRegistry(t)
	live := desiredSchema(t, reg, platform.NewPostgres())

	// as introspected: serial reads back as integer with a sequence default
	book := mustLiveTable(t, live, "book")
	id, _ := book.Column("id")
	id.Type = "integer"
	seq := "nextval('book_id_seq'::regclass)"
	id.Default = &seq
	title, _ := book.Column("title")
	title.Type = "character varying(255)"

	diff, err := NewDiffer(reg, platform.NewPostgres()).Diff(live)
	require.NoError(t, err)
	assert.True(t, diff.Empty(), diff.Summary())
}

func TestDiffTable_Rename(t *testing.T) {
	reg := authorBookRegistry(t)
	live := desiredSchema(t, reg, platform.NewPostgres())
	book := mustLiveTable(t, live, "book")
	title, _ := book.Column("title")
	title.Name = "headline"

	diff, err := NewDiffer(reg, platform.NewPostgres()).Diff(live)
	require.NoError(t, err)
	require.Len(t, diff.ChangedTables, 1)

	td := diff.ChangedTables[0]
	require.Len(t, td.Rename, 1)
	assert.Equal(t, "headline", td.Rename[0].From.Name)
	assert.Equal(t, "title", td.Rename[0].To.Name)
	assert.Empty(t, td.Create, "renamed columns are not created")
	assert.Empty(t, td.Remove, "renamed columns are not removed")
}

func TestDiffTable_NoRenameWhenStructureDiffers(t *testing.T) {
	reg := authorBookRegistry(t)
	live := desiredSchema(t, reg, platform.NewPostgres())
	book := mustLiveTable(t, live, "book")
	title, _ := book.Column("title")
	title.Name = "pages"
	title.Type = "int"

	diff, err := NewDiffer(reg, platform.NewPostgres()).Diff(live)
	require.NoError(t, err)

	td := diff.ChangedTables[0]
	assert.Empty(t, td.Rename)
	require.Len(t, td.Create, 1)
	assert.Equal(t, "title", td.Create[0].Name)
	require.Len(t, td.Remove, 1)
	assert.Equal(t, "pages", td.Remove[0].Name)
}

func TestDiffTable_Update(t *testing.T) {
	reg := authorBookRegistry(t)

	t.Run("altering platform", func(t *testing.T) {
		live := desiredSchema(t, reg, platform.NewPostgres())
		title, _ := mustLiveTable(t, live, "book").Column("title")
		title.Type = "text"
		title.Nullable = true

		diff, err := NewDiffer(reg, platform.NewPostgres()).Diff(live)
		require.NoError(t, err)
		td := diff.ChangedTables[0]
		require.Len(t, td.Update, 1)
		assert.False(t, td.Update[0].Diff.SameType)
		assert.False(t, td.Update[0].Diff.SameNullable)
		assert.True(t, td.Update[0].Diff.SameDefault)
	})

	t.Run("sqlite cannot alter", func(t *testing.T) {
		live := desiredSchema(t, reg, platform.NewSQLite())
		title, _ := mustLiveTable(t, live, "book").Column("title")
		title.Type = "text"

		diff, err := NewDiffer(reg, platform.NewSQLite()).Diff(live)
		require.NoError(t, err)
		assert.True(t, diff.Empty())
	})
}

func TestDiffTable_Indexes(t *testing.T) {
	reg := authorBookRegistry(t)
	live := desiredSchema(t, reg, platform.NewPostgres())
	book := mustLiveTable(t, live, "book")

	book.Indexes = removeIndexes(book.Indexes, []*dbschema.Index{{Name: "book_author_id_index"}})
	book.Columns = append(book.Columns, &dbschema.Column{Name: "legacy_code", Type: "int", Nullable: true})
	book.Indexes = append(book.Indexes,
		&dbschema.Index{Name: "book_stale_index", Columns: []string{"title"}},
		&dbschema.Index{Name: "book_legacy_code_index", Columns: []string{"legacy_code"}},
	)

	diff, err := NewDiffer(reg, platform.NewPostgres()).Diff(live)
	require.NoError(t, err)
	td := diff.ChangedTables[0]

	require.Len(t, td.AddIndex, 1)
	assert.Equal(t, "book_author_id_index", td.AddIndex[0].Name)
	require.Len(t, td.DropIndex, 1, "indexes on removed columns go with the column")
	assert.Equal(t, "book_stale_index", td.DropIndex[0].Name)
	require.Len(t, td.Remove, 1)
	assert.Equal(t, "legacy_code", td.Remove[0].Name)
}

func TestDiffTable_ForeignKeys(t *testing.T) {
	reg := authorBookRegistry(t)

	live := desiredSchema(t, reg, platform.NewPostgres())
	book := mustLiveTable(t, live, "book")
	book.ForeignKeys[0].ReferencedTable = "writer"
	book.ForeignKeys = append(book.ForeignKeys, &dbschema.ForeignKey{
		Name: "book_publisher_id_foreign", Columns: []string{"publisher_id"},
		ReferencedTable: "publisher", ReferencedColumns: []string{"id"},
	})

	diff, err := NewDiffer(reg, platform.NewPostgres()).Diff(live)
	require.NoError(t, err)
	td := diff.ChangedTables[0]
	require.Len(t, td.AddForeignKey, 1)
	assert.Equal(t, "book_author_id_foreign", td.AddForeignKey[0].Name)
	require.Len(t, td.DropForeignKey, 2)
	assert.Equal(t, "writer", td.DropForeignKey[0].ReferencedTable)
	assert.Equal(t, "book_publisher_id_foreign", td.DropForeignKey[1].Name)

	lite := desiredSchema(t, reg, platform.NewSQLite())
	mustLiveTable(t, lite, "book").ForeignKeys = nil
	diff, err = NewDiffer(reg, platform.NewSQLite()).Diff(lite)
	require.NoError(t, err)
	assert.True(t, diff.Empty(), "sqlite constraints are only declared on create")
}

func TestDiff_SafeMode(t *testing.T) {
	reg := authorBookRegistry(t)
	live := desiredSchema(t, reg, platform.NewPostgres())
	book := mustLiveTable(t, live, "book")
	book.Columns = append(book.Columns, &dbschema.Column{Name: "obsolete", Type: "date", Nullable: true})
	book.Indexes = append(book.Indexes, &dbschema.Index{Name: "book_title_index", Columns: []string{"title"}})
	book.ForeignKeys = append(book.ForeignKeys, &dbschema.ForeignKey{Name: "book_x_foreign", Columns: []string{"x"}})
	live.Tables = append(live.Tables, &dbschema.Table{Name: "audit", Columns: []*dbschema.Column{{Name: "id", Type: "int"}}})

	diff, err := NewDiffer(reg, platform.NewPostgres(), WithSafeMode(true), WithDropTables(true)).Diff(live)
	require.NoError(t, err)
	assert.True(t, diff.Empty(), diff.Summary())
	assert.False(t, diff.DataLoss())

	unsafe, err := NewDiffer(reg, platform.NewPostgres(), WithDropTables(true)).Diff(live)
	require.NoError(t, err)
	require.Len(t, unsafe.RemovedTables, 1)
	assert.Equal(t, "audit", unsafe.RemovedTables[0].Name)
	td := unsafe.ChangedTables[0]
	assert.Len(t, td.Remove, 1)
	assert.Len(t, td.DropIndex, 1)
	assert.Len(t, td.DropForeignKey, 1)
	assert.True(t, unsafe.DataLoss())
}

func TestDiff_KeepsUnknownTablesWithoutDropTables(t *testing.T) {
	reg := authorBookRegistry(t)
	live := desiredSchema(t, reg, platform.NewPostgres())
	live.Tables = append(live.Tables, &dbschema.Table{Name: "audit", Columns: []*dbschema.Column{{Name: "id", Type: "int"}}})

	diff, err := NewDiffer(reg, platform.NewPostgres()).Diff(live)
	require.NoError(t, err)
	assert.Empty(t, diff.RemovedTables)
}

func TestDiff_ApplyThenRediff(t *testing.T) {
	tag := schema.NewEntity("Tag").Prop(
		schema.Scalar("id", "int").Primary().Autoincrement(),
		schema.Scalar("label", "string").Unique(),
	).MustBuild()
	book := schema.NewEntity("Book").Prop(
		schema.Scalar("id", "int").Primary().Autoincrement(),
		schema.Scalar("title", "string").Length(200),
		schema.Scalar("price", "decimal").Precision(10, 2).Default("0"),
		schema.ManyToOne("author", "Author"),
		schema.ManyToMany("tags", "Tag"),
	).MustBuild()
	author := schema.NewEntity("Author").Prop(
		schema.Scalar("id", "int").Primary().Autoincrement(),
		schema.Scalar("name", "string"),
	).MustBuild()
	reg := resolve(t, tag, book, author)

	for _, p := range []platform.Platform{platform.NewPostgres(), platform.NewMySQL()} {
		t.Run(p.Name(), func(t *testing.T) {
			live := desiredSchema(t, reg, p)
			dropLiveTables(t, live, "book_tags")
			liveBook := mustLiveTable(t, live, "book")
			title, _ := liveBook.Column("title")
			title.Name = "name"
			price, _ := liveBook.Column("price")
			price.Type = "int"
			price.Default = nil
			liveBook.Columns = append(liveBook.Columns, &dbschema.Column{Name: "old", Type: "text", Nullable: true})
			liveBook.ForeignKeys = nil
			liveBook.Indexes = liveBook.Indexes[:1]

			differ := NewDiffer(reg, p)
			diff, err := differ.Diff(live)
			require.NoError(t, err)
			require.False(t, diff.Empty())

			apply(live, diff)

			again, err := differ.Diff(live)
			require.NoError(t, err)
			assert.True(t, again.Empty(), again.Summary())
		})
	}
}

func TestDiff_SameTableNameInTwoSchemas(t *testing.T) {
	event := schema.NewEntity("Event").Table("log").Prop(
		schema.Scalar("id", "int").Primary().Autoincrement(),
		schema.Scalar("message", "string"),
	).MustBuild()
	audit := schema.NewEntity("AuditEvent").Table("log").Schema("audit").Prop(
		schema.Scalar("id", "int").Primary().Autoincrement(),
		schema.Scalar("actor", "string"),
	).MustBuild()
	reg := resolve(t, event, audit)
	p := platform.NewPostgres()

	desired, _, err := NewDiffer(reg, p).Desired()
	require.NoError(t, err)
	require.Len(t, desired.Tables, 2)
	assert.Equal(t, "log", desired.Tables[0].QualifiedName())
	assert.Equal(t, []string{"id", "message"}, desired.Tables[0].ColumnNames())
	assert.Equal(t, "audit.log", desired.Tables[1].QualifiedName())
	assert.Equal(t, []string{"id", "actor"}, desired.Tables[1].ColumnNames())

	live := desiredSchema(t, reg, p)
	diff, err := NewDiffer(reg, p).Diff(live)
	require.NoError(t, err)
	assert.True(t, diff.Empty(), diff.Summary())

	dropped := &dbschema.DatabaseSchema{}
	for _, table := range live.Tables {
		if table.QualifiedName() != "audit.log" {
			dropped.Tables = append(dropped.Tables, table)
		}
	}
	diff, err = NewDiffer(reg, p).Diff(dropped)
	require.NoError(t, err)
	require.Len(t, diff.NewTables, 1)
	assert.Equal(t, "audit.log", diff.NewTables[0].QualifiedName())
	assert.Empty(t, diff.ChangedTables)
}

func TestDiff_RequiredCycle(t *testing.T) {
	a := schema.NewEntity("A").Prop(
		schema.Scalar("id", "int").Primary(),
		schema.ManyToOne("b", "B"),
	).MustBuild()
	b := schema.NewEntity("B").Prop(
		schema.Scalar("id", "int").Primary(),
		schema.ManyToOne("a", "A"),
	).MustBuild()
	reg := resolve(t, a, b)

	_, err := NewDiffer(reg, platform.NewPostgres()).Diff(nil)
	require.Error(t, err)

	var depErr *schema.SchemaDependencyError
	assert.True(t, errors.As(err, &depErr))
}

func TestSchemaDifference_Changes(t *testing.T) {
	reg := authorBookRegistry(t)
	live := desiredSchema(t, reg, platform.NewPostgres())
	book := mustLiveTable(t, live, "book")
	title, _ := book.Column("title")
	title.Name = "headline"
	book.Columns = append(book.Columns, &dbschema.Column{Name: "obsolete", Type: "date", Nullable: true})

	diff, err := NewDiffer(reg, platform.NewPostgres()).Diff(live)
	require.NoError(t, err)

	changes := diff.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, "rename_column book.headline -> title", changes[0].String())
	assert.Equal(t, ChangeDropColumn, changes[1].Type)
	assert.True(t, changes[1].DataLoss)
	assert.Equal(t, "1 rename_column, 1 drop_column", diff.Summary())
	assert.Equal(t, "schema is up to date", (&SchemaDifference{}).Summary())
}
