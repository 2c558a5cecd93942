package dbschema

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/entmap/internal/orm/platform"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestPostgresIntrospector(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("public").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("book"))

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("public", "book").
		WillReturnRows(sqlmock.NewRows([]string{
			"column_name", "data_type", "udt_name", "character_maximum_length",
			"numeric_precision", "numeric_scale", "is_nullable", "column_default", "is_identity",
		}).
			AddRow("id", "integer", "int4", nil, 32, 0, "NO", "nextval('book_id_seq'::regclass)", "NO").
			AddRow("title", "character varying", "varchar", 100, nil, nil, "NO", "'untitled'::character varying", "NO").
			AddRow("price", "numeric", "numeric", nil, 10, 2, "YES", nil, "NO").
			AddRow("author_id", "integer", "int4", nil, 32, 0, "NO", nil, "NO"))

	mock.ExpectQuery("FROM pg_class t").
		WithArgs("public", "book").
		WillReturnRows(sqlmock.NewRows([]string{"relname", "indisunique", "indisprimary", "columns"}).
			AddRow("book_author_id_index", false, false, "{author_id}").
			AddRow("book_pkey", true, true, "{id}").
			AddRow("book_title_unique", true, false, "{title}"))

	mock.ExpectQuery("FROM pg_constraint c").
		WithArgs("public", "book").
		WillReturnRows(sqlmock.NewRows([]string{"conname", "columns", "relname", "ref_columns", "confdeltype", "confupdtype"}).
			AddRow("book_author_id_foreign", "{author_id}", "author", "{id}", "a", "c"))

	s, err := NewPostgresIntrospector(db, "", WithConcurrency(1)).Introspect(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	book := mustTable(t, s, "book")
	assert.Empty(t, book.Schema)
	assert.Equal(t, []string{"id", "title", "price", "author_id"}, book.ColumnNames())
	assert.Equal(t, []string{"id"}, book.PrimaryKey)

	id, _ := book.Column("id")
	assert.Equal(t, "integer", id.Type)
	assert.True(t, id.Autoincrement)
	assert.True(t, id.Primary)

	title, _ := book.Column("title")
	assert.Equal(t, "varchar(100)", title.Type)
	assert.True(t, title.Unique)

	price, _ := book.Column("price")
	assert.Equal(t, "numeric(10,2)", price.Type)
	assert.True(t, price.Nullable)
	assert.Nil(t, price.Default)

	fk, ok := book.ForeignKey("book_author_id_foreign")
	require.True(t, ok)
	assert.Equal(t, []string{"author_id"}, fk.Columns)
	assert.Equal(t, []string{"id"}, fk.ReferencedColumns)
	assert.Equal(t, "no action", fk.OnDelete)
	assert.Equal(t, "cascade", fk.OnUpdate)
}

func TestPostgresIntrospector_MissingTable(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("FROM information_schema.columns").
		WithArgs("app", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{
			"column_name", "data_type", "udt_name", "character_maximum_length",
			"numeric_precision", "numeric_scale", "is_nullable", "column_default", "is_identity",
		}))

	s, err := NewPostgresIntrospector(db, "app").Introspect(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, s.Tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIntrospector_QueryError(t *testing.T) {
	db, mock := newMock(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery("FROM information_schema.columns").WillReturnError(boom)

	_, err := NewPostgresIntrospector(db, "").Introspect(context.Background(), "book")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failed to extract table book")
}

func TestMySQLIntrospector(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WithArgs("book").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "column_type", "is_nullable", "column_default", "extra"}).
			AddRow("id", "int(11)", "NO", nil, "auto_increment").
			AddRow("order_id", "bigint", "NO", nil, "").
			AddRow("order_tenant", "char(36)", "NO", nil, "").
			AddRow("status", "varchar(20)", "YES", "draft", ""))

	mock.ExpectQuery("FROM information_schema.statistics").
		WithArgs("book").
		WillReturnRows(sqlmock.NewRows([]string{"index_name", "non_unique", "columns"}).
			AddRow("PRIMARY", 0, "id").
			AddRow("book_order_id_order_tenant_index", 1, "order_id,order_tenant"))

	mock.ExpectQuery("FROM information_schema.key_column_usage k").
		WithArgs("book").
		WillReturnRows(sqlmock.NewRows([]string{
			"constraint_name", "column_name", "referenced_table_name", "referenced_column_name", "delete_rule", "update_rule",
		}).
			AddRow("book_order_id_order_tenant_foreign", "order_id", "order", "id", "CASCADE", "CASCADE").
			AddRow("book_order_id_order_tenant_foreign", "order_tenant", "order", "tenant", "CASCADE", "CASCADE"))

	s, err := NewMySQLIntrospector(db, "").Introspect(context.Background(), "book")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	book := mustTable(t, s, "book")
	assert.Equal(t, []string{"id"}, book.PrimaryKey)

	id, _ := book.Column("id")
	assert.True(t, id.Autoincrement)
	status, _ := book.Column("status")
	require.NotNil(t, status.Default)
	assert.Equal(t, "draft", *status.Default)

	idx, ok := book.Index("book_order_id_order_tenant_index")
	require.True(t, ok)
	assert.Equal(t, []string{"order_id", "order_tenant"}, idx.Columns)
	assert.False(t, idx.Unique)

	require.Len(t, book.ForeignKeys, 1)
	fk := book.ForeignKeys[0]
	assert.Equal(t, []string{"order_id", "order_tenant"}, fk.Columns)
	assert.Equal(t, []string{"id", "tenant"}, fk.ReferencedColumns)
	assert.Equal(t, "cascade", fk.OnDelete)
}

func TestMySQLIntrospector_ExplicitSchema(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("FROM information_schema.tables").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}))

	s, err := NewMySQLIntrospector(db, "shop").Introspect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, s.Tables)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteIntrospector(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery("FROM sqlite_master").
		WithArgs("book").
		WillReturnRows(sqlmock.NewRows([]string{"sql"}).
			AddRow(`CREATE TABLE "book" ("id" integer not null primary key autoincrement, "title" varchar(255) not null, "author_id" integer)`))

	mock.ExpectQuery(regexp.QuoteMeta(`PRAGMA table_info("book")`)).
		WillReturnRows(sqlmock.NewRows([]string{"cid", "name", "type", "notnull", "dflt_value", "pk"}).
			AddRow(0, "id", "INTEGER", 0, nil, 1).
			AddRow(1, "title", "VARCHAR(255)", 1, "'x'", 0).
			AddRow(2, "author_id", "integer", 0, nil, 0))

	mock.ExpectQuery(regexp.QuoteMeta(`PRAGMA index_list("book")`)).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "name", "unique", "origin", "partial"}).
			AddRow(0, "book_author_id_index", 0, "c", 0).
			AddRow(1, "sqlite_autoindex_book_1", 1, "u", 0))

	mock.ExpectQuery(regexp.QuoteMeta(`PRAGMA index_info("book_author_id_index")`)).
		WillReturnRows(sqlmock.NewRows([]string{"seqno", "cid", "name"}).AddRow(0, 2, "author_id"))

	mock.ExpectQuery(regexp.QuoteMeta(`PRAGMA foreign_key_list("book")`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "seq", "table", "from", "to", "on_update", "on_delete", "match"}).
			AddRow(0, 0, "author", "author_id", "id", "CASCADE", "SET NULL", "NONE"))

	s, err := NewSQLiteIntrospector(db).Introspect(context.Background(), "book")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	book := mustTable(t, s, "book")
	id, _ := book.Column("id")
	assert.True(t, id.Autoincrement)
	assert.False(t, id.Nullable)
	assert.Equal(t, "integer", id.Type)

	author, _ := book.Column("author_id")
	assert.True(t, author.Nullable)

	require.Len(t, book.Indexes, 1, "autoindexes are implicit")
	assert.Equal(t, []string{"author_id"}, book.Indexes[0].Columns)

	fk, ok := book.ForeignKey("book_author_id_foreign")
	require.True(t, ok, "sqlite constraint names are derived")
	assert.Equal(t, "set null", fk.OnDelete)
}

func TestNewIntrospector(t *testing.T) {
	db, _ := newMock(t)

	for _, p := range []platform.Platform{platform.NewPostgres(), platform.NewMySQL(), platform.NewSQLite()} {
		i, err := NewIntrospector(p, db, "")
		require.NoError(t, err)
		assert.NotNil(t, i)
	}
}

func TestIntrospect_Concurrent(t *testing.T) {
	db, mock := newMock(t)
	mock.MatchExpectationsInOrder(false)

	for _, name := range []string{"a", "b", "c"} {
		mock.ExpectQuery("FROM information_schema.columns").
			WithArgs("public", name).
			WillReturnRows(sqlmock.NewRows([]string{
				"column_name", "data_type", "udt_name", "character_maximum_length",
				"numeric_precision", "numeric_scale", "is_nullable", "column_default", "is_identity",
			}).AddRow("id", "integer", "int4", nil, 32, 0, "NO", nil, "NO"))
		mock.ExpectQuery("FROM pg_class t").
			WithArgs("public", name).
			WillReturnRows(sqlmock.NewRows([]string{"relname", "indisunique", "indisprimary", "columns"}))
		mock.ExpectQuery("FROM pg_constraint c").
			WithArgs("public", name).
			WillReturnRows(sqlmock.NewRows([]string{"conname", "columns", "relname", "ref_columns", "confdeltype", "confupdtype"}))
	}

	s, err := NewPostgresIntrospector(db, "", WithConcurrency(3)).Introspect(context.Background(), "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, s.TableNames(), "results keep request order")
	require.NoError(t, mock.ExpectationsWereMet())
}
