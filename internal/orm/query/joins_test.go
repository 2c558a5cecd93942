package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/entmap/internal/orm/platform"
)

func TestCompileJoins(t *testing.T) {
	c := NewCompiler(libraryRegistry(t), platform.NewPostgres())

	tests := []struct {
		name   string
		entity string
		alias  string
		joins  []JoinSpec
		sql    string
		params []interface{}
	}{
		{
			name:   "many to one",
			entity: "Book", alias: "b",
			joins: []JoinSpec{{Property: "author", Alias: "a"}},
			sql:   `inner join "author" as "a" on "a"."id" = "b"."author_id"`,
		},
		{
			name:   "one to many",
			entity: "Author", alias: "a",
			joins: []JoinSpec{{Property: "books", Alias: "b", Type: LeftJoin}},
			sql:   `left join "book" as "b" on "a"."id" = "b"."author_id"`,
		},
		{
			name:   "many to many expands through the pivot",
			entity: "Book", alias: "b",
			joins: []JoinSpec{{Property: "tags", Alias: "t"}},
			sql: `inner join "book_tags" as "t_pivot" on "b"."id" = "t_pivot"."book_id" ` +
				`inner join "tag" as "t" on "t"."id" = "t_pivot"."tag_id"`,
		},
		{
			name:   "inverse many to many",
			entity: "Tag", alias: "t",
			joins: []JoinSpec{{Property: "books", Alias: "b", PivotAlias: "bt", Type: LeftJoin}},
			sql: `left join "book_tags" as "bt" on "t"."id" = "bt"."tag_id" ` +
				`left join "book" as "b" on "b"."id" = "bt"."book_id"`,
		},
		{
			name:   "pivot hop only",
			entity: "Book", alias: "b",
			joins: []JoinSpec{{Property: "tags", Alias: "bt", PivotOnly: true}},
			sql:   `inner join "book_tags" as "bt" on "b"."id" = "bt"."book_id"`,
		},
		{
			name:   "self referencing pivot",
			entity: "Friend", alias: "f",
			joins: []JoinSpec{{Property: "friends", Alias: "ff"}},
			sql: `inner join "friend_friends" as "ff_pivot" on "f"."id" = "ff_pivot"."friend_1_id" ` +
				`inner join "friend" as "ff" on "ff"."id" = "ff_pivot"."friend_2_id"`,
		},
		{
			name:   "self referencing inverse side",
			entity: "Friend", alias: "f",
			joins: []JoinSpec{{Property: "friendOf", Alias: "fo"}},
			sql: `inner join "friend_friends" as "fo_pivot" on "f"."id" = "fo_pivot"."friend_2_id" ` +
				`inner join "friend" as "fo" on "fo"."id" = "fo_pivot"."friend_1_id"`,
		},
		{
			name:   "composite key",
			entity: "OrderLine", alias: "l",
			joins: []JoinSpec{{Property: "order", Alias: "o"}},
			sql:   `inner join "order" as "o" on "o"."id" = "l"."order_id" and "o"."tenant" = "l"."order_tenant"`,
		},
		{
			name:   "extra condition",
			entity: "Book", alias: "b",
			joins: []JoinSpec{{Property: "author", Alias: "a", Type: LeftJoin,
				Condition: Or(Eq("a.name", "x"), Eq("a.name", "y"))}},
			sql:    `left join "author" as "a" on "a"."id" = "b"."author_id" and ("a"."name" = $1 or "a"."name" = $2)`,
			params: []interface{}{"x", "y"},
		},
		{
			name:   "chained through a joined alias",
			entity: "Tag", alias: "t",
			joins: []JoinSpec{
				{Property: "books", Alias: "b"},
				{OwnerAlias: "b", Property: "author", Alias: "a"},
			},
			sql: `inner join "book_tags" as "b_pivot" on "t"."id" = "b_pivot"."tag_id" ` +
				`inner join "book" as "b" on "b"."id" = "b_pivot"."book_id" ` +
				`inner join "author" as "a" on "a"."id" = "b"."author_id"`,
		},
		{
			name:   "repeated join is emitted once",
			entity: "Book", alias: "b",
			joins: []JoinSpec{{Property: "author", Alias: "a"}, {Property: "author", Alias: "a"}},
			sql:   `inner join "author" as "a" on "a"."id" = "b"."author_id"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext(tt.entity, tt.alias)
			frag, err := c.CompileJoins(ctx, tt.joins)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, frag.SQL)
			assert.Equal(t, tt.params, frag.Params)
		})
	}
}

func TestCompileJoins_RegistersAliases(t *testing.T) {
	c := NewCompiler(libraryRegistry(t), platform.NewPostgres())
	ctx := NewContext("Book", "b")

	_, err := c.CompileJoins(ctx, []JoinSpec{{Property: "tags", Alias: "t"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "t_pivot", "t"}, ctx.Aliases())

	entity, ok := ctx.Entity("t_pivot")
	require.True(t, ok)
	assert.Equal(t, "book_tags", entity)

	frag, err := c.CompileCondition(ctx, Eq("t.name", "sci-fi"), ClauseWhere)
	require.NoError(t, err)
	assert.Equal(t, `"t"."name" = $1`, frag.SQL)
}

func TestPlanJoin(t *testing.T) {
	c := NewCompiler(libraryRegistry(t), platform.NewPostgres())

	plan, err := c.PlanJoin(NewContext("OrderLine", "l"), JoinSpec{Property: "order", Alias: "o"})
	require.NoError(t, err)
	assert.Equal(t, "order", plan.Table)
	assert.Equal(t, []string{"order_id", "order_tenant"}, plan.JoinColumns)
	assert.Equal(t, []string{"id", "tenant"}, plan.PrimaryKeys)
	assert.Equal(t, len(plan.PrimaryKeys), len(plan.JoinColumns))

	plan, err = c.PlanJoin(NewContext("Book", "b"), JoinSpec{Property: "tags", Alias: "t"})
	require.NoError(t, err)
	assert.Equal(t, "book_tags", plan.PivotTable)
	assert.Equal(t, []string{"tag_id"}, plan.InverseJoinColumns)
	assert.Equal(t, "t_pivot", plan.Spec.PivotAlias)
}

func TestCompileJoins_Errors(t *testing.T) {
	c := NewCompiler(libraryRegistry(t), platform.NewPostgres())

	tests := []struct {
		name  string
		joins []JoinSpec
	}{
		{"missing alias", []JoinSpec{{Property: "author"}}},
		{"scalar property", []JoinSpec{{Property: "title", Alias: "x"}}},
		{"unknown owner alias", []JoinSpec{{OwnerAlias: "zz", Property: "author", Alias: "a"}}},
		{"alias reuse", []JoinSpec{{Property: "author", Alias: "b"}}},
		{"conflicting alias", []JoinSpec{
			{Property: "author", Alias: "a"},
			{Property: "tags", Alias: "a"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CompileJoins(NewContext("Book", "b"), tt.joins)
			assert.ErrorIs(t, err, ErrQueryCompilation)
		})
	}
}
