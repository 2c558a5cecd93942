package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolve(t *testing.T, entities ...*EntityMetadata) *Registry {
	t.Helper()
	reg, err := NewResolver(NewUnderscoreNamingStrategy()).Resolve(entities)
	require.NoError(t, err)
	return reg
}

func mustEntity(t *testing.T, reg *Registry, name string) *EntityMetadata {
	t.Helper()
	meta, ok := reg.Get(name)
	require.True(t, ok, "entity %s not registered", name)
	return meta
}

func mustProp(t *testing.T, meta *EntityMetadata, name string) *Property {
	t.Helper()
	prop, ok := meta.Property(name)
	require.True(t, ok, "property %s.%s not found", meta.Name, name)
	return prop
}

func authorBookEntities() []*EntityMetadata {
	book := NewEntity("Book").Prop(
		Scalar("id", "int").Primary().Autoincrement(),
		Scalar("title", "string"),
		ManyToOne("author", "Author"),
	).MustBuild()
	author := NewEntity("Author").Prop(
		Scalar("id", "int").Primary().Autoincrement(),
		Scalar("name", "string"),
		OneToMany("books", "Book", "author"),
	).MustBuild()
	return []*EntityMetadata{book, author}
}

func TestResolve_ManyToOne(t *testing.T) {
	reg := resolve(t, authorBookEntities()...)

	book := mustEntity(t, reg, "Book")
	author := mustProp(t, book, "author")
	assert.Equal(t, []string{"author_id"}, author.JoinColumns)
	assert.Equal(t, []string{"author_id"}, author.FieldNames)
	assert.Equal(t, []string{"id"}, author.ReferencedColumnNames)
	assert.Equal(t, "book", book.TableName)

	books := mustProp(t, mustEntity(t, reg, "Author"), "books")
	assert.Equal(t, []string{"author_id"}, books.JoinColumns, "inverse side mirrors the owner")
	assert.Equal(t, []string{"id"}, books.ReferencedColumnNames)
	assert.Empty(t, books.FieldNames)
}

func TestResolve_AutoWiring(t *testing.T) {
	t.Run("mappedBy sets inversedBy", func(t *testing.T) {
		reg := resolve(t, authorBookEntities()...)
		assert.Equal(t, "books", mustProp(t, mustEntity(t, reg, "Book"), "author").InversedBy)
	})

	t.Run("inversedBy sets mappedBy", func(t *testing.T) {
		user := NewEntity("User").Prop(
			Scalar("id", "int").Primary(),
			OneToOne("profile", "Profile").InversedBy("user"),
		).MustBuild()
		profile := NewEntity("Profile").Prop(
			Scalar("id", "int").Primary(),
			OneToOne("user", "User"),
		).MustBuild()

		reg := resolve(t, user, profile)
		inverse := mustProp(t, mustEntity(t, reg, "Profile"), "user")
		assert.Equal(t, "profile", inverse.MappedBy)
		assert.False(t, inverse.Owner)
		assert.Equal(t, []string{"profile_id"}, inverse.JoinColumns)

		owner := mustProp(t, mustEntity(t, reg, "User"), "profile")
		assert.True(t, owner.Owner)
		assert.Equal(t, []string{"profile_id"}, owner.JoinColumns)
	})

	t.Run("explicit configuration is kept", func(t *testing.T) {
		book := NewEntity("Book").Prop(
			Scalar("id", "int").Primary(),
			ManyToOne("author", "Author").InversedBy("favourites"),
		).MustBuild()
		author := NewEntity("Author").Prop(
			Scalar("id", "int").Primary(),
			OneToMany("books", "Book", "author"),
			OneToMany("favourites", "Book", "author"),
		).MustBuild()

		reg := resolve(t, book, author)
		assert.Equal(t, "favourites", mustProp(t, mustEntity(t, reg, "Book"), "author").InversedBy)
	})
}

func TestResolve_CompositeKeyArity(t *testing.T) {
	order := NewEntity("Order").Prop(
		Scalar("tenant", "int").Primary(),
		Scalar("id", "int").Primary(),
	).MustBuild()
	line := NewEntity("OrderLine").Prop(
		Scalar("id", "int").Primary(),
		ManyToOne("order", "Order"),
	).MustBuild()

	reg := resolve(t, order, line)

	prop := mustProp(t, mustEntity(t, reg, "OrderLine"), "order")
	assert.Equal(t, []string{"order_tenant", "order_id"}, prop.JoinColumns)
	assert.Equal(t, []string{"tenant", "id"}, prop.ReferencedColumnNames)
	assert.True(t, mustEntity(t, reg, "Order").IsCompositePK())
}

func TestResolve_CompositeKeyArityMismatch(t *testing.T) {
	order := NewEntity("Order").Prop(
		Scalar("tenant", "int").Primary(),
		Scalar("id", "int").Primary(),
	).MustBuild()
	line := NewEntity("OrderLine").Prop(
		Scalar("id", "int").Primary(),
		ManyToOne("order", "Order").JoinColumns("order_id"),
	).MustBuild()

	_, err := NewResolver(nil).Resolve([]*EntityMetadata{order, line})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMetadataResolution))

	var resErr *MetadataResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "OrderLine", resErr.Entity)
	assert.Equal(t, "order", resErr.Property)
}

func TestResolve_RelationalPrimaryKey(t *testing.T) {
	user := NewEntity("User").Prop(Scalar("id", "uuid").Primary()).MustBuild()
	settings := NewEntity("UserSettings").Prop(
		OneToOne("user", "User").Primary(),
		Scalar("theme", "string"),
	).MustBuild()
	audit := NewEntity("SettingsAudit").Prop(
		Scalar("id", "int").Primary(),
		ManyToOne("settings", "UserSettings"),
	).MustBuild()

	reg := resolve(t, audit, settings, user)

	assert.Equal(t, []string{"user_id"}, mustEntity(t, reg, "UserSettings").PrimaryKeyColumns())
	assert.Equal(t, []string{"settings_user_id"}, mustProp(t, mustEntity(t, reg, "SettingsAudit"), "settings").JoinColumns)
}

func TestResolve_ManyToManyPivot(t *testing.T) {
	book := NewEntity("Book").Prop(
		Scalar("id", "int").Primary(),
		ManyToMany("tags", "Tag").InversedBy("books"),
	).MustBuild()
	tag := NewEntity("Tag").Prop(
		Scalar("id", "int").Primary(),
		ManyToMany("books", "Book").MappedBy("tags"),
	).MustBuild()

	reg := resolve(t, book, tag)

	tags := mustProp(t, mustEntity(t, reg, "Book"), "tags")
	assert.Equal(t, "book_tags", tags.PivotTable)
	assert.Equal(t, "book_tags", tags.PivotEntity)
	assert.Equal(t, []string{"book_id"}, tags.JoinColumns)
	assert.Equal(t, []string{"tag_id"}, tags.InverseJoinColumns)

	books := mustProp(t, mustEntity(t, reg, "Tag"), "books")
	assert.Equal(t, "book_tags", books.PivotTable)
	assert.Equal(t, []string{"tag_id"}, books.JoinColumns)
	assert.Equal(t, []string{"book_id"}, books.InverseJoinColumns)

	pivot := mustEntity(t, reg, "book_tags")
	assert.True(t, pivot.Pivot)
	assert.True(t, pivot.HasTable())
	assert.Equal(t, []string{"book", "tag"}, pivot.PrimaryKeys)
	assert.Equal(t, []string{"book_id", "tag_id"}, pivot.PrimaryKeyColumns())

	owner := mustProp(t, pivot, "book")
	assert.Equal(t, ReferenceManyToOne, owner.Kind)
	assert.Equal(t, ActionCascade, owner.OnDelete)
	assert.Equal(t, "Book", owner.Target)
}

func TestResolve_SelfReferencingPivot(t *testing.T) {
	friend := NewEntity("Friend").Prop(
		Scalar("id", "int").Primary(),
		ManyToMany("friends", "Friend").InversedBy("friendOf"),
		ManyToMany("friendOf", "Friend").MappedBy("friends"),
	).MustBuild()

	reg := resolve(t, friend)

	meta := mustEntity(t, reg, "Friend")
	friends := mustProp(t, meta, "friends")
	assert.Equal(t, "friend_friends", friends.PivotTable)
	assert.Equal(t, []string{"friend_1_id"}, friends.JoinColumns)
	assert.Equal(t, []string{"friend_2_id"}, friends.InverseJoinColumns)

	friendOf := mustProp(t, meta, "friendOf")
	assert.Equal(t, []string{"friend_2_id"}, friendOf.JoinColumns)
	assert.Equal(t, []string{"friend_1_id"}, friendOf.InverseJoinColumns)

	pivot := mustEntity(t, reg, "friend_friends")
	assert.Equal(t, []string{"friend_1_id", "friend_2_id"}, pivot.PrimaryKeyColumns())
	assert.Len(t, pivot.Properties(), 2)
}

func TestResolve_FixedOrderPivot(t *testing.T) {
	playlist := NewEntity("Playlist").Prop(
		Scalar("id", "int").Primary(),
		ManyToMany("songs", "Song").FixedOrder(""),
	).MustBuild()
	song := NewEntity("Song").Prop(Scalar("id", "int").Primary()).MustBuild()

	reg := resolve(t, playlist, song)

	songs := mustProp(t, mustEntity(t, reg, "Playlist"), "songs")
	assert.Equal(t, "id", songs.FixedOrderColumn)

	pivot := mustEntity(t, reg, "playlist_songs")
	assert.Equal(t, []string{"id"}, pivot.PrimaryKeys)
	id := mustProp(t, pivot, "id")
	assert.True(t, id.Autoincrement)
	assert.False(t, mustProp(t, pivot, "playlist").Primary)
	assert.False(t, mustProp(t, pivot, "song").Primary)
}

func TestResolve_ExplicitPivotEntity(t *testing.T) {
	student := NewEntity("Student").Prop(
		Scalar("id", "int").Primary(),
		ManyToMany("courses", "Course").PivotEntity("Enrollment"),
	).MustBuild()
	course := NewEntity("Course").Prop(Scalar("id", "int").Primary()).MustBuild()
	enrollment := NewEntity("Enrollment").Prop(
		ManyToOne("student", "Student").Primary(),
		ManyToOne("course", "Course").Primary(),
		Scalar("grade", "string").Nullable(),
	).MustBuild()

	reg := resolve(t, student, course, enrollment)

	courses := mustProp(t, mustEntity(t, reg, "Student"), "courses")
	assert.Equal(t, "enrollment", courses.PivotTable)
	assert.Equal(t, []string{"student_id"}, courses.JoinColumns)
	assert.Equal(t, []string{"course_id"}, courses.InverseJoinColumns)
	assert.True(t, mustEntity(t, reg, "Enrollment").Pivot)
	assert.False(t, reg.Exists("student_courses"))
}

func TestResolve_SingleTableInheritance(t *testing.T) {
	person := NewEntity("Person").Discriminator("type").Prop(
		Scalar("id", "int").Primary(),
		Scalar("name", "string"),
	).MustBuild()
	employee := NewEntity("Employee").Extends("Person").Prop(
		Scalar("salary", "int"),
	).MustBuild()
	customer := NewEntity("Customer").Extends("Person").DiscriminatorValue("cust").Prop(
		Scalar("loyalty", "int"),
	).MustBuild()

	reg := resolve(t, person, employee, customer)

	root := mustEntity(t, reg, "Person")
	var names []string
	for _, p := range root.Properties() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"id", "name", "salary", "loyalty", "type"}, names)

	salary := mustProp(t, root, "salary")
	assert.True(t, salary.Nullable)
	assert.True(t, salary.Inherited)
	assert.False(t, mustProp(t, root, "name").Inherited)

	disc := mustProp(t, root, "type")
	assert.True(t, disc.Index)
	assert.Equal(t, []string{"type"}, disc.FieldNames)

	assert.Equal(t, map[string]string{
		"person":   "Person",
		"employee": "Employee",
		"cust":     "Customer",
	}, root.DiscriminatorMap)

	emp := mustEntity(t, reg, "Employee")
	assert.Equal(t, "person", emp.TableName)
	assert.Equal(t, "Person", emp.Root)
	assert.False(t, emp.HasTable())
	assert.Equal(t, []string{"id"}, emp.PrimaryKeys)
	assert.False(t, mustProp(t, emp, "salary").Nullable, "subclass keeps its own nullability")
}

func TestResolve_MappedSuperclass(t *testing.T) {
	base := NewEntity("BaseEntity").Abstract().Prop(
		Scalar("id", "uuid").Primary(),
		Scalar("createdAt", "timestamp"),
	).MustBuild()
	user := NewEntity("User").Extends("BaseEntity").Prop(
		Scalar("email", "string").Unique(),
	).MustBuild()

	reg := resolve(t, base, user)

	meta := mustEntity(t, reg, "User")
	assert.True(t, meta.HasTable())
	assert.Equal(t, "user", meta.TableName)
	assert.Equal(t, []string{"id"}, meta.PrimaryKeys)
	assert.Equal(t, []string{"created_at"}, mustProp(t, meta, "createdAt").FieldNames)
	assert.False(t, mustEntity(t, reg, "BaseEntity").HasTable())
}

func TestResolve_Embeddables(t *testing.T) {
	geo := NewEntity("Geo").Embeddable().Prop(
		Scalar("lat", "double"),
		Scalar("lng", "double"),
	).MustBuild()
	address := NewEntity("Address").Embeddable().Prop(
		Scalar("street", "string"),
		Scalar("city", "string"),
		Embedded("geo", "Geo"),
	).MustBuild()
	user := NewEntity("User").Prop(
		Scalar("id", "int").Primary(),
		Embedded("address", "Address"),
		Embedded("billing", "Address").Prefix("bill_").Nullable(),
		Embedded("shipping", "Address").Prefix(""),
	).MustBuild()

	reg := resolve(t, geo, address, user)
	meta := mustEntity(t, reg, "User")

	street := mustProp(t, meta, "address.street")
	assert.Equal(t, []string{"address_street"}, street.FieldNames)
	assert.Equal(t, []string{"address", "street"}, street.EmbeddedPath)
	assert.False(t, street.Nullable)

	assert.Equal(t, []string{"address_geo_lat"}, mustProp(t, meta, "address.geo.lat").FieldNames)

	billing := mustProp(t, meta, "billing.city")
	assert.Equal(t, []string{"bill_city"}, billing.FieldNames)
	assert.True(t, billing.Nullable, "nullable embedding forces nullable columns")
	assert.True(t, mustProp(t, meta, "billing.geo.lng").Nullable)

	assert.Equal(t, []string{"city"}, mustProp(t, meta, "shipping.city").FieldNames)
	assert.False(t, mustEntity(t, reg, "Address").HasTable())
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name     string
		entities []*EntityMetadata
		contains string
	}{
		{
			name: "unknown target",
			entities: []*EntityMetadata{
				NewEntity("Book").Prop(Scalar("id", "int").Primary(), ManyToOne("author", "Author")).MustBuild(),
			},
			contains: `unknown m:1 target "Author"`,
		},
		{
			name: "missing mappedBy property",
			entities: []*EntityMetadata{
				NewEntity("Book").Prop(Scalar("id", "int").Primary()).MustBuild(),
				NewEntity("Author").Prop(Scalar("id", "int").Primary(), OneToMany("books", "Book", "author")).MustBuild(),
			},
			contains: "mappedBy references missing property Book.author",
		},
		{
			name: "missing primary key",
			entities: []*EntityMetadata{
				NewEntity("Log").Prop(Scalar("message", "string")).MustBuild(),
			},
			contains: "entity has no primary key",
		},
		{
			name: "unknown parent",
			entities: []*EntityMetadata{
				NewEntity("Admin").Extends("User").Prop(Scalar("id", "int").Primary()).MustBuild(),
			},
			contains: `extends unknown entity "User"`,
		},
		{
			name: "embedding a non embeddable",
			entities: []*EntityMetadata{
				NewEntity("Address").Prop(Scalar("id", "int").Primary()).MustBuild(),
				NewEntity("User").Prop(Scalar("id", "int").Primary(), Embedded("address", "Address")).MustBuild(),
			},
			contains: "Address is not embeddable",
		},
		{
			name: "primary key cycle",
			entities: []*EntityMetadata{
				NewEntity("A").Prop(OneToOne("b", "B").Primary()).MustBuild(),
				NewEntity("B").Prop(OneToOne("a", "A").Primary()).MustBuild(),
			},
			contains: "primary key references form a cycle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewResolver(nil).Resolve(tt.entities)
			require.Error(t, err)
			assert.Nil(t, reg)
			assert.True(t, errors.Is(err, ErrMetadataResolution))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	entities := authorBookEntities()
	resolve(t, entities...)

	prop, _ := entities[0].Property("author")
	assert.Empty(t, prop.JoinColumns)
	assert.Empty(t, prop.InversedBy)
	assert.Empty(t, entities[0].TableName)
}

func TestResolve_FreezesRegistry(t *testing.T) {
	reg := resolve(t, authorBookEntities()...)
	assert.True(t, reg.Frozen())

	err := reg.Register(NewEntity("Late").Prop(Scalar("id", "int").Primary()).MustBuild())
	assert.ErrorIs(t, err, ErrRegistryFrozen)
}

func TestResolve_PluralizingNaming(t *testing.T) {
	reg, err := NewResolver(NewPluralizingNamingStrategy()).Resolve(authorBookEntities())
	require.NoError(t, err)

	assert.Equal(t, "books", mustEntity(t, reg, "Book").TableName)
	assert.Equal(t, "authors", mustEntity(t, reg, "Author").TableName)
}
