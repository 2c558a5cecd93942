package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blogDescription = `
entities:
  - name: User
    properties:
      - name: id
        type: uuid
        primary: true
      - name: email
        type: string
        length: 320
        unique: true
      - name: posts
        kind: 1:m
        target: Post
        mapped_by: author
  - name: Post
    indexes:
      - name: idx_post_published
        properties: [publishedAt]
    properties:
      - name: id
        type: uuid
        primary: true
      - name: publishedAt
        type: timestamp
        nullable: true
      - name: author
        kind: many_to_one
        target: User
        on_delete: CASCADE
      - name: tags
        kind: m:n
        target: Tag
  - name: Tag
    properties:
      - name: id
        type: int
        primary: true
        autoincrement: true
      - name: label
        type: string
`

func TestLoadDescriptions(t *testing.T) {
	entities, err := LoadDescriptions(strings.NewReader(blogDescription))
	require.NoError(t, err)
	require.Len(t, entities, 3)

	user := entities[0]
	assert.Equal(t, "User", user.Name)
	email := mustProp(t, user, "email")
	assert.Equal(t, 320, email.Length)
	assert.True(t, email.Unique)

	posts := mustProp(t, user, "posts")
	assert.Equal(t, ReferenceOneToMany, posts.Kind)
	assert.Equal(t, "author", posts.MappedBy)
	assert.False(t, posts.Owner)

	post := entities[1]
	author := mustProp(t, post, "author")
	assert.Equal(t, ReferenceManyToOne, author.Kind)
	assert.Equal(t, ActionCascade, author.OnDelete)
	assert.True(t, mustProp(t, post, "tags").Owner)
	require.Len(t, post.Indexes, 1)
	assert.Equal(t, []string{"publishedAt"}, post.Indexes[0].Properties)

	reg, err := NewResolver(nil).Resolve(entities)
	require.NoError(t, err)
	assert.True(t, reg.Exists("post_tags"))
}

func TestLoadDescriptions_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
	}{
		{
			name:     "unknown kind",
			input:    "entities:\n  - name: A\n    properties:\n      - name: b\n        kind: weird\n",
			contains: "unknown relation kind: weird",
		},
		{
			name:     "unknown field",
			input:    "entities:\n  - name: A\n    tabel: a\n",
			contains: "field tabel not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadDescriptions(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadDescriptions_Empty(t *testing.T) {
	entities, err := LoadDescriptions(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entities)
}
