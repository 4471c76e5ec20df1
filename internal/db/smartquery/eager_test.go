package smartquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenAndNest(t *testing.T) {
	schema := Schema{
		JoinedLoad("post", SubqueryLoad("comments", JoinedLoad("user"))),
		SubqueryLoad("user"),
	}
	flat, err := Flatten(schema)
	require.NoError(t, err)
	assert.Equal(t, FlatSchema{
		{Path: "post", Strategy: Joined},
		{Path: "post.comments", Strategy: Subquery},
		{Path: "post.comments.user", Strategy: Joined},
		{Path: "user", Strategy: Subquery},
	}, flat)

	s, ok := flat.Get("post.comments")
	assert.True(t, ok)
	assert.Equal(t, Subquery, s)
	_, ok = flat.Get("comments")
	assert.False(t, ok)

	assert.Equal(t, schema, flat.Nest())
}

func TestFlattenDefaultsNestedToJoined(t *testing.T) {
	flat, err := Flatten(Schema{{Path: "post", Nested: Schema{SubqueryLoad("comments")}}})
	require.NoError(t, err)
	assert.Equal(t, FlatSchema{{"post", Joined}, {"post.comments", Subquery}}, flat)
}

func TestFlattenRejectsUnknownStrategy(t *testing.T) {
	_, err := Flatten(Schema{JoinedLoad("post", Load{Path: "comments", Strategy: "selectin"})})
	require.ErrorIs(t, err, ErrInvalidLoadStrategy)
	var te *TokenError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "post.comments", te.Token)

	_, err = Flatten(Schema{{Path: "post"}})
	assert.ErrorIs(t, err, ErrInvalidLoadStrategy)
}

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema("post, post.comments:subquery ,post.comments.user,user:JOINED")
	require.NoError(t, err)
	ds, err := EagerDirectives(s)
	require.NoError(t, err)
	assert.Equal(t, []Directive{
		{"post", Joined},
		{"post.comments", Subquery},
		{"post.comments.user", Joined},
		{"user", Joined},
	}, ds)

	s, err = ParseSchema("")
	require.NoError(t, err)
	assert.Empty(t, s)

	_, err = ParseSchema("post:lazy")
	assert.ErrorIs(t, err, ErrInvalidLoadStrategy)
	_, err = ParseSchema(":joined")
	assert.ErrorIs(t, err, ErrUnknownRelation)
}

func TestParentPath(t *testing.T) {
	assert.Equal(t, "", parentPath("post"))
	assert.Equal(t, "post", parentPath("post.comments"))
	assert.Equal(t, "post.comments", parentPath("post.comments.user"))
}
