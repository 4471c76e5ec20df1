package crud

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounts/internal/model"
	"accounts/internal/model/modeltest"
)

func TestFill(t *testing.T) {
	reg := modeltest.Blog()
	posts := New(reg.MustEntity("Post"))

	rec := model.NewRecord(posts.Entity())
	err := posts.Fill(rec, map[string]any{"body": "hi", "bogus": 1})
	require.ErrorIs(t, err, ErrUnknownAttribute)
	assert.Contains(t, err.Error(), "attribute 'bogus' doesn't exist")

	// системные колонки и гибриды без setter не присваиваются
	for _, name := range []string{"id", "version", "public", "is_public"} {
		assert.ErrorIs(t, posts.Fill(rec, map[string]any{name: "x"}), ErrUnknownAttribute, name)
	}

	u := model.NewRecord(reg.MustEntity("User"))
	require.ErrorIs(t, posts.Fill(rec, map[string]any{"user": u}), ErrInvalidKey)

	u.Set("id", "u1")
	require.NoError(t, posts.Fill(rec, map[string]any{"body": "hi", "user": u}))
	assert.Equal(t, "u1", rec.Get("user_id"))
	assert.Same(t, u, rec.One("user"))

	require.NoError(t, posts.Fill(rec, map[string]any{"user": nil}))
	assert.Nil(t, rec.Get("user_id"))
	assert.True(t, rec.IsLoaded("user"))
	assert.Nil(t, rec.One("user"))
}

func TestFillImmutableRelation(t *testing.T) {
	reg := modeltest.Blog()
	comments := New(reg.MustEntity("Comment"))
	rec := model.NewRecord(comments.Entity())
	assert.ErrorIs(t, comments.Fill(rec, map[string]any{"post": "p1"}), ErrUnknownAttribute)
	require.NoError(t, comments.Fill(rec, map[string]any{"user": "u1"}))
	assert.Equal(t, "u1", rec.Get("user_id"))
}

func TestFillToManyMarksPending(t *testing.T) {
	reg := modeltest.Blog()
	users := New(reg.MustEntity("User"))
	rec := model.NewRecord(users.Entity())

	p := model.NewRecord(reg.MustEntity("Post"))
	require.NoError(t, users.Fill(rec, map[string]any{"posts": []*model.Record{p}}))
	assert.Equal(t, []string{"posts"}, rec.Pending())
	assert.Len(t, rec.Related("posts"), 1)

	assert.Error(t, users.Fill(rec, map[string]any{"posts": "p1"}))
	assert.ErrorIs(t, users.Fill(rec, map[string]any{"posts_viewonly": nil}), ErrUnknownAttribute)
}

func TestToDB(t *testing.T) {
	js := &model.Column{Name: "tags", Type: model.TypeJSON}
	assert.Equal(t, `["a","b"]`, toDB(js, []string{"a", "b"}))
	assert.Equal(t, `{"a":1}`, toDB(js, json.RawMessage(`{"a":1}`)))
	assert.Nil(t, toDB(js, nil))

	s := &model.Column{Name: "name", Type: model.TypeString}
	assert.Equal(t, 5, toDB(s, 5))
}

func TestNewIDMonotonic(t *testing.T) {
	prev := NewID()
	assert.Len(t, prev, 26)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.Greater(t, id, prev)
		prev = id
	}
}
