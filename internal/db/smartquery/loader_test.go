package smartquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounts/internal/model"
	"accounts/internal/model/modeltest"
)

// fakeRows отдаёт заранее заданные строки в порядке колонок selection.
type fakeRows struct {
	rows [][]any
	i    int
}

func (f *fakeRows) Next() bool {
	f.i++
	return f.i <= len(f.rows)
}

func (f *fakeRows) Scan(dest ...any) error {
	for i, v := range f.rows[f.i-1] {
		*(dest[i].(*any)) = v
	}
	return nil
}

func (f *fakeRows) Err() error { return nil }

// row заполняет значения по именам колонок каждой selection
func row(sels []selection, data ...map[string]any) []any {
	var out []any
	for i, s := range sels {
		for _, c := range s.cols {
			out = append(out, data[i][c.Name])
		}
	}
	return out
}

func TestHydrateDeduplicatesJoinedRows(t *testing.T) {
	reg := modeltest.Blog()
	q, err := WithJoined(reg.MustEntity("User"), "posts")
	require.NoError(t, err)
	joins, _, err := q.loadPlan()
	require.NoError(t, err)
	sels, _ := selectionsFor(q.root, joins)
	require.Len(t, sels, 2)

	u1 := map[string]any{"id": "u1", "name": []byte("Bill")}
	u2 := map[string]any{"id": "u2", "name": "Alex"}
	src := &fakeRows{rows: [][]any{
		row(sels, u1, map[string]any{"id": "p11", "body": "1234567890123456789"}),
		row(sels, u1, map[string]any{"id": "p12", "body": "p12"}),
		row(sels, u2, map[string]any{}),
		row(sels, u1, map[string]any{"id": "p12", "body": "p12"}),
	}}

	roots, err := hydrate(src, sels)
	require.NoError(t, err)
	require.Len(t, roots, 2)

	assert.Equal(t, "Bill", roots[0].Get("name"))
	assert.True(t, roots[0].IsLoaded("posts"))
	posts := roots[0].Related("posts")
	require.Len(t, posts, 2)
	assert.Equal(t, "p11", posts[0].Get("id"))
	assert.Equal(t, "p12", posts[1].Get("id"))

	// LEFT JOIN без пары: связь загружена и пуста
	assert.True(t, roots[1].IsLoaded("posts"))
	assert.Empty(t, roots[1].Related("posts"))
}

func TestHydrateToOneSharedParent(t *testing.T) {
	reg := modeltest.Blog()
	q, err := WithJoined(reg.MustEntity("Comment"), "post.user")
	require.NoError(t, err)
	joins, _, err := q.loadPlan()
	require.NoError(t, err)
	sels, _ := selectionsFor(q.root, joins)
	require.Len(t, sels, 3)

	p11 := map[string]any{"id": "p11", "user_id": "u1"}
	u1 := map[string]any{"id": "u1", "name": "Bill"}
	src := &fakeRows{rows: [][]any{
		row(sels, map[string]any{"id": "cm1", "post_id": "p11"}, p11, u1),
		row(sels, map[string]any{"id": "cm2", "post_id": "p11"}, p11, u1),
		row(sels, map[string]any{"id": "cm3"}, map[string]any{}, map[string]any{}),
	}}
	roots, err := hydrate(src, sels)
	require.NoError(t, err)
	require.Len(t, roots, 3)

	a, b := roots[0].One("post"), roots[1].One("post")
	require.NotNil(t, a)
	assert.Same(t, a, b)
	require.NotNil(t, a.One("user"))
	assert.Equal(t, "Bill", a.One("user").Get("name"))

	assert.True(t, roots[2].IsLoaded("post"))
	assert.Nil(t, roots[2].One("post"))
}

func TestRecordsAt(t *testing.T) {
	reg := modeltest.Blog()
	user, post, comment := reg.MustEntity("User"), reg.MustEntity("Post"), reg.MustEntity("Comment")

	u := model.NewRecord(user)
	u.Set("id", "u1")
	p1, p2 := model.NewRecord(post), model.NewRecord(post)
	p1.Set("id", "p1")
	p2.Set("id", "p2")
	c := model.NewRecord(comment)
	c.Set("id", "c1")
	u.AddRelated("posts", p1)
	u.AddRelated("posts", p2)
	p1.AddRelated("comments", c)
	p2.AddRelated("comments", c)

	rels, err := resolvePath(user, "posts.comments")
	require.NoError(t, err)
	assert.Equal(t, []*model.Record{p1, p2}, recordsAt([]*model.Record{u}, rels[:1]))
	assert.Equal(t, []*model.Record{c}, recordsAt([]*model.Record{u}, rels))
}
