package smartquery

import (
	"errors"
	"strings"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounts/internal/model"
	"accounts/internal/model/modeltest"
)

func TestSmartQueryJoinsRelationFilter(t *testing.T) {
	reg := modeltest.Blog()
	q, err := SmartQuery(reg.MustEntity("User"), Filters{"posts___body__startswith": "Hello"}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"posts"}, q.Joins())
	sql, args, err := q.ToSQL()
	require.NoError(t, err)
	assert.Contains(t, sql, `FROM "blog"."users" AS "users" LEFT JOIN "blog"."posts" AS "posts_1" ON "posts_1"."user_id" = "users"."id"`)
	assert.Contains(t, sql, `WHERE "posts_1"."body" LIKE $1`)
	// join заполняет связь: колонки алиаса в проекции
	assert.Contains(t, sql, `"posts_1"."body"`)
	assert.Equal(t, []any{"Hello%"}, args)
}

func TestSmartQuerySortTieBreak(t *testing.T) {
	reg := modeltest.Blog()
	q, err := SmartQuery(reg.MustEntity("Comment"), nil, []string{"-rating", "created_at"}, nil)
	require.NoError(t, err)
	sql, _, err := q.ToSQL()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql,
		`ORDER BY "comments"."rating" DESC NULLS LAST, "comments"."created_at" ASC NULLS LAST`), sql)

	sql, _, err = q.Nulls(NullsFirst).ToSQL()
	require.NoError(t, err)
	assert.Contains(t, sql, `"comments"."rating" DESC NULLS FIRST`)
}

func TestSmartQueryReusesFilterJoinForEagerLoad(t *testing.T) {
	reg := modeltest.Blog()
	q, err := SmartQuery(reg.MustEntity("Comment"),
		Filters{"post___public": true},
		nil,
		Schema{JoinedLoad("post")})
	require.NoError(t, err)

	sql, args, err := q.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(sql, "JOIN"), sql)
	assert.Contains(t, sql, `WHERE (NOT "posts_1"."archived") = $1`)
	assert.Equal(t, []any{true}, args)
	assert.Empty(t, q.Directives())
}

func TestSmartQueryNestedPathsAndSort(t *testing.T) {
	reg := modeltest.Blog()
	q, err := SmartQuery(reg.MustEntity("Comment"),
		Filters{"post___public": true, "user__isnull": false, "post___user___name__like": "Bi%"},
		[]string{"user___name", "-created_at"},
		Schema{JoinedLoad("post", JoinedLoad("user"))})
	require.NoError(t, err)

	assert.Equal(t, []string{"post", "post.user", "user"}, q.Joins())
	assert.Empty(t, q.Directives())

	sql, args, err := q.ToSQL()
	require.NoError(t, err)
	assert.Contains(t, sql, `LEFT JOIN "blog"."posts" AS "posts_1" ON "posts_1"."id" = "comments"."post_id"`)
	assert.Contains(t, sql, `LEFT JOIN "blog"."users" AS "users_1" ON "users_1"."id" = "posts_1"."user_id"`)
	assert.Contains(t, sql, `LEFT JOIN "blog"."users" AS "users_2" ON "users_2"."id" = "comments"."user_id"`)
	assert.Contains(t, sql, `WHERE (NOT "posts_1"."archived") = $1 AND "users_1"."name" LIKE $2 AND "comments"."user_id" IS NOT NULL`)
	assert.Contains(t, sql, `ORDER BY "users_2"."name" ASC NULLS LAST, "comments"."created_at" DESC NULLS LAST`)
	assert.Equal(t, []any{true, "Bi%"}, args)
}

func TestSmartQuerySubqueryStrategyKeepsJoinForFilterOnly(t *testing.T) {
	reg := modeltest.Blog()
	q, err := SmartQuery(reg.MustEntity("Comment"),
		Filters{"post___public": true, "post___user___name__like": "Bi%"},
		nil,
		Schema{SubqueryLoad("post")})
	require.NoError(t, err)

	assert.Equal(t, []Directive{{Path: "post", Strategy: Subquery}}, q.Directives())
	sql, _, err := q.ToSQL()
	require.NoError(t, err)
	assert.Contains(t, sql, `LEFT JOIN "blog"."posts" AS "posts_1"`)
	// колонки алиасов не выбираются: связь загрузит отдельный запрос
	assert.NotContains(t, sql, `"posts_1"."body"`)
	assert.NotContains(t, sql, `"users_1"."name",`)
}

func TestSmartQueryEagerOnlyJoins(t *testing.T) {
	reg := modeltest.Blog()
	q, err := WithJoined(reg.MustEntity("Comment"), "post", "post.comments")
	require.NoError(t, err)
	joins, batches, err := q.loadPlan()
	require.NoError(t, err)
	require.Len(t, joins, 2)
	assert.Empty(t, batches)
	assert.Equal(t, "posts_1", joins[0].mapper.Alias)
	assert.Equal(t, "comments_1", joins[1].mapper.Alias)
	assert.Equal(t, 0, joins[1].parent)

	// joined под subquery-родителем грузится пакетом после родителя
	q, err = With(reg.MustEntity("Comment"), Schema{SubqueryLoad("post", JoinedLoad("user"))})
	require.NoError(t, err)
	joins, batches, err = q.loadPlan()
	require.NoError(t, err)
	assert.Empty(t, joins)
	assert.Equal(t, []Directive{{"post", Subquery}, {"post.user", Joined}}, batches)

	// неявный родитель получает стратегию потомка
	q, err = WithSubquery(reg.MustEntity("User"), "posts.comments")
	require.NoError(t, err)
	_, batches, err = q.loadPlan()
	require.NoError(t, err)
	assert.Equal(t, []Directive{{"posts", Subquery}, {"posts.comments", Subquery}}, batches)
}

func TestSmartQueryErrors(t *testing.T) {
	reg := modeltest.Blog()
	comment := reg.MustEntity("Comment")

	_, err := SmartQuery(comment, Filters{"bogus_field": 1}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownAttribute)
	var te *TokenError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "bogus_field", te.Token)

	_, err = SmartQuery(comment, Filters{"author___name": "x"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownRelation)

	_, err = SmartQuery(comment, Filters{"post___bogus": 1}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownAttribute)
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "post___bogus", te.Token)

	_, err = SmartQuery(comment, nil, []string{"-post___bogus"}, nil)
	assert.ErrorIs(t, err, ErrUnknownAttribute)

	_, err = SmartQuery(comment, nil, nil, Schema{{Path: "post", Strategy: "lazy"}})
	assert.ErrorIs(t, err, ErrInvalidLoadStrategy)

	_, err = SmartQuery(comment, nil, nil, Schema{JoinedLoad("bogus")})
	assert.ErrorIs(t, err, ErrUnknownRelation)

	// viewonly нельзя использовать в пути фильтра
	_, err = SmartQuery(reg.MustEntity("User"), Filters{"posts_viewonly___body": "x"}, nil, nil)
	assert.ErrorIs(t, err, ErrUnknownRelation)

	_, err = WithJoined(comment, "post.bogus")
	assert.ErrorIs(t, err, ErrUnknownRelation)
}

func TestWhereAndSortShortcuts(t *testing.T) {
	reg := modeltest.Blog()
	comment := reg.MustEntity("Comment")

	a, err := Where(comment, Filters{"rating__gt": 1})
	require.NoError(t, err)
	b, err := SmartQuery(comment, Filters{"rating__gt": 1}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, b.String(), a.String())

	c, err := Sort(comment, "-post___body")
	require.NoError(t, err)
	d, err := SmartQuery(comment, nil, []string{"-post___body"}, nil)
	require.NoError(t, err)
	assert.Equal(t, d.String(), c.String())
}

func TestSmartQueryWithoutPathsMatchesDirectExpressions(t *testing.T) {
	reg := modeltest.Blog()
	for _, name := range []string{"Comment", "Post"} {
		e := reg.MustEntity(name)
		filters := Filters{"rating__gt": 1, "body__contains": "p1", "created_at__year_ge": 2014}
		sortAttrs := []string{"-rating", "created_at"}
		if name == "Post" {
			filters = Filters{"public": true, "body__contains": "1", "is_commented_by_user": "u1"}
			sortAttrs = []string{"-public", "body"}
		}

		q, err := SmartQuery(e, filters, sortAttrs, nil)
		require.NoError(t, err, name)
		assert.Empty(t, q.Joins(), name)
		got, gotArgs, err := q.ToSQL()
		require.NoError(t, err, name)

		root := model.RootMapper(e)
		preds, err := FilterExpr(root, filters)
		require.NoError(t, err, name)
		clauses, err := OrderExpr(root, sortAttrs...)
		require.NoError(t, err, name)
		b := sq.Select("*").From(root.From()).PlaceholderFormat(sq.Dollar)
		for _, p := range preds {
			b = b.Where(p)
		}
		for _, c := range clauses {
			b = b.OrderBy(c.SQL(NullsLast))
		}
		want, wantArgs, err := b.ToSql()
		require.NoError(t, err, name)

		tail := want[strings.Index(want, " WHERE "):]
		assert.True(t, strings.HasSuffix(got, tail), "%s:\n%s\n%s", name, got, tail)
		assert.Equal(t, wantArgs, gotArgs, name)
	}
}

func TestLimitPagesRootsOverToManyJoin(t *testing.T) {
	reg := modeltest.Blog()
	user := reg.MustEntity("User")
	q, err := Sort(user, "name")
	require.NoError(t, err)
	q, err = q.WithJoined("posts")
	require.NoError(t, err)

	sql, args, err := q.Limit(2).Offset(1).ToSQL()
	require.NoError(t, err)
	assert.Empty(t, args)
	assert.Contains(t, sql, `row_number() OVER (ORDER BY "users"."name" ASC NULLS LAST, "users"."id") AS "rn" FROM "blog"."users" AS "users") AS "ranked"`)
	assert.Contains(t, sql, `GROUP BY "k0" ORDER BY "pos" LIMIT 2 OFFSET 1 ) AS "page" ON "users"."id" = "page"."k0"`)
	assert.Contains(t, sql, `LEFT JOIN "blog"."posts" AS "posts_1" ON "posts_1"."user_id" = "users"."id"`)
	assert.True(t, strings.HasSuffix(sql, `ORDER BY "page"."pos", "users"."name" ASC NULLS LAST`), sql)
	// eager-join не попадает в подзапрос ключей
	keys := sql[strings.Index(sql, "JOIN ("):strings.Index(sql, `AS "page"`)]
	assert.NotContains(t, keys, "posts")

	// фильтр по to-many связи: условие и в подзапросе, и снаружи
	f, err := Where(user, Filters{"posts___body__startswith": "H"})
	require.NoError(t, err)
	sql, args, err = f.Limit(1).ToSQL()
	require.NoError(t, err)
	assert.Equal(t, []any{"H%", "H%"}, args)
	assert.Contains(t, sql, `WHERE "posts_1"."body" LIKE $1) AS "ranked"`)
	assert.Contains(t, sql, `WHERE "posts_1"."body" LIKE $2`)

	// to-one join строк не размножает: обычный LIMIT
	c, err := WithJoined(reg.MustEntity("Comment"), "post")
	require.NoError(t, err)
	sql, _, err = c.Limit(3).ToSQL()
	require.NoError(t, err)
	assert.NotContains(t, sql, `"page"`)
	assert.True(t, strings.HasSuffix(sql, "LIMIT 3"), sql)

	// без limit/offset подзапроса нет
	sql, _, err = q.ToSQL()
	require.NoError(t, err)
	assert.NotContains(t, sql, `"page"`)
}

func TestExistsKeepsPaging(t *testing.T) {
	reg := modeltest.Blog()
	q, err := Where(reg.MustEntity("Comment"), Filters{"rating__ge": 1})
	require.NoError(t, err)

	sql, args, err := q.existsSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT EXISTS (SELECT 1 FROM "blog"."comments" AS "comments" WHERE "comments"."rating" >= $1)`, sql)
	assert.Equal(t, []any{1}, args)

	sql, _, err = q.Offset(10).existsSQL()
	require.NoError(t, err)
	assert.Equal(t, `SELECT EXISTS (SELECT 1 FROM "blog"."comments" AS "comments" WHERE "comments"."rating" >= $1 OFFSET 10)`, sql)
}

func TestQueryImmutable(t *testing.T) {
	reg := modeltest.Blog()
	q, err := Where(reg.MustEntity("Comment"), Filters{"rating": 1})
	require.NoError(t, err)

	paged := q.Limit(10).Offset(20)
	sql, _, err := paged.ToSQL()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sql, "LIMIT 10 OFFSET 20"), sql)

	base, _, err := q.ToSQL()
	require.NoError(t, err)
	assert.NotContains(t, base, "LIMIT")

	withPost, err := q.WithSubquery("post")
	require.NoError(t, err)
	assert.Len(t, withPost.Directives(), 1)
	assert.Empty(t, q.Directives())
	assert.Same(t, q.Root(), withPost.Root())
}

func TestCountAndColumnsExpr(t *testing.T) {
	reg := modeltest.Blog()
	q, err := Where(reg.MustEntity("User"), Filters{"posts___archived": false})
	require.NoError(t, err)
	assert.Equal(t, `count(DISTINCT "users"."id")`, q.countExpr())

	proj, err := q.Columns("name", "posts___body")
	require.NoError(t, err)
	assert.Equal(t, []string{`"users"."name"`, `"posts_1"."body"`}, proj.columns)

	_, err = q.Columns("comments___body")
	assert.ErrorIs(t, err, ErrUnknownRelation)
	_, err = q.Columns("bogus")
	assert.ErrorIs(t, err, ErrUnknownAttribute)
}
