package smartquery

import (
	"errors"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accounts/internal/model"
	"accounts/internal/model/modeltest"
)

func toSQL(t *testing.T, preds []sq.Sqlizer) (string, []any) {
	t.Helper()
	require.Len(t, preds, 1)
	s, args, err := preds[0].ToSql()
	require.NoError(t, err)
	return s, args
}

func TestFilterExprOperators(t *testing.T) {
	comment := model.RootMapper(modeltest.Blog().MustEntity("Comment"))
	created := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		token string
		value any
		sql   string
		args  []any
	}{
		{"rating", 2, `"comments"."rating" = ?`, []any{2}},
		{"rating__exact", 2, `"comments"."rating" = ?`, []any{2}},
		{"rating", nil, `"comments"."rating" IS NULL`, nil},
		{"id__not", "11", `NOT ("comments"."id" = ?)`, []any{"11"}},
		{"rating__isnull", true, `"comments"."rating" IS NULL`, nil},
		{"rating__isnull", 2, `"comments"."rating" IS NULL`, nil},
		{"rating__isnull", false, `"comments"."rating" IS NOT NULL`, nil},
		{"rating__ne", 2, `"comments"."rating" <> ?`, []any{2}},
		{"rating__gt", 2, `"comments"."rating" > ?`, []any{2}},
		{"rating__ge", 2, `"comments"."rating" >= ?`, []any{2}},
		{"rating__lt", 2, `"comments"."rating" < ?`, []any{2}},
		{"rating__le", 2, `"comments"."rating" <= ?`, []any{2}},
		{"rating__in", []int{1, 3}, `"comments"."rating" IN (?,?)`, []any{1, 3}},
		{"rating__in", [2]int{1, 3}, `"comments"."rating" IN (?,?)`, []any{1, 3}},
		{"rating__notin", []any{1, 3}, `"comments"."rating" NOT IN (?,?)`, []any{1, 3}},
		{"rating__in", []int{}, `(1=0)`, []any{}},
		{"rating__notin", []int{}, `(1=1)`, []any{}},
		{"rating__between", []int{2, 3}, `"comments"."rating" BETWEEN ? AND ?`, []any{2, 3}},
		{"body__like", "%cm12%", `"comments"."body" LIKE ?`, []any{"%cm12%"}},
		{"body__ilike", "%CM12%", `"comments"."body" ILIKE ?`, []any{"%CM12%"}},
		{"body__startswith", "cm1", `"comments"."body" LIKE ?`, []any{"cm1%"}},
		{"body__istartswith", "CM1", `"comments"."body" ILIKE ?`, []any{"CM1%"}},
		{"body__endswith", "to p12", `"comments"."body" LIKE ?`, []any{"%to p12"}},
		{"body__iendswith", "TO P12", `"comments"."body" ILIKE ?`, []any{"%TO P12"}},
		{"body__contains", "p1", `"comments"."body" ILIKE ?`, []any{"%p1%"}},
		{"created_at", created, `"comments"."created_at" = ?`, []any{created}},
		{"created_at__year", 2014, `EXTRACT(YEAR FROM "comments"."created_at") = ?`, []any{2014}},
		{"created_at__year_ne", 2014, `EXTRACT(YEAR FROM "comments"."created_at") <> ?`, []any{2014}},
		{"created_at__year_ge", 2014, `EXTRACT(YEAR FROM "comments"."created_at") >= ?`, []any{2014}},
		{"created_at__month_lt", 10, `EXTRACT(MONTH FROM "comments"."created_at") < ?`, []any{10}},
		{"created_at__day", 20, `EXTRACT(DAY FROM "comments"."created_at") = ?`, []any{20}},
		{"created_at__day_le", 20, `EXTRACT(DAY FROM "comments"."created_at") <= ?`, []any{20}},
	}
	for _, tc := range cases {
		t.Run(tc.token, func(t *testing.T) {
			preds, err := FilterExpr(comment, Filters{tc.token: tc.value})
			require.NoError(t, err)
			s, args := toSQL(t, preds)
			assert.Equal(t, tc.sql, s)
			assert.Equal(t, tc.args, args)
		})
	}
}

func TestFilterExprErrors(t *testing.T) {
	comment := model.RootMapper(modeltest.Blog().MustEntity("Comment"))

	cases := []struct {
		token string
		value any
		err   error
	}{
		{"bogus_field", 1, ErrUnknownAttribute},
		{"rating__bogus", 1, ErrUnknownOperator},
		{"bogus__bogus", 1, ErrUnknownAttribute},
		{"rating__between", []int{1}, ErrInvalidFilterValue},
		{"rating__between", []int{1, 2, 3}, ErrInvalidFilterValue},
		{"rating__in", 1, ErrInvalidFilterValue},
		{"rating__gt", nil, ErrInvalidFilterValue},
		{"body__startswith", 5, ErrInvalidFilterValue},
	}
	for _, tc := range cases {
		t.Run(tc.token, func(t *testing.T) {
			_, err := FilterExpr(comment, Filters{tc.token: tc.value})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)
			var te *TokenError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tc.token, te.Token)
		})
	}
}

func TestFilterExprDeterministicOrder(t *testing.T) {
	comment := model.RootMapper(modeltest.Blog().MustEntity("Comment"))
	preds, err := FilterExpr(comment, Filters{"rating": 1, "body": "x", "id": "7"})
	require.NoError(t, err)
	s, args, err := sq.And(preds).ToSql()
	require.NoError(t, err)
	assert.Equal(t, `("comments"."body" = ? AND "comments"."id" = ? AND "comments"."rating" = ?)`, s)
	assert.Equal(t, []any{"x", "7", 1}, args)
}

func TestFilterExprHybrids(t *testing.T) {
	reg := modeltest.Blog()
	post := model.RootMapper(reg.MustEntity("Post"))

	preds, err := FilterExpr(post, Filters{"public": true})
	require.NoError(t, err)
	s, args := toSQL(t, preds)
	assert.Equal(t, `(NOT "posts"."archived") = ?`, s)
	assert.Equal(t, []any{true}, args)

	// алиас подставляется в выражение гибрида
	aliased := model.Mapper{Entity: post.Entity, Alias: "posts_1"}
	preds, err = FilterExpr(aliased, Filters{"is_public": false})
	require.NoError(t, err)
	s, _ = toSQL(t, preds)
	assert.Equal(t, `(NOT "posts_1"."archived") = ?`, s)

	u1 := model.NewRecord(reg.MustEntity("User"))
	u1.Set("id", "u1")
	preds, err = FilterExpr(post, Filters{"is_commented_by_user": u1})
	require.NoError(t, err)
	s, args = toSQL(t, preds)
	assert.Equal(t, `EXISTS (SELECT 1 FROM "blog"."comments" AS "posts_cm" WHERE "posts_cm"."post_id" = "posts"."id" AND "posts_cm"."user_id" = ?)`, s)
	assert.Equal(t, []any{"u1"}, args)

	_, err = FilterExpr(post, Filters{"is_public": "yes"})
	assert.ErrorIs(t, err, ErrInvalidFilterValue)
	_, err = FilterExpr(post, Filters{"is_public__exact": true})
	assert.ErrorIs(t, err, ErrUnknownOperator)
}

func TestFilterExprRelations(t *testing.T) {
	reg := modeltest.Blog()
	post := model.RootMapper(reg.MustEntity("Post"))
	user := model.RootMapper(reg.MustEntity("User"))

	u1 := model.NewRecord(user.Entity)
	u1.Set("id", "u1")
	preds, err := FilterExpr(post, Filters{"user": u1})
	require.NoError(t, err)
	s, args := toSQL(t, preds)
	assert.Equal(t, `"posts"."user_id" = ?`, s)
	assert.Equal(t, []any{"u1"}, args)

	// записи внутри списка тоже заменяются ключами
	u2 := model.NewRecord(user.Entity)
	u2.Set("id", "u2")
	preds, err = FilterExpr(post, Filters{"user__in": []any{u1, "u3"}})
	require.NoError(t, err)
	s, args = toSQL(t, preds)
	assert.Equal(t, `"posts"."user_id" IN (?,?)`, s)
	assert.Equal(t, []any{"u1", "u3"}, args)

	preds, err = FilterExpr(post, Filters{"user__notin": []*model.Record{u1, u2}})
	require.NoError(t, err)
	_, args = toSQL(t, preds)
	assert.Equal(t, []any{"u1", "u2"}, args)

	preds, err = FilterExpr(post, Filters{"user__between": []any{u1, u2}})
	require.NoError(t, err)
	s, args = toSQL(t, preds)
	assert.Equal(t, `"posts"."user_id" BETWEEN ? AND ?`, s)
	assert.Equal(t, []any{"u1", "u2"}, args)

	preds, err = FilterExpr(user, Filters{"posts": "11"})
	require.NoError(t, err)
	s, args = toSQL(t, preds)
	assert.Equal(t, `EXISTS (SELECT 1 FROM "blog"."posts" AS "users_posts" WHERE "users_posts"."user_id" = "users"."id" AND "users_posts"."id" = ?)`, s)
	assert.Equal(t, []any{"11"}, args)

	preds, err = FilterExpr(user, Filters{"posts__isnull": true})
	require.NoError(t, err)
	s, _ = toSQL(t, preds)
	assert.Equal(t, `NOT EXISTS (SELECT 1 FROM "blog"."posts" AS "users_posts" WHERE "users_posts"."user_id" = "users"."id")`, s)

	preds, err = FilterExpr(user, Filters{"posts__notin": []string{"11", "12"}})
	require.NoError(t, err)
	s, args = toSQL(t, preds)
	assert.Equal(t, `NOT EXISTS (SELECT 1 FROM "blog"."posts" AS "users_posts" WHERE "users_posts"."user_id" = "users"."id" AND "users_posts"."id" IN (?,?))`, s)
	assert.Equal(t, []any{"11", "12"}, args)

	_, err = FilterExpr(user, Filters{"posts__gt": "11"})
	assert.ErrorIs(t, err, ErrUnknownOperator)

	// viewonly-связь не фильтруется
	_, err = FilterExpr(user, Filters{"posts_viewonly": "11"})
	assert.ErrorIs(t, err, ErrUnknownAttribute)
}

func TestOrderExpr(t *testing.T) {
	reg := modeltest.Blog()
	comment := model.RootMapper(reg.MustEntity("Comment"))

	clauses, err := OrderExpr(comment, "-rating", "created_at")
	require.NoError(t, err)
	require.Len(t, clauses, 2)
	assert.Equal(t, `"comments"."rating" DESC NULLS LAST`, clauses[0].SQL(NullsLast))
	assert.Equal(t, `"comments"."created_at" ASC NULLS FIRST`, clauses[1].SQL(NullsFirst))

	post := model.RootMapper(reg.MustEntity("Post"))
	clauses, err = OrderExpr(post, "-public")
	require.NoError(t, err)
	assert.Equal(t, `(NOT "posts"."archived") DESC NULLS LAST`, clauses[0].SQL(NullsLast))

	// лишние "-" срезаются целиком
	clauses, err = OrderExpr(comment, "--rating")
	require.NoError(t, err)
	assert.Equal(t, `"comments"."rating" DESC NULLS LAST`, clauses[0].SQL(NullsLast))

	for _, bad := range []string{"INCORRECT_ATTR", "*body", "user", "is_public", "-", "-+rating"} {
		_, err := OrderExpr(post, bad)
		assert.ErrorIs(t, err, ErrUnknownAttribute, bad)
	}
}

func TestParseOperator(t *testing.T) {
	assert.Len(t, Operators(), 36)
	for _, name := range Operators() {
		op, ok := ParseOperator(name)
		require.True(t, ok, name)
		assert.Equal(t, name, op.String())
	}
	op, ok := ParseOperator("")
	assert.True(t, ok)
	assert.Equal(t, OpExact, op)
	_, ok = ParseOperator("year_eq")
	assert.False(t, ok)
}

func TestSplitters(t *testing.T) {
	prefix, name := splitRelation("post___user___name__like")
	assert.Equal(t, "post___user", prefix)
	assert.Equal(t, "name__like", name)

	field, op := splitOperator("created_at__year_ge")
	assert.Equal(t, "created_at", field)
	assert.Equal(t, "year_ge", op)

	field, op = splitOperator("user_id")
	assert.Equal(t, "user_id", field)
	assert.Equal(t, "", op)

	assert.Equal(t, "post.user", tokenPath("post___user"))
	assert.Equal(t, "post.comments", Path("post", "comments"))

	path, attr, op := SplitToken("post___user___name__in")
	assert.Equal(t, []string{"post", "user"}, path)
	assert.Equal(t, "name", attr)
	assert.Equal(t, "in", op)

	path, attr, op = SplitToken("rating")
	assert.Nil(t, path)
	assert.Equal(t, "rating", attr)
	assert.Equal(t, "", op)
}
