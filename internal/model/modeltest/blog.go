// Package modeltest содержит общую блог-модель для тестов пакетов запросов.
package modeltest

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"accounts/internal/dsl"
	"accounts/internal/model"
)

const BlogDSL = `
module blog

entity User: repr=name
  name: string
  posts: many[Post.user]
  posts_viewonly: many[Post.user] viewonly

entity Post: repr=body
  body: string
  archived: bool default=false
  user: ref[User]
  comments: many[Comment.post]

entity Comment: repr=body
  body: string
  rating: int
  user: ref[User] back=comments
  post: ref[Post] readonly
`

// Blog строит реестр блог-модели с гибридами:
// Post.public, Post.is_public(bool), Post.is_commented_by_user(user).
func Blog() *model.Registry {
	reg := FromDSL(BlogDSL)

	must(reg.RegisterHybridProperty("blog.Post", model.HybridProperty{
		Name: "public",
		Expr: func(m model.Mapper) string { return "NOT " + m.Col("archived") },
		Value: func(r *model.Record) any {
			archived, _ := r.Get("archived").(bool)
			return !archived
		},
	}))
	must(reg.RegisterHybridMethod("blog.Post", model.HybridMethod{
		Name: "is_public",
		Expr: func(v any, m model.Mapper) (sq.Sqlizer, error) {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("is_public expects bool, got %T", v)
			}
			return sq.Expr("(NOT "+m.Col("archived")+") = ?", b), nil
		},
	}))
	must(reg.RegisterHybridMethod("blog.Post", model.HybridMethod{
		Name: "is_commented_by_user",
		Expr: func(v any, m model.Mapper) (sq.Sqlizer, error) {
			rel, _ := m.Entity.Relation("comments")
			cm := model.Mapper{Entity: rel.Target, Alias: m.Qualifier() + "_cm"}
			userID := v
			if r, ok := v.(*model.Record); ok {
				userID = r.Key()
			}
			return sq.Expr("EXISTS (SELECT 1 FROM "+cm.From()+
				" WHERE "+cm.Col(rel.RemoteColumn)+" = "+m.Col(rel.LocalColumn)+
				" AND "+cm.Col("user_id")+" = ?)", userID), nil
		},
	}))
	return reg
}

// FromDSL строит реестр из текста DSL; ошибки - паника (только для тестов).
func FromDSL(src string) *model.Registry {
	ents, err := dsl.ParseEntities(strings.NewReader(src), "test.dsl")
	if err != nil {
		panic(err)
	}
	defs := make(map[string]*dsl.Entity, len(ents))
	for _, e := range ents {
		defs[e.FQN()] = e
	}
	reg, err := model.NewRegistry(defs)
	if err != nil {
		panic(err)
	}
	return reg
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
