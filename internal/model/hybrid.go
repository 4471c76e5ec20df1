package model

import (
	sq "github.com/Masterminds/squirrel"
)

// Mapper - сущность или её алиас в запросе. Пустой Alias означает саму таблицу.
type Mapper struct {
	Entity *Entity
	Alias  string
}

func RootMapper(e *Entity) Mapper { return Mapper{Entity: e} }

// Qualifier - имя, которым колонки квалифицируются в SQL
func (m Mapper) Qualifier() string {
	if m.Alias != "" {
		return m.Alias
	}
	return m.Entity.Table
}

// Col возвращает ссылку на колонку: "posts_1"."body"
func (m Mapper) Col(name string) string {
	return Ident(m.Qualifier()) + "." + Ident(name)
}

// From - источник для FROM/JOIN: "blog"."posts" AS "posts_1"
func (m Mapper) From() string {
	return m.Entity.QualifiedTable() + " AS " + Ident(m.Qualifier())
}

// HybridProperty - вычисляемый атрибут, доступный и в процессе, и в SQL.
// Expr строит SQL-выражение относительно Mapper (включая алиасы).
type HybridProperty struct {
	Name  string
	Expr  func(m Mapper) string
	Value func(r *Record) any
	Set   func(r *Record, v any) error
	// Hidden: только запись; не сериализуется, не фильтруется и не сортируется
	Hidden bool
}

// HybridMethod - вычисляемый предикат с аргументом: method(value, mapper).
type HybridMethod struct {
	Name  string
	Expr  func(value any, m Mapper) (sq.Sqlizer, error)
	Value func(r *Record, value any) bool
}
