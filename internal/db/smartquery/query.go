package smartquery

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"accounts/internal/model"
)

// join - LEFT OUTER JOIN по пути связей. Load означает, что строки алиаса
// заполняют связь у родителя.
type join struct {
	path   string // точечный путь: "post.user"
	mapper model.Mapper
	rel    *model.Relation
	parent int // индекс родительского join, -1 - корень
	load   bool
}

// Query - неизменяемый дескриптор запроса: каждый модификатор возвращает копию.
type Query struct {
	root    model.Mapper
	joins   []join
	where   []sq.Sqlizer
	order   []OrderClause
	nulls   Nulls
	eager   []Directive
	columns []string

	limit, offset       uint64
	hasLimit, hasOffset bool
}

// Select - запрос без фильтров по сущности.
func Select(e *model.Entity) *Query {
	return &Query{root: model.RootMapper(e)}
}

func (q *Query) clone() *Query {
	c := *q
	c.joins = append([]join(nil), q.joins...)
	c.where = append([]sq.Sqlizer(nil), q.where...)
	c.order = append([]OrderClause(nil), q.order...)
	c.eager = append([]Directive(nil), q.eager...)
	c.columns = append([]string(nil), q.columns...)
	return &c
}

func (q *Query) Root() *model.Entity { return q.root.Entity }

func (q *Query) Limit(n uint64) *Query {
	c := q.clone()
	c.limit, c.hasLimit = n, true
	return c
}

func (q *Query) Offset(n uint64) *Query {
	c := q.clone()
	c.offset, c.hasOffset = n, true
	return c
}

// Columns задаёт проекцию для скалярных аксессоров: имена атрибутов корня
// или пути через связи, уже присоединённые фильтрами ("post___body").
func (q *Query) Columns(attrs ...string) (*Query, error) {
	cols := make([]string, 0, len(attrs))
	for _, a := range attrs {
		m := q.root
		prefix, name := splitRelation(a)
		if prefix != "" {
			i := q.joinIndex(tokenPath(prefix))
			if i < 0 {
				return nil, tokenErr(ErrUnknownRelation, a, "path %q is not joined", prefix)
			}
			m = q.joins[i].mapper
		}
		in, err := model.Inspect(m.Entity)
		if err != nil {
			return nil, err
		}
		if !in.IsSortable(name) {
			return nil, tokenErr(ErrUnknownAttribute, a, "%s has no column %q", m.Entity.FQN(), name)
		}
		cols = append(cols, operand(m, name))
	}
	c := q.clone()
	c.columns = cols
	return c, nil
}

// Nulls - политика NULL в ORDER BY (по умолчанию NULLS LAST).
func (q *Query) Nulls(n Nulls) *Query {
	c := q.clone()
	c.nulls = n
	return c
}

// Joins - пути присоединённых связей в порядке добавления.
func (q *Query) Joins() []string {
	out := make([]string, len(q.joins))
	for i, j := range q.joins {
		out[i] = j.path
	}
	return out
}

// Directives - отложенные директивы eager-загрузки.
func (q *Query) Directives() []Directive { return append([]Directive(nil), q.eager...) }

func (q *Query) joinIndex(path string) int {
	for i, j := range q.joins {
		if j.path == path {
			return i
		}
	}
	return -1
}

func (q *Query) parentMapper(joins []join, j join) model.Mapper {
	if j.parent < 0 {
		return q.root
	}
	return joins[j.parent].mapper
}

// nextAlias: posts_1, posts_2 ...
func nextAlias(joins []join, table string) string {
	n := 1
	for _, j := range joins {
		if j.mapper.Entity.Table == table {
			n++
		}
	}
	return fmt.Sprintf("%s_%d", table, n)
}

// loadPlan раскладывает директивы: joined с родителем в основном запросе
// становятся дополнительными join, остальное - пакетные загрузки.
func (q *Query) loadPlan() ([]join, []Directive, error) {
	joins := append([]join(nil), q.joins...)
	inMain := map[string]int{}
	for i, j := range joins {
		if j.load {
			inMain[j.path] = i
		}
	}
	planned := map[string]bool{}
	var batches []Directive

	var add func(d Directive) error
	add = func(d Directive) error {
		if _, ok := inMain[d.Path]; ok || planned[d.Path] {
			return nil
		}
		parent := parentPath(d.Path)
		if parent != "" {
			if _, ok := inMain[parent]; !ok && !planned[parent] {
				// неявный родитель с той же стратегией
				if err := add(Directive{Path: parent, Strategy: d.Strategy}); err != nil {
					return err
				}
			}
		}
		planned[d.Path] = true

		pi, parentInMain := inMain[parent]
		if parent == "" {
			pi, parentInMain = -1, true
		}
		if d.Strategy != Joined || !parentInMain {
			batches = append(batches, d)
			return nil
		}
		rels, err := resolvePath(q.root.Entity, d.Path)
		if err != nil {
			return err
		}
		rel := rels[len(rels)-1]
		joins = append(joins, join{
			path:   d.Path,
			mapper: model.Mapper{Entity: rel.Target, Alias: nextAlias(joins, rel.Target.Table)},
			rel:    rel,
			parent: pi,
			load:   true,
		})
		inMain[d.Path] = len(joins) - 1
		return nil
	}
	for _, d := range q.eager {
		if err := add(d); err != nil {
			return nil, nil, err
		}
	}
	return joins, batches, nil
}

// builder собирает SELECT с join, where, order и limit/offset.
// Если join размножают корневые строки, limit/offset считаются по корням
// во внутреннем подзапросе ключей (см. pageJoin).
func (q *Query) builder(cols []string, joins []join, paged bool) sq.SelectBuilder {
	b := sq.Select(cols...).From(q.root.From()).PlaceholderFormat(sq.Dollar)
	pageByRoots := paged && (q.hasLimit || q.hasOffset) && multipliesRoots(joins)
	if pageByRoots {
		b = b.JoinClause(q.pageJoin())
	}
	b = q.joinAndFilter(b, joins)
	if !paged {
		return b
	}
	ob := q.orderBy()
	if pageByRoots {
		return b.OrderBy(append([]string{pageAlias.Col("pos")}, ob...)...)
	}
	if len(ob) > 0 {
		b = b.OrderBy(ob...)
	}
	if q.hasLimit {
		b = b.Limit(q.limit)
	}
	if q.hasOffset {
		b = b.Offset(q.offset)
	}
	return b
}

func (q *Query) joinAndFilter(b sq.SelectBuilder, joins []join) sq.SelectBuilder {
	for _, j := range joins {
		parent := q.parentMapper(joins, j)
		b = b.LeftJoin(j.mapper.From() + " ON " +
			j.mapper.Col(j.rel.RemoteColumn) + " = " + parent.Col(j.rel.LocalColumn))
	}
	for _, w := range q.where {
		b = b.Where(w)
	}
	return b
}

func (q *Query) orderBy() []string {
	ob := make([]string, len(q.order))
	for i, o := range q.order {
		ob[i] = o.SQL(q.nulls)
	}
	return ob
}

// multipliesRoots - есть ли to-many join: тогда на корень приходится
// несколько строк, и LIMIT по строкам обрезал бы корни и коллекции.
func multipliesRoots(joins []join) bool {
	for _, j := range joins {
		if j.rel.Kind == model.ToMany {
			return true
		}
	}
	return false
}

var pageAlias = model.Mapper{Alias: "page"}

// pageJoin - JOIN на страницу ключей корня:
//
//	JOIN (SELECT k0, min(rn) AS pos FROM (SELECT root.pk AS k0,
//	      row_number() OVER (ORDER BY ...) AS rn FROM ... WHERE ...) AS ranked
//	      GROUP BY k0 ORDER BY pos LIMIT .. OFFSET ..) AS page ON root.pk = page.k0
//
// pos - позиция первой строки корня в исходной сортировке, внешний запрос
// сортируется по ней.
func (q *Query) pageJoin() sq.Sqlizer {
	pk := q.root.Entity.PrimaryKey()
	keys := make([]string, len(pk))
	ranked := make([]string, 0, len(pk)+1)
	on := make([]string, len(pk))
	over := q.orderBy()
	for i, c := range pk {
		keys[i] = model.Ident(fmt.Sprintf("k%d", i))
		ranked = append(ranked, q.root.Col(c)+" AS "+keys[i])
		on[i] = q.root.Col(c) + " = " + pageAlias.Col(fmt.Sprintf("k%d", i))
		over = append(over, q.root.Col(c))
	}
	ranked = append(ranked, "row_number() OVER (ORDER BY "+strings.Join(over, ", ")+") AS "+model.Ident("rn"))

	inner := q.joinAndFilter(sq.Select(ranked...).From(q.root.From()), q.joins)
	page := sq.Select(append(keys, "min("+model.Ident("rn")+") AS "+model.Ident("pos"))...).
		FromSelect(inner, model.Ident("ranked")).
		GroupBy(keys...).
		OrderBy(model.Ident("pos"))
	if q.hasLimit {
		page = page.Limit(q.limit)
	}
	if q.hasOffset {
		page = page.Offset(q.offset)
	}
	return page.PlaceholderFormat(sq.Question).
		Prefix("JOIN (").
		Suffix(") AS " + model.Ident(pageAlias.Alias) + " ON " + strings.Join(on, " AND "))
}

// selection - колонки одной сущности в строке результата
type selection struct {
	mapper model.Mapper
	rel    *model.Relation // nil для корня
	parent int             // индекс selection родителя, -1 для корня
	cols   []*model.Column
}

func selectionsFor(root model.Mapper, joins []join) ([]selection, []string) {
	sels := []selection{{mapper: root, parent: -1, cols: root.Entity.ColumnList()}}
	selIdx := map[int]int{}
	for i, j := range joins {
		if !j.load {
			continue
		}
		p := 0
		if j.parent >= 0 {
			p = selIdx[j.parent]
		}
		selIdx[i] = len(sels)
		sels = append(sels, selection{mapper: j.mapper, rel: j.rel, parent: p, cols: j.mapper.Entity.ColumnList()})
	}
	var cols []string
	for _, s := range sels {
		for _, c := range s.cols {
			cols = append(cols, s.mapper.Col(c.Name))
		}
	}
	return sels, cols
}

// ToSQL - основной SELECT запроса (без пакетных загрузок).
func (q *Query) ToSQL() (string, []any, error) {
	joins, _, err := q.loadPlan()
	if err != nil {
		return "", nil, err
	}
	_, cols := selectionsFor(q.root, joins)
	return q.builder(cols, joins, true).ToSql()
}

// String - SQL для отладки.
func (q *Query) String() string {
	s, args, err := q.ToSQL()
	if err != nil {
		return "error: " + err.Error()
	}
	if len(args) == 0 {
		return s
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return s + " [" + strings.Join(parts, ", ") + "]"
}
