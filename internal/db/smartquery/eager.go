package smartquery

import (
	"strings"

	"accounts/internal/model"
)

// Strategy - способ eager-загрузки связи.
type Strategy string

const (
	Joined   Strategy = "joined"
	Subquery Strategy = "subquery"
)

func (s Strategy) valid() bool { return s == Joined || s == Subquery }

// Load - узел схемы загрузки. Пустая стратегия с вложенной схемой означает Joined.
type Load struct {
	Path     string
	Strategy Strategy
	Nested   Schema
}

// Schema - упорядоченная вложенная схема загрузки.
type Schema []Load

func JoinedLoad(path string, nested ...Load) Load {
	return Load{Path: path, Strategy: Joined, Nested: nested}
}

func SubqueryLoad(path string, nested ...Load) Load {
	return Load{Path: path, Strategy: Subquery, Nested: nested}
}

// Directive - одна инструкция загрузки: точечный путь и стратегия.
type Directive struct {
	Path     string
	Strategy Strategy
}

// FlatSchema - плоская схема в порядке обхода (родитель раньше потомков).
type FlatSchema []Directive

// Get возвращает стратегию для пути.
func (f FlatSchema) Get(path string) (Strategy, bool) {
	for _, d := range f {
		if d.Path == path {
			return d.Strategy, true
		}
	}
	return "", false
}

// Flatten превращает вложенную схему в {dotted_path: strategy}.
func Flatten(s Schema) (FlatSchema, error) {
	var out FlatSchema
	if err := flatten(s, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(s Schema, parent string, out *FlatSchema) error {
	for _, l := range s {
		path := l.Path
		if parent != "" {
			path = parent + "." + l.Path
		}
		strategy := l.Strategy
		if strategy == "" && len(l.Nested) > 0 {
			strategy = Joined
		}
		if !strategy.valid() {
			return tokenErr(ErrInvalidLoadStrategy, path, "bad join method %q", string(l.Strategy))
		}
		*out = append(*out, Directive{Path: path, Strategy: strategy})
		if err := flatten(l.Nested, path, out); err != nil {
			return err
		}
	}
	return nil
}

// Nest восстанавливает вложенную схему из плоской.
func (f FlatSchema) Nest() Schema {
	var root Schema
	for _, d := range f {
		insert(&root, strings.Split(d.Path, "."), d.Strategy)
	}
	return root
}

func insert(s *Schema, segs []string, strategy Strategy) {
	for i := range *s {
		if (*s)[i].Path == segs[0] {
			if len(segs) == 1 {
				(*s)[i].Strategy = strategy
				return
			}
			insert(&(*s)[i].Nested, segs[1:], strategy)
			return
		}
	}
	l := Load{Path: segs[0]}
	if len(segs) == 1 {
		l.Strategy = strategy
	} else {
		insert(&l.Nested, segs[1:], strategy)
	}
	*s = append(*s, l)
}

// ParseSchema разбирает текстовую схему: "user,comments:subquery,comments.user".
// Стратегия по умолчанию - joined.
func ParseSchema(s string) (Schema, error) {
	var flat FlatSchema
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		path, strategy, found := strings.Cut(item, ":")
		d := Directive{Path: strings.TrimSpace(path), Strategy: Joined}
		if found {
			d.Strategy = Strategy(strings.ToLower(strings.TrimSpace(strategy)))
		}
		if !d.Strategy.valid() {
			return nil, tokenErr(ErrInvalidLoadStrategy, item, "bad join method %q", strategy)
		}
		if d.Path == "" {
			return nil, tokenErr(ErrUnknownRelation, item, "empty path")
		}
		flat = append(flat, d)
	}
	return flat.Nest(), nil
}

// EagerDirectives - плоский список директив для схемы.
func EagerDirectives(s Schema) ([]Directive, error) {
	flat, err := Flatten(s)
	if err != nil {
		return nil, err
	}
	return []Directive(flat), nil
}

// resolvePath проходит точечный путь по связям, включая viewonly.
func resolvePath(root *model.Entity, path string) ([]*model.Relation, error) {
	cur := root
	segs := strings.Split(path, ".")
	rels := make([]*model.Relation, 0, len(segs))
	for _, seg := range segs {
		rel, ok := cur.Relation(seg)
		if !ok {
			return nil, tokenErr(ErrUnknownRelation, path, "%s has no relation %q", cur.FQN(), seg)
		}
		rels = append(rels, rel)
		cur = rel.Target
	}
	return rels, nil
}

func parentPath(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return ""
}

// With - запрос с eager-загрузкой по схеме.
func With(e *model.Entity, schema Schema) (*Query, error) {
	return Select(e).With(schema)
}

// WithJoined - все пути загружаются через LEFT OUTER JOIN.
func WithJoined(e *model.Entity, paths ...string) (*Query, error) {
	return Select(e).WithJoined(paths...)
}

// WithSubquery - все пути загружаются отдельными запросами.
func WithSubquery(e *model.Entity, paths ...string) (*Query, error) {
	return Select(e).WithSubquery(paths...)
}

func (q *Query) With(schema Schema) (*Query, error) {
	ds, err := EagerDirectives(schema)
	if err != nil {
		return nil, err
	}
	return q.withDirectives(ds)
}

func (q *Query) WithJoined(paths ...string) (*Query, error) {
	return q.withDirectives(directives(paths, Joined))
}

func (q *Query) WithSubquery(paths ...string) (*Query, error) {
	return q.withDirectives(directives(paths, Subquery))
}

func directives(paths []string, s Strategy) []Directive {
	out := make([]Directive, len(paths))
	for i, p := range paths {
		out[i] = Directive{Path: p, Strategy: s}
	}
	return out
}

func (q *Query) withDirectives(ds []Directive) (*Query, error) {
	for _, d := range ds {
		if _, err := resolvePath(q.root.Entity, d.Path); err != nil {
			return nil, err
		}
	}
	c := q.clone()
	c.eager = append(c.eager, ds...)
	return c, nil
}
