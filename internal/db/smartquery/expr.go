package smartquery

import (
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"accounts/internal/model"
)

// Filters - токены фильтра "field__op" -> значение.
type Filters map[string]any

// sortedKeys - детерминированный порядок предикатов
func (f Filters) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FilterExpr компилирует фильтры в предикаты относительно m (сущность или алиас).
// Токены с путём через связи здесь не разбираются, это делает SmartQuery.
func FilterExpr(m model.Mapper, filters Filters) ([]sq.Sqlizer, error) {
	in, err := model.Inspect(m.Entity)
	if err != nil {
		return nil, err
	}
	out := make([]sq.Sqlizer, 0, len(filters))
	for _, attr := range filters.sortedKeys() {
		pred, err := filterOne(m, in, attr, filters[attr])
		if err != nil {
			return nil, err
		}
		out = append(out, pred)
	}
	return out, nil
}

func filterOne(m model.Mapper, in *model.Inspection, attr string, value any) (sq.Sqlizer, error) {
	if hm, ok := m.Entity.HybridMethod(attr); ok {
		pred, err := hm.Expr(value, m)
		if err != nil {
			return nil, tokenErr(ErrInvalidFilterValue, attr, "%v", err)
		}
		return pred, nil
	}

	field, opName := splitOperator(attr)
	if !in.IsFilterable(field) {
		return nil, tokenErr(ErrUnknownAttribute, attr, "%s has no filterable attribute %q", m.Entity.FQN(), field)
	}
	op, ok := ParseOperator(opName)
	if !ok {
		return nil, tokenErr(ErrUnknownOperator, attr, "%q", opName)
	}
	if _, isMethod := m.Entity.HybridMethod(field); isMethod {
		return nil, tokenErr(ErrUnknownOperator, attr, "hybrid method %q takes no operator", field)
	}

	var (
		pred sq.Sqlizer
		err  error
	)
	switch {
	case in.IsRelation(field):
		rel, _ := m.Entity.Relation(field)
		pred, err = relationPredicate(m, rel, op, value)
		if err != nil && isOperatorMismatch(err) {
			return nil, tokenErr(ErrUnknownOperator, attr, "%v", err)
		}
	default:
		pred, err = op.apply(operand(m, field), value)
	}
	if err != nil {
		return nil, tokenErr(ErrInvalidFilterValue, attr, "%v", err)
	}
	return pred, nil
}

// operand - SQL-операнд атрибута: колонка алиаса или выражение гибрида.
func operand(m model.Mapper, name string) string {
	if p, ok := m.Entity.HybridProperty(name); ok {
		return "(" + p.Expr(m) + ")"
	}
	return m.Col(name)
}

type operatorMismatch struct{ msg string }

func (e operatorMismatch) Error() string { return e.msg }

func isOperatorMismatch(err error) bool {
	_, ok := err.(operatorMismatch)
	return ok
}

// relationPredicate: to-one сравнивает FK-колонку, to-many - через EXISTS.
func relationPredicate(m model.Mapper, rel *model.Relation, op Operator, value any) (sq.Sqlizer, error) {
	if rel.Kind == model.ToOne {
		switch op {
		case OpIn, OpNotIn, OpBetween:
			if items, err := listValue(value); err == nil {
				keys := make([]any, len(items))
				for i, it := range items {
					keys[i] = keyOf(it)
				}
				return op.apply(m.Col(rel.LocalColumn), keys)
			}
		}
		return op.apply(m.Col(rel.LocalColumn), keyOf(value))
	}

	target := model.Mapper{Entity: rel.Target, Alias: m.Qualifier() + "_" + rel.Name}
	pk := target.Entity.PrimaryKey()
	if len(pk) != 1 {
		return nil, operatorMismatch{fmt.Sprintf("relation %q targets a composite key", rel.Name)}
	}
	base := sq.Select("1").
		From(target.From()).
		Where(target.Col(rel.RemoteColumn) + " = " + m.Col(rel.LocalColumn))

	var (
		sub     sq.SelectBuilder
		negated bool
	)
	switch op {
	case OpExact, OpNot, OpNe:
		negated = op != OpExact
		if value == nil {
			sub, negated = base, !negated
		} else {
			sub = base.Where(sq.Eq{target.Col(pk[0]): keyOf(value)})
		}
	case OpIsNull:
		sub, negated = base, truthy(value)
	case OpIn, OpNotIn:
		items, err := listValue(value)
		if err != nil {
			return nil, err
		}
		for i := range items {
			items[i] = keyOf(items[i])
		}
		sub, negated = base.Where(sq.Eq{target.Col(pk[0]): items}), op == OpNotIn
	default:
		return nil, operatorMismatch{fmt.Sprintf("operator %s is not applicable to to-many relation %q", op, rel.Name)}
	}

	sql, args, err := sub.ToSql()
	if err != nil {
		return nil, err
	}
	if negated {
		return sq.Expr("NOT EXISTS ("+sql+")", args...), nil
	}
	return sq.Expr("EXISTS ("+sql+")", args...), nil
}

// keyOf: запись заменяется значением её первичного ключа
func keyOf(v any) any {
	if r, ok := v.(*model.Record); ok && r != nil {
		if kv := r.KeyValues(); len(kv) == 1 {
			return kv[0]
		}
		return r.Key()
	}
	return v
}

type Nulls int

const (
	NullsLast Nulls = iota
	NullsFirst
)

// OrderClause - элемент ORDER BY.
type OrderClause struct {
	Expr string
	Desc bool
}

func (c OrderClause) SQL(n Nulls) string {
	dir := " ASC"
	if c.Desc {
		dir = " DESC"
	}
	if n == NullsFirst {
		return c.Expr + dir + " NULLS FIRST"
	}
	return c.Expr + dir + " NULLS LAST"
}

// OrderExpr компилирует токены сортировки ("-rating", "created_at").
func OrderExpr(m model.Mapper, attrs ...string) ([]OrderClause, error) {
	in, err := model.Inspect(m.Entity)
	if err != nil {
		return nil, err
	}
	out := make([]OrderClause, 0, len(attrs))
	for _, attr := range attrs {
		name, desc := stripDesc(attr)
		if !in.IsSortable(name) {
			return nil, tokenErr(ErrUnknownAttribute, attr, "%s has no sortable attribute %q", m.Entity.FQN(), name)
		}
		out = append(out, OrderClause{Expr: operand(m, name), Desc: desc})
	}
	return out, nil
}
