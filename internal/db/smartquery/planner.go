package smartquery

import (
	"log/slog"
	"strings"

	"accounts/internal/model"
)

// SmartQuery строит запрос по фильтрам, сортировке и схеме eager-загрузки.
// Связи из путей фильтров и сортировки присоединяются один раз и заполняют
// соответствующие связи, если схема не требует для пути subquery.
// Любая ошибка отменяет весь план.
func SmartQuery(root *model.Entity, filters Filters, sortAttrs []string, schema Schema) (*Query, error) {
	q, err := smartQuery(root, filters, sortAttrs, schema)
	if err != nil {
		plansTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	plansTotal.WithLabelValues("ok").Inc()
	return q, nil
}

func smartQuery(root *model.Entity, filters Filters, sortAttrs []string, schema Schema) (*Query, error) {
	if _, err := model.Inspect(root); err != nil {
		return nil, err
	}
	flat, err := Flatten(schema)
	if err != nil {
		return nil, err
	}

	// 1) все токены атрибутов: ключи фильтров и сортировка без "-"
	attrs := make([]string, 0, len(filters)+len(sortAttrs))
	attrs = append(attrs, filters.sortedKeys()...)
	for _, s := range sortAttrs {
		name, _ := stripDesc(s)
		attrs = append(attrs, name)
	}

	q := Select(root)

	// 2) алиасы по путям, в порядке первого появления
	if err := q.makeAliases(root, "", -1, attrs); err != nil {
		return nil, err
	}

	// 3-4) join для каждого пути; subquery в схеме - join только для фильтра
	for i := range q.joins {
		j := &q.joins[i]
		strategy, inSchema := flat.Get(j.path)
		parentLoaded := j.parent < 0 || q.joins[j.parent].load
		j.load = parentLoaded && !(inSchema && strategy == Subquery)
	}

	// 5) фильтры относительно алиасов
	for _, attr := range filters.sortedKeys() {
		m, name := q.mapperFor(attr)
		preds, err := FilterExpr(m, Filters{name: filters[attr]})
		if err != nil {
			return nil, retoken(err, attr)
		}
		q.where = append(q.where, preds...)
	}

	// 6) сортировка
	for _, s := range sortAttrs {
		name, desc := stripDesc(s)
		m, field := q.mapperFor(name)
		if desc {
			field = DescPrefix + field
		}
		clauses, err := OrderExpr(m, field)
		if err != nil {
			return nil, retoken(err, s)
		}
		q.order = append(q.order, clauses...)
	}

	// 7) директивы схемы, не покрытые join из фильтров
	for _, d := range flat {
		if i := q.joinIndex(d.Path); i >= 0 && q.joins[i].load {
			continue
		}
		if _, err := resolvePath(root, d.Path); err != nil {
			return nil, err
		}
		q.eager = append(q.eager, d)
	}

	slog.Debug("smartquery: planned", "entity", root.FQN(), "joins", q.Joins(), "eager", len(q.eager))
	return q, nil
}

// makeAliases рекурсивно регистрирует алиасы для путей "rel___rel___attr".
func (q *Query) makeAliases(e *model.Entity, prefix string, parent int, attrs []string) error {
	in, err := model.Inspect(e)
	if err != nil {
		return err
	}
	// группировка по первому сегменту с сохранением порядка
	var order []string
	groups := map[string][]string{}
	for _, a := range attrs {
		head, rest, found := strings.Cut(a, RelationSplitter)
		if !found {
			continue
		}
		if _, seen := groups[head]; !seen {
			order = append(order, head)
		}
		groups[head] = append(groups[head], rest)
	}

	for _, name := range order {
		if !in.IsRelation(name) {
			return tokenErr(ErrUnknownRelation, name, "%s has no relation %q", e.FQN(), name)
		}
		rel, _ := e.Relation(name)
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		idx := q.joinIndex(path)
		if idx < 0 {
			q.joins = append(q.joins, join{
				path:   path,
				mapper: model.Mapper{Entity: rel.Target, Alias: nextAlias(q.joins, rel.Target.Table)},
				rel:    rel,
				parent: parent,
			})
			idx = len(q.joins) - 1
		}
		if err := q.makeAliases(rel.Target, path, idx, groups[name]); err != nil {
			return err
		}
	}
	return nil
}

// mapperFor: "post___user___name__like" -> (алиас post.user, "name__like")
func (q *Query) mapperFor(attr string) (model.Mapper, string) {
	prefix, name := splitRelation(attr)
	if prefix == "" {
		return q.root, attr
	}
	return q.joins[q.joinIndex(tokenPath(prefix))].mapper, name
}

// retoken заменяет токен в ошибке на полный токен с путём.
func retoken(err error, token string) error {
	if te, ok := err.(*TokenError); ok && te.Token != token {
		return &TokenError{Token: token, Detail: te.Detail, Err: te.Err}
	}
	return err
}

// Where - SmartQuery только с фильтрами.
func Where(e *model.Entity, filters Filters) (*Query, error) {
	return SmartQuery(e, filters, nil, nil)
}

// Sort - SmartQuery только с сортировкой.
func Sort(e *model.Entity, attrs ...string) (*Query, error) {
	return SmartQuery(e, nil, attrs, nil)
}
