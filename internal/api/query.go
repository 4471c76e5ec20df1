package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"accounts/internal/db/smartquery"
	"accounts/internal/model"
)

// ==== Параметры листинга ====

type ListParams struct {
	Limit   uint64
	Offset  uint64
	Sort    []string // "-rating", "created_at"
	Filters smartquery.Filters
	With    smartquery.Schema
	Nulls   smartquery.Nulls
}

// служебные ключи; всё остальное - токены фильтра
var reservedKeys = map[string]bool{
	"offset": true, "limit": true, "sort": true,
	"_offset": true, "_limit": true, "_sort": true, "_with": true,
	"nulls": true,
}

func firstOf(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

// ==== Парсинг query-параметров ====

func parseListParams(e *model.Entity, q url.Values, defLimit, maxLimit uint64) (ListParams, error) {
	lp := ListParams{Limit: defLimit, Filters: smartquery.Filters{}}

	// limit
	if lv := firstOf(q, "_limit", "limit"); lv != "" {
		n, err := strconv.ParseUint(lv, 10, 64)
		if err != nil {
			return lp, fmt.Errorf("%w: _limit must be a non-negative integer", smartquery.ErrInvalidFilterValue)
		}
		lp.Limit = n
	}
	if maxLimit > 0 && lp.Limit > maxLimit {
		lp.Limit = maxLimit
	}

	// offset
	if ov := firstOf(q, "_offset", "offset"); ov != "" {
		n, err := strconv.ParseUint(ov, 10, 64)
		if err != nil {
			return lp, fmt.Errorf("%w: _offset must be a non-negative integer", smartquery.ErrInvalidFilterValue)
		}
		lp.Offset = n
	}

	// sort
	for _, p := range strings.Split(firstOf(q, "_sort", "sort"), ",") {
		p = strings.TrimPrefix(strings.TrimSpace(p), "+")
		if p != "" && p != smartquery.DescPrefix {
			lp.Sort = append(lp.Sort, p)
		}
	}

	// nulls
	if strings.EqualFold(strings.TrimSpace(q.Get("nulls")), "first") {
		lp.Nulls = smartquery.NullsFirst
	}

	// eager-загрузка: "_with=posts.comments:subquery,user"
	if w := strings.TrimSpace(q.Get("_with")); w != "" {
		schema, err := smartquery.ParseSchema(w)
		if err != nil {
			return lp, err
		}
		lp.With = schema
	}

	// фильтры (исключаем служебные ключи)
	for key, vals := range q {
		if reservedKeys[key] {
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				clean = append(clean, v)
			}
		}
		if len(clean) == 0 {
			continue
		}
		v, err := filterValue(e, key, clean)
		if err != nil {
			return lp, &smartquery.TokenError{Token: key, Detail: err.Error(), Err: smartquery.ErrInvalidFilterValue}
		}
		lp.Filters[key] = v
	}
	return lp, nil
}

// filterValue приводит строки из URL к типу атрибута, на который указывает токен.
// Неизвестные пути и атрибуты остаются строками: их отвергнет планировщик.
func filterValue(root *model.Entity, token string, raw []string) (any, error) {
	path, attr, opName := smartquery.SplitToken(token)
	e := root
	for _, seg := range path {
		rel, ok := e.Relation(seg)
		if !ok {
			return joinRaw(raw), nil
		}
		e = rel.Target
	}
	if _, ok := e.HybridMethod(attr); ok && opName == "" {
		return joinRaw(raw), nil
	}

	op, ok := smartquery.ParseOperator(opName)
	if !ok {
		// опечатка в операторе - ошибку вернёт планировщик
		return joinRaw(raw), nil
	}
	col, _ := e.Column(attr)

	switch op {
	case smartquery.OpIsNull:
		return toBoolStrict(raw[0])
	case smartquery.OpIn, smartquery.OpNotIn, smartquery.OpBetween:
		var items []any
		for _, r := range raw {
			for _, part := range strings.Split(r, ",") {
				v, err := scalar(e, col, attr, strings.TrimSpace(part))
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			}
		}
		if items == nil {
			items = []any{}
		}
		return items, nil
	case smartquery.OpLike, smartquery.OpILike, smartquery.OpStartsWith, smartquery.OpIStartsWith,
		smartquery.OpEndsWith, smartquery.OpIEndsWith, smartquery.OpContains:
		return raw[0], nil
	case smartquery.OpExact, smartquery.OpNot, smartquery.OpNe:
		if len(raw) > 1 {
			// повтор ключа - список значений (exact со списком работает как IN)
			items := make([]any, 0, len(raw))
			for _, r := range raw {
				v, err := scalar(e, col, attr, r)
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			}
			return items, nil
		}
		if raw[0] == "null" {
			return nil, nil
		}
		return scalar(e, col, attr, raw[0])
	case smartquery.OpGt, smartquery.OpGe, smartquery.OpLt, smartquery.OpLe:
		return scalar(e, col, attr, raw[0])
	}
	// year/month/day
	return toIntStrict(raw[0])
}

// scalar: значение колонки по её типу; связи и гибридные свойства как есть,
// кроме булевых литералов гибридов.
func scalar(e *model.Entity, col *model.Column, attr, s string) (any, error) {
	if col != nil {
		// для datetime в фильтре достаточно даты
		if col.Type == model.TypeDateTime && dateRe.MatchString(s) {
			return s, nil
		}
		return coerceValue(col, s)
	}
	if _, ok := e.HybridProperty(attr); ok {
		if b, err := toBoolStrict(s); err == nil {
			return b, nil
		}
	}
	return s, nil
}

func joinRaw(raw []string) any {
	if len(raw) == 1 {
		return raw[0]
	}
	out := make([]any, len(raw))
	for i, r := range raw {
		out[i] = r
	}
	return out
}
