package smartquery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"accounts/internal/model"
)

// All - все записи; корни и присоединённые связи без дублей.
func (q *Query) All(ctx context.Context, s Session) ([]*model.Record, error) {
	start := time.Now()
	recs, err := q.all(ctx, s)
	observe("all", start, err)
	return recs, err
}

func (q *Query) all(ctx context.Context, s Session) ([]*model.Record, error) {
	joins, batches, err := q.loadPlan()
	if err != nil {
		return nil, err
	}
	sels, cols := selectionsFor(q.root, joins)
	query, args, err := q.builder(cols, joins, true).ToSql()
	if err != nil {
		return nil, err
	}
	slog.Debug("smartquery: exec", "entity", q.root.Entity.FQN(), "sql", query, "args", len(args))

	roots, err := queryRecords(ctx, s, query, args, sels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", q.root.Entity.FQN(), err)
	}
	for _, d := range batches {
		if err := q.loadBatch(ctx, s, roots, d); err != nil {
			return nil, fmt.Errorf("%s: load %s: %w", q.root.Entity.FQN(), d.Path, err)
		}
	}
	return roots, nil
}

// First - первая запись или nil, если строк нет.
func (q *Query) First(ctx context.Context, s Session) (*model.Record, error) {
	start := time.Now()
	target := q
	if !q.hasLimit {
		target = q.Limit(1)
	}
	recs, err := target.all(ctx, s)
	observe("first", start, err)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// One - ровно одна запись, иначе ErrNotFound или ErrMultipleFound.
func (q *Query) One(ctx context.Context, s Session) (*model.Record, error) {
	start := time.Now()
	rec, err := q.oneOrNone(ctx, s)
	if err == nil && rec == nil {
		err = fmt.Errorf("%s: %w", q.root.Entity.FQN(), ErrNotFound)
	}
	observe("one", start, err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// OneOrNone - ноль или одна запись; больше одной - ErrMultipleFound.
func (q *Query) OneOrNone(ctx context.Context, s Session) (*model.Record, error) {
	start := time.Now()
	rec, err := q.oneOrNone(ctx, s)
	observe("one_or_none", start, err)
	return rec, err
}

func (q *Query) oneOrNone(ctx context.Context, s Session) (*model.Record, error) {
	recs, err := q.all(ctx, s)
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return recs[0], nil
	}
	return nil, fmt.Errorf("%s: %w (%d)", q.root.Entity.FQN(), ErrMultipleFound, len(recs))
}

// scalarRows - различающиеся строки проекции (первая колонка каждой строки).
func (q *Query) scalarRows(ctx context.Context, s Session) ([]any, error) {
	cols := q.columns
	if len(cols) == 0 {
		_, cols = selectionsFor(q.root, nil)
	}
	query, args, err := q.builder(cols, q.joins, true).ToSql()
	if err != nil {
		return nil, err
	}
	slog.Debug("smartquery: exec scalar", "entity", q.root.Entity.FQN(), "sql", query)

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	seen := map[string]struct{}{}
	var out []any
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = fmt.Sprintf("%T:%s", v, model.KeyString(v))
		}
		k := strings.Join(parts, "\x1f")
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		first := vals[0]
		if b, ok := first.([]byte); ok {
			first = string(b)
		}
		out = append(out, first)
	}
	return out, rows.Err()
}

// Scalar - первая колонка первой строки или nil.
func (q *Query) Scalar(ctx context.Context, s Session) (any, error) {
	start := time.Now()
	vals, err := q.scalarRows(ctx, s)
	observe("scalar", start, err)
	if err != nil || len(vals) == 0 {
		return nil, err
	}
	return vals[0], nil
}

// ScalarOne - ровно одно значение.
func (q *Query) ScalarOne(ctx context.Context, s Session) (any, error) {
	start := time.Now()
	v, found, err := q.scalarOne(ctx, s)
	if err == nil && !found {
		err = fmt.Errorf("%s: %w", q.root.Entity.FQN(), ErrNotFound)
	}
	observe("scalar_one", start, err)
	return v, err
}

// ScalarOneOrNone - ноль или одно значение.
func (q *Query) ScalarOneOrNone(ctx context.Context, s Session) (any, error) {
	start := time.Now()
	v, _, err := q.scalarOne(ctx, s)
	observe("scalar_one_or_none", start, err)
	return v, err
}

func (q *Query) scalarOne(ctx context.Context, s Session) (any, bool, error) {
	vals, err := q.scalarRows(ctx, s)
	if err != nil {
		return nil, false, err
	}
	switch len(vals) {
	case 0:
		return nil, false, nil
	case 1:
		return vals[0], true, nil
	}
	return nil, false, fmt.Errorf("%s: %w (%d)", q.root.Entity.FQN(), ErrMultipleFound, len(vals))
}

// Scalars - первая колонка всех строк без дублей.
func (q *Query) Scalars(ctx context.Context, s Session) ([]any, error) {
	start := time.Now()
	vals, err := q.scalarRows(ctx, s)
	observe("scalars", start, err)
	return vals, err
}

// Exists - SELECT EXISTS(...) без материализации строк; limit/offset
// остаются внутри подзапроса.
func (q *Query) Exists(ctx context.Context, s Session) (bool, error) {
	start := time.Now()
	ok, err := q.exists(ctx, s)
	observe("exists", start, err)
	return ok, err
}

func (q *Query) exists(ctx context.Context, s Session) (bool, error) {
	query, args, err := q.existsSQL()
	if err != nil {
		return false, err
	}
	var ok bool
	if err := s.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (q *Query) existsSQL() (string, []any, error) {
	inner, args, err := q.builder([]string{"1"}, q.joins, true).PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return "", nil, err
	}
	query, err := sq.Dollar.ReplacePlaceholders("SELECT EXISTS (" + inner + ")")
	return query, args, err
}

// Count - число различных корневых записей без учёта limit/offset и сортировки.
func (q *Query) Count(ctx context.Context, s Session) (int64, error) {
	start := time.Now()
	n, err := q.count(ctx, s)
	observe("count", start, err)
	return n, err
}

func (q *Query) count(ctx context.Context, s Session) (int64, error) {
	query, args, err := q.builder([]string{q.countExpr()}, q.joins, false).ToSql()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (q *Query) countExpr() string {
	pk := q.root.Entity.PrimaryKey()
	cols := make([]string, len(pk))
	for i, c := range pk {
		cols[i] = q.root.Col(c)
	}
	if len(cols) == 1 {
		return "count(DISTINCT " + cols[0] + ")"
	}
	return "count(DISTINCT (" + strings.Join(cols, ", ") + "))"
}
